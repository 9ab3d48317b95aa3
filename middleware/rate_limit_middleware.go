package middleware

import (
	"context"
	"errors"

	"golang.org/x/time/rate"

	"gostratum/message"
)

// ErrRateLimited is returned when an inbound message exceeds the configured
// rate limit.
var ErrRateLimited = errors.New("rate limit exceeded")

// RateLimit throttles inbound messages with a token bucket allowing r
// messages per second with the given burst. Each call creates its own
// limiter, so applying the middleware per connection limits each
// connection independently.
func RateLimit(r float64, burst int) Middleware {
	limiter := rate.NewLimiter(rate.Limit(r), burst)
	return func(next Handler) Handler {
		return func(ctx context.Context, msg message.Message) error {
			if !limiter.Allow() {
				return ErrRateLimited
			}
			return next(ctx, msg)
		}
	}
}
