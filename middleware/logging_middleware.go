package middleware

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"gostratum/message"
)

// Logging logs every processed message with its identifier, method (for
// requests) and processing duration.
func Logging(log zerolog.Logger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg message.Message) error {
			start := time.Now()
			err := next(ctx, msg)

			evt := log.Debug()
			if err != nil {
				evt = log.Error().Err(err)
			}

			if req, ok := msg.(message.Request); ok {
				evt = evt.Str("method", req.Method())
			}

			evt.Str("id", msg.ID()).
				Dur("duration", time.Since(start)).
				Msg("processed inbound message")

			return err
		}
	}
}
