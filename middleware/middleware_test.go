package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gostratum/message"
)

func testMessage(t *testing.T) message.Message {
	t.Helper()

	req, err := message.NewRequest("1", "mining.subscribe")
	require.NoError(t, err)
	return req
}

func TestChainOrder(t *testing.T) {
	var order []string

	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg message.Message) error {
				order = append(order, name+":before")
				err := next(ctx, msg)
				order = append(order, name+":after")
				return err
			}
		}
	}

	handler := Chain(tag("a"), tag("b"))(func(context.Context, message.Message) error {
		order = append(order, "handler")
		return nil
	})

	require.NoError(t, handler(context.Background(), testMessage(t)))
	assert.Equal(t, []string{"a:before", "b:before", "handler", "b:after", "a:after"}, order)
}

func TestChainEmptyIsIdentity(t *testing.T) {
	called := false
	handler := Chain()(func(context.Context, message.Message) error {
		called = true
		return nil
	})

	require.NoError(t, handler(context.Background(), testMessage(t)))
	assert.True(t, called)
}

func TestChainPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	handler := Chain(Logging(zerolog.Nop()))(func(context.Context, message.Message) error {
		return boom
	})

	assert.ErrorIs(t, handler(context.Background(), testMessage(t)), boom)
}

func TestRateLimit(t *testing.T) {
	handler := Chain(RateLimit(1, 2))(func(context.Context, message.Message) error {
		return nil
	})

	msg := testMessage(t)
	ctx := context.Background()

	// The burst admits two messages; the third exceeds the bucket.
	require.NoError(t, handler(ctx, msg))
	require.NoError(t, handler(ctx, msg))
	assert.ErrorIs(t, handler(ctx, msg), ErrRateLimited)
}

func TestLoggingPassesMessageThrough(t *testing.T) {
	var seen message.Message
	handler := Chain(Logging(zerolog.Nop()))(func(_ context.Context, msg message.Message) error {
		seen = msg
		return nil
	})

	msg := testMessage(t)
	require.NoError(t, handler(context.Background(), msg))
	assert.Equal(t, msg, seen)
}
