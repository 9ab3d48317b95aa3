// Package middleware provides per-message middleware for Stratum drivers.
//
// A driver builds the chain once when its byte channel opens and runs every
// inbound message through it before fanning the message out to listeners. A
// middleware that returns an error aborts delivery; the reference TCP
// driver treats that as fatal for the connection.
package middleware

import (
	"context"

	"gostratum/message"
)

// Handler processes one inbound message.
type Handler func(ctx context.Context, msg message.Message) error

// Middleware wraps a Handler with additional behaviour.
type Middleware func(next Handler) Handler

// Chain composes middlewares into one. They are applied in the order given,
// so Chain(A, B, C)(h) runs A first and h last.
func Chain(middlewares ...Middleware) Middleware {
	return func(next Handler) Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			next = middlewares[i](next)
		}
		return next
	}
}
