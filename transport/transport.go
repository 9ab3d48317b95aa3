// Package transport provides the stateful core that Stratum transports are
// built from: the connection-state machine that scopes which messages are
// legal at each phase of the conversation, and the listener broadcast that
// fans received messages out to the current state.
//
// A concrete transport (see the tcp package) composes StatefulTransport
// with a byte channel and implements the sending primitives of
// MessageTransport on top of it.
package transport

import (
	"errors"
	"sync"

	"gostratum/message"
)

// ErrNotConnected is returned by operations that require an open transport.
var ErrNotConnected = errors.New("transport is not connected")

// ErrNilState is returned when a transport is asked to enter a nil state.
var ErrNilState = errors.New("connection state cannot be nil")

// RequestListener observes inbound requests on a transport.
type RequestListener func(message.Request)

// ResponseListener observes inbound responses on a transport.
type ResponseListener func(message.Response)

// MessageTransport sends and receives Stratum messages over a byte channel
// such as a TCP socket.
type MessageTransport interface {
	// SendRequest enqueues a request for transmission without expecting
	// any response.
	SendRequest(req message.Request) error

	// SendRequestExpecting enqueues a request for transmission and, when
	// expect is non-nil, registers the request identifier as pending so
	// the matching response is parsed with expect.
	SendRequestExpecting(req message.Request, expect message.ResponseParser) error

	// SendResponse enqueues a response for transmission.
	SendResponse(res message.Response) error

	// PollForMessages asks the remote end for pending messages. Direct
	// transports deliver messages as they become available and implement
	// this as a no-op; polled transports send a poll request.
	PollForMessages() error

	// Close releases the byte channel and stops the transport's workers.
	// It is idempotent.
	Close() error

	// RegisterRequestListener subscribes a listener to inbound requests.
	// The returned function cancels the subscription.
	RegisterRequestListener(l RequestListener) (cancel func())

	// RegisterResponseListener subscribes a listener to inbound responses.
	// The returned function cancels the subscription.
	RegisterResponseListener(l ResponseListener) (cancel func())
}

// listenerList is an ordered set of listeners. Each registration is its own
// entry; the handle returned by add removes exactly that entry.
type listenerList[T any] struct {
	mu      sync.Mutex
	entries []*listenerEntry[T]
}

type listenerEntry[T any] struct {
	fn func(T)
}

func (l *listenerList[T]) add(fn func(T)) func() {
	entry := &listenerEntry[T]{fn: fn}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(entry) })
	}
}

func (l *listenerList[T]) remove(entry *listenerEntry[T]) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, e := range l.entries {
		if e == entry {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			return
		}
	}
}

// notify invokes every listener in registration order. It iterates a
// snapshot so listeners may register or cancel subscriptions (including
// their own) without deadlocking.
func (l *listenerList[T]) notify(v T) {
	l.mu.Lock()
	snapshot := make([]*listenerEntry[T], len(l.entries))
	copy(snapshot, l.entries)
	l.mu.Unlock()

	for _, entry := range snapshot {
		entry.fn(v)
	}
}

// Broadcaster holds a transport's ordered request and response listener
// sets and fans inbound messages out to them.
type Broadcaster struct {
	requestListeners  listenerList[message.Request]
	responseListeners listenerList[message.Response]
}

// RegisterRequestListener subscribes a listener to inbound requests and
// returns a function that cancels the subscription.
func (b *Broadcaster) RegisterRequestListener(l RequestListener) (cancel func()) {
	return b.requestListeners.add(l)
}

// RegisterResponseListener subscribes a listener to inbound responses and
// returns a function that cancels the subscription.
func (b *Broadcaster) RegisterResponseListener(l ResponseListener) (cancel func()) {
	return b.responseListeners.add(l)
}

// NotifyRequest delivers a request to the request listeners in
// registration order.
func (b *Broadcaster) NotifyRequest(req message.Request) {
	b.requestListeners.notify(req)
}

// NotifyResponse delivers a response to the response listeners in
// registration order.
func (b *Broadcaster) NotifyResponse(res message.Response) {
	b.responseListeners.notify(res)
}
