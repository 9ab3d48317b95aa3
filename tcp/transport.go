// Package tcp is the reference byte-stream driver for the Stratum core: a
// single-shot client and a connection-per-socket server, each wrapping a
// stateful transport around a TCP socket.
//
// Wire framing is one UTF-8 JSON message per LF-terminated line. A reader
// worker parses inbound lines with the current state's marshaller and fans
// the messages out; a writer worker drains a FIFO queue, serialises and
// flushes. Both workers exit when the transport closes, and any decode or
// I/O failure closes the transport: resynchronising a line stream after
// garbage is unsafe.
package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"gostratum/message"
	"gostratum/middleware"
	"gostratum/transport"
)

// ErrAlreadyOpen is returned when a transport that is already servicing a
// socket is asked to open another.
var ErrAlreadyOpen = errors.New("transport is already open")

// maxLineBytes bounds a single inbound wire line.
const maxLineBytes = 1 << 20

const defaultSendQueueSize = 64

// StateFactory supplies the state a transport enters once its byte channel
// becomes available.
type StateFactory func(t *Transport) transport.ConnectionState

// Transport drives the Stratum core over one TCP socket. It is created
// detached and bound to a socket by a Client or a Server; once closed it
// cannot be reused.
type Transport struct {
	transport.StatefulTransport

	postConnect StateFactory
	middlewares []middleware.Middleware
	handler     middleware.Handler
	log         zerolog.Logger

	conn      net.Conn
	sendQueue chan message.Message
	done      chan struct{}
	opened    atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once

	// touch marks the transport active on the surrounding server's idle
	// tracker; onClose lets the server observe the connection's death.
	// Both are nil on client transports.
	touch   func()
	onClose func()
}

var _ transport.MessageTransport = (*Transport)(nil)

// Option customises a Transport.
type Option func(*Transport)

// WithLogger sets the transport's logger.
func WithLogger(log zerolog.Logger) Option {
	return func(t *Transport) { t.log = log }
}

// WithMiddleware installs middleware that every inbound message passes
// through before reaching the transport's listeners. A middleware error is
// fatal for the connection.
func WithMiddleware(middlewares ...middleware.Middleware) Option {
	return func(t *Transport) {
		t.middlewares = append(t.middlewares, middlewares...)
	}
}

// WithSendQueueSize overrides the capacity of the outbound message queue.
func WithSendQueueSize(n int) Option {
	return func(t *Transport) {
		if n > 0 {
			t.sendQueue = make(chan message.Message, n)
		}
	}
}

func newTransport(postConnect StateFactory, opts ...Option) *Transport {
	t := &Transport{
		postConnect: postConnect,
		log:         zerolog.Nop(),
		sendQueue:   make(chan message.Message, defaultSendQueueSize),
		done:        make(chan struct{}),
	}

	for _, opt := range opts {
		opt(t)
	}

	t.SetLogger(t.log)

	return t
}

// open binds the transport to a connected socket, enters the post-connect
// state and starts the reader and writer workers.
func (t *Transport) open(conn net.Conn) error {
	if t.closed.Load() || !t.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpen
	}

	state := t.postConnect(t)
	if state == nil {
		return transport.ErrNilState
	}

	t.conn = conn
	t.handler = middleware.Chain(t.middlewares...)(t.fanOut)

	if err := t.SetState(state); err != nil {
		return err
	}

	go t.readLoop()
	go t.writeLoop()

	return nil
}

// IsOpen reports whether the transport is currently servicing a socket.
func (t *Transport) IsOpen() bool {
	return t.opened.Load() && !t.closed.Load()
}

// SendRequest enqueues a request without expecting any response.
func (t *Transport) SendRequest(req message.Request) error {
	return t.enqueue(req)
}

// SendRequestExpecting enqueues a request and, when expect is non-nil,
// registers the request identifier as pending in the current state's
// marshaller so the matching response is parsed with expect.
func (t *Transport) SendRequestExpecting(req message.Request, expect message.ResponseParser) error {
	if !t.IsOpen() {
		return transport.ErrNotConnected
	}

	if expect != nil {
		if err := t.RegisterPending(req.ID(), expect); err != nil {
			return err
		}
	}

	return t.enqueue(req)
}

// SendResponse enqueues a response.
func (t *Transport) SendResponse(res message.Response) error {
	return t.enqueue(res)
}

// PollForMessages does nothing on a TCP transport: the remote end sends
// messages as soon as they are ready, so there is nothing to poll for.
func (t *Transport) PollForMessages() error {
	return nil
}

// Close releases the socket and signals both workers to exit. It is
// idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		close(t.done)

		if t.conn != nil {
			if err := t.conn.Close(); err != nil {
				t.log.Debug().Err(err).Msg("error while closing socket")
			}
		}

		t.CloseStates()

		if t.onClose != nil {
			t.onClose()
		}
	})

	return nil
}

func (t *Transport) enqueue(msg message.Message) error {
	if !t.IsOpen() {
		return transport.ErrNotConnected
	}

	select {
	case t.sendQueue <- msg:
		return nil
	case <-t.done:
		return transport.ErrNotConnected
	}
}

// readLoop reads LF-terminated lines until end-of-stream, parsing each one
// with the current state's marshaller. Decode and delivery failures close
// the connection.
func (t *Transport) readLoop() {
	defer t.Close()

	scanner := bufio.NewScanner(t.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		t.log.Trace().Str("line", line).Msg("stratum [in]")

		messages, err := t.DecodeLine(line)
		if err != nil {
			t.log.Error().Err(err).Msg("error on connection")
			return
		}

		if err := t.deliver(messages); err != nil {
			t.log.Error().Err(err).Msg("error on connection")
			return
		}
	}

	if err := scanner.Err(); err != nil && !t.closed.Load() {
		t.log.Error().Err(err).Msg("error on connection")
	}
}

// deliver runs each message through the middleware chain, which ends in the
// listener fan-out, then marks the transport active.
func (t *Transport) deliver(messages []message.Message) error {
	ctx := context.Background()

	for _, msg := range messages {
		if err := t.handler(ctx, msg); err != nil {
			return fmt.Errorf("inbound message rejected: %w", err)
		}
	}

	if t.touch != nil {
		t.touch()
	}

	return nil
}

func (t *Transport) fanOut(_ context.Context, msg message.Message) error {
	t.ReceiveMessages([]message.Message{msg})
	return nil
}

// writeLoop drains the send queue in FIFO order, serialising each message
// with the current state's marshaller and writing it as one LF-terminated
// line. It observes transport closure through the done channel.
func (t *Transport) writeLoop() {
	defer t.Close()

	writer := bufio.NewWriter(t.conn)

	for {
		select {
		case msg := <-t.sendQueue:
			line, err := t.EncodeMessage(msg)
			if err != nil {
				t.logWriteError(err)
				return
			}

			t.log.Trace().Str("line", line).Msg("stratum [out]")

			if _, err := writer.WriteString(line + "\n"); err != nil {
				t.logWriteError(err)
				return
			}

			if err := writer.Flush(); err != nil {
				t.logWriteError(err)
				return
			}

		case <-t.done:
			return
		}
	}
}

func (t *Transport) logWriteError(err error) {
	if !t.closed.Load() {
		t.log.Error().Err(err).Msg("error on connection")
	}
}
