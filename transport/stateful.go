package transport

import (
	"sync"

	"github.com/rs/zerolog"

	"gostratum/message"
)

// StatefulTransport is the stateful core of a Stratum transport: it holds
// the reference to the current connection state and fans inbound messages
// out to the registered listeners.
//
// Concrete drivers embed it, route every decode and encode through
// DecodeLine and EncodeMessage, and call ReceiveMessages with the parsed
// result. The transport mutex serialises state transitions against message
// parsing: between SetState returning and the next line read from the wire,
// the new state is guaranteed to be the one whose marshaller parses.
type StatefulTransport struct {
	Broadcaster

	mu      sync.Mutex
	state   ConnectionState
	entered []ConnectionState

	log zerolog.Logger
}

// SetLogger sets the logger used for state-transition diagnostics.
func (t *StatefulTransport) SetLogger(log zerolog.Logger) {
	t.log = log
}

// CurrentState returns the active connection state, or nil when the
// transport is disconnected.
func (t *StatefulTransport) CurrentState() ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.state
}

// SetState transitions the transport to the given state: the current state
// (if any) is ended, the reference is swapped, and the new state is
// started. Transitioning to the state that is already active is a no-op.
// The whole transition happens under the transport mutex, so no wire line
// is ever parsed with a half-installed state.
func (t *StatefulTransport) SetState(state ConnectionState) error {
	if state == nil {
		return ErrNilState
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == state {
		t.log.Debug().Msg("state transition ignored; state is already active")
		return nil
	}

	if t.state != nil {
		t.state.End()
	}

	t.state = state
	t.rememberStateLocked(state)

	state.Start()

	return nil
}

func (t *StatefulTransport) rememberStateLocked(state ConnectionState) {
	for _, s := range t.entered {
		if s == state {
			return
		}
	}
	t.entered = append(t.entered, state)
}

// DecodeLine parses one wire line with the current state's marshaller. The
// snapshot and the parse happen under the transport mutex, which is what
// makes state transitions atomic with respect to parsing.
func (t *StatefulTransport) DecodeLine(line string) ([]message.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == nil {
		return nil, ErrNotConnected
	}

	return t.state.Marshaller().Decode(line)
}

// EncodeMessage renders a message with the current state's marshaller.
func (t *StatefulTransport) EncodeMessage(msg message.Message) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == nil {
		return "", ErrNotConnected
	}

	return t.state.Marshaller().Encode(msg)
}

// RegisterPending records a pending outbound request in the current state's
// marshaller.
func (t *StatefulTransport) RegisterPending(id string, expect message.ResponseParser) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == nil {
		return ErrNotConnected
	}

	return t.state.Marshaller().RegisterPendingRequest(id, expect)
}

// ReceiveMessages dispatches parsed inbound messages to the transport's
// listeners, preserving wire order. Requests and responses fan out to their
// respective listener sets.
func (t *StatefulTransport) ReceiveMessages(messages []message.Message) {
	for _, msg := range messages {
		switch m := msg.(type) {
		case message.Request:
			t.NotifyRequest(m)
		case message.Response:
			t.NotifyResponse(m)
		default:
			t.log.Error().
				Str("id", msg.ID()).
				Msg("dropping message of unknown variant")
		}
	}
}

// CloseStates detaches the current state and stops the marshaller of every
// state this transport has entered. Called by drivers when the byte channel
// is released.
func (t *StatefulTransport) CloseStates() {
	t.mu.Lock()
	entered := t.entered
	t.entered = nil
	t.state = nil
	t.mu.Unlock()

	for _, s := range entered {
		s.Marshaller().Close()
	}
}
