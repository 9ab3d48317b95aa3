package message

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"
)

// DefaultPendingTimeout is how long a request may remain pending in a
// marshaller before it is considered ignored and expired.
const DefaultPendingTimeout = 10 * time.Minute

// ExpiryCallback observes pending requests that expired without receiving a
// response.
type ExpiryCallback func(id string, expect ResponseParser)

// Marshaller converts between wire lines and typed messages. Each
// connection state owns its own instance, so the set of registered methods
// defines the vocabulary that is legal while that state is active.
//
// The marshaller also carries the correlation table of outbound requests
// awaiting responses: an inbound response is matched to its pending entry by
// identifier, parsed with the parser registered for that entry, and the
// entry is invalidated. Entries that outlive the pending timeout are evicted
// and reported through the expiry callback.
type Marshaller struct {
	mu      sync.RWMutex
	methods map[string]RequestParser

	pending        *ttlcache.Cache[string, ResponseParser]
	pendingTimeout time.Duration
	onExpired      ExpiryCallback

	log       zerolog.Logger
	closeOnce sync.Once
}

// MarshallerOption customises a Marshaller.
type MarshallerOption func(*Marshaller)

// WithPendingTimeout overrides the window after which an unanswered pending
// request expires.
func WithPendingTimeout(d time.Duration) MarshallerOption {
	return func(m *Marshaller) { m.pendingTimeout = d }
}

// WithExpiryCallback overrides the callback invoked when a pending request
// expires without a response. The default logs the expiry at error level.
func WithExpiryCallback(fn ExpiryCallback) MarshallerOption {
	return func(m *Marshaller) { m.onExpired = fn }
}

// WithLogger sets the logger used by the marshaller.
func WithLogger(log zerolog.Logger) MarshallerOption {
	return func(m *Marshaller) { m.log = log }
}

// NewMarshaller returns a marshaller with no registered methods and an
// empty correlation table. Close must be called once the marshaller is no
// longer needed so its expiry worker can exit.
func NewMarshaller(opts ...MarshallerOption) *Marshaller {
	m := &Marshaller{
		methods:        make(map[string]RequestParser),
		pendingTimeout: DefaultPendingTimeout,
		log:            zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.onExpired == nil {
		m.onExpired = func(id string, _ ResponseParser) {
			m.log.Error().
				Str("request_id", id).
				Dur("timeout", m.pendingTimeout).
				Msg("pending request expired without receiving a reply")
		}
	}

	// Pending entries expire relative to registration time; a lookup at
	// response time must not extend them.
	m.pending = ttlcache.New[string, ResponseParser](
		ttlcache.WithTTL[string, ResponseParser](m.pendingTimeout),
		ttlcache.WithDisableTouchOnHit[string, ResponseParser](),
	)

	m.pending.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, ResponseParser]) {
		if reason == ttlcache.EvictionReasonExpired {
			m.onExpired(item.Key(), item.Value())
		}
	})

	go m.pending.Start()

	return m
}

// Close stops the expiry worker. It is idempotent and safe to call
// concurrently with other operations.
func (m *Marshaller) Close() {
	m.closeOnce.Do(func() {
		m.pending.Stop()
	})
}

// RegisterMethod binds a method name to the parser used for inbound
// requests naming that method. A later registration for the same method
// replaces the earlier one.
func (m *Marshaller) RegisterMethod(name string, parse RequestParser) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.methods[name] = parse
}

// RequestParserFor returns the parser registered for the given method, or
// nil when the method is not part of this marshaller's vocabulary.
func (m *Marshaller) RequestParserFor(name string) RequestParser {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.methods[name]
}

// RegisterPendingRequest records that the request with the given identifier
// awaits a response to be parsed with expect. Registering an identifier
// that is already pending is an error.
func (m *Marshaller) RegisterPendingRequest(id string, expect ResponseParser) error {
	if id == "" {
		return fmt.Errorf("cannot register a pending request without an id")
	}
	if expect == nil {
		return fmt.Errorf("cannot register a pending request without a response parser")
	}

	if m.pending.Has(id) {
		return fmt.Errorf("%w: %q", ErrDuplicatePendingRequest, id)
	}

	m.pending.Set(id, expect, ttlcache.DefaultTTL)

	return nil
}

// Decode parses one wire line into typed messages. A line beginning with
// "[" is a batch whose elements are independent messages; anything else is
// a single JSON object. An object with a "result" key is a response, all
// others are requests.
func (m *Marshaller) Decode(line string) ([]Message, error) {
	line = strings.TrimSpace(line)

	if strings.HasPrefix(line, "[") {
		var raws []json.RawMessage
		if err := json.Unmarshal([]byte(line), &raws); err != nil {
			return nil, newMalformed(line, "", err)
		}

		messages := make([]Message, 0, len(raws))
		for _, raw := range raws {
			obj, err := decodeObject(raw)
			if err != nil {
				return nil, err
			}

			msg, err := m.decodeMessage(obj)
			if err != nil {
				return nil, err
			}

			messages = append(messages, msg)
		}

		return messages, nil
	}

	obj, err := decodeObject([]byte(line))
	if err != nil {
		return nil, err
	}

	msg, err := m.decodeMessage(obj)
	if err != nil {
		return nil, err
	}

	return []Message{msg}, nil
}

// Encode renders a message as a single-line JSON string. Newline framing is
// the driver's concern.
func (m *Marshaller) Encode(msg Message) (string, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to encode message: %w", err)
	}

	return string(data), nil
}

func (m *Marshaller) decodeMessage(obj Object) (Message, error) {
	// Responses always emit "result", with null standing in on error;
	// requests never do. Presence of the key is the discriminator.
	if _, ok := obj[keyResult]; ok {
		return m.decodeResponse(obj)
	}

	return m.decodeRequest(obj)
}

func (m *Marshaller) decodeRequest(obj Object) (Message, error) {
	generic, err := ParseRequest(obj)
	if err != nil {
		return nil, err
	}

	parse := m.RequestParserFor(generic.Method())
	if parse == nil {
		return nil, newMalformedMethod(generic.Method(), obj, "method is not accepted in the current state")
	}

	request, err := parse(obj)
	if err != nil {
		return nil, err
	}

	return request, nil
}

func (m *Marshaller) decodeResponse(obj Object) (Message, error) {
	generic, err := ParseResponse(obj)
	if err != nil {
		return nil, err
	}

	item := m.pending.Get(generic.ID())
	if item == nil {
		return nil, newMalformed(obj, fmt.Sprintf("unsolicited response to request %q", generic.ID()), nil)
	}

	response, err := item.Value()(obj)
	if err != nil {
		return nil, err
	}

	m.pending.Delete(generic.ID())

	return response, nil
}
