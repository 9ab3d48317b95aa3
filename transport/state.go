package transport

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/rs/zerolog"

	"gostratum/message"
)

// ConnectionState is one phase of a transport's conversation with the
// remote end. The state owns its own marshaller, so the methods and
// response shapes it registers define the vocabulary that is legal while
// the state is active.
type ConnectionState interface {
	// Start is invoked when the transport enters this state. It
	// subscribes the state's listeners to the transport's broadcast
	// channels.
	Start()

	// End is invoked when the transport is about to leave this state. It
	// cancels the subscriptions made by Start.
	End()

	// Marshaller returns the marshaller readers and writers must use
	// while this state is active.
	Marshaller() *message.Marshaller

	// ProcessRequest dispatches an inbound request to the handler
	// registered for its method. It reports whether a handler was found.
	ProcessRequest(req message.Request) bool

	// ProcessResponse dispatches an inbound response to the handler
	// registered for its concrete type. It reports whether a handler was
	// found.
	ProcessResponse(res message.Response) bool
}

// RequestHandler handles a dispatched inbound request. Handlers run on the
// transport's reader flow; long-running work must be offloaded.
type RequestHandler func(message.Request)

// ResponseHandler handles a dispatched inbound response.
type ResponseHandler func(message.Response)

// ConnState is the base ConnectionState implementation. Dialect states
// compose it: they register their request and response handlers after
// construction and may name a parent state that is consulted for messages
// they do not handle themselves.
type ConnState struct {
	transport  *StatefulTransport
	name       string
	marshaller *message.Marshaller
	parent     ConnectionState
	log        zerolog.Logger

	mu               sync.Mutex
	requestHandlers  map[string]RequestHandler
	responseHandlers map[reflect.Type]ResponseHandler

	cancelRequests  func()
	cancelResponses func()
}

var _ ConnectionState = (*ConnState)(nil)

// StateOption customises a ConnState.
type StateOption func(*ConnState)

// WithParent names a state whose dispatch is consulted when this state has
// no handler for a message, enabling chain-of-responsibility layering of a
// common base vocabulary under dialect-specific states.
func WithParent(parent ConnectionState) StateOption {
	return func(s *ConnState) { s.parent = parent }
}

// WithMarshaller overrides the marshaller created for the state.
func WithMarshaller(m *message.Marshaller) StateOption {
	return func(s *ConnState) { s.marshaller = m }
}

// WithStateLogger sets the logger used by the state.
func WithStateLogger(log zerolog.Logger) StateOption {
	return func(s *ConnState) { s.log = log }
}

// NewConnState returns a state bound to the given transport. The name
// identifies the state in logs.
func NewConnState(t *StatefulTransport, name string, opts ...StateOption) *ConnState {
	s := &ConnState{
		transport:        t,
		name:             name,
		log:              zerolog.Nop(),
		requestHandlers:  make(map[string]RequestHandler),
		responseHandlers: make(map[reflect.Type]ResponseHandler),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.marshaller == nil {
		s.marshaller = message.NewMarshaller(message.WithLogger(s.log))
	}

	return s
}

// Transport returns the transport this state belongs to.
func (s *ConnState) Transport() *StatefulTransport {
	return s.transport
}

// Name returns the state's name.
func (s *ConnState) Name() string {
	return s.name
}

func (s *ConnState) Marshaller() *message.Marshaller {
	return s.marshaller
}

// RegisterRequestHandler teaches the state's marshaller that method is
// parsed with parse, and binds inbound requests for that method to handler.
// Registering a method twice is an error.
func (s *ConnState) RegisterRequestHandler(method string, parse message.RequestParser, handler RequestHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requestHandlers[method]; exists {
		return fmt.Errorf("a handler is already registered for method %q", method)
	}

	s.marshaller.RegisterMethod(method, parse)
	s.requestHandlers[method] = handler

	return nil
}

// ReplaceRequestHandler registers a request handler, replacing any handler
// already registered for the method.
func (s *ConnState) ReplaceRequestHandler(method string, parse message.RequestParser, handler RequestHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.marshaller.RegisterMethod(method, parse)
	s.requestHandlers[method] = handler
}

// RegisterResponseHandler binds inbound responses of variant's concrete
// type to handler. The variant value itself is only used for its type.
// Registering a type twice is an error. Response parsing is keyed by the
// pending-request table, so registration has no marshaller side effect.
func (s *ConnState) RegisterResponseHandler(variant message.Response, handler ResponseHandler) error {
	key := reflect.TypeOf(variant)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.responseHandlers[key]; exists {
		return fmt.Errorf("a handler is already registered for response type %v", key)
	}

	s.responseHandlers[key] = handler

	return nil
}

func (s *ConnState) Start() {
	s.cancelRequests = s.transport.RegisterRequestListener(func(req message.Request) {
		s.ProcessRequest(req)
	})
	s.cancelResponses = s.transport.RegisterResponseListener(func(res message.Response) {
		s.ProcessResponse(res)
	})
}

func (s *ConnState) End() {
	if s.cancelRequests != nil {
		s.cancelRequests()
		s.cancelRequests = nil
	}
	if s.cancelResponses != nil {
		s.cancelResponses()
		s.cancelResponses = nil
	}
}

func (s *ConnState) ProcessRequest(req message.Request) bool {
	s.mu.Lock()
	handler := s.requestHandlers[req.Method()]
	s.mu.Unlock()

	if handler != nil {
		handler(req)
		return true
	}

	if s.parent != nil {
		return s.parent.ProcessRequest(req)
	}

	s.log.Error().
		Str("method", req.Method()).
		Str("state", s.name).
		Msg("inbound request was ignored; no handler registered")

	return false
}

func (s *ConnState) ProcessResponse(res message.Response) bool {
	s.mu.Lock()
	handler := s.responseHandlers[reflect.TypeOf(res)]
	s.mu.Unlock()

	if handler != nil {
		handler(res)
		return true
	}

	if s.parent != nil {
		return s.parent.ProcessResponse(res)
	}

	s.log.Error().
		Str("response_id", res.ID()).
		Str("state", s.name).
		Msg("inbound response was ignored; no handler registered")

	return false
}

// MoveToState asks the transport to transition to next. After this call the
// current state receives no further messages from the transport.
func (s *ConnState) MoveToState(next ConnectionState) error {
	return s.transport.SetState(next)
}
