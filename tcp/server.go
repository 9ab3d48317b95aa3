package tcp

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog"

	"gostratum/middleware"
	"gostratum/registry"
)

// DefaultIdleTimeout is how long a server connection may sit without any
// inbound message before it is closed.
const DefaultIdleTimeout = 5 * time.Minute

const registrationTTLSeconds = 10

// Server accepts Stratum connections over TCP. Every accepted socket is
// wrapped in a fresh stateful transport entering the configured
// post-connect state, and tracked in a registry that closes connections
// idle for longer than the idle timeout. Any inbound message resets a
// connection's idle clock.
type Server struct {
	states      StateFactory
	middlewares []middleware.Middleware
	rateLimit   *rateLimitConfig
	idleTimeout time.Duration
	log         zerolog.Logger

	reg           registry.Registry
	pool          string
	advertiseAddr string

	mu          sync.Mutex
	listener    net.Listener
	connections *ttlcache.Cache[string, *ServerConnection]
	shutdown    atomic.Bool
}

type rateLimitConfig struct {
	rate  float64
	burst int
}

// ServerOption customises a Server.
type ServerOption func(*Server)

// WithIdleTimeout overrides the idle window after which a silent
// connection is closed.
func WithIdleTimeout(d time.Duration) ServerOption {
	return func(s *Server) { s.idleTimeout = d }
}

// WithServerLogger sets the server's logger. Connection transports inherit
// it.
func WithServerLogger(log zerolog.Logger) ServerOption {
	return func(s *Server) { s.log = log }
}

// WithServerMiddleware installs middleware on every accepted connection.
func WithServerMiddleware(middlewares ...middleware.Middleware) ServerOption {
	return func(s *Server) {
		s.middlewares = append(s.middlewares, middlewares...)
	}
}

// WithConnectionRateLimit throttles inbound messages per connection: r
// messages per second with the given burst. A connection exceeding the
// limit is closed.
func WithConnectionRateLimit(r float64, burst int) ServerOption {
	return func(s *Server) {
		s.rateLimit = &rateLimitConfig{rate: r, burst: burst}
	}
}

// WithRegistry advertises the server in a pool-endpoint registry while it
// is serving. The advertise address must be routable by clients, which is
// why it is distinct from the listen address.
func WithRegistry(reg registry.Registry, pool string, advertiseAddr string) ServerOption {
	return func(s *Server) {
		s.reg = reg
		s.pool = pool
		s.advertiseAddr = advertiseAddr
	}
}

// NewServer returns a server whose accepted connections enter the state
// supplied by postConnect.
func NewServer(postConnect StateFactory, opts ...ServerOption) *Server {
	s := &Server{
		states:      postConnect,
		idleTimeout: DefaultIdleTimeout,
		log:         zerolog.Nop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	// Idle tracking: entries are refreshed on access, so touching a
	// connection on every inbound message keeps it alive.
	s.connections = ttlcache.New[string, *ServerConnection](
		ttlcache.WithTTL[string, *ServerConnection](s.idleTimeout),
	)

	s.connections.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *ServerConnection]) {
		if reason == ttlcache.EvictionReasonExpired {
			s.onConnectionTimeout(item.Value())
		}
	})

	return s
}

// Serve listens on the given address and accepts connections until
// Shutdown is called. It advertises the server in the configured registry,
// if any, once the listener is up.
func (s *Server) Serve(network string, address string) error {
	if s.IsListening() {
		return errors.New("the server is already listening for connections")
	}

	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go s.connections.Start()

	if s.reg != nil {
		endpoint := registry.Endpoint{Addr: s.advertiseAddr}
		if err := s.reg.Register(context.Background(), s.pool, endpoint, registrationTTLSeconds); err != nil {
			s.log.Error().Err(err).Msg("failed to advertise server in registry")
		}
	}

	for {
		socket, err := listener.Accept()
		if err != nil {
			// During shutdown the listener close surfaces here; the flag
			// tells an intentional close apart from a real error.
			if s.shutdown.Load() {
				return nil
			}
			return err
		}

		conn := newServerConnection(s, socket)
		s.log.Debug().
			Str("connection_id", conn.ConnectionID()).
			Stringer("remote_addr", socket.RemoteAddr()).
			Msg("connection accepted")

		s.connections.Set(conn.ConnectionID(), conn, ttlcache.DefaultTTL)

		if err := conn.Open(); err != nil {
			s.log.Error().Err(err).Msg("failed to open accepted connection")
			s.connections.Delete(conn.ConnectionID())
			socket.Close()
		}
	}
}

// IsListening reports whether the server is accepting connections.
func (s *Server) IsListening() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.listener != nil && !s.shutdown.Load()
}

// Addr returns the address the server is listening on, or nil before
// Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown withdraws the registry advertisement, stops accepting new
// connections and closes every active one. Calls after the first return
// nil without doing anything.
func (s *Server) Shutdown() error {
	// Set the flag before closing the listener so the accept loop can
	// recognise the close as intentional.
	if !s.shutdown.CompareAndSwap(false, true) {
		return nil
	}

	if s.reg != nil {
		if err := s.reg.Deregister(context.Background(), s.pool, s.advertiseAddr); err != nil {
			s.log.Error().Err(err).Msg("failed to withdraw registry advertisement")
		}
	}

	s.mu.Lock()
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener.Close()
	}

	for _, item := range s.connections.Items() {
		item.Value().Close()
	}

	s.connections.Stop()

	return nil
}

// connectionOptions builds the transport options for an accepted
// connection. The rate limiter is created per connection so each is
// throttled independently.
func (s *Server) connectionOptions() []Option {
	middlewares := make([]middleware.Middleware, 0, len(s.middlewares)+1)
	if s.rateLimit != nil {
		middlewares = append(middlewares, middleware.RateLimit(s.rateLimit.rate, s.rateLimit.burst))
	}
	middlewares = append(middlewares, s.middlewares...)

	opts := []Option{WithLogger(s.log)}
	if len(middlewares) > 0 {
		opts = append(opts, WithMiddleware(middlewares...))
	}

	return opts
}

// touchConnection marks a connection active, resetting its idle clock.
func (s *Server) touchConnection(id string) {
	// The read refreshes the entry because the cache extends items on
	// access.
	s.connections.Get(id)
}

func (s *Server) forgetConnection(id string) {
	s.connections.Delete(id)
}

func (s *Server) onConnectionTimeout(conn *ServerConnection) {
	s.log.Debug().
		Str("connection_id", conn.ConnectionID()).
		Msg("idle connection timed out")

	// Closed off the eviction path so the close (and the connection
	// forget it triggers) never re-enters the cache lock.
	go conn.Close()
}
