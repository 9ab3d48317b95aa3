// Package registry provides a directory of Stratum pool endpoints.
//
// Servers advertise the address they listen on under a pool name; clients
// discover the advertised endpoints to pick one to connect to, and may
// watch the pool for failover when endpoints come and go.
package registry

import "context"

// Endpoint is one advertised Stratum server address.
type Endpoint struct {
	Addr    string
	Weight  int // weight for endpoint selection
	Version string
}

// Registry is a directory of pool endpoints.
type Registry interface {
	// Register advertises an endpoint under the given pool name. The
	// advertisement is kept alive until Deregister is called or the
	// advertising process dies, at which point it lapses after ttl
	// seconds.
	Register(ctx context.Context, pool string, endpoint Endpoint, ttl int64) error

	// Deregister withdraws an endpoint advertisement.
	Deregister(ctx context.Context, pool string, addr string) error

	// Discover returns the endpoints currently advertised for a pool.
	Discover(ctx context.Context, pool string) ([]Endpoint, error)

	// Watch emits the updated endpoint list whenever the pool's
	// advertisements change.
	Watch(ctx context.Context, pool string) <-chan []Endpoint
}
