// Package loadbalance provides strategies for picking one Stratum endpoint
// from the set a registry discovered for a pool.
package loadbalance

import (
	"errors"

	"gostratum/registry"
)

// ErrNoEndpoints is returned when a balancer is asked to pick from an
// empty endpoint list.
var ErrNoEndpoints = errors.New("no endpoints available")

// Balancer picks one endpoint from a discovered list. Implementations must
// be safe for concurrent use.
type Balancer interface {
	Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error)

	// Name returns the strategy name, for logging.
	Name() string
}
