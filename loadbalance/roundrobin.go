package loadbalance

import (
	"sync/atomic"

	"gostratum/registry"
)

// RoundRobin cycles through the endpoint list in order. The atomic counter
// keeps Pick lock-free and goroutine-safe.
type RoundRobin struct {
	counter atomic.Int64
}

var _ Balancer = (*RoundRobin)(nil)

func (b *RoundRobin) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	index := b.counter.Add(1) % int64(len(endpoints))
	return &endpoints[index], nil
}

func (b *RoundRobin) Name() string {
	return "RoundRobin"
}
