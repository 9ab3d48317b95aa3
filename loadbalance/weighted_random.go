package loadbalance

import (
	"math/rand"

	"gostratum/registry"
)

// WeightedRandom picks an endpoint at random, biased by weight. Endpoints
// without a positive weight are never picked, unless no endpoint has one,
// in which case the pick is uniform over all endpoints.
type WeightedRandom struct{}

var _ Balancer = (*WeightedRandom)(nil)

func (b *WeightedRandom) Pick(endpoints []registry.Endpoint) (*registry.Endpoint, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}

	totalWeight := 0
	for _, endpoint := range endpoints {
		if endpoint.Weight > 0 {
			totalWeight += endpoint.Weight
		}
	}

	if totalWeight == 0 {
		return &endpoints[rand.Intn(len(endpoints))], nil
	}

	r := rand.Intn(totalWeight)
	for i := range endpoints {
		if endpoints[i].Weight <= 0 {
			continue
		}
		r -= endpoints[i].Weight
		if r < 0 {
			return &endpoints[i], nil
		}
	}

	return &endpoints[len(endpoints)-1], nil
}

func (b *WeightedRandom) Name() string {
	return "WeightedRandom"
}
