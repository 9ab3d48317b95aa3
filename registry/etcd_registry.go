package registry

import (
	"context"
	"encoding/json"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const keyPrefix = "/gostratum/"

// EtcdRegistry implements Registry on etcd v3.
//
// Endpoints live at /gostratum/{pool}/{addr} with a TTL lease attached, so
// an advertisement from a crashed server lapses on its own once the lease
// stops being renewed.
type EtcdRegistry struct {
	client *clientv3.Client
}

var _ Registry = (*EtcdRegistry)(nil)

// NewEtcdRegistry connects to the given etcd endpoints.
func NewEtcdRegistry(endpoints []string) (*EtcdRegistry, error) {
	c, err := clientv3.New(clientv3.Config{
		Endpoints: endpoints,
	})
	if err != nil {
		return nil, err
	}

	return &EtcdRegistry{client: c}, nil
}

// Close releases the etcd client.
func (r *EtcdRegistry) Close() error {
	return r.client.Close()
}

func (r *EtcdRegistry) Register(ctx context.Context, pool string, endpoint Endpoint, ttl int64) error {
	lease, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return err
	}

	val, err := json.Marshal(endpoint)
	if err != nil {
		return err
	}

	_, err = r.client.Put(ctx, keyPrefix+pool+"/"+endpoint.Addr, string(val), clientv3.WithLease(lease.ID))
	if err != nil {
		return err
	}

	// Renew the lease in the background for as long as the client lives.
	ch, err := r.client.KeepAlive(context.WithoutCancel(ctx), lease.ID)
	if err != nil {
		return err
	}

	go func() {
		for range ch {
		}
	}()

	return nil
}

func (r *EtcdRegistry) Deregister(ctx context.Context, pool string, addr string) error {
	_, err := r.client.Delete(ctx, keyPrefix+pool+"/"+addr)
	return err
}

func (r *EtcdRegistry) Discover(ctx context.Context, pool string) ([]Endpoint, error) {
	resp, err := r.client.Get(ctx, keyPrefix+pool+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}

	endpoints := make([]Endpoint, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var endpoint Endpoint
		if err := json.Unmarshal(kv.Value, &endpoint); err != nil {
			continue // skip malformed entries
		}
		endpoints = append(endpoints, endpoint)
	}

	return endpoints, nil
}

func (r *EtcdRegistry) Watch(ctx context.Context, pool string) <-chan []Endpoint {
	ch := make(chan []Endpoint, 1)

	go func() {
		defer close(ch)

		watchChan := r.client.Watch(ctx, keyPrefix+pool+"/", clientv3.WithPrefix())
		for range watchChan {
			// Re-fetch the full list on any change rather than folding
			// individual watch events into local state.
			endpoints, err := r.Discover(ctx, pool)
			if err != nil {
				continue
			}

			select {
			case ch <- endpoints:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch
}
