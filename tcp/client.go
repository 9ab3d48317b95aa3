package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"

	"gostratum/loadbalance"
	"gostratum/message"
	"gostratum/registry"
	"gostratum/transport"
)

// Client is a Stratum client over TCP. A client services a single
// connection: once that connection closes, the client cannot be used to
// connect again.
type Client struct {
	*Transport
}

// NewClient returns a detached client. The post-connect state factory
// supplies the state the connection enters as soon as the socket opens.
func NewClient(postConnect StateFactory, opts ...Option) *Client {
	return &Client{Transport: newTransport(postConnect, opts...)}
}

// Connect dials the given TCP address and starts servicing the connection.
func (c *Client) Connect(addr string) error {
	if c.IsOpen() {
		return ErrAlreadyOpen
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", addr, err)
	}

	if err := c.open(conn); err != nil {
		conn.Close()
		return err
	}

	return nil
}

// ConnectDiscovered discovers the endpoints advertised for a pool, picks
// one with the balancer, and connects to it.
func (c *Client) ConnectDiscovered(ctx context.Context, reg registry.Registry, balancer loadbalance.Balancer, pool string) error {
	endpoints, err := reg.Discover(ctx, pool)
	if err != nil {
		return fmt.Errorf("failed to discover endpoints for pool %q: %w", pool, err)
	}

	endpoint, err := balancer.Pick(endpoints)
	if err != nil {
		return err
	}

	return c.Connect(endpoint.Addr)
}

// Call sends a request and waits for the matching response. The request
// must carry an identifier; expect parses the response. The current state
// still dispatches the response to any handler registered for it.
func (c *Client) Call(ctx context.Context, req message.Request, expect message.ResponseParser) (message.Response, error) {
	if req.ID() == "" {
		return nil, errors.New("request must carry an id to wait for its response")
	}

	responses := make(chan message.Response, 1)
	cancel := c.RegisterResponseListener(func(res message.Response) {
		if res.ID() == req.ID() {
			select {
			case responses <- res:
			default:
			}
		}
	})
	defer cancel()

	if err := c.SendRequestExpecting(req, expect); err != nil {
		return nil, err
	}

	select {
	case res := <-responses:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.done:
		return nil, transport.ErrNotConnected
	}
}
