package tcp

import (
	"net"

	"github.com/google/uuid"
)

// ServerConnection is one accepted Stratum connection on a Server. Each
// connection carries its own transport and a unique identifier the server
// uses for idle tracking.
type ServerConnection struct {
	*Transport

	server *Server
	id     string
	socket net.Conn
}

func newServerConnection(server *Server, socket net.Conn) *ServerConnection {
	conn := &ServerConnection{
		Transport: newTransport(server.states, server.connectionOptions()...),
		server:    server,
		id:        uuid.NewString(),
		socket:    socket,
	}

	conn.touch = func() { server.touchConnection(conn.id) }
	conn.onClose = func() { server.forgetConnection(conn.id) }

	return conn
}

// ConnectionID returns the unique identifier assigned to this connection
// at accept time.
func (c *ServerConnection) ConnectionID() string {
	return c.id
}

// Server returns the server this connection belongs to.
func (c *ServerConnection) Server() *Server {
	return c.server
}

// Open enters the post-connect state and starts servicing the socket.
func (c *ServerConnection) Open() error {
	return c.open(c.socket)
}

// RemoteAddr returns the remote address of the connection socket.
func (c *ServerConnection) RemoteAddr() net.Addr {
	return c.socket.RemoteAddr()
}
