package server

import (
	"net"

	"github.com/google/uuid"
)

// client is one connected peer receiving the source stream.
type client struct {
	id   string
	conn net.Conn
}

func newClient(conn net.Conn) *client {
	return &client{id: uuid.NewString(), conn: conn}
}

// registry is the ordered set of connected clients. Broadcast iterates it
// in insertion order; removal compacts in place so relative order is
// preserved. It is owned exclusively by the server loop and needs no
// locking.
type registry struct {
	max     int
	clients []*client
}

func newRegistry(max int) *registry {
	return &registry{max: max}
}

// add appends c, reporting false if the registry is at capacity.
func (r *registry) add(c *client) bool {
	if len(r.clients) >= r.max {
		return false
	}
	r.clients = append(r.clients, c)
	return true
}

func (r *registry) len() int {
	return len(r.clients)
}

func (r *registry) at(i int) *client {
	return r.clients[i]
}

// removeAt drops the client at index i, shifting later clients down.
func (r *registry) removeAt(i int) {
	r.clients = append(r.clients[:i], r.clients[i+1:]...)
}

// closeAll closes every client connection and empties the registry.
func (r *registry) closeAll() {
	for _, c := range r.clients {
		c.conn.Close()
	}
	r.clients = nil
}
