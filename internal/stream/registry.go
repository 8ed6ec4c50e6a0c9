// Package stream implements the live price-update fan-out: a connection
// registry, a poll scheduler, an update broadcaster, and the per-client
// stream session.
package stream

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/metrics"
)

// ErrChannelClosed is returned by Deliver when the connection is gone or
// its delivery queue is full. The caller is expected to unregister the
// connection.
var ErrChannelClosed = errors.New("delivery channel closed or full")

// Connection is one live stream client: an opaque id, the subscription key
// it watches, and a bounded delivery queue. The channel has a single
// producer (the broadcaster, via Registry.Deliver) and a single consumer
// (the Session that owns the connection). Unregister closes the channel,
// so the owning session observes its own eviction as a closed channel.
type Connection struct {
	ID  uuid.UUID
	Key domain.SubscriptionKey
	ch  chan domain.PriceSample
}

// Samples returns the receive side of the connection's delivery queue.
func (c *Connection) Samples() <-chan domain.PriceSample {
	return c.ch
}

// Registry is a concurrency-safe map from connection id to its delivery
// channel. A connection is reachable from the registry exactly as long as
// its owning session is running.
type Registry struct {
	mu     sync.Mutex
	conns  map[uuid.UUID]*Connection
	buffer int
}

func NewRegistry(buffer int) *Registry {
	return &Registry{
		conns:  make(map[uuid.UUID]*Connection),
		buffer: buffer,
	}
}

// Register allocates a connection with a fresh random id and adds it to
// the registry.
func (r *Registry) Register(key domain.SubscriptionKey) *Connection {
	conn := &Connection{
		ID:  uuid.New(),
		Key: key,
		ch:  make(chan domain.PriceSample, r.buffer),
	}

	r.mu.Lock()
	r.conns[conn.ID] = conn
	r.mu.Unlock()

	metrics.ActiveConnections.Inc()
	return conn
}

// Unregister removes a connection and closes its channel so the owning
// session wakes up and shuts down. It is idempotent and reports whether
// the connection was still registered.
func (r *Registry) Unregister(id uuid.UUID) bool {
	r.mu.Lock()
	conn, exists := r.conns[id]
	if exists {
		delete(r.conns, id)
		close(conn.ch)
	}
	r.mu.Unlock()

	if exists {
		metrics.ActiveConnections.Dec()
	}
	return exists
}

// Deliver enqueues a sample onto the connection's channel without blocking.
// It returns ErrChannelClosed when the connection is not registered or its
// queue is full. The send happens under the registry lock, the same lock
// Unregister closes the channel under, so a send can never race the close.
func (r *Registry) Deliver(id uuid.UUID, sample domain.PriceSample) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[id]
	if !ok {
		return ErrChannelClosed
	}

	select {
	case conn.ch <- sample:
		metrics.DeliveriesTotal.Inc()
		return nil
	default:
		return ErrChannelClosed
	}
}

// ForKey returns a point-in-time copy of the connections subscribed to key.
func (r *Registry) ForKey(key domain.SubscriptionKey) []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	var matched []*Connection
	for _, conn := range r.conns {
		if conn.Key == key {
			matched = append(matched, conn)
		}
	}
	return matched
}

// Snapshot returns a point-in-time copy of all registered connections.
func (r *Registry) Snapshot() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	conns := make([]*Connection, 0, len(r.conns))
	for _, conn := range r.conns {
		conns = append(conns, conn)
	}
	return conns
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
