package stream

import (
	"log/slog"
	"sync"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
	"github.com/HarbingerOfTheEnd/PricePulse/internal/metrics"
)

// Broadcaster delivers each new price sample to every connection watching
// its subscription key and remembers the most recent sample per key so new
// connections get an immediate first update. It also owns the per-key
// connection count: the first subscriber for a key arms its polling job,
// the last one out disarms it, and both transitions happen under one lock
// so a reconnect racing another connection's teardown can never strand a
// live connection without a job.
type Broadcaster struct {
	registry *Registry

	mu        sync.Mutex
	lastKnown map[domain.SubscriptionKey]domain.PriceSample
	refs      map[domain.SubscriptionKey]int

	// onKeyActive runs when a key gains its first connection; wired to
	// the scheduler's Arm in main. onKeyEmpty runs after the last
	// connection for a key disappears, through eviction or normal
	// session teardown; wired to Disarm.
	onKeyActive func(key domain.SubscriptionKey, url string)
	onKeyEmpty  func(key domain.SubscriptionKey)
}

func NewBroadcaster(registry *Registry, onKeyActive func(domain.SubscriptionKey, string), onKeyEmpty func(domain.SubscriptionKey)) *Broadcaster {
	return &Broadcaster{
		registry:    registry,
		lastKnown:   make(map[domain.SubscriptionKey]domain.PriceSample),
		refs:        make(map[domain.SubscriptionKey]int),
		onKeyActive: onKeyActive,
		onKeyEmpty:  onKeyEmpty,
	}
}

// Subscribe registers a new connection for key. When it is the first
// connection for the key, the key-active hook fires with the product page
// url so the polling job gets armed.
func (b *Broadcaster) Subscribe(key domain.SubscriptionKey, url string) *Connection {
	b.mu.Lock()
	defer b.mu.Unlock()

	conn := b.registry.Register(key)
	b.refs[key]++
	if b.refs[key] == 1 && b.onKeyActive != nil {
		b.onKeyActive(key, url)
	}
	return conn
}

// Publish records the sample as last-known for its key and fans it out to
// every matching connection. Delivery failures evict only the failing
// connection; Publish never blocks on a slow consumer and never returns an
// error to the scheduler.
func (b *Broadcaster) Publish(key domain.SubscriptionKey, sample domain.PriceSample) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastKnown[key] = sample

	for _, conn := range b.registry.ForKey(key) {
		if err := b.registry.Deliver(conn.ID, sample); err != nil {
			slog.Warn("Evicting connection after delivery failure",
				"connection_id", conn.ID.String(),
				"product_id", key.ProductID,
				"user_id", key.UserID,
				"error", err,
			)
			metrics.EvictedConnectionsTotal.Inc()
			b.release(conn)
		}
	}
}

// LastKnown returns the most recent sample published for key, if any.
func (b *Broadcaster) LastKnown(key domain.SubscriptionKey) (domain.PriceSample, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sample, ok := b.lastKnown[key]
	return sample, ok
}

// Release removes a connection on session teardown. When it was the last
// connection for its key, the key-empty hook fires so the polling job gets
// disarmed. Releasing an already-evicted connection is a no-op.
func (b *Broadcaster) Release(conn *Connection) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.release(conn)
}

// release drops one reference for conn's key. The caller holds b.mu.
func (b *Broadcaster) release(conn *Connection) {
	if !b.registry.Unregister(conn.ID) {
		return
	}

	if b.refs[conn.Key]--; b.refs[conn.Key] <= 0 {
		delete(b.refs, conn.Key)
		if b.onKeyEmpty != nil {
			b.onKeyEmpty(conn.Key)
		}
	}
}
