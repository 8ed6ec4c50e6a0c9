package stream

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HarbingerOfTheEnd/PricePulse/internal/domain"
)

func TestBroadcaster_LastWriteWins(t *testing.T) {
	reg := NewRegistry(4)
	bc := NewBroadcaster(reg, nil, nil)
	key := domain.SubscriptionKey{ProductID: 42, UserID: 7}

	for i := 1; i <= 5; i++ {
		bc.Publish(key, sampleFor(key, float64(i)))
	}

	last, ok := bc.LastKnown(key)
	require.True(t, ok)
	assert.Equal(t, 5.0, last.Price)
}

func TestBroadcaster_LastKnownMissing(t *testing.T) {
	bc := NewBroadcaster(NewRegistry(4), nil, nil)
	_, ok := bc.LastKnown(domain.SubscriptionKey{ProductID: 1, UserID: 1})
	assert.False(t, ok)
}

func TestBroadcaster_SubscribeArmsFirstConnectionOnly(t *testing.T) {
	reg := NewRegistry(4)
	var armed []string
	bc := NewBroadcaster(reg, func(_ domain.SubscriptionKey, url string) {
		armed = append(armed, url)
	}, nil)
	key := domain.SubscriptionKey{ProductID: 42, UserID: 7}

	a := bc.Subscribe(key, "https://example.com/product/42")
	b := bc.Subscribe(key, "https://example.com/product/42")

	assert.Equal(t, []string{"https://example.com/product/42"}, armed)
	assert.Equal(t, 2, reg.Len())
	assert.NotEqual(t, a.ID, b.ID)
}

func TestBroadcaster_FanOutToAllConnectionsForKey(t *testing.T) {
	reg := NewRegistry(4)
	bc := NewBroadcaster(reg, nil, nil)
	key := domain.SubscriptionKey{ProductID: 42, UserID: 7}
	other := domain.SubscriptionKey{ProductID: 43, UserID: 7}

	a := bc.Subscribe(key, "")
	b := bc.Subscribe(key, "")
	c := bc.Subscribe(other, "")

	bc.Publish(key, sampleFor(key, 19.99))

	assert.Equal(t, 19.99, (<-a.Samples()).Price)
	assert.Equal(t, 19.99, (<-b.Samples()).Price)
	select {
	case got := <-c.Samples():
		t.Fatalf("connection for other key received sample: %+v", got)
	default:
	}
}

func TestBroadcaster_EvictsOnDeliveryFailure(t *testing.T) {
	reg := NewRegistry(1)
	var emptied []domain.SubscriptionKey
	bc := NewBroadcaster(reg, nil, func(key domain.SubscriptionKey) {
		emptied = append(emptied, key)
	})
	key := domain.SubscriptionKey{ProductID: 42, UserID: 7}
	conn := bc.Subscribe(key, "")

	// First publish fills the buffer; second one fails delivery and
	// evicts the connection, which was the last one for the key.
	bc.Publish(key, sampleFor(key, 1))
	bc.Publish(key, sampleFor(key, 2))

	assert.Equal(t, 0, reg.Len())
	assert.Equal(t, []domain.SubscriptionKey{key}, emptied)
	assert.ErrorIs(t, reg.Deliver(conn.ID, sampleFor(key, 3)), ErrChannelClosed)

	// Cache still updated despite the failed delivery.
	last, ok := bc.LastKnown(key)
	require.True(t, ok)
	assert.Equal(t, 2.0, last.Price)
}

func TestBroadcaster_EvictionClosesChannel(t *testing.T) {
	reg := NewRegistry(1)
	bc := NewBroadcaster(reg, nil, nil)
	key := domain.SubscriptionKey{ProductID: 42, UserID: 7}
	conn := bc.Subscribe(key, "")

	bc.Publish(key, sampleFor(key, 1))
	bc.Publish(key, sampleFor(key, 2))

	// The buffered sample drains first, then the closed channel tells
	// the owning session it was evicted.
	got, ok := <-conn.Samples()
	require.True(t, ok)
	assert.Equal(t, 1.0, got.Price)

	_, ok = <-conn.Samples()
	assert.False(t, ok)

	// Releasing after eviction neither double-counts nor re-fires hooks.
	bc.Release(conn)
}

func TestBroadcaster_EvictionSparesOtherConnections(t *testing.T) {
	reg := NewRegistry(1)
	var emptyCalls int
	bc := NewBroadcaster(reg, nil, func(domain.SubscriptionKey) { emptyCalls++ })
	key := domain.SubscriptionKey{ProductID: 42, UserID: 7}

	stuck := bc.Subscribe(key, "")
	healthy := bc.Subscribe(key, "")

	bc.Publish(key, sampleFor(key, 1))
	<-healthy.Samples() // drain the healthy connection only
	_ = stuck

	bc.Publish(key, sampleFor(key, 2))

	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, 0, emptyCalls)
	assert.Equal(t, 2.0, (<-healthy.Samples()).Price)
}

func TestBroadcaster_ReleaseDisarmsOnlyWhenLast(t *testing.T) {
	reg := NewRegistry(4)
	var emptied []domain.SubscriptionKey
	bc := NewBroadcaster(reg, nil, func(key domain.SubscriptionKey) {
		emptied = append(emptied, key)
	})
	key := domain.SubscriptionKey{ProductID: 42, UserID: 7}

	a := bc.Subscribe(key, "")
	b := bc.Subscribe(key, "")

	bc.Release(a)
	assert.Empty(t, emptied)

	bc.Release(b)
	assert.Equal(t, []domain.SubscriptionKey{key}, emptied)
}

func TestBroadcaster_ReconnectDuringTeardownKeepsJobArmed(t *testing.T) {
	reg := NewRegistry(4)
	published := &sink{}
	var sched *Scheduler
	bc := NewBroadcaster(reg,
		func(key domain.SubscriptionKey, url string) { sched.Arm(key, url) },
		func(key domain.SubscriptionKey) { sched.Disarm(key) },
	)
	sched = NewScheduler(&stubExtractor{}, published.publish, time.Hour, clockwork.NewFakeClock())
	defer sched.Stop()

	key := domain.SubscriptionKey{ProductID: 42, UserID: 7}
	url := "https://example.com/product/42"

	old := bc.Subscribe(key, url)
	require.True(t, sched.Armed(key))

	// A reconnect racing the previous connection's teardown must leave
	// the surviving connection with an armed job, whichever side wins.
	var fresh *Connection
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); bc.Release(old) }()
	go func() { defer wg.Done(); fresh = bc.Subscribe(key, url) }()
	wg.Wait()

	assert.Equal(t, 1, reg.Len())
	assert.True(t, sched.Armed(key))

	bc.Release(fresh)
	assert.False(t, sched.Armed(key))
	assert.Equal(t, 0, reg.Len())
}
