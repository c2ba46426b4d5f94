package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedDelivery struct {
	method   string
	origin   string
	identity string
	event    string
}

// recordingDeliverer stands in for the gateway hub.
type recordingDeliverer struct {
	mu         sync.Mutex
	deliveries []recordedDelivery
}

func (r *recordingDeliverer) Broadcast(event string, data any) {
	r.record(recordedDelivery{method: "broadcast", event: event})
}

func (r *recordingDeliverer) BroadcastExcept(origin string, event string, data any) {
	r.record(recordedDelivery{method: "broadcastExcept", origin: origin, event: event})
}

func (r *recordingDeliverer) ToGroup(identity string, event string, data any) {
	r.record(recordedDelivery{method: "toGroup", identity: identity, event: event})
}

func (r *recordingDeliverer) record(d recordedDelivery) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, d)
}

func (r *recordingDeliverer) all() []recordedDelivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedDelivery(nil), r.deliveries...)
}

func testClient(t *testing.T, mr *miniredis.Miniredis) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestPublishDeliversLocallyFirst(t *testing.T) {
	mr := miniredis.RunT(t)
	local := &recordingDeliverer{}
	b := New(testClient(t, mr), local)

	b.Publish(context.Background(), Event{
		Type:   TypeDraw,
		Origin: "conn-1",
		Data:   map[string]int{"x": 1, "y": 2},
	})

	deliveries := local.all()
	require.Len(t, deliveries, 1)
	assert.Equal(t, "broadcastExcept", deliveries[0].method)
	assert.Equal(t, "conn-1", deliveries[0].origin)
	assert.Equal(t, TypeDraw, deliveries[0].event)
}

func TestPublishDegradesToLocalOnly(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := testClient(t, mr)
	local := &recordingDeliverer{}
	b := New(rdb, local)

	mr.Close()

	b.Publish(context.Background(), Event{Type: TypeSync, Identity: "u1", Data: nil})
	b.Publish(context.Background(), Event{Type: TypeOnline, Data: map[string]int{"count": 3}})

	deliveries := local.all()
	require.Len(t, deliveries, 2)
	assert.Equal(t, "toGroup", deliveries[0].method)
	assert.Equal(t, "u1", deliveries[0].identity)
	assert.Equal(t, "broadcast", deliveries[1].method)
	assert.True(t, b.degraded.Load())
}

func TestRunDeliversPeerEventsAndSkipsOwn(t *testing.T) {
	mr := miniredis.RunT(t)

	localA := &recordingDeliverer{}
	localB := &recordingDeliverer{}
	a := New(testClient(t, mr), localA)
	b := New(testClient(t, mr), localB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go a.Run(ctx)
	go b.Run(ctx)

	// Give both subscriptions time to attach before publishing
	require.Eventually(t, func() bool {
		n, err := testClient(t, mr).PubSubNumSub(ctx, channel).Result()
		return err == nil && n[channel] == 2
	}, 2*time.Second, 10*time.Millisecond)

	a.Publish(ctx, Event{Type: TypeDraw, Origin: "conn-a", Data: map[string]int{"x": 5}})

	// The peer instance replays the event through its own hub
	require.Eventually(t, func() bool {
		return len(localB.all()) == 1
	}, 2*time.Second, 10*time.Millisecond)

	got := localB.all()[0]
	assert.Equal(t, "broadcastExcept", got.method)
	assert.Equal(t, "conn-a", got.origin)

	// The origin instance delivered once at publish time and must not
	// re-deliver its own replicated envelope
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, localA.all(), 1)
}
