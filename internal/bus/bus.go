// Package bus propagates gateway events across server instances.
//
// Every accepted draw, ledger sync and presence change is delivered to
// the local hub first and then published on a shared Redis channel so
// viewers attached to other instances observe the same stream. When
// Redis is unreachable the bus degrades to local-only delivery, which
// is documented behavior, not a fatal error.
package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const channel = "canvas:events"

// Event types on the shared channel. The values double as the wire
// event names pushed to clients.
const (
	TypeDraw   = "draw"
	TypeSync   = "sync"
	TypeOnline = "onlineClientsUpdated"
)

// Deliverer is the local fan-out primitive, implemented by the gateway
// hub.
type Deliverer interface {
	Broadcast(event string, data any)
	BroadcastExcept(origin string, event string, data any)
	ToGroup(identity string, event string, data any)
}

// Event crosses instances as a JSON envelope. Origin lets the source
// instance's hub skip the connection that caused it; Identity scopes
// sync events to one user's group.
type Event struct {
	Type     string `json:"t"`
	Origin   string `json:"o,omitempty"`
	Identity string `json:"u,omitempty"`
	Data     any    `json:"d"`
}

type envelope struct {
	Instance string          `json:"i"`
	Type     string          `json:"t"`
	Origin   string          `json:"o,omitempty"`
	Identity string          `json:"u,omitempty"`
	Data     json.RawMessage `json:"d"`
}

type Bus struct {
	RDB   *redis.Client
	Local Deliverer

	// InstanceID tags published envelopes so the subscribe loop can
	// ignore this instance's own messages
	InstanceID string

	degraded atomic.Bool
}

func New(rdb *redis.Client, local Deliverer) *Bus {
	return &Bus{
		RDB:        rdb,
		Local:      local,
		InstanceID: gonanoid.Must(12),
	}
}

// Publish delivers locally, then replicates to the other instances.
// Local delivery never depends on Redis being up.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	b.deliver(ev.Type, ev.Origin, ev.Identity, ev.Data)

	raw, err := json.Marshal(ev.Data)
	if err != nil {
		zap.L().Error("Failed to marshal bus event", zap.Error(err), zap.String("type", ev.Type))
		return
	}

	payload, err := json.Marshal(envelope{
		Instance: b.InstanceID,
		Type:     ev.Type,
		Origin:   ev.Origin,
		Identity: ev.Identity,
		Data:     raw,
	})
	if err != nil {
		zap.L().Error("Failed to marshal bus envelope", zap.Error(err), zap.String("type", ev.Type))
		return
	}

	if err := b.RDB.Publish(ctx, channel, payload).Err(); err != nil {
		if b.degraded.CompareAndSwap(false, true) {
			zap.L().Warn("Fan-out store unreachable, delivering to local viewers only", zap.Error(err))
		}
		return
	}

	if b.degraded.CompareAndSwap(true, false) {
		zap.L().Info("Fan-out store reachable again")
	}
}

// Run consumes replicated events until the context is canceled. go-redis
// reconnects the subscription on its own after store outages.
func (b *Bus) Run(ctx context.Context) {
	sub := b.RDB.Subscribe(ctx, channel)
	defer sub.Close()

	zap.L().Info("Fan-out bus attached", zap.String("instance_id", b.InstanceID))

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Channel():
			if !ok {
				return
			}

			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				zap.L().Error("Malformed bus envelope", zap.Error(err))
				continue
			}

			// Own events were already delivered on publish
			if env.Instance == b.InstanceID {
				continue
			}

			b.deliver(env.Type, env.Origin, env.Identity, env.Data)
		}
	}
}

func (b *Bus) deliver(typ, origin, identity string, data any) {
	switch typ {
	case TypeDraw:
		b.Local.BroadcastExcept(origin, TypeDraw, data)
	case TypeSync:
		b.Local.ToGroup(identity, TypeSync, data)
	case TypeOnline:
		b.Local.Broadcast(TypeOnline, data)
	default:
		zap.L().Warn("Unknown bus event type", zap.String("type", typ))
	}
}
