// Package ledger enforces the per-identity leaky-bucket draw budget.
//
// The balance lives in Redis, shared by every gateway instance, and is
// only ever mutated through a single server-side Lua script so that two
// concurrent debits for the same identity can never both observe the
// last remaining point.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInsufficient is returned when the balance is zero after
// replenishment. The accompanying snapshot is still valid.
var ErrInsufficient = errors.New("insufficient points")

// debitScript runs replenish-and-debit as one atomic round trip.
//
// The anchor timestamp only advances by whole replenish intervals
// (now - elapsed % delay) instead of resetting to now on every draw, so
// fractional interval progress keeps accumulating across small draws.
var debitScript = redis.NewScript(`
local points_key = KEYS[1]
local time_key = KEYS[2]
local max_points = tonumber(ARGV[1])
local delay_ms = tonumber(ARGV[2])
local now = tonumber(ARGV[3])

local last_update = tonumber(redis.call('GET', time_key)) or now
local last_points = tonumber(redis.call('GET', points_key)) or max_points

-- Clock skew between instances can put now behind the stored anchor.
-- Clamping at zero means a skewed reader sees no replenishment, never
-- a shrunken balance.
local elapsed = math.max(0, now - last_update)
local replenished = math.floor(elapsed / delay_ms)
local available = math.min(max_points, last_points + replenished)

if available >= 1 then
	available = available - 1

	local anchor = last_update
	if replenished > 0 then
		anchor = now - (elapsed % delay_ms)
	end

	redis.call('SET', points_key, available)
	redis.call('SET', time_key, anchor)
	return {1, available, anchor}
end

return {0, available, last_update}
`)

// Snapshot is the balance state sent back to clients, who compute their
// own countdown from the anchor rather than relying on a server timer.
type Snapshot struct {
	PointsLeft int   `json:"pointsLeft"`
	LastUpdate int64 `json:"lastUpdate"`
}

type Ledger struct {
	RDB       *redis.Client
	MaxPoints int
	DelayMS   int64

	// Now is swappable for tests
	Now func() time.Time
}

func New(rdb *redis.Client, maxPoints int, delayMS int64) *Ledger {
	return &Ledger{
		RDB:       rdb,
		MaxPoints: maxPoints,
		DelayMS:   delayMS,
		Now:       time.Now,
	}
}

func pointsKey(identity string) string {
	return "backpack:points:" + identity
}

func timeKey(identity string) string {
	return "backpack:ts:" + identity
}

// Debit consumes one point for the identity. It returns ErrInsufficient
// when the replenished balance is still zero, or the store's own error
// when the script could not run at all. Both cases carry a snapshot the
// caller can forward.
func (l *Ledger) Debit(ctx context.Context, identity string) (Snapshot, error) {
	now := l.Now().UnixMilli()

	res, err := debitScript.Run(ctx, l.RDB,
		[]string{pointsKey(identity), timeKey(identity)},
		l.MaxPoints, l.DelayMS, now,
	).Int64Slice()
	if err != nil {
		return Snapshot{LastUpdate: now}, fmt.Errorf("ledger script failed, %w", err)
	}

	if len(res) != 3 {
		return Snapshot{LastUpdate: now}, fmt.Errorf("ledger script returned %d values", len(res))
	}

	snap := Snapshot{
		PointsLeft: int(res[1]),
		LastUpdate: res[2],
	}

	if res[0] != 1 {
		return snap, ErrInsufficient
	}

	return snap, nil
}

// Peek computes the current balance without mutating anything. Reads
// can race a concurrent debit but the result is only used for display,
// the debit path never trusts it.
func (l *Ledger) Peek(ctx context.Context, identity string) (Snapshot, error) {
	now := l.Now().UnixMilli()

	vals, err := l.RDB.MGet(ctx, pointsKey(identity), timeKey(identity)).Result()
	if err != nil {
		return Snapshot{LastUpdate: now}, fmt.Errorf("ledger peek failed, %w", err)
	}

	lastPoints := int64(l.MaxPoints)
	lastUpdate := now

	if s, ok := vals[0].(string); ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			lastPoints = n
		}
	}
	if s, ok := vals[1].(string); ok {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			lastUpdate = n
		}
	}

	replenished := max(0, now-lastUpdate) / l.DelayMS
	available := min(int64(l.MaxPoints), lastPoints+replenished)

	return Snapshot{
		PointsLeft: int(available),
		LastUpdate: lastUpdate,
	}, nil
}
