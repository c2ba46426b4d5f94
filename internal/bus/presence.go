package bus

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const presenceKey = "presence:conns"

// Presence is the shared registry of connected viewers. Entries are
// sorted-set members scored by their last heartbeat, so a process that
// dies without cleaning up only inflates the count until its entries
// age past the liveness window.
type Presence struct {
	RDB *redis.Client

	// Window is how long an entry counts as alive without a heartbeat
	Window time.Duration

	// Now is swappable for tests
	Now func() time.Time
}

func NewPresence(rdb *redis.Client) *Presence {
	return &Presence{
		RDB:    rdb,
		Window: 90 * time.Second,
		Now:    time.Now,
	}
}

// Touch registers or refreshes a connection. Called on connect and by
// the per-connection heartbeat ticker.
func (p *Presence) Touch(ctx context.Context, connID string) error {
	err := p.RDB.ZAdd(ctx, presenceKey, redis.Z{
		Score:  float64(p.Now().UnixMilli()),
		Member: connID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to touch presence entry, %w", err)
	}

	return nil
}

// Remove drops a connection on orderly disconnect. Abnormal
// terminations are covered by the window expiry instead.
func (p *Presence) Remove(ctx context.Context, connID string) error {
	if err := p.RDB.ZRem(ctx, presenceKey, connID).Err(); err != nil {
		return fmt.Errorf("failed to remove presence entry, %w", err)
	}

	return nil
}

// Count sweeps out entries older than the window and returns how many
// live connections remain across all instances.
func (p *Presence) Count(ctx context.Context) (int, error) {
	cutoff := p.Now().Add(-p.Window).UnixMilli()

	pipe := p.RDB.TxPipeline()
	pipe.ZRemRangeByScore(ctx, presenceKey, "-inf", strconv.FormatInt(cutoff, 10))
	card := pipe.ZCard(ctx, presenceKey)

	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to count presence entries, %w", err)
	}

	return int(card.Val()), nil
}
