package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLedger(t *testing.T, maxPoints int, delayMS int64) (*Ledger, *int64) {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := new(int64)
	l := New(rdb, maxPoints, delayMS)
	l.Now = func() time.Time {
		return time.UnixMilli(atomic.LoadInt64(now))
	}

	return l, now
}

func TestDebitAtomicity(t *testing.T) {
	const (
		maxPoints  = 5
		concurrent = 40
	)

	l, _ := testLedger(t, maxPoints, 1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	var successes atomic.Int64

	for range concurrent {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := l.Debit(ctx, "u1")
			if err == nil {
				successes.Add(1)
			} else {
				assert.ErrorIs(t, err, ErrInsufficient)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, maxPoints, successes.Load(),
		"exactly maxPoints of the concurrent debits may win")
}

func TestReplenishmentBoundary(t *testing.T) {
	l, now := testLedger(t, 3, 1000)
	ctx := context.Background()

	// Drain the bucket at t=0
	for i := range 3 {
		snap, err := l.Debit(ctx, "u1")
		require.NoError(t, err, "debit %d", i)
		assert.Equal(t, 2-i, snap.PointsLeft)
		assert.EqualValues(t, 0, snap.LastUpdate)
	}

	// One tick before the interval elapses nothing is back
	atomic.StoreInt64(now, 999)
	snap, err := l.Debit(ctx, "u1")
	assert.ErrorIs(t, err, ErrInsufficient)
	assert.Equal(t, 0, snap.PointsLeft)
	assert.EqualValues(t, 0, snap.LastUpdate)

	// Exactly one interval replenishes exactly one point
	atomic.StoreInt64(now, 1000)
	snap, err = l.Debit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.PointsLeft)
	assert.EqualValues(t, 1000, snap.LastUpdate)
}

func TestReplenishmentWholeIntervalsOnly(t *testing.T) {
	l, now := testLedger(t, 10, 1000)
	ctx := context.Background()

	for range 10 {
		_, err := l.Debit(ctx, "u1")
		require.NoError(t, err)
	}

	// 2.5 intervals replenish 2 points, and the anchor keeps the
	// half interval of accumulated progress
	atomic.StoreInt64(now, 2500)
	snap, err := l.Debit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.PointsLeft)
	assert.EqualValues(t, 2000, snap.LastUpdate)
}

func TestDebitClampsToMax(t *testing.T) {
	l, now := testLedger(t, 3, 1000)
	ctx := context.Background()

	_, err := l.Debit(ctx, "u1")
	require.NoError(t, err)

	// A long absence must not bank more than maxPoints
	atomic.StoreInt64(now, 1_000_000)
	snap, err := l.Debit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.PointsLeft)
}

func TestDebitSeparatesIdentities(t *testing.T) {
	l, _ := testLedger(t, 1, 1000)
	ctx := context.Background()

	_, err := l.Debit(ctx, "u1")
	require.NoError(t, err)

	_, err = l.Debit(ctx, "u2")
	require.NoError(t, err, "u2 has its own bucket")

	_, err = l.Debit(ctx, "u1")
	assert.ErrorIs(t, err, ErrInsufficient)
}

func TestPeekDoesNotMutate(t *testing.T) {
	l, now := testLedger(t, 3, 1000)
	ctx := context.Background()

	_, err := l.Debit(ctx, "u1")
	require.NoError(t, err)

	atomic.StoreInt64(now, 1500)

	for range 3 {
		snap, err := l.Peek(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, 3, snap.PointsLeft)
		assert.EqualValues(t, 0, snap.LastUpdate)
	}
}

func TestPeekFreshIdentity(t *testing.T) {
	l, now := testLedger(t, 24, 5000)
	atomic.StoreInt64(now, 123456)

	snap, err := l.Peek(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, 24, snap.PointsLeft)
	assert.EqualValues(t, 123456, snap.LastUpdate)
}

func TestBudgetDrainAndSingleReplenish(t *testing.T) {
	l, now := testLedger(t, 3, 1000)
	ctx := context.Background()

	for range 3 {
		snap, err := l.Debit(ctx, "u1")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, snap.PointsLeft, 0)
	}

	snap, err := l.Debit(ctx, "u1")
	assert.ErrorIs(t, err, ErrInsufficient)
	assert.Equal(t, 0, snap.PointsLeft)

	atomic.StoreInt64(now, 1000)
	snap, err = l.Debit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, snap.PointsLeft, "one consumed right after one replenished")
}

func TestDebitToleratesClockSkew(t *testing.T) {
	l, now := testLedger(t, 3, 1000)
	ctx := context.Background()

	atomic.StoreInt64(now, 5000)
	snap, err := l.Debit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, snap.PointsLeft)
	assert.EqualValues(t, 5000, snap.LastUpdate)

	// An instance whose clock sits behind the stored anchor sees no
	// replenishment but still spends the stored balance
	atomic.StoreInt64(now, 1000)
	snap, err = l.Debit(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, snap.PointsLeft)
	assert.EqualValues(t, 5000, snap.LastUpdate)

	peeked, err := l.Peek(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, peeked.PointsLeft)
}

func TestDebitStoreUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	l := New(rdb, 3, 1000)
	mr.Close()

	_, err := l.Debit(context.Background(), "u1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInsufficient)
}
