package session

import (
	"bitwise74/canvas-api/internal/model"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDirectory(t *testing.T) (*Directory, *int64) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(model.UserSession{}))

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	now := new(int64)
	d := NewDirectory(db, rdb, 10*time.Second)
	d.Now = func() time.Time {
		return time.UnixMilli(atomic.LoadInt64(now))
	}

	return d, now
}

func TestExchangeAndResolve(t *testing.T) {
	d, _ := testDirectory(t)
	ctx := context.Background()

	token, retryAfter, err := d.Exchange(ctx, "u1")
	require.NoError(t, err)
	assert.Zero(t, retryAfter)
	assert.Len(t, token, 64, "32 random bytes hex-encoded")

	identity, err := d.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity)
}

func TestExchangeReissueWindow(t *testing.T) {
	d, now := testDirectory(t)
	ctx := context.Background()

	_, _, err := d.Exchange(ctx, "u1")
	require.NoError(t, err)

	atomic.StoreInt64(now, 3000)
	_, retryAfter, err := d.Exchange(ctx, "u1")
	assert.ErrorIs(t, err, ErrReissueTooSoon)
	assert.Equal(t, 7, retryAfter)

	atomic.StoreInt64(now, 10_000)
	token, _, err := d.Exchange(ctx, "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestExchangeReplacesPriorSession(t *testing.T) {
	d, now := testDirectory(t)
	ctx := context.Background()

	first, _, err := d.Exchange(ctx, "u1")
	require.NoError(t, err)

	atomic.StoreInt64(now, 60_000)
	second, _, err := d.Exchange(ctx, "u1")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	var count int64
	require.NoError(t, d.DB.Model(model.UserSession{}).Where("identity = ?", "u1").Count(&count).Error)
	assert.EqualValues(t, 1, count, "one active session per identity")

	// The old token is gone from the durable store. It may linger in
	// caches until TTL expiry, but it was never cached here.
	_, err = d.Resolve(ctx, first)
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestResolveUnknownToken(t *testing.T) {
	d, _ := testDirectory(t)

	_, err := d.Resolve(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, ErrUnknownToken)

	_, err = d.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnknownToken)
}

func TestResolvePopulatesSharedCache(t *testing.T) {
	d, _ := testDirectory(t)
	ctx := context.Background()

	token, _, err := d.Exchange(ctx, "u1")
	require.NoError(t, err)

	_, err = d.Resolve(ctx, token)
	require.NoError(t, err)

	cached, err := d.RDB.Get(ctx, cacheKey(token)).Result()
	require.NoError(t, err)
	assert.Equal(t, "u1", cached)

	ttl, err := d.RDB.TTL(ctx, cacheKey(token)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Hour, "shared cache entries are long-lived")
}

func TestResolveServedFromCacheAfterDBLoss(t *testing.T) {
	d, _ := testDirectory(t)
	ctx := context.Background()

	token, _, err := d.Exchange(ctx, "u1")
	require.NoError(t, err)

	_, err = d.Resolve(ctx, token)
	require.NoError(t, err)

	// Hard-delete the row. The caches keep resolving, which is the
	// documented staleness window.
	require.NoError(t, d.DB.Delete(&model.UserSession{}, "identity = ?", "u1").Error)

	identity, err := d.Resolve(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u1", identity)
}
