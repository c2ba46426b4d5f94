// Package session maps opaque draw tokens to identities
package session

import (
	"bitwise74/canvas-api/internal/model"
	"bitwise74/canvas-api/pkg/util"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrUnknownToken = errors.New("unknown draw token")

	// ErrReissueTooSoon carries no timing info on its own, Exchange
	// returns the retry-after hint separately
	ErrReissueTooSoon = errors.New("token reissued too recently")
)

const (
	// localTTL bounds how long a rotated token keeps resolving inside
	// one process
	localTTL = time.Minute

	// sharedTTL is the shared-store cache lifetime. Rotation does not
	// invalidate cache entries, so a replaced token can keep resolving
	// for up to this long across all instances. Accepted staleness
	// window in exchange for skipping a durable-store read per draw.
	sharedTTL = 12 * time.Hour
)

// Directory resolves draw tokens through a process-local cache, then
// the shared Redis cache, then the durable session table.
type Directory struct {
	DB    *gorm.DB
	RDB   *redis.Client
	local *ttlcache.Cache

	// ReissueInterval is the minimum gap between two exchanges for
	// the same identity
	ReissueInterval time.Duration

	// Now is swappable for tests
	Now func() time.Time
}

func NewDirectory(db *gorm.DB, rdb *redis.Client, reissueInterval time.Duration) *Directory {
	local := ttlcache.NewCache()
	local.SetTTL(localTTL)
	local.SkipTTLExtensionOnHit(true)

	return &Directory{
		DB:              db,
		RDB:             rdb,
		local:           local,
		ReissueInterval: reissueInterval,
		Now:             time.Now,
	}
}

func cacheKey(token string) string {
	return "session:token:" + token
}

// Resolve returns the identity bound to a draw token, or
// ErrUnknownToken. Cache misses are filled on the way back.
func (d *Directory) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnknownToken
	}

	if v, err := d.local.Get(token); err == nil {
		return v.(string), nil
	}

	identity, err := d.RDB.Get(ctx, cacheKey(token)).Result()
	if err == nil {
		d.local.Set(token, identity)
		return identity, nil
	}
	if err != redis.Nil {
		// Shared cache down. Fall through to the durable store so
		// draws keep authenticating.
		zap.L().Warn("Session cache unreachable, falling back to database", zap.Error(err))
	}

	var s model.UserSession
	err = d.DB.Where("token = ?", token).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUnknownToken
		}

		return "", fmt.Errorf("failed to look up session, %w", err)
	}

	d.local.Set(token, s.Identity)
	if err := d.RDB.Set(ctx, cacheKey(token), s.Identity, sharedTTL).Err(); err != nil {
		zap.L().Warn("Failed to populate session cache", zap.Error(err))
	}

	return s.Identity, nil
}

// Exchange issues a fresh draw token for an identity, replacing any
// prior session. Re-issuance inside the configured interval is refused
// and retryAfter says how many whole seconds remain.
func (d *Directory) Exchange(ctx context.Context, identity string) (token string, retryAfter int, err error) {
	now := d.Now()

	var existing model.UserSession
	err = d.DB.Where("identity = ?", identity).First(&existing).Error
	switch {
	case err == nil:
		elapsed := now.UnixMilli() - existing.CreatedAt
		if wait := d.ReissueInterval.Milliseconds() - elapsed; wait > 0 {
			return "", int((wait + 999) / 1000), ErrReissueTooSoon
		}

		if err := d.DB.Delete(&model.UserSession{}, "identity = ?", identity).Error; err != nil {
			return "", 0, fmt.Errorf("failed to delete previous session, %w", err)
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		// First session for this identity
	default:
		return "", 0, fmt.Errorf("failed to check existing session, %w", err)
	}

	token, err = util.GenerateToken(32)
	if err != nil {
		return "", 0, fmt.Errorf("failed to generate draw token, %w", err)
	}

	err = d.DB.Create(&model.UserSession{
		Identity:  identity,
		Token:     token,
		CreatedAt: now.UnixMilli(),
	}).Error
	if err != nil {
		return "", 0, fmt.Errorf("failed to create session, %w", err)
	}

	return token, 0, nil
}
