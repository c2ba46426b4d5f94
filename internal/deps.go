package internal

import (
	"bitwise74/canvas-api/internal/bus"
	"bitwise74/canvas-api/internal/gateway"
	"bitwise74/canvas-api/internal/ledger"
	"bitwise74/canvas-api/internal/service"
	"bitwise74/canvas-api/internal/session"
	"bitwise74/canvas-api/internal/snapshot"
	"bitwise74/canvas-api/internal/store"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

type Deps struct {
	DB       *gorm.DB
	RDB      *redis.Client
	Store    *store.CanvasStore
	Builder  *snapshot.Builder
	Ledger   *ledger.Ledger
	Sessions *session.Directory
	Resolver session.IdentityResolver
	Writer   *service.Writer
	Hub      *gateway.Hub
	Bus      *bus.Bus
	Presence *bus.Presence
	Gateway  *gateway.Gateway
}
