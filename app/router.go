// Package app wires dependencies and routes together
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bitwise74/canvas-api/app/canvas"
	"bitwise74/canvas-api/app/root"
	appsession "bitwise74/canvas-api/app/session"
	a "bitwise74/canvas-api/aws"
	"bitwise74/canvas-api/db"
	"bitwise74/canvas-api/internal"
	"bitwise74/canvas-api/internal/bus"
	"bitwise74/canvas-api/internal/gateway"
	"bitwise74/canvas-api/internal/ledger"
	"bitwise74/canvas-api/internal/service"
	"bitwise74/canvas-api/internal/session"
	"bitwise74/canvas-api/internal/snapshot"
	"bitwise74/canvas-api/internal/store"
	"bitwise74/canvas-api/pkg/middleware"

	cache "github.com/chenyahui/gin-cache"
	"github.com/chenyahui/gin-cache/persist"
	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var cacheStore = persist.NewMemoryStore(time.Minute)

func NewRouter() (*gin.Engine, error) {
	d := &internal.Deps{}

	gdb, err := db.New()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database, %w", err)
	}
	d.DB = gdb

	d.RDB = redis.NewClient(&redis.Options{
		Addr:     viper.GetString("redis.addr"),
		Password: viper.GetString("redis.password"),
		DB:       viper.GetInt("redis.db"),
	})

	if err := d.RDB.Ping(context.Background()).Err(); err != nil {
		// Not fatal: the ledger fails closed and the bus degrades to
		// local delivery until the store comes back
		zap.L().Warn("Coordination store unreachable at startup", zap.Error(err))
	}

	delayMS := viper.GetInt64("draw.delay_ms")

	d.Store = store.New(gdb)
	d.Builder = snapshot.NewBuilder(d.Store, delayMS)
	d.Ledger = ledger.New(d.RDB, viper.GetInt("draw.max_points"), delayMS)
	d.Sessions = session.NewDirectory(gdb, d.RDB,
		time.Duration(viper.GetInt64("session.reissue_interval_ms"))*time.Millisecond)

	d.Resolver, err = session.NewResolver()
	if err != nil {
		return nil, err
	}

	d.Writer = service.NewWriter(d.Store,
		viper.GetInt("writer.workers"),
		viper.GetInt("writer.queue_size"))
	d.Writer.StartWorkerPool()

	d.Hub = gateway.NewHub()
	d.Bus = bus.New(d.RDB, d.Hub)
	d.Presence = bus.NewPresence(d.RDB)

	go d.Bus.Run(context.Background())

	origins := strings.Split(viper.GetString("host.cors"), ",")

	d.Gateway = &gateway.Gateway{
		Hub:            d.Hub,
		Bus:            d.Bus,
		Presence:       d.Presence,
		Ledger:         d.Ledger,
		Sessions:       d.Sessions,
		Writer:         d.Writer,
		Width:          viper.GetInt("canvas.width"),
		Height:         viper.GetInt("canvas.height"),
		FailOpen:       viper.GetBool("ledger.fail_open"),
		AllowedOrigins: origins,
		Now:            time.Now,
	}

	if viper.GetBool("archive.enabled") {
		s3, err := a.NewS3()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client, %w", err)
		}

		service.Archive(time.Duration(viper.GetInt("archive.interval_min"))*time.Minute, s3, d.Builder)
	}

	router := gin.New()

	router.Use(
		cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
			ExposeHeaders:    []string{"Content-Length", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           12 * time.Hour,
		}),
		gin.Recovery(),
		middleware.NewRequestIDMiddleware(),
		ginzap.GinzapWithConfig(zap.L(), &ginzap.Config{
			TimeFormat: "15:04:05.000",
			UTC:        true,
			Skipper: func(c *gin.Context) bool {
				return c.Request.Method == "HEAD"
			},
			Context: func(c *gin.Context) []zapcore.Field {
				fields := []zapcore.Field{}

				if v := c.GetString("requestID"); v != "" {
					fields = append(fields, zap.String("request_id", v))
				}

				return fields
			},
		}),
	)

	router.HandleMethodNotAllowed = true

	rateLimit := viper.GetInt("security.rate_limit")
	rateLimiter := middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: rateLimit,
		Burst:             rateLimit * 2,
		CleanupInterval:   time.Second,
	})

	// GET /ws			-> Persistent draw connection, token via query param
	router.GET("/ws", d.Gateway.HandleWS)

	// GET /snapshot		-> Binary canvas state, ?since= for incremental
	router.GET("/snapshot", func(c *gin.Context) { canvas.Snapshot(c, d) })

	s := router.Group("/session", rateLimiter, middleware.BodySizeLimiter(1<<20))
	{
		// POST /session/exchange	-> Trades an identity token for a draw token
		s.POST("/exchange", func(c *gin.Context) { appsession.Exchange(c, d) })
	}

	m := router.Group("/api", rateLimiter)
	{
		// HEAD /api/heartbeat 		-> Used to check if the server is alive
		m.HEAD("/heartbeat", root.Heartbeat)

		// GET /api/canvas		-> JSON canvas state with palette
		m.GET("/canvas", cacheFor(5), func(c *gin.Context) { canvas.Place(c, d) })

		// GET /api/config		-> Runtime config for clients
		m.GET("/config", cacheFor(60), canvas.Config)

		// GET /api/status		-> Aggregate counters
		m.GET("/status", cacheFor(5), func(c *gin.Context) { canvas.Status(c, d) })
	}

	return router, nil
}

func cacheFor(sec int) gin.HandlerFunc {
	return cache.CacheByRequestURI(cacheStore, time.Second*time.Duration(sec))
}
