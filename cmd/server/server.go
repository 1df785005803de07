package main

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/lessonforge/server/internal/config"
	"codeberg.org/lessonforge/server/internal/kv"
	"codeberg.org/lessonforge/server/internal/logger"
	"codeberg.org/lessonforge/server/internal/quota"
	"codeberg.org/lessonforge/server/internal/sessions"
	ws "codeberg.org/lessonforge/server/internal/websocket"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

const (
	// idle per-client trackers are dropped after this long
	trackerIdleTTL = 30 * time.Minute

	// generated decks and blueprints are kept this long without access
	sessionTTL = 24 * time.Hour
)

// creates and configures a new server instance with all dependencies
func NewServer(cfg *config.Config) (*Server, error) {
	ctx := context.Background()

	store, redisClient, err := NewUsageStore(cfg)
	if err != nil {
		return nil, err
	}

	services, err := InitializeServices(ctx, cfg)
	if err != nil {
		closeRedis(redisClient)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	limits := quota.Limits{Generations: cfg.GenerationLimit, Images: cfg.ImageLimit}
	if err := limits.Validate(); err != nil {
		closeRedis(redisClient)
		return nil, err
	}

	ledger := quota.NewLedger(store, limits, trackerIdleTTL)

	logger.Info("usage store ready",
		"backend", backendName(redisClient),
		"generation_limit", limits.Generations,
		"image_limit", limits.Images,
	)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	server := &Server{
		config:     cfg,
		store:      store,
		redis:      redisClient,
		ledger:     ledger,
		sessionMgr: sessions.NewManager(sessionTTL),
		services:   services,
		hub:        ws.NewHub(),
		router:     router,
	}

	if err := RegisterRoutes(router, server); err != nil {
		closeRedis(redisClient)
		return nil, err
	}

	return server, nil
}

// usage records go to Redis when REDIS_URL is set, otherwise they stay in process
func NewUsageStore(cfg *config.Config) (kv.Store, *redis.Client, error) {
	if cfg.RedisURL == "" {
		logger.Warn("REDIS_URL not set, usage counts are kept in memory")
		return kv.NewMemoryStore(), nil, nil
	}

	store, err := kv.NewRedisStoreFromURL(cfg.RedisURL)
	if err != nil {
		return nil, nil, err
	}

	return store, store.Client(), nil
}

func backendName(client *redis.Client) string {
	if client == nil {
		return "memory"
	}
	return "redis"
}

func closeRedis(client *redis.Client) {
	if client != nil {
		client.Close() //nolint:errcheck,gosec // best-effort cleanup on init failure
	}
}
