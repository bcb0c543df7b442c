// Package bootstrap wires shared process dependencies for the service
// binaries: the store and the bus, with Redis preferred and an in-memory
// fallback for local development.
package bootstrap

import (
	"log/slog"

	"github.com/fullsend/fullsend/internal/bus"
	"github.com/fullsend/fullsend/internal/config"
	"github.com/fullsend/fullsend/internal/store"
)

// OpenStore connects to Redis per configuration, falling back to the
// in-memory store when Redis is unreachable.
func OpenStore(cfg *config.Config, logger *slog.Logger) store.Store {
	if cfg.StoreType != "redis" {
		logger.Info("using in-memory store")
		return store.NewMemoryStore()
	}

	redisCfg := store.DefaultRedisConfig()
	redisCfg.URL = cfg.RedisURL
	redisCfg.Password = cfg.RedisPassword
	redisCfg.DB = cfg.RedisDB
	redisCfg.TTL = cfg.RunTTL

	st, err := store.NewRedisStore(redisCfg, logger)
	if err != nil {
		logger.Error("failed to connect to Redis, falling back to memory store", "error", err)
		return store.NewMemoryStore()
	}
	logger.Info("using Redis store", slog.String("url", cfg.RedisURL))
	return st
}

// OpenBus connects to the Redis bus, falling back to the in-process bus
// when Redis is unreachable. The in-process bus only reaches subscribers
// in the same binary, so the fallback is for local development.
func OpenBus(cfg *config.Config, logger *slog.Logger) bus.Bus {
	redisCfg := bus.DefaultRedisConfig()
	redisCfg.URL = cfg.RedisURL
	redisCfg.Password = cfg.RedisPassword
	redisCfg.DB = cfg.RedisDB

	b, err := bus.NewRedisBus(redisCfg, logger)
	if err != nil {
		logger.Error("failed to connect to Redis bus, falling back to in-process bus", "error", err)
		return bus.NewMemoryBus()
	}
	logger.Info("using Redis bus", slog.String("url", cfg.RedisURL))
	return b
}
