// Package ratelimit picks the storage behind the HTTP rate limiter.
package ratelimit

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	memoryStorage "github.com/gofiber/storage/memory/v2"
	redisStorage "github.com/gofiber/storage/redis/v2"
	"github.com/redis/go-redis/v9"

	"dynshot/internal/config"
	"dynshot/internal/infra/logging"
)

const pingTimeout = 2 * time.Second

// NewStore returns Redis-backed storage when the configured host answers
// a ping and in-memory storage otherwise.
func NewStore(cfg config.RateLimiterConfig) fiber.Storage {
	if cfg.RedisHost == "" {
		logging.Info("Using in-memory storage for rate limiting")
		return memoryStorage.New()
	}
	if err := ping(cfg.RedisHost, cfg.RedisDB); err != nil {
		logging.Warn("Redis unreachable, using in-memory rate limiting", "addr", cfg.RedisHost, "error", err)
		return memoryStorage.New()
	}

	var store fiber.Storage = memoryStorage.New()
	func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Error("Redis limiter store init panicked, falling back to memory", "panic", r)
			}
		}()
		store = redisStorage.New(redisStorage.Config{
			Addrs:    []string{cfg.RedisHost},
			Database: cfg.RedisDB,
		})
		logging.Info("Using Redis for rate limiting", "addr", cfg.RedisHost, "db", cfg.RedisDB)
	}()
	return store
}

func ping(addr string, db int) error {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	defer rdb.Close()
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	return rdb.Ping(ctx).Err()
}
