package middleware

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CoinFox/internal/pkg/cache"
	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

// limiterPing checks the limiter database before redis.New, which panics
// when it cannot connect.
var limiterPing = func(ctx context.Context, opts *goredis.Options) error {
	client := goredis.NewClient(opts)
	defer client.Close()
	return client.Ping(ctx).Err()
}

// NewLimiterStorage shares rate limit counters between instances through
// Redis database 2 (cache uses 0). It returns nil, meaning in-memory
// counters, when Redis is unreachable at boot.
func NewLimiterStorage() fiber.Storage {
	opts := cache.Options()
	opts.DB = env.GetEnvInt("LIMITER_DB", 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := limiterPing(ctx, opts); err != nil {
		log.Warnf("[RateLimit] redis unavailable, using in-memory counters: %v", err)
		return nil
	}

	host := "localhost"
	port := 6379
	if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
		host = h
		if v, err := strconv.Atoi(p); err == nil {
			port = v
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: opts.Password,
		Database: opts.DB,
		Reset:    false,
	})
}

// RateLimit allows max requests per window and client IP. A nil storage
// keeps counters in memory.
func RateLimit(max int, window time.Duration, storage fiber.Storage) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		Storage:    storage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":   "too_many_requests",
				"message": "rate limit exceeded",
			})
		},
	})
}
