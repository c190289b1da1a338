package cache

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	fiberredis "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/tiergate/internal/pkg/config"
)

// NewClient returns a Redis client for the configured cache (Dragonfly or
// Redis). It does not connect; use Ping to check reachability.
func NewClient(cfg config.Cache) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// Ping checks the connection and logs the result. A failing cache is not
// fatal: the rate limiter fails open.
func Ping(ctx context.Context, client *redis.Client) error {
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		log.Warnf("[Cache] could not connect to %s: %v", client.Options().Addr, err)
		return err
	}
	log.Infof("[Cache] connected to %s: %s", client.Options().Addr, pong)
	return nil
}

// NewFiberStorage returns a fiber.Storage for fiber middleware (the webhook
// IP limiter). It uses the database after the main one so middleware keys
// never mix with sliding-window keys.
func NewFiberStorage(cfg config.Cache) fiber.Storage {
	return fiberredis.New(fiberredis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: cfg.DB + 1,
		Reset:    false,
	})
}
