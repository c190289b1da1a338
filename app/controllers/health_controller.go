package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/tiergate/internal/pkg/database"
)

// HealthController reports dependency reachability. The cache is optional:
// without it the limiter fails open, so it never makes the service unhealthy.
type HealthController struct {
	db    *gorm.DB
	cache *redis.Client
}

func NewHealthController(db *gorm.DB, cache *redis.Client) *HealthController {
	return &HealthController{db: db, cache: cache}
}

func (hc *HealthController) HandleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	status := fiber.StatusOK
	resp := fiber.Map{"status": "ok", "database": "ok", "cache": "disabled"}
	if err := database.Ping(ctx, hc.db); err != nil {
		status = fiber.StatusServiceUnavailable
		resp["status"] = "unavailable"
		resp["database"] = err.Error()
	}
	if hc.cache != nil {
		resp["cache"] = "ok"
		if err := hc.cache.Ping(ctx).Err(); err != nil {
			resp["cache"] = err.Error()
		}
	}
	return c.Status(status).JSON(resp)
}
