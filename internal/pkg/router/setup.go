package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/config"
	"github.com/ManuelReschke/tiergate/internal/pkg/middleware"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Deps are the wired components routes hand to controllers.
type Deps struct {
	Config     *config.Config
	DB         *gorm.DB
	Cache      *redis.Client
	Repo       billing.Repository
	Processor  *billing.Processor
	Reconciler *billing.Reconciler
	Commission *commission.Engine
	Resolver   middleware.TierResolver
	Limiter    middleware.RateLimiter
	// WebhookStorage backs the webhook IP limiter; nil keeps counters in memory.
	WebhookStorage fiber.Storage
	// OpenAPI is the raw API document served by the docs UI; nil disables it.
	OpenAPI []byte
}

func InstallRouter(app *fiber.App, deps Deps) {
	setup(app,
		NewHttpRouter(deps),
		NewWebhookRouter(deps),
		NewApiRouter(deps),
		NewAdminRouter(deps),
	)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
