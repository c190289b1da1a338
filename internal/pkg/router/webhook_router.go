package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/tiergate/app/controllers"
)

// Providers deliver from a handful of addresses; this only stops floods.
const (
	webhookMaxPerIP      = 300
	webhookLimiterWindow = time.Minute
)

type WebhookRouter struct {
	deps Deps
}

func NewWebhookRouter(deps Deps) *WebhookRouter {
	return &WebhookRouter{deps: deps}
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	wc := controllers.NewWebhookController(h.deps.Processor)

	webhooks := app.Group("/webhooks", limiter.New(limiter.Config{
		Max:        webhookMaxPerIP,
		Expiration: webhookLimiterWindow,
		Storage:    h.deps.WebhookStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_requests"})
		},
	}))
	webhooks.Post("/card", wc.HandleCardWebhook)
	webhooks.Post("/iap", wc.HandleIAPWebhook)
}
