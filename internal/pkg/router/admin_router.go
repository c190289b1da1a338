package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"

	"github.com/ManuelReschke/tiergate/app/controllers"
	"github.com/ManuelReschke/tiergate/internal/pkg/config"
)

type AdminRouter struct {
	deps Deps
}

func NewAdminRouter(deps Deps) *AdminRouter {
	return &AdminRouter{deps: deps}
}

func (h AdminRouter) InstallRouter(app *fiber.App) {
	ac := controllers.NewAdminController(h.deps.Reconciler, h.deps.Commission, h.deps.Repo)

	admin := app.Group("/admin", adminAuth(h.deps.Config))
	admin.Post("/subscriptions/manual", ac.HandleManualGrant)
	admin.Post("/subscriptions/manual/:user_id/revoke", ac.HandleManualRevoke)
	admin.Post("/affiliates", ac.HandleCreateAffiliate)
	admin.Post("/users/:user_id/rebalance", ac.HandleRebalance)
	admin.Post("/plan-mappings", ac.HandleUpsertPlanMapping)
}

// adminAuth guards operator routes. Without a configured password every
// request is refused.
func adminAuth(cfg *config.Config) fiber.Handler {
	if cfg == nil || cfg.AdminPassword == "" {
		return func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "admin_disabled"})
		}
	}
	return basicauth.New(basicauth.Config{
		Users: map[string]string{cfg.AdminUser: cfg.AdminPassword},
		Realm: "tiergate admin",
	})
}
