package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/tiergate/app/controllers"
	"github.com/ManuelReschke/tiergate/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Deps
}

func NewApiRouter(deps Deps) *ApiRouter {
	return &ApiRouter{deps: deps}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	access := controllers.NewAccessController(h.deps.Resolver)
	affiliates := controllers.NewAffiliateController(h.deps.Commission)

	v1 := app.Group("/api/v1", middleware.UserContextMiddleware)
	v1.Post("/access/:resource", middleware.TierGate(h.deps.Resolver, h.deps.Limiter), access.HandleAccess)
	v1.Get("/entitlement", access.HandleEntitlement)
	v1.Get("/affiliates/:user_id/earnings", affiliates.HandleEarnings)
	v1.Post("/referrals", middleware.RequireUser, affiliates.HandleClaimReferral)
}
