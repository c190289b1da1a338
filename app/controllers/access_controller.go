package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
	"github.com/ManuelReschke/tiergate/internal/pkg/middleware"
	"github.com/ManuelReschke/tiergate/internal/pkg/ratelimit"
	"github.com/ManuelReschke/tiergate/internal/pkg/usercontext"
)

// AccessController answers tier-gated requests. The gate itself lives in
// middleware.TierGate; handlers here report what it decided.
type AccessController struct {
	resolver middleware.TierResolver
}

func NewAccessController(resolver middleware.TierResolver) *AccessController {
	return &AccessController{resolver: resolver}
}

// HandleAccess runs behind TierGate and confirms an admitted request.
func (ac *AccessController) HandleAccess(c *fiber.Ctx) error {
	res, _ := c.Locals(usercontext.KeyResolution).(entitlements.Resolution)
	rl, _ := c.Locals(usercontext.KeyRateLimit).(ratelimit.Result)
	return c.JSON(fiber.Map{
		"allowed":   true,
		"resource":  c.Params("resource"),
		"tier":      res.Tier,
		"source":    res.Source,
		"decision":  rl.Decision,
		"remaining": rl.Remaining,
		"reset_at":  rl.ResetAt,
	})
}

type limitView struct {
	Requests int   `json:"requests"`
	WindowMs int64 `json:"window_ms"`
}

// HandleEntitlement reports the caller's tier and the budgets it grants.
func (ac *AccessController) HandleEntitlement(c *fiber.Ctx) error {
	user := usercontext.GetUserContext(c)
	res, err := ac.resolver.ResolveTier(c.UserContext(), user.UserID)
	if err != nil {
		log.Errorf("[Access] resolving tier for user %d failed: %v", user.UserID, err)
		return internalError(c, "tier_resolution_failed")
	}

	limits := fiber.Map{}
	for _, r := range entitlements.Resources() {
		if l, ok := entitlements.LimitFor(res.Tier, r); ok {
			limits[string(r)] = limitView{Requests: l.Requests, WindowMs: l.Window.Milliseconds()}
		}
	}
	return c.JSON(fiber.Map{
		"user_id": user.UserID,
		"tier":    res.Tier,
		"source":  res.Source,
		"limits":  limits,
	})
}
