package controllers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/app/models"
	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
)

// AdminController exposes operator overrides. Routes are behind basic auth.
type AdminController struct {
	reconciler *billing.Reconciler
	engine     *commission.Engine
	repo       billing.Repository
}

func NewAdminController(reconciler *billing.Reconciler, engine *commission.Engine, repo billing.Repository) *AdminController {
	return &AdminController{reconciler: reconciler, engine: engine, repo: repo}
}

type manualGrantRequest struct {
	UserID    uint       `json:"user_id" validate:"required"`
	Tier      string     `json:"tier" validate:"required,oneof=pro elite"`
	PeriodEnd *time.Time `json:"period_end"`
}

// HandleManualGrant records an operator-issued subscription for a user.
func (ac *AdminController) HandleManualGrant(c *fiber.Ctx) error {
	var req manualGrantRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}
	out, err := ac.reconciler.GrantManual(c.UserContext(), req.UserID, entitlements.Tier(req.Tier), req.PeriodEnd)
	if err != nil {
		log.Errorf("[Admin] manual grant for user %d failed: %v", req.UserID, err)
		return internalError(c, "grant_failed")
	}
	log.Infof("[Admin] granted %s to user %d", req.Tier, req.UserID)
	return c.Status(fiber.StatusCreated).JSON(out)
}

// HandleManualRevoke expires every manual grant of a user.
func (ac *AdminController) HandleManualRevoke(c *fiber.Ctx) error {
	userID, ok := paramUserID(c, "user_id")
	if !ok {
		return badUserID(c)
	}
	n, err := ac.reconciler.RevokeManual(c.UserContext(), userID)
	if err != nil {
		log.Errorf("[Admin] manual revoke for user %d failed: %v", userID, err)
		return internalError(c, "revoke_failed")
	}
	tier, _, err := ac.repo.ResolvedTier(c.UserContext(), userID)
	if err != nil {
		return internalError(c, "revoke_failed")
	}
	if tier == "" {
		tier = entitlements.TierFree
	}
	return c.JSON(fiber.Map{"revoked": n, "tier": tier})
}

type createAffiliateRequest struct {
	UserID         uint    `json:"user_id" validate:"required"`
	CommissionRate float64 `json:"commission_rate" validate:"gte=0,lte=100"`
}

// HandleCreateAffiliate enrolls a user as affiliate. Enrolling twice returns
// the existing affiliate with 200.
func (ac *AdminController) HandleCreateAffiliate(c *fiber.Ctx) error {
	var req createAffiliateRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}
	aff, created, err := ac.engine.CreateAffiliate(c.UserContext(), req.UserID, req.CommissionRate)
	if err != nil {
		log.Errorf("[Admin] creating affiliate for user %d failed: %v", req.UserID, err)
		return internalError(c, "affiliate_failed")
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(aff)
}

// HandleRebalance recomputes which subscription decides the user's tier.
func (ac *AdminController) HandleRebalance(c *fiber.Ctx) error {
	userID, ok := paramUserID(c, "user_id")
	if !ok {
		return badUserID(c)
	}
	tier, err := ac.reconciler.Rebalance(c.UserContext(), userID)
	if err != nil {
		log.Errorf("[Admin] rebalance for user %d failed: %v", userID, err)
		return internalError(c, "rebalance_failed")
	}
	return c.JSON(fiber.Map{"user_id": userID, "tier": tier})
}

// HandleUpsertPlanMapping persists a product reference to tier mapping.
// Mappings are merged into the tier tables on the next start.
func (ac *AdminController) HandleUpsertPlanMapping(c *fiber.Ctx) error {
	m := models.PlanMapping{IsActive: true}
	if ok, err := bindJSON(c, &m); !ok {
		return err
	}
	m.ID = 0
	if err := ac.repo.UpsertPlanMapping(c.UserContext(), &m); err != nil {
		log.Errorf("[Admin] saving plan mapping %s/%s failed: %v", m.Provider, m.ProviderPlanRef, err)
		return internalError(c, "plan_mapping_failed")
	}
	return c.JSON(fiber.Map{"mapping": m, "applies": "after restart"})
}
