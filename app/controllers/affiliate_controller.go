package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/usercontext"
)

type AffiliateController struct {
	engine *commission.Engine
}

func NewAffiliateController(engine *commission.Engine) *AffiliateController {
	return &AffiliateController{engine: engine}
}

// HandleEarnings returns the commission summary of one affiliate.
func (ac *AffiliateController) HandleEarnings(c *fiber.Ctx) error {
	userID, ok := paramUserID(c, "user_id")
	if !ok {
		return badUserID(c)
	}
	earnings, err := ac.engine.Earnings(c.UserContext(), userID, c.Query("currency", "USD"))
	if errors.Is(err, commission.ErrAffiliateNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "affiliate_not_found"})
	}
	if err != nil {
		log.Errorf("[Affiliate] earnings for user %d failed: %v", userID, err)
		return internalError(c, "earnings_failed")
	}
	return c.JSON(earnings)
}

type claimReferralRequest struct {
	Code string `json:"code" validate:"required,min=4,max=32"`
}

// HandleClaimReferral attributes the calling user to the owner of a
// referral code. The first claim wins.
func (ac *AffiliateController) HandleClaimReferral(c *fiber.Ctx) error {
	var req claimReferralRequest
	if ok, err := bindJSON(c, &req); !ok {
		return err
	}

	userID := usercontext.GetUserID(c)
	ref, err := ac.engine.ClaimReferral(c.UserContext(), userID, req.Code)
	switch {
	case errors.Is(err, commission.ErrUnknownReferralCode):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_referral_code"})
	case errors.Is(err, commission.ErrSelfReferral):
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{"error": "self_referral"})
	case errors.Is(err, commission.ErrAlreadyReferred):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "already_referred"})
	case err != nil:
		log.Errorf("[Affiliate] referral claim by user %d failed: %v", userID, err)
		return internalError(c, "referral_failed")
	}
	return c.Status(fiber.StatusCreated).JSON(ref)
}
