package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
)

const webhookTimeout = 15 * time.Second

// WebhookController receives provider webhooks. Providers retry on any
// non-2xx answer, so only verification failures and storage errors are
// reported as such; everything else is acknowledged.
type WebhookController struct {
	processor *billing.Processor
}

func NewWebhookController(processor *billing.Processor) *WebhookController {
	return &WebhookController{processor: processor}
}

func (wc *WebhookController) HandleCardWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.BodyRaw()...)
	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	out, err := wc.processor.HandleCard(ctx, body, c.Get("Stripe-Signature"))
	return wc.respond(c, out, err)
}

func (wc *WebhookController) HandleIAPWebhook(c *fiber.Ctx) error {
	body := append([]byte(nil), c.BodyRaw()...)
	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	out, err := wc.processor.HandleIAP(ctx, body, c.Get(fiber.HeaderAuthorization), c.Query("token"))
	return wc.respond(c, out, err)
}

func (wc *WebhookController) respond(c *fiber.Ctx, out *billing.Outcome, err error) error {
	if errors.Is(err, billing.ErrVerification) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}
	if err != nil {
		log.Errorf("[Webhook] processing failed: %v", err)
		return internalError(c, "webhook_processing_failed")
	}

	resp := fiber.Map{"received": true}
	switch out.Status {
	case billing.OutcomeDuplicate:
		resp["duplicate"] = true
	case billing.OutcomeUnmappable:
		resp["ignored"] = true
	case billing.OutcomeAdvisory:
		resp["advisory"] = true
	}
	return c.Status(fiber.StatusOK).JSON(resp)
}
