package middleware

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
	"github.com/ManuelReschke/tiergate/internal/pkg/ratelimit"
	"github.com/ManuelReschke/tiergate/internal/pkg/usercontext"
)

type TierResolver interface {
	ResolveTier(ctx context.Context, userID uint) (entitlements.Resolution, error)
}

type RateLimiter interface {
	Consume(ctx context.Context, key string, limit int, window time.Duration) ratelimit.Result
}

// TierGate guards a gated resource named by the :resource route param. It
// resolves the caller's tier, rejects tiers without the capability with 402
// and consumes the tier's rate limit budget, answering 429 when it is spent.
// The resolution and limiter result are left in Locals for the handler.
func TierGate(resolver TierResolver, limiter RateLimiter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		resource := entitlements.Resource(c.Params("resource"))
		if !entitlements.KnownResource(resource) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown_resource"})
		}

		user := usercontext.GetUserContext(c)
		res, err := resolver.ResolveTier(c.UserContext(), user.UserID)
		if err != nil {
			log.Errorf("[TierGate] resolving tier for user %d failed: %v", user.UserID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "tier_resolution_failed"})
		}
		c.Locals(usercontext.KeyResolution, res)

		limit, ok := entitlements.LimitFor(res.Tier, resource)
		if !ok {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":    "payment_required",
				"tier":     res.Tier,
				"resource": resource,
			})
		}

		result := limiter.Consume(c.UserContext(), ratelimit.Key(string(resource), user.Subject()), limit.Requests, limit.Window)
		c.Locals(usercontext.KeyRateLimit, result)
		setRateLimitHeaders(c, result)

		if !result.Allowed {
			retry := result.RetryAfter(time.Now())
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retrySeconds(retry)))
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "rate_limited",
				"tier":        res.Tier,
				"resource":    resource,
				"retry_after": retrySeconds(retry),
			})
		}
		return c.Next()
	}
}

func setRateLimitHeaders(c *fiber.Ctx, r ratelimit.Result) {
	c.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	c.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	if !r.ResetAt.IsZero() {
		c.Set("X-RateLimit-Reset", strconv.FormatInt(r.ResetAt.Unix(), 10))
	}
}

// retrySeconds rounds up so clients never retry early.
func retrySeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}
