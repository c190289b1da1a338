package middleware

import (
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/tiergate/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the caller identity for every request from
// the gateway-supplied X-User-ID header. A malformed id is rejected rather
// than silently treated as anonymous.
func UserContextMiddleware(c *fiber.Ctx) error {
	ctx := usercontext.UserContext{ClientIP: clientIP(c)}

	if raw := strings.TrimSpace(c.Get(usercontext.HeaderUserID)); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || id == 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error":   "bad_request",
				"message": "invalid " + usercontext.HeaderUserID + " header",
			})
		}
		ctx.UserID = uint(id)
	}

	c.Locals(usercontext.KeyUserContext, ctx)
	return c.Next()
}

// RequireUser rejects anonymous requests with a JSON 401.
func RequireUser(c *fiber.Ctx) error {
	if usercontext.GetUserContext(c).IsAnonymous() {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": usercontext.HeaderUserID + " header required",
		})
	}
	return c.Next()
}

// clientIP prefers the Cloudflare header, then the first X-Forwarded-For
// entry, then the socket address.
func clientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	return c.IP()
}
