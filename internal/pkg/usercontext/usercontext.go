package usercontext

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// Locals keys shared by middleware and controllers.
const (
	KeyUserContext = "USER_CONTEXT"
	KeyResolution  = "RESOLUTION"
	KeyRateLimit   = "RATE_LIMIT"
)

// UserContext identifies the caller of a request. The upstream gateway has
// already authenticated users and forwards their id in HeaderUserID;
// requests without it are anonymous and limited per client IP.
type UserContext struct {
	UserID   uint   `json:"user_id"`
	ClientIP string `json:"client_ip"`
}

const HeaderUserID = "X-User-ID"

// IsAnonymous reports whether no user id was forwarded.
func (u UserContext) IsAnonymous() bool {
	return u.UserID == 0
}

// Subject is the rate limit subject: "user:<id>" or "ip:<addr>".
func (u UserContext) Subject() string {
	if u.UserID != 0 {
		return "user:" + strconv.FormatUint(uint64(u.UserID), 10)
	}
	return "ip:" + u.ClientIP
}

// GetUserContext retrieves the user context from fiber context.
// Returns an anonymous context if none is set.
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{ClientIP: c.IP()}
}

// GetUserID returns the caller's user id, or 0 for anonymous requests.
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
