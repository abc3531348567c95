package api

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/rootedhq/rooted/backend/internal/httpserver/httputil"
)

// Identity is established upstream by the auth gateway, which forwards the
// verified subject on these headers. The backend trusts them as-is.
const (
	headerUserID    = "X-User-ID"
	headerUserEmail = "X-User-Email"
)

type identityContextKey string

const (
	ctxIdentityKey = identityContextKey("rooted/identity")
)

type identity struct {
	UserID uuid.UUID
	Email  string
}

func identityMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		rawID := strings.TrimSpace(c.Get(headerUserID))
		if rawID == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
		}
		userID, err := uuid.Parse(rawID)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid user id")
		}
		email := strings.TrimSpace(c.Get(headerUserEmail))
		if email == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "user email required")
		}

		attachIdentity(c, identity{UserID: userID, Email: email})
		return c.Next()
	}
}

func attachIdentity(c *fiber.Ctx, ident identity) {
	ctx := context.WithValue(userContext(c), ctxIdentityKey, ident)
	c.SetUserContext(ctx)
	c.Locals("userID", ident.UserID.String())
}

func identityFromContext(ctx context.Context) (identity, bool) {
	if ctx == nil {
		return identity{}, false
	}
	val := ctx.Value(ctxIdentityKey)
	if val == nil {
		return identity{}, false
	}
	ident, ok := val.(identity)
	return ident, ok
}

func userContext(c *fiber.Ctx) context.Context {
	if c == nil {
		return context.Background()
	}
	if uc := c.UserContext(); uc != nil {
		return uc
	}
	return context.Background()
}
