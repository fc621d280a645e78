package public

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/sophnet_gateway/internal/app"
	"github.com/ncecere/sophnet_gateway/internal/config"
	"github.com/ncecere/sophnet_gateway/internal/httpserver/httputil"
	"github.com/ncecere/sophnet_gateway/internal/requestctx"
)

const authBearerPrefix = "bearer "

// apiKeyAuth validates the Authorization bearer token and injects request
// metadata. With no keys configured every caller is admitted anonymously.
func apiKeyAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var key *config.APIKeyConfig
		if container.Keys.Enabled() {
			raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
			if raw == "" {
				return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization header required")
			}
			if !strings.HasPrefix(strings.ToLower(raw), authBearerPrefix) {
				return httputil.WriteError(c, fiber.StatusUnauthorized, "bearer token required")
			}

			record, err := container.Keys.Authenticate(raw[len(authBearerPrefix):])
			if err != nil {
				return httputil.WriteError(c, fiber.StatusUnauthorized, err.Error())
			}
			key = &record
		}

		rc := container.BuildRequestContext(key)
		c.Locals(requestctx.FiberLocalsKey(), rc)
		c.SetUserContext(requestctx.WithContext(userContext(c), rc))

		return c.Next()
	}
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
