package middleware

import (
	"crypto/subtle"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/crosspost/configs"
	"github.com/sirupsen/logrus"
)

// AuthMiddleware guards the operator API with a shared bearer token. The
// acting user is taken from the X-User-ID header once the token checks out.
type AuthMiddleware struct {
	cfg config.Config
}

func NewAuthMiddleware(cfg config.Config) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg}
}

func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if m.cfg.OpsToken == "" || subtle.ConstantTimeCompare([]byte(token), []byte(m.cfg.OpsToken)) != 1 {
			logrus.WithField("path", c.Path()).Info("rejected request with bad token")
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or missing token",
			})
		}

		raw := c.Get("X-User-ID")
		if userID, err := strconv.ParseInt(raw, 10, 64); err != nil || userID <= 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "X-User-ID must be a positive user id",
			})
		}
		c.Locals("user_id", raw)
		return c.Next()
	}
}
