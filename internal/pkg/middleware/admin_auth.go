package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"golang.org/x/crypto/bcrypt"

	"github.com/ManuelReschke/CoinFox/internal/pkg/env"
)

// AdminCredentials is the single operator account guarding /admin and /metrics.
type AdminCredentials struct {
	User         string
	PasswordHash string
}

func AdminCredentialsFromEnv() AdminCredentials {
	return AdminCredentials{
		User:         strings.TrimSpace(env.GetEnv("ADMIN_USER", "admin")),
		PasswordHash: strings.TrimSpace(env.GetEnv("ADMIN_PASSWORD_HASH", "")),
	}
}

// Authorize compares the password against the stored bcrypt hash.
func (a AdminCredentials) Authorize(user, pass string) bool {
	if a.PasswordHash == "" || user != a.User {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(pass)) == nil
}

// RequireAdmin answers 401 with a basic-auth challenge unless the request
// carries the admin credentials. Without a configured hash every request is
// refused.
func RequireAdmin(creds AdminCredentials) fiber.Handler {
	if creds.PasswordHash == "" {
		log.Warn("[Admin] ADMIN_PASSWORD_HASH is empty, admin routes are locked")
	}
	return basicauth.New(basicauth.Config{
		Realm:      "CoinFox Admin",
		Authorizer: creds.Authorize,
		Unauthorized: func(c *fiber.Ctx) error {
			c.Set(fiber.HeaderWWWAuthenticate, `Basic realm="CoinFox Admin"`)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "admin credentials required",
			})
		},
	})
}
