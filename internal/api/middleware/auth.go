/**
 * @description
 * Authentication middleware for write endpoints (generation, sync).
 * Accepts either a Clerk JWT validated against the JWKS, or the shared job
 * secret in X-Sync-Secret used by cron callers.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: HTTP Context
 * - github.com/golang-jwt/jwt/v5: JWT parsing
 * - github.com/MicahParks/keyfunc/v2: JWKS fetching and caching
 *
 * @notes
 * - With neither JWKS nor secret configured, development and test
 *   environments pass requests through; other environments reject them.
 */

package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/racewise/backend/internal/config"
	"github.com/racewise/backend/internal/logger"
)

const (
	SecretHeader = "X-Sync-Secret"
	callerKey    = "caller"
	jobCaller    = "job"
)

type Auth struct {
	JWKS           *keyfunc.JWKS
	Keyfunc        jwt.Keyfunc
	Secret         string
	AllowAnonymous bool
}

// NewAuth initializes the JWKS cache. Should be called at startup.
func NewAuth(cfg *config.Config) (*Auth, error) {
	a := &Auth{Secret: cfg.Services.SyncJobSecret}

	if cfg.Services.ClerkJWKSURL == "" {
		logger.Info("⚠️ Warning: CLERK_JWKS_URL is empty. Only the job secret can authorize writes.")
	} else {
		// Refresh the JWKS every hour.
		jwks, err := keyfunc.Get(cfg.Services.ClerkJWKSURL, keyfunc.Options{
			RefreshInterval: time.Hour,
			RefreshErrorHandler: func(err error) {
				logger.Error("There was an error with the JWKS refresh: %v", err)
			},
		})
		if err != nil {
			return a, err
		}
		a.JWKS = jwks
		a.Keyfunc = jwks.Keyfunc
		logger.Info("✅ Auth Middleware Initialized with JWKS")
	}

	if a.Keyfunc == nil && a.Secret == "" {
		switch cfg.Server.Env {
		case "development", "test":
			logger.Warn("No auth configured; protected routes are open in %s", cfg.Server.Env)
			a.AllowAnonymous = true
		}
	}
	return a, nil
}

// Protected protects routes requiring authentication
func (a *Auth) Protected() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if a.Secret != "" {
			if got := c.Get(SecretHeader); got != "" {
				if subtle.ConstantTimeCompare([]byte(got), []byte(a.Secret)) != 1 {
					return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid job secret"})
				}
				c.Locals(callerKey, jobCaller)
				return c.Next()
			}
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			if a.AllowAnonymous {
				return c.Next()
			}
			if a.Keyfunc == nil && a.Secret == "" {
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error": "Auth configuration not initialized",
				})
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing authorization header"})
		}
		if a.Keyfunc == nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Token auth is not configured"})
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token format"})
		}

		token, err := jwt.Parse(tokenString, a.Keyfunc)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token: " + err.Error()})
		}
		if !token.Valid {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token"})
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token claims"})
		}
		sub, ok := claims["sub"].(string)
		if !ok || sub == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Token missing subject"})
		}

		c.Locals(callerKey, sub)
		return c.Next()
	}
}

// Caller returns the authenticated subject, or "job" for secret callers.
func Caller(c *fiber.Ctx) (string, error) {
	id, ok := c.Locals(callerKey).(string)
	if !ok {
		return "", errors.New("caller not found in context")
	}
	return id, nil
}
