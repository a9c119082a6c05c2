package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/example/bookstore/internal/utils"
)

const claimsContextKey = "currentClaims"

// AuthMiddleware validates the bearer token and stores its claims in context.
func AuthMiddleware(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token, ok := bearerToken(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization header")
		}

		claims, err := utils.ParseToken(secret, token)
		if err != nil {
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(claimsContextKey, claims)
		return c.Next()
	}
}

// OptionalAuth attaches claims when a valid token is present and lets guests through.
func OptionalAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if token, ok := bearerToken(c); ok {
			if claims, err := utils.ParseToken(secret, token); err == nil {
				c.Locals(claimsContextKey, claims)
			}
		}
		return c.Next()
	}
}

// RequireRole rejects requests whose claims lack role. Use after AuthMiddleware.
func RequireRole(role string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := CurrentClaims(c)
		if !ok {
			return fiber.NewError(fiber.StatusUnauthorized, "unauthorized")
		}
		if claims.Role != role {
			return fiber.NewError(fiber.StatusForbidden, "forbidden")
		}
		return c.Next()
	}
}

// CurrentClaims returns the authenticated claims, if any.
func CurrentClaims(c *fiber.Ctx) (utils.Claims, bool) {
	claims, ok := c.Locals(claimsContextKey).(utils.Claims)
	return claims, ok
}

// GetCurrentUserID extracts the authenticated user ID from context.
func GetCurrentUserID(c *fiber.Ctx) (uuid.UUID, bool) {
	claims, ok := CurrentClaims(c)
	if !ok {
		return uuid.Nil, false
	}
	return claims.UserID, true
}

func bearerToken(c *fiber.Ctx) (string, bool) {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return "", false
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}
