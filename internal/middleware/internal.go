package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gofiber/fiber/v2"
)

const internalTokenHeader = "X-Internal-Token"

// InternalAuth admits trusted service-to-service callers presenting the shared token.
func InternalAuth(token string) fiber.Handler {
	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		got := []byte(c.Get(internalTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			return fiber.NewError(http.StatusUnauthorized, "invalid internal token")
		}
		return c.Next()
	}
}
