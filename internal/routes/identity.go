package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nexustrade/wallet/internal/identity"
)

// RegisterIdentityRoutes wires the profile endpoint.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler, authn fiber.Handler) {
	users := r.Group("/users", authn)
	users.Get("/me", h.Me)
}
