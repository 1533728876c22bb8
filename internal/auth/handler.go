package auth

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/nexustrade/wallet/internal/identity"
	"github.com/nexustrade/wallet/internal/ledger"
)

// Handler exposes the login endpoint.
type Handler struct {
	ids      *identity.Service
	tokens   *Service
	validate *validator.Validate
}

// NewHandler builds an auth handler.
func NewHandler(ids *identity.Service, tokens *Service) *Handler {
	return &Handler{ids: ids, tokens: tokens, validate: validator.New()}
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login validates credentials and returns a bearer token.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: email and password are required", ledger.ErrInvalidArgument)
	}
	user, err := h.ids.Authenticate(c.UserContext(), req.Email, req.Password)
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return fiber.NewError(http.StatusUnauthorized, "Invalid credentials")
	}
	if err != nil {
		return err
	}
	token, err := h.tokens.Issue(user)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(token)
}
