package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/nexustrade/wallet/internal/ledger"
)

const problemTypeBase = "https://nexustrade.com/probs/"

type problem struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	Code      string `json:"code"`
	RequestID string `json:"requestId,omitempty"`
}

// ErrorHandler renders every error returned by a handler as a problem
// document. Internal failures are logged and reported generically.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status, code, detail := classify(err)
		requestID, _ := c.Locals(requestIDHeader).(string)
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Method(), "path", c.Path(), "request_id", requestID, "error", err)
		}
		return c.Status(status).JSON(problem{
			Type:      fmt.Sprintf("%s%d", problemTypeBase, status),
			Title:     http.StatusText(status),
			Status:    status,
			Detail:    detail,
			Instance:  c.Path(),
			Code:      code,
			RequestID: requestID,
		})
	}
}

func classify(err error) (int, string, string) {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code, statusCode(fe.Code), fe.Message
	case errors.Is(err, ledger.ErrInvalidArgument):
		return http.StatusBadRequest, "INVALID_ARGUMENT", err.Error()
	case errors.Is(err, ledger.ErrAlreadyExists):
		return http.StatusConflict, "ALREADY_EXISTS", err.Error()
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND", err.Error()
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", "Insufficient funds"
	case errors.Is(err, ledger.ErrStorageFailure):
		return http.StatusServiceUnavailable, "STORAGE_FAILURE", "The operation could not be completed, please retry"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusGatewayTimeout, "TIMEOUT", "The request did not complete in time"
	default:
		return http.StatusInternalServerError, "INTERNAL", "An unexpected error occurred"
	}
}

func statusCode(status int) string {
	text := http.StatusText(status)
	if text == "" {
		return fmt.Sprintf("HTTP_%d", status)
	}
	return strings.ToUpper(strings.ReplaceAll(text, " ", "_"))
}
