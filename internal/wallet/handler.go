package wallet

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/nexustrade/wallet/internal/ledger"
	"github.com/nexustrade/wallet/internal/middleware"
)

// UserResolver maps a trusted caller's email to a user id.
type UserResolver interface {
	ResolveEmail(ctx context.Context, email string) (string, error)
}

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	service  *Service
	users    UserResolver
	validate *validator.Validate
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(service *Service, users UserResolver) *Handler {
	return &Handler{service: service, users: users, validate: validator.New()}
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type internalRequest struct {
	Email  string          `json:"email" validate:"required,email"`
	Amount decimal.Decimal `json:"amount"`
}

type walletResponse struct {
	ID        string    `json:"id"`
	Balance   string    `json:"balance"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type transactionResponse struct {
	ID        string    `json:"id"`
	WalletID  string    `json:"walletId"`
	Seq       int64     `json:"seq"`
	Amount    string    `json:"amount"`
	Type      string    `json:"type"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type pageResponse struct {
	Items      []transactionResponse `json:"items"`
	Page       int                   `json:"page"`
	Size       int                   `json:"size"`
	Total      int64                 `json:"total"`
	TotalPages int                   `json:"totalPages"`
	AsOf       int64                 `json:"asOf"`
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID,
		Balance:   ledger.Format(w.Balance, w.Currency),
		Currency:  w.Currency,
		UpdatedAt: w.UpdatedAt,
	}
}

// Me returns the caller's wallet.
func (h *Handler) Me(c *fiber.Ctx) error {
	w, err := h.service.GetWallet(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

// Deposit credits the caller's wallet.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.mutate(c, middleware.UserID(c), h.service.Deposit)
}

// Withdraw debits the caller's wallet.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.mutate(c, middleware.UserID(c), h.service.Withdraw)
}

// InternalDeposit credits the wallet of the user named by email.
func (h *Handler) InternalDeposit(c *fiber.Ctx) error {
	return h.mutateByEmail(c, h.service.Deposit)
}

// InternalWithdraw debits the wallet of the user named by email.
func (h *Handler) InternalWithdraw(c *fiber.Ctx) error {
	return h.mutateByEmail(c, h.service.Withdraw)
}

type mutation func(ctx context.Context, userID string, amount decimal.Decimal) (ledger.Wallet, error)

func (h *Handler) mutate(c *fiber.Ctx, userID string, op mutation) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	w, err := op(c.UserContext(), userID, req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

func (h *Handler) mutateByEmail(c *fiber.Ctx, op mutation) error {
	var req internalRequest
	if err := c.BodyParser(&req); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	if err := h.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ledger.ErrInvalidArgument, err)
	}
	userID, err := h.users.ResolveEmail(c.UserContext(), req.Email)
	if err != nil {
		return err
	}
	w, err := op(c.UserContext(), userID, req.Amount)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toWalletResponse(w))
}

// Transactions lists the caller's history, newest first unless order=asc.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	page, err := h.service.ListTransactions(c.UserContext(), middleware.UserID(c), PageRequest{
		Page:  c.QueryInt("page", 0),
		Size:  c.QueryInt("size", defaultPageSize),
		Order: ledger.Order(c.Query("order", string(ledger.OrderNewestFirst))),
		AsOf:  int64(c.QueryInt("asOf", 0)),
	})
	if err != nil {
		return err
	}

	resp := pageResponse{
		Items:      make([]transactionResponse, 0, len(page.Items)),
		Page:       page.Page,
		Size:       page.Size,
		Total:      page.Total,
		TotalPages: page.TotalPages,
		AsOf:       page.AsOf,
	}
	for _, tx := range page.Items {
		resp.Items = append(resp.Items, transactionResponse{
			ID:        tx.ID,
			WalletID:  tx.WalletID,
			Seq:       tx.Seq,
			Amount:    ledger.Format(tx.Amount, page.Currency),
			Type:      string(tx.Kind),
			Status:    string(tx.Status),
			CreatedAt: tx.CreatedAt,
		})
	}
	return c.Status(http.StatusOK).JSON(resp)
}
