package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nexustrade/wallet/internal/wallet"
)

// RegisterWalletRoutes wires the caller's wallet endpoints and the trusted
// internal endpoints keyed by email. idem may be nil when Redis is absent.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler, authn, internal, idem fiber.Handler) {
	wallets := r.Group("/wallets")

	me := wallets.Group("/me", authn)
	me.Get("", h.Me)
	me.Get("/transactions", h.Transactions)
	me.Post("/deposit", withIdempotency(idem, h.Deposit)...)
	me.Post("/withdraw", withIdempotency(idem, h.Withdraw)...)

	trusted := wallets.Group("/internal", internal)
	trusted.Post("/deposit", withIdempotency(idem, h.InternalDeposit)...)
	trusted.Post("/withdraw", withIdempotency(idem, h.InternalWithdraw)...)
}

func withIdempotency(idem fiber.Handler, h fiber.Handler) []fiber.Handler {
	if idem == nil {
		return []fiber.Handler{h}
	}
	return []fiber.Handler{idem, h}
}
