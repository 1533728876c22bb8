// Package seed provisions demo data for local environments.
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/nexustrade/wallet/internal/identity"
	"github.com/nexustrade/wallet/internal/ledger"
	"github.com/nexustrade/wallet/internal/wallet"
)

const (
	GuestEmail    = "guest@nexustrade.com"
	GuestPassword = "guestPassword123"
	GuestName     = "Guest User"
)

var (
	lowBalance = decimal.NewFromInt(1000)
	guestTopUp = decimal.NewFromInt(100000)
)

// Guest makes sure the demo account exists and holds a usable balance.
// Running it repeatedly is safe.
func Guest(ctx context.Context, ids *identity.Service, wallets *wallet.Service, logger *slog.Logger) error {
	_, err := ids.Register(ctx, identity.Registration{
		Email:    GuestEmail,
		Password: GuestPassword,
		FullName: GuestName,
	})
	if err != nil && !errors.Is(err, ledger.ErrAlreadyExists) {
		return fmt.Errorf("register guest: %w", err)
	}

	userID, err := ids.ResolveEmail(ctx, GuestEmail)
	if err != nil {
		return fmt.Errorf("resolve guest: %w", err)
	}
	w, err := wallets.GetWallet(ctx, userID)
	if err != nil {
		return fmt.Errorf("load guest wallet: %w", err)
	}
	if w.Balance.GreaterThanOrEqual(lowBalance) {
		logger.Info("guest account ready", "user_id", userID, "balance", w.Balance.String())
		return nil
	}

	if w, err = wallets.Deposit(ctx, userID, guestTopUp); err != nil {
		return fmt.Errorf("top up guest wallet: %w", err)
	}
	logger.Info("guest wallet topped up", "user_id", userID, "balance", w.Balance.String())
	return nil
}
