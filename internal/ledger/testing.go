package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SeedAccount stores a user and its empty wallet in one unit. It is a fixture
// helper for tests that do not go through account provisioning.
func SeedAccount(ctx context.Context, s Store, email, currency string) (User, Wallet, error) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	user := User{
		ID:           uuid.NewString(),
		Email:        NormalizeEmail(email),
		PasswordHash: []byte("x"),
		FullName:     email,
		CreatedAt:    now,
	}
	wallet := Wallet{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Balance:   decimal.Zero,
		Currency:  currency,
		UpdatedAt: now,
	}
	err := s.WithTx(ctx, func(tx Tx) error {
		if _, err := tx.SaveUser(ctx, user); err != nil {
			return err
		}
		_, err := tx.SaveWallet(ctx, wallet)
		return err
	})
	if err != nil {
		return User{}, Wallet{}, err
	}
	return user, wallet, nil
}
