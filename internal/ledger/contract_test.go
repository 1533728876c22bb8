package ledger

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises behaviour every Store implementation must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("account round trip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		email := uniqueEmail("Round.Trip")

		user, wallet, err := SeedAccount(ctx, s, email, "USD")
		require.NoError(t, err)

		loaded, err := s.LoadWallet(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, wallet.ID, loaded.ID)
		assert.True(t, loaded.Balance.IsZero())
		assert.Equal(t, int64(0), loaded.Version)

		byEmail, err := s.LoadUserByEmail(ctx, email)
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)
		assert.Equal(t, NormalizeEmail(email), byEmail.Email)

		exists, err := s.ExistsByEmail(ctx, NormalizeEmail(email))
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("email uniqueness ignores case", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		email := uniqueEmail("dup")

		_, _, err := SeedAccount(ctx, s, email, "USD")
		require.NoError(t, err)

		_, _, err = SeedAccount(ctx, s, "  "+strings.ToUpper(email), "USD")
		require.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("missing rows are not found", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		_, err := s.LoadWallet(ctx, uuid.NewString())
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.LoadUser(ctx, uuid.NewString())
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.LoadUserByEmail(ctx, uniqueEmail("ghost"))
		require.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("failed unit leaves nothing behind", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, _, err := SeedAccount(ctx, s, uniqueEmail("rollback"), "USD")
		require.NoError(t, err)

		boom := errors.New("boom")
		err = s.WithTx(ctx, func(tx Tx) error {
			if _, err := applyDeposit(ctx, tx, user.ID, "25.00"); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		w, err := s.LoadWallet(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, w.Balance.IsZero())
		page, err := s.ListTransactions(ctx, w.ID, ListQuery{Limit: 10})
		require.NoError(t, err)
		assert.Empty(t, page.Items)
		assert.Equal(t, int64(0), page.Total)
	})

	t.Run("listing is ordered and pinned", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, wallet, err := SeedAccount(ctx, s, uniqueEmail("list"), "USD")
		require.NoError(t, err)

		for _, amt := range []string{"1.00", "2.00", "3.00"} {
			require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
				_, err := applyDeposit(ctx, tx, user.ID, amt)
				return err
			}))
		}

		first, err := s.ListTransactions(ctx, wallet.ID, ListQuery{Offset: 0, Limit: 1, Order: OrderNewestFirst})
		require.NoError(t, err)
		require.Len(t, first.Items, 1)
		assert.Equal(t, int64(3), first.Items[0].Seq)
		assert.Equal(t, int64(3), first.Total)
		assert.Equal(t, int64(3), first.AsOf)

		require.NoError(t, s.WithTx(ctx, func(tx Tx) error {
			_, err := applyDeposit(ctx, tx, user.ID, "4.00")
			return err
		}))

		second, err := s.ListTransactions(ctx, wallet.ID, ListQuery{Offset: 1, Limit: 1, Order: OrderNewestFirst, AsOf: first.AsOf})
		require.NoError(t, err)
		require.Len(t, second.Items, 1)
		assert.Equal(t, int64(2), second.Items[0].Seq)
		assert.Equal(t, int64(3), second.Total)

		oldest, err := s.ListTransactions(ctx, wallet.ID, ListQuery{Limit: 10, Order: OrderOldestFirst})
		require.NoError(t, err)
		require.Len(t, oldest.Items, 4)
		for i, tx := range oldest.Items {
			assert.Equal(t, int64(i+1), tx.Seq)
		}
	})

	t.Run("stale wallet version is rejected", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		user, wallet, err := SeedAccount(ctx, s, uniqueEmail("stale"), "USD")
		require.NoError(t, err)

		err = s.WithTx(ctx, func(tx Tx) error {
			stale := wallet
			stale.Balance = decimal.NewFromInt(5)
			stale.Version = 2
			_, err := tx.SaveWallet(ctx, stale)
			return err
		})
		require.ErrorIs(t, err, ErrStorageFailure)

		w, err := s.LoadWallet(ctx, user.ID)
		require.NoError(t, err)
		assert.True(t, w.Balance.IsZero())
	})
}

func applyDeposit(ctx context.Context, tx Tx, userID, amount string) (Wallet, error) {
	w, err := tx.LoadWallet(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	amt := decimal.RequireFromString(amount)
	next, err := w.Apply(KindDeposit, amt)
	if err != nil {
		return Wallet{}, err
	}
	next.UpdatedAt = w.UpdatedAt.Add(time.Millisecond)
	if next, err = tx.SaveWallet(ctx, next); err != nil {
		return Wallet{}, err
	}
	_, err = tx.AppendTransaction(ctx, Transaction{
		ID:        uuid.NewString(),
		WalletID:  w.ID,
		Seq:       next.Version,
		Amount:    amt,
		Kind:      KindDeposit,
		Status:    StatusCompleted,
		CreatedAt: next.UpdatedAt,
	})
	return next, err
}

func uniqueEmail(prefix string) string {
	return prefix + "+" + uuid.NewString()[:8] + "@example.com"
}
