package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nexustrade/wallet/internal/events"
	"github.com/nexustrade/wallet/internal/ledger"
)

const publishTimeout = 5 * time.Second

// Service is the wallet ledger engine. Mutations on one wallet are serialized
// through a per-wallet lock and committed as a balance write plus a
// transaction append in a single store unit.
type Service struct {
	store     ledger.Store
	locks     *walletLocks
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// Option customises a Service.
type Option func(*Service)

// WithPublisher sets where transaction_completed events go.
func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock overrides the time source used for transaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a wallet service instance.
func NewService(store ledger.Store, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		locks:  newWalletLocks(),
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.publisher == nil {
		s.publisher = events.NewLoggerPublisher(logger)
	}
	return s
}

// GetWallet returns the current snapshot of the user's wallet.
func (s *Service) GetWallet(ctx context.Context, userID string) (ledger.Wallet, error) {
	if strings.TrimSpace(userID) == "" {
		return ledger.Wallet{}, fmt.Errorf("%w: user id is required", ledger.ErrInvalidArgument)
	}
	w, err := s.store.LoadWallet(ctx, userID)
	if err != nil {
		return ledger.Wallet{}, ledger.Classify(err)
	}
	return w, nil
}

// Deposit credits amount to the user's wallet.
func (s *Service) Deposit(ctx context.Context, userID string, amount decimal.Decimal) (ledger.Wallet, error) {
	return s.apply(ctx, userID, ledger.KindDeposit, amount)
}

// Withdraw debits amount from the user's wallet. The balance check happens
// under the wallet lock, against the balance being replaced.
func (s *Service) Withdraw(ctx context.Context, userID string, amount decimal.Decimal) (ledger.Wallet, error) {
	return s.apply(ctx, userID, ledger.KindWithdraw, amount)
}

func (s *Service) apply(ctx context.Context, userID string, kind ledger.Kind, amount decimal.Decimal) (ledger.Wallet, error) {
	current, err := s.GetWallet(ctx, userID)
	if err != nil {
		return ledger.Wallet{}, err
	}
	if err := ledger.ValidateAmount(amount, current.Currency); err != nil {
		return ledger.Wallet{}, err
	}

	updated, record, err := s.commit(ctx, current, kind, amount)
	if err != nil {
		err = ledger.Classify(err)
		if errors.Is(err, ledger.ErrStorageFailure) {
			s.logger.Error("wallet mutation failed", "wallet_id", current.ID, "kind", kind, "amount", amount.String(), "error", err)
		}
		return ledger.Wallet{}, err
	}

	s.logger.Info("wallet mutation committed",
		"wallet_id", updated.ID,
		"transaction_id", record.ID,
		"kind", kind,
		"amount", amount.String(),
		"balance", updated.Balance.String(),
		"seq", record.Seq,
	)
	s.publish(ctx, updated, record)
	return updated, nil
}

// commit holds the wallet lock only for load, apply, save and append.
func (s *Service) commit(ctx context.Context, current ledger.Wallet, kind ledger.Kind, amount decimal.Decimal) (ledger.Wallet, ledger.Transaction, error) {
	release, err := s.locks.acquire(ctx, current.ID)
	if err != nil {
		return ledger.Wallet{}, ledger.Transaction{}, err
	}
	defer release()

	var (
		updated ledger.Wallet
		record  ledger.Transaction
	)
	err = s.store.WithTx(ctx, func(tx ledger.Tx) error {
		w, err := tx.LoadWallet(ctx, current.UserID)
		if err != nil {
			return err
		}
		next, err := w.Apply(kind, amount)
		if err != nil {
			return err
		}
		next.UpdatedAt = nextTimestamp(s.now(), w.UpdatedAt)

		if updated, err = tx.SaveWallet(ctx, next); err != nil {
			return err
		}
		record, err = tx.AppendTransaction(ctx, ledger.Transaction{
			ID:        uuid.NewString(),
			WalletID:  w.ID,
			Seq:       next.Version,
			Amount:    amount,
			Kind:      kind,
			Status:    ledger.StatusCompleted,
			CreatedAt: next.UpdatedAt,
		})
		return err
	})
	return updated, record, err
}

// publish is best effort: the mutation is already durable.
func (s *Service) publish(ctx context.Context, w ledger.Wallet, record ledger.Transaction) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	err := s.publisher.Publish(ctx, events.TransactionCompleted{
		TransactionID: record.ID,
		WalletID:      w.ID,
		UserID:        w.UserID,
		Kind:          string(record.Kind),
		Amount:        record.Amount,
		Balance:       w.Balance,
		Currency:      w.Currency,
		Seq:           record.Seq,
		OccurredAt:    record.CreatedAt,
	})
	if err != nil {
		s.logger.Warn("publish transaction event", "transaction_id", record.ID, "error", err)
	}
}

// ListTransactions returns a page of the user's committed history.
func (s *Service) ListTransactions(ctx context.Context, userID string, req PageRequest) (Page, error) {
	if req.Size == 0 {
		req.Size = defaultPageSize
	}
	if req.Order == "" {
		req.Order = ledger.OrderNewestFirst
	}
	switch {
	case req.Page < 0:
		return Page{}, fmt.Errorf("%w: page must not be negative", ledger.ErrInvalidArgument)
	case req.Size < 1 || req.Size > maxPageSize:
		return Page{}, fmt.Errorf("%w: size must be between 1 and %d", ledger.ErrInvalidArgument, maxPageSize)
	case req.Page > math.MaxInt32/req.Size:
		return Page{}, fmt.Errorf("%w: page is out of range", ledger.ErrInvalidArgument)
	case req.Order != ledger.OrderNewestFirst && req.Order != ledger.OrderOldestFirst:
		return Page{}, fmt.Errorf("%w: unknown order %q", ledger.ErrInvalidArgument, req.Order)
	case req.AsOf < 0:
		return Page{}, fmt.Errorf("%w: asOf must not be negative", ledger.ErrInvalidArgument)
	}

	w, err := s.GetWallet(ctx, userID)
	if err != nil {
		return Page{}, err
	}
	res, err := s.store.ListTransactions(ctx, w.ID, ledger.ListQuery{
		Offset: req.Page * req.Size,
		Limit:  req.Size,
		Order:  req.Order,
		AsOf:   req.AsOf,
	})
	if err != nil {
		return Page{}, ledger.Classify(err)
	}
	return Page{
		Items:      res.Items,
		Page:       req.Page,
		Size:       req.Size,
		Total:      res.Total,
		TotalPages: int((res.Total + int64(req.Size) - 1) / int64(req.Size)),
		AsOf:       res.AsOf,
		Currency:   w.Currency,
	}, nil
}

// nextTimestamp keeps transaction times strictly increasing per wallet at
// the microsecond resolution Postgres stores.
func nextTimestamp(now, last time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}
