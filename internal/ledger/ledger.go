package ledger

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument marks malformed input: bad amounts, missing fields.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrAlreadyExists is returned when a registration email is taken.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound is returned when a user or wallet is absent.
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds occurs when a withdrawal exceeds the balance at commit time.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrStorageFailure means the store could not complete an atomic write.
	// Nothing from the failed unit is visible.
	ErrStorageFailure = errors.New("storage failure")
)

var kinds = []error{ErrInvalidArgument, ErrAlreadyExists, ErrNotFound, ErrInsufficientFunds, ErrStorageFailure}

// KindOf returns the taxonomy sentinel err belongs to, or nil when it is unclassified.
func KindOf(err error) error {
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Classify leaves classified and context errors alone and wraps anything else
// as a storage failure.
func Classify(err error) error {
	if err == nil || KindOf(err) != nil {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

// Queries are the read paths of a Store.
type Queries interface {
	LoadWallet(ctx context.Context, userID string) (Wallet, error)
	LoadUser(ctx context.Context, id string) (User, error)
	LoadUserByEmail(ctx context.Context, email string) (User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ListTransactions(ctx context.Context, walletID string, q ListQuery) (TransactionPage, error)
}

// Tx is one atomic unit of work. Writes issued through a Tx become visible
// together when the surrounding WithTx returns nil, and not at all otherwise.
// LoadWallet inside a Tx locks the wallet row where the backend supports it.
type Tx interface {
	Queries
	SaveUser(ctx context.Context, user User) (User, error)
	SaveWallet(ctx context.Context, wallet Wallet) (Wallet, error)
	AppendTransaction(ctx context.Context, tx Transaction) (Transaction, error)
}

// Store is the durable backend behind the wallet engine and account provisioning.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}
