package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the direction of a balance movement.
type Kind string

const (
	KindDeposit  Kind = "DEPOSIT"
	KindWithdraw Kind = "WITHDRAW"
)

// Status of a recorded transaction. Only completed movements are ever persisted.
type Status string

const StatusCompleted Status = "COMPLETED"

// Order controls the creation-time ordering of a transaction listing.
type Order string

const (
	OrderNewestFirst Order = "desc"
	OrderOldestFirst Order = "asc"
)

// User is the identity anchor a wallet hangs off. Email is stored normalized.
type User struct {
	ID           string
	Email        string
	PasswordHash []byte
	FullName     string
	CreatedAt    time.Time
}

// Wallet is the per-user balance record. Version counts committed transactions
// and doubles as the sequence number of the latest one.
type Wallet struct {
	ID        string
	UserID    string
	Balance   decimal.Decimal
	Currency  string
	Version   int64
	UpdatedAt time.Time
}

// Transaction is an immutable record of one completed movement.
type Transaction struct {
	ID        string
	WalletID  string
	Seq       int64
	Amount    decimal.Decimal
	Kind      Kind
	Status    Status
	CreatedAt time.Time
}

// Signed returns the amount with the sign implied by the kind.
func (t Transaction) Signed() decimal.Decimal {
	if t.Kind == KindWithdraw {
		return t.Amount.Neg()
	}
	return t.Amount
}

// Apply returns the wallet as it would be after moving amount in the given
// direction. The receiver is left untouched.
func (w Wallet) Apply(kind Kind, amount decimal.Decimal) (Wallet, error) {
	next := w
	switch kind {
	case KindDeposit:
		next.Balance = w.Balance.Add(amount)
		if next.Balance.GreaterThanOrEqual(MaxBalance) {
			return Wallet{}, fmt.Errorf("%w: balance would reach the %s limit", ErrInvalidArgument, MaxBalance.String())
		}
	case KindWithdraw:
		if w.Balance.LessThan(amount) {
			return Wallet{}, fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientFunds, w.Balance.String(), amount.String())
		}
		next.Balance = w.Balance.Sub(amount)
	default:
		return Wallet{}, fmt.Errorf("%w: unknown transaction kind %q", ErrInvalidArgument, kind)
	}
	next.Version = w.Version + 1
	return next, nil
}

// ListQuery selects a window of a wallet's history. AsOf pins the listing to
// transactions with Seq <= AsOf; zero means the latest committed state.
type ListQuery struct {
	Offset int
	Limit  int
	Order  Order
	AsOf   int64
}

// TransactionPage is one window of history plus the snapshot it was cut from.
type TransactionPage struct {
	Items []Transaction
	Total int64
	AsOf  int64
}
