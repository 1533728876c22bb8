package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// TypeTransactionCompleted is emitted once per committed deposit or withdrawal.
const TypeTransactionCompleted = "transaction_completed"

// TransactionCompleted describes a committed balance movement.
type TransactionCompleted struct {
	TransactionID string          `json:"transactionId"`
	WalletID      string          `json:"walletId"`
	UserID        string          `json:"userId"`
	Kind          string          `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	Balance       decimal.Decimal `json:"balance"`
	Currency      string          `json:"currency"`
	Seq           int64           `json:"seq"`
	OccurredAt    time.Time       `json:"occurredAt"`
}

// Publisher delivers events to downstream systems.
type Publisher interface {
	Publish(ctx context.Context, event TransactionCompleted) error
}

// LoggerPublisher writes events to the structured logger. It is the default
// when no broker is configured.
type LoggerPublisher struct {
	logger *slog.Logger
}

// NewLoggerPublisher constructs a logging publisher.
func NewLoggerPublisher(logger *slog.Logger) *LoggerPublisher {
	return &LoggerPublisher{logger: logger}
}

// Publish logs the event.
func (p *LoggerPublisher) Publish(_ context.Context, event TransactionCompleted) error {
	if p == nil || p.logger == nil {
		return nil
	}
	p.logger.Info("event",
		"type", TypeTransactionCompleted,
		"transaction_id", event.TransactionID,
		"wallet_id", event.WalletID,
		"kind", event.Kind,
		"amount", event.Amount.String(),
		"balance", event.Balance.String(),
	)
	return nil
}
