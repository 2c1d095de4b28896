package events

import (
	"context"
	"time"
)

// Event topic constants
const (
	TopicPurchaseCredited = "coins.purchase.credited"
	TopicBalanceAdjusted  = "coins.balance.adjusted"
	TopicBalanceDrift     = "coins.balance.drift"
)

// Publisher sends domain events to subscribers. Publishing is best effort:
// balances and ledger rows are the source of truth.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// PurchaseCredited is published after a webhook credit commits.
type PurchaseCredited struct {
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	Coins         int64     `json:"coins"`
	Amount        string    `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	PaymentMethod string    `json:"payment_method"`
	NewBalance    int64     `json:"new_balance"`
	CreditedAt    time.Time `json:"credited_at"`
}

// BalanceAdjusted is published after an operator adjustment.
type BalanceAdjusted struct {
	UserID     string    `json:"user_id"`
	Delta      int64     `json:"delta"`
	Reason     string    `json:"reason"`
	NewBalance int64     `json:"new_balance"`
	AdjustedAt time.Time `json:"adjusted_at"`
}

// BalanceDrift is published by the reconciler for every mismatch it finds.
type BalanceDrift struct {
	UserID      string    `json:"user_id"`
	Balance     int64     `json:"balance"`
	LedgerTotal int64     `json:"ledger_total"`
	DetectedAt  time.Time `json:"detected_at"`
}
