package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const ProviderPaymongo = "paymongo"

// ProcessedEventStatus tracks a reservation. It starts pending and ends
// completed. Partial means the balance moved but the ledger entry is
// still missing.
type ProcessedEventStatus string

const (
	ProcessedEventPending   ProcessedEventStatus = "pending"
	ProcessedEventCompleted ProcessedEventStatus = "completed"
	ProcessedEventPartial   ProcessedEventStatus = "partial"
)

// ProcessedEvent is the durable idempotency marker for a payment event.
// Once completed it is never modified again and is only removed by the
// retention purge.
type ProcessedEvent struct {
	ID              uint                 `gorm:"primaryKey" json:"id"`
	Provider        string               `gorm:"type:varchar(20);not null;default:'paymongo'" json:"provider"`
	EventID         string               `gorm:"type:varchar(191);not null;uniqueIndex:ux_processed_events_event_id" json:"event_id"`
	EventType       string               `gorm:"type:varchar(100);not null;default:''" json:"event_type"`
	UserID          string               `gorm:"type:varchar(128);not null;default:'';index" json:"user_id"`
	CoinAmount      int64                `gorm:"not null;default:0" json:"coin_amount"`
	CashAmount      decimal.Decimal      `gorm:"type:decimal(14,2);not null;default:0" json:"cash_amount"`
	Currency        string               `gorm:"type:varchar(3);not null;default:''" json:"currency"`
	PaymentMethod   string               `gorm:"type:varchar(50);not null;default:''" json:"payment_method"`
	Status          ProcessedEventStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	OwnerToken      string               `gorm:"type:varchar(64);not null;default:''" json:"-"`
	LeaseUntil      *time.Time           `gorm:"type:timestamp;default:null;index" json:"lease_until,omitempty"`
	ProcessedAt     *time.Time           `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string               `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time            `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }

// IsTerminal reports whether the marker suppresses further crediting.
func (e *ProcessedEvent) IsTerminal() bool {
	return e.Status == ProcessedEventCompleted || e.Status == ProcessedEventPartial
}

// LeaseExpired reports whether a pending reservation may be taken over.
func (e *ProcessedEvent) LeaseExpired(now time.Time) bool {
	if e.Status != ProcessedEventPending {
		return false
	}
	return e.LeaseUntil == nil || !now.Before(*e.LeaseUntil)
}
