package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerEntryType is the business reason for a ledger row.
type LedgerEntryType string

// MaxPaymentMethodLen matches the payment_method column width.
const MaxPaymentMethodLen = 50

const (
	LedgerEntryPurchase         LedgerEntryType = "purchase"
	LedgerEntryManualAdjustment LedgerEntryType = "manual_adjustment"

	LedgerStatusCompleted = "completed"
)

// LedgerEntry is an immutable record of a single coin movement. Webhook
// credits carry the processor event id in EventRef, which is unique.
type LedgerEntry struct {
	ID            uint            `gorm:"primaryKey" json:"-"`
	UUID          string          `gorm:"type:varchar(36);not null;uniqueIndex" json:"id" validate:"required,uuid4"`
	UserID        string          `gorm:"type:varchar(128);not null;index" json:"user_id" validate:"required,max=128"`
	EventRef      *string         `gorm:"type:varchar(191);uniqueIndex:ux_ledger_entries_event_ref" json:"event_ref,omitempty"`
	CoinAmount    int64           `gorm:"not null" json:"coins" validate:"ne=0"`
	CashAmount    decimal.Decimal `gorm:"type:decimal(14,2);not null;default:0" json:"amount"`
	Currency      string          `gorm:"type:varchar(3);not null;default:''" json:"currency,omitempty" validate:"omitempty,len=3"`
	Type          LedgerEntryType `gorm:"type:varchar(30);not null;index" json:"type" validate:"oneof=purchase manual_adjustment"`
	PaymentMethod string          `gorm:"type:varchar(50);not null;default:''" json:"payment_method" validate:"max=50"`
	Status        string          `gorm:"type:varchar(20);not null;default:'completed'" json:"status" validate:"required"`
	Description   string          `gorm:"type:varchar(255);not null;default:''" json:"description" validate:"max=255"`
	Timestamp     time.Time       `gorm:"not null;index" json:"timestamp"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

var ledgerValidator = validator.New()

// Validate checks the entry before it is appended.
func (e *LedgerEntry) Validate() error {
	if e.CashAmount.IsNegative() {
		return fmt.Errorf("cash amount must not be negative")
	}
	return ledgerValidator.Struct(e)
}

// NewPurchaseEntry builds the ledger row for a webhook credit.
func NewPurchaseEntry(userID, eventRef string, coins int64, cash decimal.Decimal, currency, paymentMethod string, at time.Time) *LedgerEntry {
	ref := strings.TrimSpace(eventRef)
	return &LedgerEntry{
		UUID:          uuid.NewString(),
		UserID:        userID,
		EventRef:      &ref,
		CoinAmount:    coins,
		CashAmount:    cash,
		Currency:      strings.ToUpper(currency),
		Type:          LedgerEntryPurchase,
		PaymentMethod: paymentMethod,
		Status:        LedgerStatusCompleted,
		Description:   fmt.Sprintf("Coin purchase - %d coins", coins),
		Timestamp:     at,
	}
}

// NewAdjustmentEntry builds the ledger row for a manual balance correction.
func NewAdjustmentEntry(userID string, coins int64, reason string, at time.Time) *LedgerEntry {
	return &LedgerEntry{
		UUID:          uuid.NewString(),
		UserID:        userID,
		CoinAmount:    coins,
		CashAmount:    decimal.Zero,
		Type:          LedgerEntryManualAdjustment,
		PaymentMethod: "manual",
		Status:        LedgerStatusCompleted,
		Description:   strings.TrimSpace(reason),
		Timestamp:     at,
	}
}
