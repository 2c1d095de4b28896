package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType classifies a processor event after normalization.
type EventType string

const (
	EventPaymentPaid   EventType = "payment_paid"
	EventPaymentFailed EventType = "payment_failed"
	EventOther         EventType = "other"
)

// Status is the payment status relevant for crediting.
type Status string

const (
	StatusPaid  Status = "paid"
	StatusOther Status = "other"
)

// InboundEvent is a webhook delivery exactly as received. RawBody is the
// signed byte sequence and must not be modified.
type InboundEvent struct {
	RawBody    []byte
	Signature  string
	ReceivedAt time.Time
}

// PaymentEvent is the provider-neutral record every payload shape is
// normalized into.
type PaymentEvent struct {
	EventID       string
	SyntheticID   bool
	EventType     EventType
	ProviderType  string
	UserID        string
	CoinAmount    int64
	CashAmount    decimal.Decimal
	Currency      string
	Status        Status
	RawStatus     string
	Channel       string
	ProcessorTime time.Time
	ReceivedAt    time.Time
}

// Creditable reports whether the event is allowed to move money: it must be
// paid, name a user and carry a positive coin amount.
func (e *PaymentEvent) Creditable() bool {
	return e.Status == StatusPaid && e.UserID != "" && e.CoinAmount > 0
}

// IgnoreReason explains why a non-creditable event was skipped.
func (e *PaymentEvent) IgnoreReason() string {
	switch {
	case e.Status != StatusPaid:
		return "status_not_paid"
	case e.UserID == "":
		return "missing_user"
	case e.CoinAmount <= 0:
		return "no_coins"
	default:
		return ""
	}
}
