package payment

import (
	"errors"
	"fmt"
)

// Verification errors. All of them except ErrMisconfigured are per-request
// failures and map to 401.
var (
	ErrMissingSignature   = errors.New("missing webhook signature")
	ErrMalformedSignature = errors.New("malformed webhook signature")
	ErrSignatureMismatch  = errors.New("webhook signature mismatch")
	ErrSignatureExpired   = errors.New("webhook signature timestamp outside tolerance")
	ErrMisconfigured      = errors.New("webhook secret is not configured")
)

// Normalization errors.
var (
	ErrInvalidPayload = errors.New("invalid webhook payload")
)

// Guard and update errors.
var (
	ErrStoreUnavailable  = errors.New("payment store unavailable")
	ErrPartialWrite      = errors.New("balance incremented but ledger append failed")
	ErrDuplicateEvent    = errors.New("payment event already processed")
	ErrEventInFlight     = errors.New("payment event is being processed by another delivery")
	ErrInsufficientCoins = errors.New("adjustment would make balance negative")
)

// PartialWriteError is returned by the updater when the balance increment
// committed but the ledger append did not. Retrying the whole credit would
// double-increment, so only the ledger append may be retried.
type PartialWriteError struct {
	UserID     string
	EventRef   string
	NewBalance int64
	Err        error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write for user %s (event %s, balance %d): %v", e.UserID, e.EventRef, e.NewBalance, e.Err)
}

func (e *PartialWriteError) Unwrap() []error {
	return []error{ErrPartialWrite, e.Err}
}

// IsVerificationError reports whether err is a per-request signature failure.
func IsVerificationError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrMalformedSignature) ||
		errors.Is(err, ErrSignatureMismatch) ||
		errors.Is(err, ErrSignatureExpired)
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
