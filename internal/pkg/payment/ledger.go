package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/CoinFox/app/models"
)

// BalanceStore holds per-user coin balances.
type BalanceStore interface {
	// IncrementBalance atomically adds delta and returns the new balance,
	// creating the row when the user has none yet. A negative delta that
	// would take the balance below zero fails with ErrInsufficientCoins.
	IncrementBalance(ctx context.Context, userID string, delta int64) (int64, error)
	GetBalance(ctx context.Context, userID string) (int64, error)
}

// LedgerStore is the append-only history of coin movements.
type LedgerStore interface {
	// AppendLedgerEntry is idempotent on EventRef. It reports false when an
	// entry for the same event already existed.
	AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	HasLedgerEntry(ctx context.Context, eventRef string) (bool, error)
	ListLedgerEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

// AtomicCreditStore writes a ledger entry and moves the balance by its
// CoinAmount in one transaction. When an entry with the same EventRef already
// exists it reports created=false and leaves the balance alone.
type AtomicCreditStore interface {
	ApplyLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (newBalance int64, created bool, err error)
}

// CreditRequest describes a purchase credit derived from a verified event.
type CreditRequest struct {
	EventRef      string
	UserID        string
	CoinAmount    int64
	CashAmount    decimal.Decimal
	Currency      string
	PaymentMethod string
	Status        Status
}

// CreditResult reports what ApplyCredit did. AlreadyCredited is set when
// the ledger already held an entry for the event and nothing moved.
type CreditResult struct {
	Applied         bool
	AlreadyCredited bool
	NewBalance      int64
	Entry           *models.LedgerEntry
}

// Updater moves coins and records the matching ledger entry.
type Updater struct {
	balances BalanceStore
	ledger   LedgerStore
	atomic   AtomicCreditStore
	now      func() time.Time
}

// NewUpdater uses a single transaction per credit when balances also
// implements AtomicCreditStore.
func NewUpdater(balances BalanceStore, ledger LedgerStore) *Updater {
	u := &Updater{balances: balances, ledger: ledger, now: time.Now}
	if atomic, ok := balances.(AtomicCreditStore); ok {
		u.atomic = atomic
	}
	return u
}

// ApplyCredit increments the balance and appends a purchase entry.
// Requests that are not paid, have no user or no coins are a no-op.
//
// With an AtomicCreditStore both writes commit together, so the ledger
// entry is proof of the increment. Otherwise they are separate writes: if
// the append fails after the increment a *PartialWriteError is returned and
// the caller must not increment again for the same event.
func (u *Updater) ApplyCredit(ctx context.Context, req CreditRequest) (*CreditResult, error) {
	if req.Status != StatusPaid || req.UserID == "" || req.CoinAmount <= 0 {
		return &CreditResult{Applied: false}, nil
	}

	entry, err := u.purchaseEntry(req)
	if err != nil {
		return nil, err
	}

	if u.atomic != nil {
		newBalance, created, err := u.atomic.ApplyLedgerEntry(ctx, entry)
		if err != nil {
			return nil, storeErr("apply credit", err)
		}
		if !created {
			log.Warnf("[Ledger] event %s already has a ledger entry, balance untouched", req.EventRef)
			return &CreditResult{AlreadyCredited: true, NewBalance: newBalance}, nil
		}
		log.Infof("[Ledger] credited %d coins to %s (balance=%d, event=%s)", req.CoinAmount, req.UserID, newBalance, req.EventRef)
		return &CreditResult{Applied: true, NewBalance: newBalance, Entry: entry}, nil
	}

	newBalance, err := u.balances.IncrementBalance(ctx, req.UserID, req.CoinAmount)
	if err != nil {
		return nil, storeErr("increment balance", err)
	}

	if _, err := u.ledger.AppendLedgerEntry(ctx, entry); err != nil {
		log.Errorf("[Ledger] ALARM partial write: user=%s event=%s coins=%d balance=%d: %v",
			req.UserID, req.EventRef, req.CoinAmount, newBalance, err)
		return &CreditResult{Applied: true, NewBalance: newBalance}, &PartialWriteError{
			UserID:     req.UserID,
			EventRef:   req.EventRef,
			NewBalance: newBalance,
			Err:        err,
		}
	}

	log.Infof("[Ledger] credited %d coins to %s (balance=%d, event=%s)", req.CoinAmount, req.UserID, newBalance, req.EventRef)
	return &CreditResult{Applied: true, NewBalance: newBalance, Entry: entry}, nil
}

// RetryLedgerAppend completes a partial write. The balance is not touched.
func (u *Updater) RetryLedgerAppend(ctx context.Context, req CreditRequest) (*models.LedgerEntry, error) {
	entry, err := u.purchaseEntry(req)
	if err != nil {
		return nil, err
	}
	created, err := u.ledger.AppendLedgerEntry(ctx, entry)
	if err != nil {
		return nil, storeErr("append ledger entry", err)
	}
	if created {
		log.Infof("[Ledger] recovered missing entry for event %s (user=%s coins=%d)", req.EventRef, req.UserID, req.CoinAmount)
	}
	return entry, nil
}

// ApplyAdjustment applies an operator correction. Debits that would make
// the balance negative are rejected.
func (u *Updater) ApplyAdjustment(ctx context.Context, userID string, delta int64, reason string) (*CreditResult, error) {
	entry := models.NewAdjustmentEntry(userID, delta, reason, u.now())
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid adjustment: %w", err)
	}

	if u.atomic != nil {
		newBalance, _, err := u.atomic.ApplyLedgerEntry(ctx, entry)
		if err != nil {
			if errors.Is(err, ErrInsufficientCoins) {
				return nil, err
			}
			return nil, storeErr("adjust balance", err)
		}
		log.Infof("[Ledger] adjusted %s by %d (balance=%d): %s", userID, delta, newBalance, reason)
		return &CreditResult{Applied: true, NewBalance: newBalance, Entry: entry}, nil
	}

	newBalance, err := u.balances.IncrementBalance(ctx, userID, delta)
	if err != nil {
		if errors.Is(err, ErrInsufficientCoins) {
			return nil, err
		}
		return nil, storeErr("adjust balance", err)
	}

	if _, err := u.ledger.AppendLedgerEntry(ctx, entry); err != nil {
		log.Errorf("[Ledger] ALARM partial write on adjustment: user=%s delta=%d balance=%d: %v", userID, delta, newBalance, err)
		return &CreditResult{Applied: true, NewBalance: newBalance}, &PartialWriteError{
			UserID:     userID,
			NewBalance: newBalance,
			Err:        err,
		}
	}

	log.Infof("[Ledger] adjusted %s by %d (balance=%d): %s", userID, delta, newBalance, reason)
	return &CreditResult{Applied: true, NewBalance: newBalance, Entry: entry}, nil
}

// HasCredit reports whether a ledger entry exists for the event.
func (u *Updater) HasCredit(ctx context.Context, eventRef string) (bool, error) {
	ok, err := u.ledger.HasLedgerEntry(ctx, eventRef)
	if err != nil {
		return false, storeErr("lookup ledger entry", err)
	}
	return ok, nil
}

func (u *Updater) Balance(ctx context.Context, userID string) (int64, error) {
	coins, err := u.balances.GetBalance(ctx, userID)
	if err != nil {
		return 0, storeErr("get balance", err)
	}
	return coins, nil
}

func (u *Updater) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	entries, err := u.ledger.ListLedgerEntries(ctx, userID, limit)
	if err != nil {
		return nil, storeErr("list ledger entries", err)
	}
	return entries, nil
}

func (u *Updater) purchaseEntry(req CreditRequest) (*models.LedgerEntry, error) {
	entry := models.NewPurchaseEntry(req.UserID, req.EventRef, req.CoinAmount, req.CashAmount, req.Currency, req.PaymentMethod, u.now())
	if err := entry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger entry: %w", err)
	}
	return entry, nil
}
