package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ManuelReschke/CoinFox/app/models"
)

// ReserveState is the outcome of an attempt to reserve an event id.
type ReserveState int

const (
	// ReserveAcquired: this delivery owns the event and may credit it.
	ReserveAcquired ReserveState = iota
	// ReserveDuplicate: the event was already credited.
	ReserveDuplicate
	// ReservePartial: the balance moved but the ledger entry is missing.
	ReservePartial
	// ReserveInFlight: another delivery holds an unexpired lease.
	ReserveInFlight
)

func (s ReserveState) String() string {
	switch s {
	case ReserveAcquired:
		return "acquired"
	case ReserveDuplicate:
		return "duplicate"
	case ReservePartial:
		return "partial"
	case ReserveInFlight:
		return "in_flight"
	default:
		return "unknown"
	}
}

// Reservation identifies the marker a delivery is working on. Token proves
// ownership for Complete, MarkPartial and Release.
type Reservation struct {
	EventID string
	Token   string
	State   ReserveState
	Record  *models.ProcessedEvent
}

// ReservationStore is the durable conditional-create primitive behind the
// guard. Reserve must be a single atomic operation on the store.
type ReservationStore interface {
	Reserve(ctx context.Context, rec *models.ProcessedEvent, lease time.Duration, now time.Time) (*Reservation, error)
	// Complete finalizes the marker. It returns ErrDuplicateEvent when the
	// marker is already completed or owned by another delivery.
	Complete(ctx context.Context, eventID, token string, now time.Time) error
	MarkPartial(ctx context.Context, eventID, token, reason string, now time.Time) error
	Release(ctx context.Context, eventID, token string) error
	Lookup(ctx context.Context, eventID string) (*models.ProcessedEvent, error)
}

// StaleReservationLister is implemented by stores that can enumerate
// partial markers and pending markers whose lease has expired.
type StaleReservationLister interface {
	ListStaleReservations(ctx context.Context, now time.Time, limit int) ([]models.ProcessedEvent, error)
}

// Guard applies each event id at most once.
type Guard struct {
	store        ReservationStore
	lease        time.Duration
	inFlightWait time.Duration
	pollInterval time.Duration
	now          func() time.Time
}

// NewGuard creates a guard. A lease bounds how long a crashed delivery can
// block redelivery of the same event.
func NewGuard(store ReservationStore, lease, inFlightWait time.Duration) *Guard {
	if lease <= 0 {
		lease = DefaultLease
	}
	return &Guard{
		store:        store,
		lease:        lease,
		inFlightWait: inFlightWait,
		pollInterval: 100 * time.Millisecond,
		now:          time.Now,
	}
}

// ShouldProcess is a read-only pre-check. It does not reserve anything; the
// authoritative decision is made by Reserve.
func (g *Guard) ShouldProcess(ctx context.Context, eventID string) (bool, error) {
	rec, err := g.store.Lookup(ctx, eventID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return true, nil
	}
	return rec.LeaseExpired(g.now()), nil
}

// Reserve atomically claims ev for this delivery. While another delivery
// holds the lease it waits up to inFlightWait for that delivery to finish.
// paymentMethod is kept on the marker for ledger recovery.
func (g *Guard) Reserve(ctx context.Context, ev *PaymentEvent, paymentMethod string) (*Reservation, error) {
	deadline := g.now().Add(g.inFlightWait)
	for {
		rec := &models.ProcessedEvent{
			Provider:      models.ProviderPaymongo,
			EventID:       ev.EventID,
			EventType:     ev.ProviderType,
			UserID:        ev.UserID,
			CoinAmount:    ev.CoinAmount,
			CashAmount:    ev.CashAmount,
			Currency:      truncate(ev.Currency, 3),
			PaymentMethod: paymentMethod,
		}
		res, err := g.store.Reserve(ctx, rec, g.lease, g.now())
		if err != nil {
			return nil, err
		}
		if res.State != ReserveInFlight {
			return res, nil
		}
		if !g.now().Before(deadline) {
			return nil, fmt.Errorf("reserve %s: %w", ev.EventID, ErrEventInFlight)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(g.pollInterval):
		}
	}
}

// MarkProcessed commits the marker after a successful credit.
func (g *Guard) MarkProcessed(ctx context.Context, r *Reservation) error {
	return g.store.Complete(ctx, r.EventID, r.Token, g.now())
}

// MarkPartial records that the balance moved without a ledger entry. The
// marker then suppresses any further increment for this event.
func (g *Guard) MarkPartial(ctx context.Context, r *Reservation, cause error) error {
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	return g.store.MarkPartial(ctx, r.EventID, r.Token, reason, g.now())
}

// Release drops a pending reservation so a redelivery can try again.
func (g *Guard) Release(ctx context.Context, r *Reservation) error {
	err := g.store.Release(ctx, r.EventID, r.Token)
	if errors.Is(err, ErrDuplicateEvent) {
		return nil
	}
	return err
}
