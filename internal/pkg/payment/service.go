package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ManuelReschke/CoinFox/app/models"
	"github.com/ManuelReschke/CoinFox/internal/pkg/events"
	"github.com/ManuelReschke/CoinFox/internal/pkg/metrics"
)

// Outcome is the business result of a delivery that was accepted.
type Outcome string

const (
	OutcomeCredited  Outcome = "credited"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
	// OutcomeRecovered means an earlier partial write was completed by
	// appending the missing ledger entry. No coins moved this time.
	OutcomeRecovered Outcome = "recovered"
)

// Result describes an accepted delivery.
type Result struct {
	Outcome    Outcome
	EventID    string
	UserID     string
	Coins      int64
	NewBalance int64
	Reason     string
}

// Service turns verified webhook deliveries into balance credits.
type Service struct {
	cfg          *Config
	repo         Repository
	reservations ReservationStore
	guard        *Guard
	updater      *Updater
	publisher    events.Publisher
	now          func() time.Time
}

// NewService wires a service from its collaborators. reservations may be a
// different store than repo (e.g. Redis) but balances and ledger always
// live in repo.
func NewService(cfg *Config, repo Repository, reservations ReservationStore, publisher events.Publisher) *Service {
	if reservations == nil {
		reservations = repo
	}
	if publisher == nil {
		publisher = &events.NoopPublisher{}
	}
	return &Service{
		cfg:          cfg,
		repo:         repo,
		reservations: reservations,
		guard:        NewGuard(reservations, cfg.Lease, cfg.InFlightWait),
		updater:      NewUpdater(repo, repo),
		publisher:    publisher,
		now:          time.Now,
	}
}

// NewServiceFromDB creates a payment service from a GORM handle. The Redis
// client is only used when IDEMPOTENCY_BACKEND=redis.
func NewServiceFromDB(cfg *Config, db *gorm.DB, rdb *redis.Client, publisher events.Publisher) *Service {
	repo := NewRepository(db)
	var reservations ReservationStore = repo
	if cfg.Backend == BackendRedis && rdb != nil {
		reservations = NewRedisReservationStore(rdb, cfg.Retention)
	}
	return NewService(cfg, repo, reservations, publisher)
}

// Config returns the settings the service was built with.
func (s *Service) Config() *Config { return s.cfg }

// HandleWebhook verifies, normalizes and applies one delivery. It returns a
// Result for every accepted delivery, including duplicates and ignored
// events. Errors are verification failures, invalid payloads or storage
// problems; the caller maps them to HTTP statuses.
func (s *Service) HandleWebhook(ctx context.Context, in InboundEvent) (*Result, error) {
	if in.ReceivedAt.IsZero() {
		in.ReceivedAt = s.now()
	}

	if err := VerifyWebhookSignature(in.RawBody, in.Signature, s.cfg.WebhookSecret, s.cfg.MaxClockSkew, s.now()); err != nil {
		return nil, err
	}

	ev, err := NormalizePayload(in.RawBody, in.ReceivedAt)
	if err != nil {
		return nil, err
	}

	if !ev.Creditable() {
		reason := ev.IgnoreReason()
		log.Infof("[Payment] ignoring event %s (%s, type=%s)", ev.EventID, reason, ev.ProviderType)
		return &Result{Outcome: OutcomeIgnored, EventID: ev.EventID, UserID: ev.UserID, Reason: reason}, nil
	}

	return s.apply(ctx, ev)
}

func (s *Service) apply(ctx context.Context, ev *PaymentEvent) (*Result, error) {
	res, err := s.guard.Reserve(ctx, ev, s.paymentMethod(ev))
	if err != nil {
		return nil, err
	}

	switch res.State {
	case ReserveDuplicate:
		log.Infof("[Payment] duplicate event %s for user %s", ev.EventID, ev.UserID)
		return &Result{Outcome: OutcomeDuplicate, EventID: ev.EventID, UserID: ev.UserID}, nil
	case ReservePartial:
		return s.recoverPartial(ctx, ev, res)
	}

	// A crash or a lost commit acknowledgement after the credit leaves a
	// pending marker with a committed ledger entry behind it.
	credited, err := s.updater.HasCredit(ctx, ev.EventID)
	if err != nil {
		s.release(ctx, res)
		return nil, err
	}
	if credited {
		if err := s.guard.MarkProcessed(ctx, res); err != nil && !errors.Is(err, ErrDuplicateEvent) {
			log.Warnf("[Payment] could not complete marker for already credited event %s: %v", ev.EventID, err)
		}
		return &Result{Outcome: OutcomeDuplicate, EventID: ev.EventID, UserID: ev.UserID}, nil
	}

	credit, err := s.updater.ApplyCredit(ctx, s.creditRequest(ev))
	if err != nil {
		var pw *PartialWriteError
		if errors.As(err, &pw) {
			metrics.PartialWrites.Inc()
			if markErr := s.guard.MarkPartial(context.WithoutCancel(ctx), res, err); markErr != nil {
				log.Errorf("[Payment] ALARM could not mark event %s partial: %v", ev.EventID, markErr)
			}
			return nil, err
		}
		s.release(ctx, res)
		return nil, err
	}
	if credit.AlreadyCredited {
		if err := s.guard.MarkProcessed(context.WithoutCancel(ctx), res); err != nil && !errors.Is(err, ErrDuplicateEvent) {
			log.Warnf("[Payment] could not complete marker for already credited event %s: %v", ev.EventID, err)
		}
		return &Result{Outcome: OutcomeDuplicate, EventID: ev.EventID, UserID: ev.UserID}, nil
	}
	if !credit.Applied {
		s.release(ctx, res)
		return &Result{Outcome: OutcomeIgnored, EventID: ev.EventID, UserID: ev.UserID, Reason: ev.IgnoreReason()}, nil
	}

	// The ledger entry is durable proof of the credit, so a failed marker
	// update is logged but does not fail the delivery.
	if err := s.guard.MarkProcessed(context.WithoutCancel(ctx), res); err != nil {
		log.Errorf("[Payment] credited event %s but could not complete marker: %v", ev.EventID, err)
	}

	metrics.CoinsCredited.Add(float64(ev.CoinAmount))
	s.publish(ctx, events.TopicPurchaseCredited, events.PurchaseCredited{
		EventID:       ev.EventID,
		UserID:        ev.UserID,
		Coins:         ev.CoinAmount,
		Amount:        ev.CashAmount.StringFixed(2),
		Currency:      ev.Currency,
		PaymentMethod: s.paymentMethod(ev),
		NewBalance:    credit.NewBalance,
		CreditedAt:    s.now().UTC(),
	})

	return &Result{
		Outcome:    OutcomeCredited,
		EventID:    ev.EventID,
		UserID:     ev.UserID,
		Coins:      ev.CoinAmount,
		NewBalance: credit.NewBalance,
	}, nil
}

// recoverPartial appends the ledger entry an earlier delivery failed to
// write, then completes the marker. The balance is never touched again.
func (s *Service) recoverPartial(ctx context.Context, ev *PaymentEvent, res *Reservation) (*Result, error) {
	req := s.creditRequest(ev)
	if res.Record != nil && res.Record.UserID != "" {
		req.UserID = res.Record.UserID
		req.CoinAmount = res.Record.CoinAmount
		req.CashAmount = res.Record.CashAmount
	}
	if res.Record != nil && res.Record.Currency != "" {
		req.Currency = res.Record.Currency
	}
	if res.Record != nil && res.Record.PaymentMethod != "" {
		req.PaymentMethod = res.Record.PaymentMethod
	}
	if _, err := s.updater.RetryLedgerAppend(ctx, req); err != nil {
		return nil, err
	}
	if err := s.guard.MarkProcessed(context.WithoutCancel(ctx), res); err != nil && !errors.Is(err, ErrDuplicateEvent) {
		log.Errorf("[Payment] recovered ledger for %s but could not complete marker: %v", ev.EventID, err)
	}
	log.Infof("[Payment] recovered partial write for event %s", ev.EventID)
	return &Result{Outcome: OutcomeRecovered, EventID: ev.EventID, UserID: req.UserID}, nil
}

// Adjust applies a manual correction to a user's balance.
func (s *Service) Adjust(ctx context.Context, userID string, delta int64, reason string) (*CreditResult, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	if delta == 0 {
		return nil, errors.New("coins must not be zero")
	}
	if reason == "" {
		return nil, errors.New("reason is required")
	}

	res, err := s.updater.ApplyAdjustment(ctx, userID, delta, reason)
	if err != nil {
		return res, err
	}
	s.publish(ctx, events.TopicBalanceAdjusted, events.BalanceAdjusted{
		UserID:     userID,
		Delta:      delta,
		Reason:     reason,
		NewBalance: res.NewBalance,
		AdjustedAt: s.now().UTC(),
	})
	return res, nil
}

func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.updater.Balance(ctx, userID)
}

func (s *Service) History(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return s.updater.History(ctx, userID, limit)
}

// EventStats counts idempotency markers by status.
func (s *Service) EventStats(ctx context.Context) (map[models.ProcessedEventStatus]int64, error) {
	stats, err := s.repo.CountProcessedEvents(ctx)
	if err != nil {
		return nil, storeErr("count processed events", err)
	}
	return stats, nil
}

// PurgeProcessedEvents removes completed markers older than olderThan, but
// never inside the retention window.
func (s *Service) PurgeProcessedEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan < s.cfg.Retention {
		olderThan = s.cfg.Retention
	}
	cutoff := s.now().Add(-olderThan)
	n, err := s.repo.PurgeProcessedEvents(ctx, cutoff)
	if err != nil {
		return 0, storeErr("purge processed events", err)
	}
	log.Infof("[Payment] purged %d processed events completed before %s", n, cutoff.Format(time.RFC3339))
	return n, nil
}

func (s *Service) creditRequest(ev *PaymentEvent) CreditRequest {
	return CreditRequest{
		EventRef:      ev.EventID,
		UserID:        ev.UserID,
		CoinAmount:    ev.CoinAmount,
		CashAmount:    ev.CashAmount,
		Currency:      ev.Currency,
		PaymentMethod: s.paymentMethod(ev),
		Status:        ev.Status,
	}
}

// paymentMethod is cut to the column width so an unusual channel name
// cannot fail the ledger insert.
func (s *Service) paymentMethod(ev *PaymentEvent) string {
	method := s.cfg.PaymentMethod
	if ev.Channel != "" {
		method = fmt.Sprintf("%s:%s", s.cfg.PaymentMethod, ev.Channel)
	}
	return truncate(method, models.MaxPaymentMethodLen)
}

func (s *Service) release(ctx context.Context, res *Reservation) {
	if err := s.guard.Release(context.WithoutCancel(ctx), res); err != nil {
		log.Warnf("[Payment] could not release reservation for %s: %v", res.EventID, err)
	}
}

func (s *Service) publish(ctx context.Context, topic string, event any) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), topic, event); err != nil {
		log.Warnf("[Payment] publish %s failed: %v", topic, err)
	}
}
