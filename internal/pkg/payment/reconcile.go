package payment

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/CoinFox/app/models"
	"github.com/ManuelReschke/CoinFox/internal/pkg/events"
	"github.com/ManuelReschke/CoinFox/internal/pkg/metrics"
)

// ReconcileReport summarizes one reconcile pass.
type ReconcileReport struct {
	StartedAt        time.Time      `json:"started_at"`
	Duration         time.Duration  `json:"duration"`
	Drifts           []BalanceDrift `json:"drifts"`
	RecoveredPartial int            `json:"recovered_partial"`
	CompletedStale   int            `json:"completed_stale"`
	ReleasedStale    int            `json:"released_stale"`
	HeldStale        int            `json:"held_stale"`
	Failures         int            `json:"failures"`
}

// Reconciler compares balances with their ledger and repairs reservations
// left behind by failed or crashed deliveries. It never changes a balance.
type Reconciler struct {
	repo         Repository
	reservations ReservationStore
	updater      *Updater
	publisher    events.Publisher
	batchSize    int
	now          func() time.Time
}

// NewReconciler builds a reconciler that shares the service's stores.
func (s *Service) NewReconciler() *Reconciler {
	return &Reconciler{
		repo:         s.repo,
		reservations: s.reservations,
		updater:      s.updater,
		publisher:    s.publisher,
		batchSize:    200,
		now:          s.now,
	}
}

// Run performs one pass. Drift is reported, not corrected.
func (r *Reconciler) Run(ctx context.Context) (*ReconcileReport, error) {
	report := &ReconcileReport{StartedAt: r.now()}

	drifts, err := r.repo.FindBalanceDrift(ctx)
	if err != nil {
		metrics.ReconcileRuns.WithLabelValues("error").Inc()
		return nil, storeErr("find balance drift", err)
	}
	report.Drifts = drifts
	metrics.BalanceDrift.Set(float64(len(drifts)))
	drifting := make(map[string]bool, len(drifts))
	for _, d := range drifts {
		drifting[d.UserID] = true
		log.Errorf("[Reconcile] ALARM balance drift for user %s: balance=%d ledger=%d delta=%d",
			d.UserID, d.Balance, d.LedgerTotal, d.Delta())
		if err := r.publisher.Publish(ctx, events.TopicBalanceDrift, events.BalanceDrift{
			UserID:      d.UserID,
			Balance:     d.Balance,
			LedgerTotal: d.LedgerTotal,
			DetectedAt:  report.StartedAt.UTC(),
		}); err != nil {
			log.Warnf("[Reconcile] publish drift for %s failed: %v", d.UserID, err)
		}
	}

	if lister, ok := r.reservations.(StaleReservationLister); ok {
		stale, err := lister.ListStaleReservations(ctx, report.StartedAt, r.batchSize)
		if err != nil {
			metrics.ReconcileRuns.WithLabelValues("error").Inc()
			return report, storeErr("list stale reservations", err)
		}
		for i := range stale {
			if err := r.repairReservation(ctx, &stale[i], drifting, report); err != nil {
				report.Failures++
				log.Errorf("[Reconcile] could not repair reservation %s: %v", stale[i].EventID, err)
			}
		}
	}

	report.Duration = r.now().Sub(report.StartedAt)
	result := "ok"
	if len(report.Drifts) > 0 || report.Failures > 0 {
		result = "issues"
	}
	metrics.ReconcileRuns.WithLabelValues(result).Inc()
	log.Infof("[Reconcile] done in %s: drift=%d recovered=%d completed=%d released=%d held=%d failures=%d",
		report.Duration, len(report.Drifts), report.RecoveredPartial, report.CompletedStale, report.ReleasedStale, report.HeldStale, report.Failures)
	return report, nil
}

// repairReservation never releases a stale marker of a drifting user: the
// drift may be this very event, and an operator has to decide.
func (r *Reconciler) repairReservation(ctx context.Context, rec *models.ProcessedEvent, drifting map[string]bool, report *ReconcileReport) error {
	now := r.now()

	switch rec.Status {
	case models.ProcessedEventPartial:
		if rec.UserID == "" || rec.CoinAmount <= 0 {
			return errors.New("partial marker has no user or coin amount")
		}
		method := rec.PaymentMethod
		if method == "" {
			method = models.ProviderPaymongo
		}
		if _, err := r.updater.RetryLedgerAppend(ctx, CreditRequest{
			EventRef:      rec.EventID,
			UserID:        rec.UserID,
			CoinAmount:    rec.CoinAmount,
			CashAmount:    rec.CashAmount,
			Currency:      rec.Currency,
			PaymentMethod: method,
			Status:        StatusPaid,
		}); err != nil {
			return err
		}
		if err := r.reservations.Complete(ctx, rec.EventID, rec.OwnerToken, now); err != nil && !errors.Is(err, ErrDuplicateEvent) {
			return err
		}
		report.RecoveredPartial++
		return nil

	case models.ProcessedEventPending:
		if !rec.LeaseExpired(now) {
			return nil
		}
		credited, err := r.updater.HasCredit(ctx, rec.EventID)
		if err != nil {
			return err
		}
		if credited {
			if err := r.reservations.Complete(ctx, rec.EventID, rec.OwnerToken, now); err != nil && !errors.Is(err, ErrDuplicateEvent) {
				return err
			}
			report.CompletedStale++
			return nil
		}
		if drifting[rec.UserID] {
			log.Errorf("[Reconcile] ALARM holding stale reservation %s: user %s has balance drift", rec.EventID, rec.UserID)
			report.HeldStale++
			return nil
		}
		if err := r.reservations.Release(ctx, rec.EventID, rec.OwnerToken); err != nil && !errors.Is(err, ErrDuplicateEvent) {
			return err
		}
		report.ReleasedStale++
		return nil
	}
	return nil
}
