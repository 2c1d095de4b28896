package payment

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/CoinFox/app/models"
	"github.com/ManuelReschke/CoinFox/internal/pkg/events"
)

func TestReconciler_ReportsDriftWithoutFixingIt(t *testing.T) {
	svc, repo, pub := newTestService(t, testConfig())
	ctx := context.Background()

	_, err := svc.HandleWebhook(ctx, delivery(paidPayload("evt_1", "u1", 100, 5000)))
	require.NoError(t, err)
	repo.balances["u2"] = 70

	report, err := svc.NewReconciler().Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, "u2", report.Drifts[0].UserID)
	assert.Equal(t, int64(70), report.Drifts[0].Delta())
	assert.Equal(t, int64(70), repo.balances["u2"])
	assert.Equal(t, 1, pub.count(events.TopicBalanceDrift))
}

func TestReconciler_RecoversPartialWrite(t *testing.T) {
	svc, repo := newSplitTestService(t, testConfig())
	ctx := context.Background()
	repo.failAppend = 1

	_, err := svc.HandleWebhook(ctx, delivery(paidPayload("evt_p", "u1", 30, 1500)))
	require.ErrorIs(t, err, ErrPartialWrite)

	report, err := svc.NewReconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.RecoveredPartial)
	assert.Equal(t, models.ProcessedEventCompleted, repo.marker("evt_p").Status)
	assert.Equal(t, 1, repo.ledgerCount("u1"))
	assert.Equal(t, int64(30), repo.balances["u1"])

	entries, err := svc.History(ctx, "u1", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "PHP", entries[0].Currency)
	assert.Equal(t, "paymongo:gcash", entries[0].PaymentMethod)

	// Drift query runs before the repair, so the next pass is clean.
	report, err = svc.NewReconciler().Run(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}

func TestReconciler_ResolvesStalePendingMarkers(t *testing.T) {
	svc, repo, _ := newTestService(t, testConfig())
	ctx := context.Background()
	expired := time.Now().Add(-time.Minute)

	// Credited before the crash: the ledger entry exists.
	entry := models.NewPurchaseEntry("u1", "evt_done", 5, decimal.RequireFromString("1"), "PHP", "paymongo", time.Now())
	_, err := repo.AppendLedgerEntry(ctx, entry)
	require.NoError(t, err)
	repo.balances["u1"] = 5
	repo.markers["evt_done"] = &models.ProcessedEvent{EventID: "evt_done", Status: models.ProcessedEventPending, OwnerToken: "a", LeaseUntil: &expired}

	// Crashed before crediting.
	repo.markers["evt_lost"] = &models.ProcessedEvent{EventID: "evt_lost", Status: models.ProcessedEventPending, OwnerToken: "b", LeaseUntil: &expired}

	report, err := svc.NewReconciler().Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.CompletedStale)
	assert.Equal(t, 1, report.ReleasedStale)
	assert.Equal(t, models.ProcessedEventCompleted, repo.marker("evt_done").Status)
	assert.Nil(t, repo.marker("evt_lost"))
	assert.Zero(t, report.Failures)
}

func TestReconciler_HoldsStaleMarkerOfDriftingUser(t *testing.T) {
	svc, repo, _ := newTestService(t, testConfig())
	ctx := context.Background()
	expired := time.Now().Add(-time.Minute)

	repo.balances["u1"] = 7
	repo.markers["evt_held"] = &models.ProcessedEvent{EventID: "evt_held", UserID: "u1", CoinAmount: 7, Status: models.ProcessedEventPending, OwnerToken: "a", LeaseUntil: &expired}
	repo.markers["evt_free"] = &models.ProcessedEvent{EventID: "evt_free", UserID: "u2", CoinAmount: 1, Status: models.ProcessedEventPending, OwnerToken: "b", LeaseUntil: &expired}

	report, err := svc.NewReconciler().Run(ctx)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 1)
	assert.Equal(t, 1, report.HeldStale)
	assert.Equal(t, 1, report.ReleasedStale)
	assert.NotNil(t, repo.marker("evt_held"))
	assert.Nil(t, repo.marker("evt_free"))
	assert.Equal(t, int64(7), repo.balances["u1"])
}

func TestGuard_ShouldProcess(t *testing.T) {
	repo := newMemoryRepo()
	guard := NewGuard(repo, time.Minute, 0)
	ctx := context.Background()

	ok, err := guard.ShouldProcess(ctx, "evt_new")
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := guard.Reserve(ctx, &PaymentEvent{EventID: "evt_new", UserID: "u1", CoinAmount: 1}, "paymongo")
	require.NoError(t, err)
	ok, err = guard.ShouldProcess(ctx, "evt_new")
	require.NoError(t, err)
	assert.False(t, ok, "a live reservation blocks processing")

	require.NoError(t, guard.MarkProcessed(ctx, res))
	ok, err = guard.ShouldProcess(ctx, "evt_new")
	require.NoError(t, err)
	assert.False(t, ok)

	assert.ErrorIs(t, guard.MarkProcessed(ctx, res), ErrDuplicateEvent)
}

func TestGuard_ReleaseAllowsRetry(t *testing.T) {
	repo := newMemoryRepo()
	guard := NewGuard(repo, time.Minute, 0)
	ctx := context.Background()
	ev := &PaymentEvent{EventID: "evt_rel", UserID: "u1", CoinAmount: 1}

	res, err := guard.Reserve(ctx, ev, "paymongo")
	require.NoError(t, err)

	_, err = guard.Reserve(ctx, ev, "paymongo")
	assert.ErrorIs(t, err, ErrEventInFlight)

	require.NoError(t, guard.Release(ctx, res))
	again, err := guard.Reserve(ctx, ev, "paymongo")
	require.NoError(t, err)
	assert.Equal(t, ReserveAcquired, again.State)
	assert.NotEqual(t, res.Token, again.Token)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := *cfg
	bad.Backend = "memcached"
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Retention = time.Hour
	assert.Error(t, bad.Validate())

	bad = *cfg
	bad.Lease = 0
	assert.Error(t, bad.Validate())
}
