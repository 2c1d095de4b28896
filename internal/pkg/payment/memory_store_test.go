package payment

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ManuelReschke/CoinFox/app/models"
)

var errInjected = errors.New("injected store failure")

// memoryRepo is a Repository with the same atomicity guarantees as the
// SQL implementation, plus failure injection.
type memoryRepo struct {
	mu       sync.Mutex
	balances map[string]int64
	ledger   []models.LedgerEntry
	markers  map[string]*models.ProcessedEvent

	failIncrement int
	failAppend    int
	failReserve   int
	failComplete  int
	// failAfterCommit makes ApplyLedgerEntry commit and then report an
	// error, like a connection lost before the acknowledgement.
	failAfterCommit int
	increments      int
}

// splitRepo hides ApplyLedgerEntry so the updater falls back to two
// separate writes.
type splitRepo struct {
	Repository
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		balances: map[string]int64{},
		markers:  map[string]*models.ProcessedEvent{},
	}
}

func (m *memoryRepo) IncrementBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIncrement > 0 {
		m.failIncrement--
		return 0, errInjected
	}
	if m.balances[userID]+delta < 0 {
		return 0, ErrInsufficientCoins
	}
	m.balances[userID] += delta
	m.increments++
	return m.balances[userID], nil
}

func (m *memoryRepo) GetBalance(ctx context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memoryRepo) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAppend > 0 {
		m.failAppend--
		return false, errInjected
	}
	if entry.EventRef != nil {
		for _, e := range m.ledger {
			if e.EventRef != nil && *e.EventRef == *entry.EventRef {
				return false, nil
			}
		}
	}
	entry.ID = uint(len(m.ledger) + 1)
	m.ledger = append(m.ledger, *entry)
	return true, nil
}

func (m *memoryRepo) ApplyLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failIncrement > 0 {
		m.failIncrement--
		return 0, false, errInjected
	}
	if entry.EventRef != nil && m.hasRefLocked(*entry.EventRef) {
		return m.balances[entry.UserID], false, nil
	}
	if m.balances[entry.UserID]+entry.CoinAmount < 0 {
		return 0, false, ErrInsufficientCoins
	}
	// Nothing has been written yet, so a failure here is a full rollback.
	if m.failAppend > 0 {
		m.failAppend--
		return 0, false, errInjected
	}

	m.balances[entry.UserID] += entry.CoinAmount
	m.increments++
	entry.ID = uint(len(m.ledger) + 1)
	m.ledger = append(m.ledger, *entry)

	if m.failAfterCommit > 0 {
		m.failAfterCommit--
		return 0, false, errInjected
	}
	return m.balances[entry.UserID], true, nil
}

func (m *memoryRepo) hasRefLocked(eventRef string) bool {
	for _, e := range m.ledger {
		if e.EventRef != nil && *e.EventRef == eventRef {
			return true
		}
	}
	return false
}

func (m *memoryRepo) HasLedgerEntry(ctx context.Context, eventRef string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.ledger {
		if e.EventRef != nil && *e.EventRef == eventRef {
			return true, nil
		}
	}
	return false, nil
}

func (m *memoryRepo) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for i := len(m.ledger) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.ledger[i].UserID == userID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

func (m *memoryRepo) ListLedgerEntriesBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LedgerEntry
	for _, e := range m.ledger {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memoryRepo) ledgerCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.ledger {
		if e.UserID == userID {
			n++
		}
	}
	return n
}

func (m *memoryRepo) Reserve(ctx context.Context, rec *models.ProcessedEvent, lease time.Duration, now time.Time) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failReserve > 0 {
		m.failReserve--
		return nil, storeErr("reserve event", errInjected)
	}

	token := uuid.NewString()
	leaseUntil := now.Add(lease)
	stored, ok := m.markers[rec.EventID]
	if !ok {
		cp := *rec
		cp.Status = models.ProcessedEventPending
		cp.OwnerToken = token
		cp.LeaseUntil = &leaseUntil
		m.markers[rec.EventID] = &cp
		return &Reservation{EventID: rec.EventID, Token: token, State: ReserveAcquired, Record: &cp}, nil
	}

	switch stored.Status {
	case models.ProcessedEventCompleted:
		return &Reservation{EventID: rec.EventID, State: ReserveDuplicate}, nil
	case models.ProcessedEventPartial:
		stored.OwnerToken = token
		cp := *stored
		return &Reservation{EventID: rec.EventID, Token: token, State: ReservePartial, Record: &cp}, nil
	}
	if !stored.LeaseExpired(now) {
		return &Reservation{EventID: rec.EventID, State: ReserveInFlight}, nil
	}
	stored.OwnerToken = token
	stored.LeaseUntil = &leaseUntil
	cp := *stored
	return &Reservation{EventID: rec.EventID, Token: token, State: ReserveAcquired, Record: &cp}, nil
}

func (m *memoryRepo) Complete(ctx context.Context, eventID, token string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failComplete > 0 {
		m.failComplete--
		return storeErr("complete event marker", errInjected)
	}
	stored, ok := m.markers[eventID]
	if !ok {
		m.markers[eventID] = &models.ProcessedEvent{EventID: eventID, Status: models.ProcessedEventCompleted, OwnerToken: token, ProcessedAt: &now}
		return nil
	}
	if stored.Status == models.ProcessedEventCompleted || stored.OwnerToken != token {
		return ErrDuplicateEvent
	}
	stored.Status = models.ProcessedEventCompleted
	stored.ProcessedAt = &now
	stored.LeaseUntil = nil
	return nil
}

func (m *memoryRepo) MarkPartial(ctx context.Context, eventID, token, reason string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.markers[eventID]
	if !ok || stored.OwnerToken != token {
		return ErrDuplicateEvent
	}
	stored.Status = models.ProcessedEventPartial
	stored.ProcessingError = reason
	stored.LeaseUntil = nil
	return nil
}

func (m *memoryRepo) Release(ctx context.Context, eventID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.markers[eventID]
	if !ok || stored.OwnerToken != token || stored.Status != models.ProcessedEventPending {
		return ErrDuplicateEvent
	}
	delete(m.markers, eventID)
	return nil
}

func (m *memoryRepo) Lookup(ctx context.Context, eventID string) (*models.ProcessedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.markers[eventID]
	if !ok {
		return nil, nil
	}
	cp := *stored
	return &cp, nil
}

func (m *memoryRepo) marker(eventID string) *models.ProcessedEvent {
	rec, _ := m.Lookup(context.Background(), eventID)
	return rec
}

func (m *memoryRepo) ListStaleReservations(ctx context.Context, now time.Time, limit int) ([]models.ProcessedEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ProcessedEvent
	for _, rec := range m.markers {
		if rec.Status == models.ProcessedEventPartial || rec.LeaseExpired(now) {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EventID < out[j].EventID })
	return out, nil
}

func (m *memoryRepo) FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sums := map[string]int64{}
	for _, e := range m.ledger {
		sums[e.UserID] += e.CoinAmount
	}
	var out []BalanceDrift
	for user, coins := range m.balances {
		if coins != sums[user] {
			out = append(out, BalanceDrift{UserID: user, Balance: coins, LedgerTotal: sums[user]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *memoryRepo) PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, rec := range m.markers {
		if rec.Status == models.ProcessedEventCompleted && rec.ProcessedAt != nil && rec.ProcessedAt.Before(olderThan) {
			delete(m.markers, id)
			n++
		}
	}
	return n, nil
}

func (m *memoryRepo) CountProcessedEvents(ctx context.Context) (map[models.ProcessedEventStatus]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[models.ProcessedEventStatus]int64{}
	for _, rec := range m.markers {
		out[rec.Status]++
	}
	return out, nil
}

func (m *memoryRepo) Ping(ctx context.Context) error { return nil }
