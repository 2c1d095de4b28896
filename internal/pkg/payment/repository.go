package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/CoinFox/app/models"
)

// BalanceDrift is a user whose stored balance differs from the sum of
// their ledger entries.
type BalanceDrift struct {
	UserID      string `json:"user_id"`
	Balance     int64  `json:"balance"`
	LedgerTotal int64  `json:"ledger_total"`
}

func (d BalanceDrift) Delta() int64 {
	return d.Balance - d.LedgerTotal
}

// Repository provides DB operations used by the payment service.
type Repository interface {
	BalanceStore
	LedgerStore
	ReservationStore
	StaleReservationLister
	FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error)
	ListLedgerEntriesBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error)
	PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error)
	CountProcessedEvents(ctx context.Context) (map[models.ProcessedEventStatus]int64, error)
	Ping(ctx context.Context) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) IncrementBalance(ctx context.Context, userID string, delta int64) (int64, error) {
	var newBalance int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		newBalance, err = incrementBalance(tx, userID, delta)
		return err
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// ApplyLedgerEntry inserts the entry first so a second credit for the same
// event_ref stops before the balance is touched. Both writes commit or
// roll back together.
func (r *gormRepository) ApplyLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (int64, bool, error) {
	var (
		newBalance int64
		created    bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_ref"}},
			DoNothing: true,
		}).Create(entry)
		if ins.Error != nil {
			return ins.Error
		}
		if ins.RowsAffected == 0 {
			return tx.Model(&models.UserBalance{}).
				Where("user_id = ?", entry.UserID).
				Select("coins").
				Scan(&newBalance).Error
		}

		var err error
		newBalance, err = incrementBalance(tx, entry.UserID, entry.CoinAmount)
		created = err == nil
		return err
	})
	if err != nil {
		return 0, false, err
	}
	return newBalance, created, nil
}

func incrementBalance(tx *gorm.DB, userID string, delta int64) (int64, error) {
	if delta < 0 {
		res := tx.Model(&models.UserBalance{}).
			Where("user_id = ? AND coins + ? >= 0", userID, delta).
			Update("coins", gorm.Expr("coins + ?", delta))
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, ErrInsufficientCoins
		}
	} else {
		row := models.UserBalance{UserID: userID, Coins: delta}
		if err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"coins":      gorm.Expr("coins + ?", delta),
				"updated_at": time.Now(),
			}),
		}).Create(&row).Error; err != nil {
			return 0, err
		}
	}

	var newBalance int64
	err := tx.Model(&models.UserBalance{}).
		Where("user_id = ?", userID).
		Select("coins").
		Scan(&newBalance).Error
	return newBalance, err
}

func (r *gormRepository) GetBalance(ctx context.Context, userID string) (int64, error) {
	var b models.UserBalance
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return b.Coins, nil
}

func (r *gormRepository) AppendLedgerEntry(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_ref"}},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) HasLedgerEntry(ctx context.Context, eventRef string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("event_ref = ?", eventRef).
		Count(&count).Error
	return count > 0, err
}

func (r *gormRepository) ListLedgerEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("timestamp DESC, id DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) ListLedgerEntriesBetween(ctx context.Context, from, to time.Time) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	err := r.db.WithContext(ctx).
		Where("timestamp >= ? AND timestamp < ?", from, to).
		Order("id ASC").
		Find(&entries).Error
	return entries, err
}

func (r *gormRepository) Reserve(ctx context.Context, rec *models.ProcessedEvent, lease time.Duration, now time.Time) (*Reservation, error) {
	token := uuid.NewString()
	leaseUntil := now.Add(lease)
	rec.Status = models.ProcessedEventPending
	rec.OwnerToken = token
	rec.LeaseUntil = &leaseUntil

	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(rec)
	if tx.Error != nil {
		return nil, storeErr("reserve event", tx.Error)
	}
	if tx.RowsAffected > 0 {
		return &Reservation{EventID: rec.EventID, Token: token, State: ReserveAcquired, Record: rec}, nil
	}

	var stored models.ProcessedEvent
	if err := db.Where("event_id = ?", rec.EventID).First(&stored).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Released between our insert and this read; let the caller retry.
			return &Reservation{EventID: rec.EventID, State: ReserveInFlight}, nil
		}
		return nil, storeErr("load event marker", err)
	}

	switch stored.Status {
	case models.ProcessedEventCompleted:
		return &Reservation{EventID: stored.EventID, State: ReserveDuplicate, Record: &stored}, nil
	case models.ProcessedEventPartial:
		// Partial markers are adopted by whoever sees them next.
		res := db.Model(&models.ProcessedEvent{}).
			Where("event_id = ? AND status = ? AND owner_token = ?", stored.EventID, models.ProcessedEventPartial, stored.OwnerToken).
			Update("owner_token", token)
		if res.Error != nil {
			return nil, storeErr("adopt partial marker", res.Error)
		}
		if res.RowsAffected == 0 {
			return &Reservation{EventID: stored.EventID, State: ReserveInFlight}, nil
		}
		stored.OwnerToken = token
		return &Reservation{EventID: stored.EventID, Token: token, State: ReservePartial, Record: &stored}, nil
	}

	if !stored.LeaseExpired(now) {
		return &Reservation{EventID: stored.EventID, State: ReserveInFlight, Record: &stored}, nil
	}

	res := db.Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND status = ? AND owner_token = ?", stored.EventID, models.ProcessedEventPending, stored.OwnerToken).
		Updates(map[string]interface{}{
			"owner_token": token,
			"lease_until": leaseUntil,
		})
	if res.Error != nil {
		return nil, storeErr("take over expired lease", res.Error)
	}
	if res.RowsAffected == 0 {
		return &Reservation{EventID: stored.EventID, State: ReserveInFlight}, nil
	}
	stored.OwnerToken = token
	stored.LeaseUntil = &leaseUntil
	return &Reservation{EventID: stored.EventID, Token: token, State: ReserveAcquired, Record: &stored}, nil
}

func (r *gormRepository) Complete(ctx context.Context, eventID, token string, now time.Time) error {
	db := r.db.WithContext(ctx)
	res := db.Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND owner_token = ? AND status IN ?", eventID, token,
			[]models.ProcessedEventStatus{models.ProcessedEventPending, models.ProcessedEventPartial}).
		Updates(map[string]interface{}{
			"status":           models.ProcessedEventCompleted,
			"processed_at":     now,
			"lease_until":      nil,
			"processing_error": "",
		})
	if res.Error != nil {
		return storeErr("complete event marker", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	// The marker vanished (released by a sweep) or belongs to someone else.
	// Recreate it as completed unless any record already exists.
	completed := &models.ProcessedEvent{
		Provider:    models.ProviderPaymongo,
		EventID:     eventID,
		Status:      models.ProcessedEventCompleted,
		OwnerToken:  token,
		ProcessedAt: &now,
	}
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(completed)
	if tx.Error != nil {
		return storeErr("complete event marker", tx.Error)
	}
	if tx.RowsAffected == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (r *gormRepository) MarkPartial(ctx context.Context, eventID, token, reason string, now time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("event_id = ? AND owner_token = ?", eventID, token).
		Updates(map[string]interface{}{
			"status":           models.ProcessedEventPartial,
			"processed_at":     now,
			"lease_until":      nil,
			"processing_error": truncate(reason, 1000),
		})
	if res.Error != nil {
		return storeErr("mark event partial", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (r *gormRepository) Release(ctx context.Context, eventID, token string) error {
	res := r.db.WithContext(ctx).
		Where("event_id = ? AND owner_token = ? AND status = ?", eventID, token, models.ProcessedEventPending).
		Delete(&models.ProcessedEvent{})
	if res.Error != nil {
		return storeErr("release event marker", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

func (r *gormRepository) Lookup(ctx context.Context, eventID string) (*models.ProcessedEvent, error) {
	var rec models.ProcessedEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("lookup event marker", err)
	}
	return &rec, nil
}

func (r *gormRepository) ListStaleReservations(ctx context.Context, now time.Time, limit int) ([]models.ProcessedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var recs []models.ProcessedEvent
	err := r.db.WithContext(ctx).
		Where("status = ? OR (status = ? AND lease_until <= ?)",
			models.ProcessedEventPartial, models.ProcessedEventPending, now).
		Order("id ASC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

func (r *gormRepository) FindBalanceDrift(ctx context.Context) ([]BalanceDrift, error) {
	var drifts []BalanceDrift
	err := r.db.WithContext(ctx).
		Table("user_balances AS b").
		Select("b.user_id AS user_id, b.coins AS balance, COALESCE(SUM(l.coin_amount), 0) AS ledger_total").
		Joins("LEFT JOIN ledger_entries AS l ON l.user_id = b.user_id").
		Group("b.user_id, b.coins").
		Having("b.coins <> COALESCE(SUM(l.coin_amount), 0)").
		Scan(&drifts).Error
	return drifts, err
}

func (r *gormRepository) PurgeProcessedEvents(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("status = ? AND processed_at < ?", models.ProcessedEventCompleted, olderThan).
		Delete(&models.ProcessedEvent{})
	return res.RowsAffected, res.Error
}

func (r *gormRepository) CountProcessedEvents(ctx context.Context) (map[models.ProcessedEventStatus]int64, error) {
	var rows []struct {
		Status models.ProcessedEventStatus
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[models.ProcessedEventStatus]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func (r *gormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
