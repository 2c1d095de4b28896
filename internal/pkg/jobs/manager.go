package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/CoinFox/internal/pkg/cache"
	"github.com/ManuelReschke/CoinFox/internal/pkg/payment"
	"github.com/ManuelReschke/CoinFox/internal/pkg/s3export"
)

const lastExportKey = "coinfox:export:last_day"

// Reconciler is satisfied by *payment.Reconciler.
type Reconciler interface {
	Run(ctx context.Context) (*payment.ReconcileReport, error)
}

// DayExporter is satisfied by *s3export.Exporter.
type DayExporter interface {
	ExportDay(ctx context.Context, day time.Time) (*s3export.ExportResult, error)
}

// Checkpoint remembers the last exported day across restarts.
type Checkpoint interface {
	LastExportedDay() (string, error)
	SetLastExportedDay(day string) error
}

type cacheCheckpoint struct{}

func (cacheCheckpoint) LastExportedDay() (string, error) {
	day, err := cache.Get(lastExportKey)
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return day, err
}

func (cacheCheckpoint) SetLastExportedDay(day string) error {
	return cache.Set(lastExportKey, day, 0)
}

// Config controls the background intervals.
type Config struct {
	ReconcileInterval time.Duration
	ExportInterval    time.Duration
}

// Manager runs periodic reconciliation and ledger export
type Manager struct {
	cfg             Config
	reconciler      Reconciler
	exporter        DayExporter
	checkpoint      Checkpoint
	reconcileTicker *time.Ticker
	exportTicker    *time.Ticker
	stopCh          chan struct{}
	wg              sync.WaitGroup
	mu              sync.Mutex
	running         bool
	now             func() time.Time
}

// NewManager creates a manager. exporter may be nil when export is disabled.
func NewManager(cfg Config, reconciler Reconciler, exporter DayExporter) *Manager {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 15 * time.Minute
	}
	if cfg.ExportInterval <= 0 {
		cfg.ExportInterval = time.Hour
	}
	return &Manager{
		cfg:        cfg,
		reconciler: reconciler,
		exporter:   exporter,
		checkpoint: cacheCheckpoint{},
		now:        time.Now,
	}
}

// Start starts the background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[Jobs Manager] Starting background tasks")

	if m.reconciler != nil {
		m.reconcileTicker = time.NewTicker(m.cfg.ReconcileInterval)
		m.wg.Add(1)
		go m.reconcileWorker(m.stopCh)
	}

	if m.exporter != nil {
		m.exportTicker = time.NewTicker(m.cfg.ExportInterval)
		m.wg.Add(1)
		go m.exportWorker(m.stopCh)
	}

	log.Info("[Jobs Manager] Started successfully")
}

// Stop stops the background tasks and waits for running passes to finish
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Jobs Manager] Stopping background tasks...")

	if m.reconcileTicker != nil {
		m.reconcileTicker.Stop()
	}
	if m.exportTicker != nil {
		m.exportTicker.Stop()
	}

	close(m.stopCh)
	m.stopCh = nil
	m.running = false

	m.wg.Wait()

	log.Info("[Jobs Manager] Stopped successfully")
}

func (m *Manager) reconcileWorker(stopCh chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-m.reconcileTicker.C:
			m.RunReconcile()
		case <-stopCh:
			return
		}
	}
}

func (m *Manager) exportWorker(stopCh chan struct{}) {
	defer m.wg.Done()

	// Catch up right away after a restart.
	m.RunExport()
	for {
		select {
		case <-m.exportTicker.C:
			m.RunExport()
		case <-stopCh:
			return
		}
	}
}

// RunReconcile performs one reconcile pass with a bounded deadline.
func (m *Manager) RunReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ReconcileInterval)
	defer cancel()

	if _, err := m.reconciler.Run(ctx); err != nil {
		log.Errorf("[Jobs Manager] reconcile failed: %v", err)
	}
}

// RunExport uploads every day after the checkpoint up to yesterday, oldest
// first. Without a checkpoint only yesterday is exported. A failed day stops
// the run so the next pass retries it.
func (m *Manager) RunExport() {
	now := m.now().UTC()
	yesterday := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)

	next := yesterday
	last, err := m.checkpoint.LastExportedDay()
	if err != nil {
		log.Warnf("[Jobs Manager] could not read export checkpoint: %v", err)
	}
	if last != "" {
		lastDay, err := time.Parse("2006-01-02", last)
		if err != nil {
			log.Warnf("[Jobs Manager] ignoring invalid export checkpoint %q: %v", last, err)
		} else {
			next = lastDay.AddDate(0, 0, 1)
		}
	}

	for ; !next.After(yesterday); next = next.AddDate(0, 0, 1) {
		day := next.Format("2006-01-02")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		_, err := m.exporter.ExportDay(ctx, next)
		cancel()
		if err != nil {
			log.Errorf("[Jobs Manager] ledger export for %s failed: %v", day, err)
			return
		}
		if err := m.checkpoint.SetLastExportedDay(day); err != nil {
			log.Warnf("[Jobs Manager] could not store export checkpoint: %v", err)
		}
	}
}
