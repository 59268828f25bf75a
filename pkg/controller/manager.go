package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ErrSyncRunning is returned to manual triggers while a pass holds the
// run lock. The scheduler never sees it; a colliding tick is dropped.
var ErrSyncRunning = errors.New("sync already running")

// Publisher receives every stage result that performed writes. The
// manager is the single writer.
type Publisher interface {
	Publish(stage Stage, result StageResult)
}

// Manager owns the run lock, the interval loop, and the per-stage
// status map. Scheduled and API-triggered runs funnel through the same
// mutex so at most one pass touches the mirror at a time.
type Manager struct {
	reconciler *Reconciler
	notifier   Publisher
	interval   time.Duration
	status     *xsync.Map[Stage, StageResult]
	logger     *zap.Logger

	mu sync.Mutex
}

func NewManager(rec *Reconciler, notifier Publisher, interval time.Duration, logger *zap.Logger) *Manager {
	return &Manager{
		reconciler: rec,
		notifier:   notifier,
		interval:   interval,
		status:     xsync.NewMap[Stage, StageResult](),
		logger:     logger.With(zap.String("component", "manager")),
	}
}

// Start runs the interval loop until ctx is cancelled: one pass
// immediately, then one per tick. A tick that fires while a manual
// trigger holds the lock is dropped, not queued.
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("Starting sync loop", zap.Duration("interval", m.interval))

	if _, err := m.RunAll(ctx); err != nil {
		m.logger.Warn("Initial sync pass skipped", zap.Error(err))
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Sync loop stopped")
			return
		case <-ticker.C:
			if _, err := m.RunAll(ctx); err != nil {
				m.logger.Info("Sync pass already running, dropping tick")
			}
		}
	}
}

// RunAll executes all four stages in their fixed order. Each stage
// catches its own failure so later stages still run; the pass itself
// only fails when another pass is in flight.
func (m *Manager) RunAll(ctx context.Context) ([]StageResult, error) {
	if !m.mu.TryLock() {
		return nil, ErrSyncRunning
	}
	defer m.mu.Unlock()

	started := time.Now()
	results := make([]StageResult, 0, len(Stages()))
	for _, stage := range Stages() {
		results = append(results, m.runStage(ctx, stage))
	}

	m.logger.Info("Sync pass completed", zap.Duration("duration", time.Since(started)))
	return results, nil
}

// RunStage executes a single stage for manual triggers.
func (m *Manager) RunStage(ctx context.Context, stage Stage) (StageResult, error) {
	if !m.mu.TryLock() {
		return StageResult{}, ErrSyncRunning
	}
	defer m.mu.Unlock()

	return m.runStage(ctx, stage), nil
}

// runStage must be called with the run lock held.
func (m *Manager) runStage(ctx context.Context, stage Stage) StageResult {
	result := m.reconciler.Run(ctx, stage)
	m.status.Store(stage, result)
	if m.notifier != nil {
		m.notifier.Publish(stage, result)
	}
	return result
}

// Status returns the last result per stage. Stages that never ran are
// absent.
func (m *Manager) Status() map[Stage]StageResult {
	out := make(map[Stage]StageResult, len(Stages()))
	m.status.Range(func(stage Stage, result StageResult) bool {
		out[stage] = result
		return true
	})
	return out
}
