package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mathieu-neron/trendsync/internal/model"
)

// ErrCycleRunning is reported when a cycle is requested while another one is
// still in progress in this process.
var ErrCycleRunning = errors.New("sync cycle already in progress")

// Fetcher produces one batch of trending records.
type Fetcher interface {
	Fetch(ctx context.Context) ([]model.Record, error)
}

// CycleRunner runs one deduplication cycle over a batch.
type CycleRunner interface {
	RunCycle(ctx context.Context, records []model.Record) *model.CycleOutcome
}

// SyncWorker is the periodic driver: fetch, then run a cycle. Cycles never
// overlap within a process.
type SyncWorker struct {
	fetcher  Fetcher
	runner   CycleRunner
	interval time.Duration
	log      zerolog.Logger

	stopCh   chan struct{}
	stopOnce sync.Once

	running sync.Mutex

	mu   sync.RWMutex
	last *model.CycleOutcome
}

// NewSyncWorker creates a worker that ticks every interval.
func NewSyncWorker(fetcher Fetcher, runner CycleRunner, interval time.Duration, logger zerolog.Logger) *SyncWorker {
	return &SyncWorker{
		fetcher:  fetcher,
		runner:   runner,
		interval: interval,
		log:      logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs one cycle immediately, then one every interval, until ctx is
// cancelled or Stop is called.
func (w *SyncWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("sync-worker: starting")

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.RunOnce(ctx)
		case <-ctx.Done():
			w.log.Info().Msg("sync-worker: stopping (context cancelled)")
			return
		case <-w.stopCh:
			w.log.Info().Msg("sync-worker: stopping (stop signal)")
			return
		}
	}
}

// Stop signals the worker to stop. Safe to call more than once.
func (w *SyncWorker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

// RunOnce fetches a batch and runs a cycle over it. If a cycle is already
// running it returns immediately with a locked outcome.
func (w *SyncWorker) RunOnce(ctx context.Context) *model.CycleOutcome {
	if !w.running.TryLock() {
		return &model.CycleOutcome{
			CycleID:   uuid.NewString(),
			Status:    model.CycleLocked,
			StartedAt: time.Now().UTC(),
			Err:       ErrCycleRunning,
			Error:     ErrCycleRunning.Error(),
		}
	}
	defer w.running.Unlock()

	out := w.fetchAndRun(ctx)

	w.mu.Lock()
	w.last = out
	w.mu.Unlock()
	return out
}

func (w *SyncWorker) fetchAndRun(ctx context.Context) *model.CycleOutcome {
	start := time.Now()
	records, err := w.fetcher.Fetch(ctx)
	if err == nil && len(records) == 0 {
		err = ErrEmptyBatch
	}
	if err != nil {
		w.log.Error().Err(err).Msg("sync-worker: fetch failed")
		out := &model.CycleOutcome{
			CycleID:   uuid.NewString(),
			Status:    model.CycleFailed,
			Stage:     model.StageFetch,
			StartedAt: start.UTC(),
			Err:       fmt.Errorf("fetch: %w", err),
		}
		out.Error = out.Err.Error()
		out.Duration = time.Since(start)
		out.DurationMs = out.Duration.Milliseconds()
		return out
	}
	return w.runner.RunCycle(ctx, records)
}

// Exclusive runs fn while holding the cycle slot, so no cycle of this worker
// overlaps it. It fails with ErrCycleRunning if a cycle is in progress.
func (w *SyncWorker) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	if !w.running.TryLock() {
		return ErrCycleRunning
	}
	defer w.running.Unlock()
	return fn(ctx)
}

// Last returns the outcome of the most recent cycle, or nil if none ran yet.
func (w *SyncWorker) Last() *model.CycleOutcome {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.last
}
