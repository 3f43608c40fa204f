// Package scheduler triggers batch runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/batch"
	"github.com/presslane/edition-courier/internal/courier"
)

// Config controls Scheduler behavior.
type Config struct {
	// Schedule is a standard five-field cron expression. Descriptors such
	// as @daily and @every 6h are accepted too.
	Schedule string
	// BatchTimeout bounds one scheduled batch run. Zero means no limit.
	BatchTimeout time.Duration
	// StopTimeout bounds how long Stop waits for a running batch.
	StopTimeout time.Duration
}

func (cfg Config) stopTimeout() time.Duration {
	if cfg.StopTimeout <= 0 {
		return 30 * time.Second
	}
	return cfg.StopTimeout
}

// batchRunner is the subset of the orchestrator the scheduler depends on.
type batchRunner interface {
	RunBatch(ctx context.Context) (courier.BatchSummary, error)
}

// Scheduler owns the cron loop. Ticks that land while a batch is still
// running are skipped, never queued.
type Scheduler struct {
	runner  batchRunner
	cfg     Config
	cron    *cron.Cron
	logger  *zap.Logger
	mu      sync.RWMutex
	entryID cron.EntryID
	running bool
}

// New constructs a Scheduler. The schedule expression is validated when
// Start registers it.
func New(runner batchRunner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, errors.New("batch runner is required")
	}
	if cfg.Schedule == "" {
		return nil, errors.New("schedule is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cronLogger{s: logger.Sugar()}),
	))
	return &Scheduler{
		runner: runner,
		cfg:    cfg,
		cron:   c,
		logger: logger,
	}, nil
}

// Start registers the batch job and starts the cron loop. ctx is the base
// context scheduled runs derive from; canceling it makes later ticks no-ops.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("scheduler is already running")
	}
	entryID, err := s.cron.AddFunc(s.cfg.Schedule, func() { s.runBatch(ctx) })
	if err != nil {
		return fmt.Errorf("parse schedule %q: %w", s.cfg.Schedule, err)
	}
	s.entryID = entryID
	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started",
		zap.String("schedule", s.cfg.Schedule),
		zap.Time("next_run", s.cron.Entry(entryID).Next))
	return nil
}

// Stop halts the cron loop and waits for a running batch, up to the stop
// timeout.
func (s *Scheduler) Stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.logger.Info("scheduler stopped")
	case <-time.After(s.cfg.stopTimeout()):
		s.logger.Warn("scheduler stop timed out, abandoning running batch")
	}
	s.running = false
}

// Running reports whether the cron loop is active.
func (s *Scheduler) Running() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// NextRun returns the next scheduled batch time, or the zero time when the
// scheduler is stopped. A nil Scheduler reports the zero time, so an optional
// instance can be queried without a guard.
func (s *Scheduler) NextRun() time.Time {
	if s == nil {
		return time.Time{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

func (s *Scheduler) runBatch(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	runCtx := ctx
	if s.cfg.BatchTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.cfg.BatchTimeout)
		defer cancel()
	}
	summary, err := s.runner.RunBatch(runCtx)
	if err != nil {
		if errors.Is(err, batch.ErrBatchRunning) {
			s.logger.Warn("batch already running, skipping tick")
			return
		}
		s.logger.Error("scheduled batch failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled batch finished",
		zap.String("batch_id", summary.BatchID),
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
}

// cronLogger adapts zap to the cron logger interface.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Infow(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
