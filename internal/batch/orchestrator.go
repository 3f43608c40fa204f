package batch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/metrics"
)

// ErrBatchRunning is returned when a batch is requested while one is active.
// Batches are strictly serialized; there is no queueing.
var ErrBatchRunning = errors.New("a batch is already running")

// OrchestratorConfig controls Orchestrator behavior.
type OrchestratorConfig struct {
	// RetentionHorizon bounds how long processed-edition records are kept.
	// Zero disables the per-batch cleanup.
	RetentionHorizon time.Duration
	// NotifyTimeout bounds the post-batch notification fan-out.
	NotifyTimeout time.Duration
}

func (cfg OrchestratorConfig) notifyTimeout() time.Duration {
	if cfg.NotifyTimeout <= 0 {
		return 30 * time.Second
	}
	return cfg.NotifyTimeout
}

// publicationRunner is the subset of Pipeline the orchestrator depends on.
type publicationRunner interface {
	Run(ctx context.Context, batchID string, pub courier.Publication, recipients []courier.Recipient) (courier.PublicationResult, error)
}

// Orchestrator drives one batch: login, every active publication through the
// pipeline in order, registry cleanup, and a single consolidated
// notification. Publications are isolated from each other; only
// authentication failures and context cancellation halt the loop.
type Orchestrator struct {
	runner    publicationRunner
	source    courier.Source
	registry  courier.Registry
	directory courier.Directory
	notifier  courier.Notifier
	clock     courier.Clock
	ids       courier.IDGenerator
	retry     *courier.ExponentialRetryPolicy
	cfg       OrchestratorConfig
	logger    *zap.Logger

	running atomic.Bool
	mu      sync.RWMutex
	last    *courier.BatchSummary
}

// NewOrchestrator constructs an Orchestrator around a Pipeline.
func NewOrchestrator(
	pipeline *Pipeline,
	source courier.Source,
	registry courier.Registry,
	directory courier.Directory,
	notifier courier.Notifier,
	clock courier.Clock,
	ids courier.IDGenerator,
	retry *courier.ExponentialRetryPolicy,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	return newWithRunner(pipeline, source, registry, directory, notifier, clock, ids, retry, cfg, logger)
}

func newWithRunner(
	runner publicationRunner,
	source courier.Source,
	registry courier.Registry,
	directory courier.Directory,
	notifier courier.Notifier,
	clock courier.Clock,
	ids courier.IDGenerator,
	retry *courier.ExponentialRetryPolicy,
	cfg OrchestratorConfig,
	logger *zap.Logger,
) *Orchestrator {
	if retry == nil {
		retry = courier.NewExponentialRetryPolicy(0, 0, 0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		runner:    runner,
		source:    source,
		registry:  registry,
		directory: directory,
		notifier:  notifier,
		clock:     clock,
		ids:       ids,
		retry:     retry,
		cfg:       cfg,
		logger:    logger.Named("orchestrator"),
	}
}

// Running reports whether a batch is currently executing.
func (o *Orchestrator) Running() bool { return o.running.Load() }

// LastSummary returns the most recently finished batch, if any.
func (o *Orchestrator) LastSummary() (courier.BatchSummary, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.last == nil {
		return courier.BatchSummary{}, false
	}
	return *o.last, true
}

// RunBatch executes one full batch and returns its summary. The error is
// ErrBatchRunning when a batch is already active, and a halt description when
// the batch stopped early; per-publication failures alone do not produce one.
func (o *Orchestrator) RunBatch(ctx context.Context) (courier.BatchSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		return courier.BatchSummary{}, ErrBatchRunning
	}
	defer o.running.Store(false)

	batchID, err := o.ids.NewID()
	if err != nil {
		return courier.BatchSummary{}, fmt.Errorf("batch id: %w", err)
	}
	logger := o.logger.With(zap.String("batch_id", batchID))
	summary := courier.BatchSummary{BatchID: batchID, StartedAt: o.clock.Now()}
	metrics.BatchStarted()
	logger.Info("batch started")

	o.runAll(ctx, logger, &summary)
	o.cleanupRegistry(ctx, logger, &summary)

	summary.FinishedAt = o.clock.Now()
	metrics.BatchFinished(batchStatus(summary), summary.FinishedAt.Sub(summary.StartedAt))
	o.notify(ctx, logger, summary)
	o.setLast(summary)

	logger.Info("batch finished",
		zap.Int("processed", summary.Processed),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Bool("halted", summary.Halted))
	if summary.Halted {
		return summary, fmt.Errorf("batch halted: %s", summary.HaltReason)
	}
	return summary, nil
}

func (o *Orchestrator) runAll(ctx context.Context, logger *zap.Logger, summary *courier.BatchSummary) {
	if err := o.login(ctx); err != nil {
		logger.Error("portal login failed", zap.Error(err))
		o.halt(summary, fmt.Errorf("portal login: %w", err))
		return
	}
	pubs, err := o.directory.ActivePublications(ctx)
	if err != nil {
		logger.Error("list publications failed", zap.Error(err))
		o.halt(summary, fmt.Errorf("list publications: %w", err))
		return
	}
	if len(pubs) == 0 {
		logger.Info("no active publications")
		return
	}
	// One recipient snapshot per batch so every publication sees the same
	// directory state.
	recipients, err := o.directory.ListRecipients(ctx)
	if err != nil {
		logger.Error("list recipients failed", zap.Error(err))
		o.halt(summary, fmt.Errorf("list recipients: %w", err))
		return
	}
	logger.Info("batch scope",
		zap.Int("publications", len(pubs)),
		zap.Int("recipients", len(recipients)))

	for _, pub := range pubs {
		if ctx.Err() != nil {
			o.halt(summary, fmt.Errorf("batch canceled: %w", ctx.Err()))
			return
		}
		res, err := o.runOne(ctx, summary.BatchID, pub, recipients)
		summary.Results = append(summary.Results, res)
		summary.Processed++
		switch {
		case res.Skipped():
			summary.Skipped++
		case res.Success:
			summary.Succeeded++
		default:
			summary.Failed++
		}
		if err != nil {
			logger.Error("halting batch",
				zap.String("publication", pub.ID),
				zap.Error(err))
			o.halt(summary, err)
			return
		}
	}
}

// runOne shields the batch from a panicking publication. A panic becomes a
// failed result for that publication and the loop moves on.
func (o *Orchestrator) runOne(ctx context.Context, batchID string, pub courier.Publication, recipients []courier.Recipient) (res courier.PublicationResult, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			o.logger.Error("publication panicked",
				zap.String("batch_id", batchID),
				zap.String("publication", pub.ID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			res = courier.PublicationResult{
				PublicationID:   pub.ID,
				PublicationName: pub.Name,
				FailedStage:     courier.StageFailed,
				ErrorText:       fmt.Sprintf("panic: %v", rec),
			}
			err = nil
		}
	}()
	return o.runner.Run(ctx, batchID, pub, recipients)
}

func (o *Orchestrator) login(ctx context.Context) error {
	return o.retry.Do(ctx, func() error {
		return o.source.Login(ctx)
	})
}

func (o *Orchestrator) halt(summary *courier.BatchSummary, err error) {
	if summary.Halted {
		return
	}
	summary.Halted = true
	summary.HaltReason = err.Error()
}

func (o *Orchestrator) cleanupRegistry(ctx context.Context, logger *zap.Logger, summary *courier.BatchSummary) {
	if o.cfg.RetentionHorizon <= 0 || ctx.Err() != nil {
		return
	}
	purged, err := o.registry.CleanupOlderThan(ctx, o.cfg.RetentionHorizon)
	if err != nil {
		logger.Warn("registry cleanup failed", zap.Error(err))
		return
	}
	if purged > 0 {
		logger.Info("registry cleaned", zap.Int64("purged", purged))
	}
	summary.RegistryPurged = purged
	metrics.AddRegistryPurged(purged)
}

// notify sends the consolidated batch report. It goes out exactly once per
// batch, halted or not, and survives cancellation of the batch context.
func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, summary courier.BatchSummary) {
	if o.notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.notifyTimeout())
	defer cancel()
	if err := o.notifier.NotifyBatch(nctx, summary); err != nil {
		logger.Error("batch notification failed", zap.Error(err))
	}
}

func (o *Orchestrator) setLast(summary courier.BatchSummary) {
	o.mu.Lock()
	o.last = &summary
	o.mu.Unlock()
}

func batchStatus(summary courier.BatchSummary) string {
	switch {
	case summary.Halted:
		return "halted"
	case summary.Failed > 0:
		return "partial"
	default:
		return "ok"
	}
}
