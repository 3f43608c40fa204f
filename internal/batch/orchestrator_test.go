package batch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/metrics"
	"github.com/presslane/edition-courier/internal/store/memory"
)

func activePub(id string) courier.Publication {
	return courier.Publication{ID: id, Name: id, Active: true, MailEnabled: true}
}

type orchestratorFixture struct {
	runner    *fakeRunner
	source    *fakeSource
	registry  *memory.Registry
	directory *memory.Directory
	notifier  *fakeNotifier
	clock     *fakeClock
	orch      *Orchestrator
}

func newOrchestratorFixture(t *testing.T, pubs ...courier.Publication) *orchestratorFixture {
	t.Helper()
	metrics.Init()
	ctx := context.Background()

	f := &orchestratorFixture{
		runner: &fakeRunner{
			results: map[string]courier.PublicationResult{},
			errs:    map[string]error{},
			panics:  map[string]bool{},
		},
		source:    &fakeSource{},
		registry:  memory.NewRegistry(),
		directory: memory.NewDirectory(),
		notifier:  &fakeNotifier{},
		clock:     &fakeClock{now: time.Date(2025, 3, 14, 6, 0, 0, 0, time.UTC)},
	}
	for _, pub := range pubs {
		require.NoError(t, f.directory.UpsertPublication(ctx, pub))
	}
	f.orch = newWithRunner(
		f.runner,
		f.source,
		f.registry,
		f.directory,
		f.notifier,
		f.clock,
		fixedIDs{id: "batch-test"},
		courier.NewExponentialRetryPolicy(2, time.Millisecond, 4*time.Millisecond),
		OrchestratorConfig{RetentionHorizon: 30 * 24 * time.Hour},
		zap.NewNop(),
	)
	return f
}

func TestOrchestratorRunBatchCounts(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("bulletin"), activePub("gazette"), activePub("review"))
	f.runner.results["bulletin"] = courier.PublicationResult{
		PublicationID: "bulletin",
		Success:       true,
		Counts:        courier.DeliveryCounts{MailSent: 2},
	}
	f.runner.results["gazette"] = courier.PublicationResult{
		PublicationID:    "gazette",
		Success:          true,
		AlreadyProcessed: true,
	}
	f.runner.results["review"] = courier.PublicationResult{
		PublicationID: "review",
		FailedStage:   courier.StageFetching,
		ErrorText:     "download edition: gone",
	}

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)

	require.Equal(t, "batch-test", summary.BatchID)
	require.Equal(t, 3, summary.Processed)
	require.Equal(t, 1, summary.Succeeded)
	require.Equal(t, 1, summary.Skipped)
	require.Equal(t, 1, summary.Failed)
	require.False(t, summary.Halted)
	require.Len(t, summary.Results, 3)
	require.Equal(t, []string{"bulletin", "gazette", "review"}, f.runner.ranIDs())
	require.Equal(t, 1, f.source.logins)

	require.Equal(t, 1, f.notifier.count())
	require.Equal(t, summary, f.notifier.lastSummary())
}

func TestOrchestratorHaltsOnAuthFailure(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("bulletin"), activePub("gazette"), activePub("review"))
	authErr := courier.NewAuthError("send message", errors.New("invalid grant"))
	f.runner.results["gazette"] = courier.PublicationResult{
		PublicationID: "gazette",
		FailedStage:   courier.StageDistributing,
		ErrorText:     authErr.Error(),
	}
	f.runner.errs["gazette"] = authErr

	summary, err := f.orch.RunBatch(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "batch halted")

	require.True(t, summary.Halted)
	require.Contains(t, summary.HaltReason, "authentication failed")
	require.Equal(t, 2, summary.Processed)
	require.Equal(t, 1, summary.Failed)
	// review is never attempted once the batch halts.
	require.Equal(t, []string{"bulletin", "gazette"}, f.runner.ranIDs())
	require.Equal(t, 1, f.notifier.count())
	require.True(t, f.notifier.lastSummary().Halted)
}

func TestOrchestratorRecoversFromPanic(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("bulletin"), activePub("gazette"), activePub("review"))
	f.runner.panics["gazette"] = true

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)

	require.False(t, summary.Halted)
	require.Equal(t, 3, summary.Processed)
	require.Equal(t, 2, summary.Succeeded)
	require.Equal(t, 1, summary.Failed)
	require.Equal(t, []string{"bulletin", "gazette", "review"}, f.runner.ranIDs())

	crashed := summary.Results[1]
	require.Equal(t, "gazette", crashed.PublicationID)
	require.False(t, crashed.Success)
	require.Equal(t, courier.StageFailed, crashed.FailedStage)
	require.Contains(t, crashed.ErrorText, "panic")
}

func TestOrchestratorLoginFailureHaltsBatch(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("gazette"))
	f.source.loginErr = courier.NewAuthError("login", errors.New("portal rejected credentials"))

	summary, err := f.orch.RunBatch(context.Background())
	require.Error(t, err)

	require.True(t, summary.Halted)
	require.Contains(t, summary.HaltReason, "portal login")
	require.Zero(t, summary.Processed)
	require.Empty(t, f.runner.ranIDs())
	// Auth failures are not retried.
	require.Equal(t, 1, f.source.logins)
	require.Equal(t, 1, f.notifier.count())
}

func TestOrchestratorLoginRetriesTransient(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("gazette"))
	f.source.loginErr = courier.NewTransientError("login", errors.New("portal warming up"))
	f.source.loginFailures = 1

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)
	require.False(t, summary.Halted)
	require.Equal(t, 2, f.source.logins)
	require.Equal(t, []string{"gazette"}, f.runner.ranIDs())
}

func TestOrchestratorRejectsConcurrentRuns(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("gazette"))
	f.runner.block = make(chan struct{})

	done := make(chan courier.BatchSummary, 1)
	go func() {
		summary, _ := f.orch.RunBatch(context.Background())
		done <- summary
	}()

	require.Eventually(t, func() bool { return f.orch.Running() }, time.Second, 5*time.Millisecond)

	_, err := f.orch.RunBatch(context.Background())
	require.ErrorIs(t, err, ErrBatchRunning)

	close(f.runner.block)
	summary := <-done
	require.Equal(t, 1, summary.Processed)
	require.False(t, f.orch.Running())
}

func TestOrchestratorCleanupPurgesRegistry(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("gazette"))
	ctx := context.Background()

	stale := time.Now().UTC().Add(-45 * 24 * time.Hour)
	fresh := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, f.registry.MarkProcessed(ctx, courier.ProcessedEdition{
		PublicationID: "gazette",
		EditionKey:    "1000_gazette",
		FetchedAt:     &stale,
		FinalizedAt:   &stale,
	}))
	require.NoError(t, f.registry.MarkProcessed(ctx, courier.ProcessedEdition{
		PublicationID: "gazette",
		EditionKey:    "1041_gazette",
		FetchedAt:     &fresh,
		FinalizedAt:   &fresh,
	}))

	summary, err := f.orch.RunBatch(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.RegistryPurged)
	require.Equal(t, 1, f.registry.Len())
}

func TestOrchestratorLastSummary(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("gazette"))

	_, ok := f.orch.LastSummary()
	require.False(t, ok)

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)

	last, ok := f.orch.LastSummary()
	require.True(t, ok)
	require.Equal(t, summary, last)
}

func TestOrchestratorNotifiesEmptyBatch(t *testing.T) {
	f := newOrchestratorFixture(t)

	summary, err := f.orch.RunBatch(context.Background())
	require.NoError(t, err)
	require.Zero(t, summary.Processed)
	require.False(t, summary.Halted)
	require.Equal(t, 1, f.notifier.count())
}

func TestOrchestratorIDGenerationFailure(t *testing.T) {
	f := newOrchestratorFixture(t, activePub("gazette"))
	f.orch.ids = fixedIDs{err: errors.New("entropy exhausted")}

	_, err := f.orch.RunBatch(context.Background())
	require.Error(t, err)
	require.Zero(t, f.notifier.count())
	require.Empty(t, f.runner.ranIDs())
}

// --- fakes ---

type fakeRunner struct {
	mu      sync.Mutex
	results map[string]courier.PublicationResult
	errs    map[string]error
	panics  map[string]bool
	block   chan struct{}
	ran     []string
}

func (r *fakeRunner) Run(_ context.Context, _ string, pub courier.Publication, _ []courier.Recipient) (courier.PublicationResult, error) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.ran = append(r.ran, pub.ID)
	r.mu.Unlock()
	if r.panics[pub.ID] {
		panic("boom: " + pub.ID)
	}
	res, ok := r.results[pub.ID]
	if !ok {
		res = courier.PublicationResult{PublicationID: pub.ID, Success: true}
	}
	return res, r.errs[pub.ID]
}

func (r *fakeRunner) ranIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.ran))
	copy(out, r.ran)
	return out
}

type fakeNotifier struct {
	mu        sync.Mutex
	summaries []courier.BatchSummary
	err       error
}

func (n *fakeNotifier) NotifyBatch(_ context.Context, summary courier.BatchSummary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.summaries)
}

func (n *fakeNotifier) lastSummary() courier.BatchSummary {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.summaries) == 0 {
		return courier.BatchSummary{}
	}
	return n.summaries[len(n.summaries)-1]
}

type fixedIDs struct {
	id  string
	err error
}

func (g fixedIDs) NewID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	return g.id, nil
}
