package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/config"
	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/store/memory"
)

func TestServerRunBatchAccepted(t *testing.T) {
	t.Parallel()

	batchCtl := &fakeBatchControl{}
	server := newTestServerWith(batchCtl, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/batch/run", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Contains(t, rec.Body.String(), "accepted")
	// The run happens on a background goroutine after the 202.
	require.Eventually(t, func() bool {
		return batchCtl.callCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestServerRunBatchConflict(t *testing.T) {
	t.Parallel()

	batchCtl := &fakeBatchControl{running: true}
	server := newTestServerWith(batchCtl, nil)

	req := httptest.NewRequest(http.MethodPost, "/v1/batch/run", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)
	require.Contains(t, rec.Body.String(), "already running")
	require.Equal(t, 0, batchCtl.callCount())
}

func TestServerLastBatchNotFound(t *testing.T) {
	t.Parallel()

	server := newTestServerWith(&fakeBatchControl{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/batch/last", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerLastBatchReturnsSummary(t *testing.T) {
	t.Parallel()

	batchCtl := &fakeBatchControl{
		last: &courier.BatchSummary{BatchID: "batch-7", Processed: 3, Succeeded: 2, Failed: 1},
	}
	server := newTestServerWith(batchCtl, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/batch/last", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "batch-7")
}

func TestServerBatchStatusWithScheduler(t *testing.T) {
	t.Parallel()

	next := time.Date(2025, 3, 15, 7, 0, 0, 0, time.UTC)
	server := newTestServerWith(
		&fakeBatchControl{running: true},
		&fakeScheduleInfo{running: true, next: next},
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/batch/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body batchStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.True(t, body.Running)
	require.True(t, body.SchedulerOn)
	require.NotNil(t, body.NextRun)
	require.True(t, next.Equal(*body.NextRun))
}

func TestServerBatchStatusWithoutScheduler(t *testing.T) {
	t.Parallel()

	server := newTestServerWith(&fakeBatchControl{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/batch/status", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body batchStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Running)
	require.False(t, body.SchedulerOn)
	require.Nil(t, body.NextRun)
}

func TestServerHealthz(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "ok")
}

func TestServerReadyzChecksDirectory(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	broken := NewServer(
		&fakeBatchControl{},
		nil,
		&failingDirectory{err: errors.New("connection refused")},
		&fakeClock{now: time.Unix(100, 0)},
		config.Config{},
		zap.NewNop(),
	)
	req = httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec = httptest.NewRecorder()
	broken.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServerMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server := newTestServer()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "# HELP")
}

func TestServerPublicationRoutes(t *testing.T) {
	t.Parallel()

	server := newTestServer()

	body := []byte(`{"id":"gazette","name":"The Weekly Gazette","active":true,"mail_enabled":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/publications", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/publications", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "The Weekly Gazette")

	req = httptest.NewRequest(http.MethodGet, "/v1/publications/gazette", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gazette")

	req = httptest.NewRequest(http.MethodGet, "/v1/publications/missing", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServerRecipientRoutes(t *testing.T) {
	t.Parallel()

	server := newTestServer()

	body := []byte(`{"address":"anna@example.com","active":true,"preferences":[{"publication_id":"gazette","enabled":true,"mail":true}]}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/recipients", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/recipients", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "anna@example.com")

	req = httptest.NewRequest(http.MethodGet, "/v1/recipients/anna@example.com", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gazette")
}

func TestServerAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Auth: config.AuthConfig{Enabled: true, APIKey: "secret"},
	}
	server := NewServer(
		&fakeBatchControl{},
		nil,
		memory.NewDirectory(),
		&fakeClock{now: time.Unix(100, 0)},
		cfg,
		zap.NewNop(),
	)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/healthz?api_key=secret", nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	newTestServer().Handler().ServeHTTP(rec, req)

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

// --- helpers/fakes ---

func newTestServer() *Server {
	return newTestServerWith(&fakeBatchControl{}, nil)
}

func newTestServerWith(batchCtl batchControl, sched scheduleInfo) *Server {
	return NewServer(
		batchCtl,
		sched,
		memory.NewDirectory(),
		&fakeClock{now: time.Unix(100, 0)},
		config.Config{},
		zap.NewNop(),
	)
}

type fakeBatchControl struct {
	mu      sync.Mutex
	calls   int
	running bool
	last    *courier.BatchSummary
	err     error
}

func (f *fakeBatchControl) RunBatch(context.Context) (courier.BatchSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return courier.BatchSummary{}, f.err
	}
	return courier.BatchSummary{BatchID: "batch-test"}, nil
}

func (f *fakeBatchControl) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeBatchControl) LastSummary() (courier.BatchSummary, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return courier.BatchSummary{}, false
	}
	return *f.last, true
}

func (f *fakeBatchControl) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeScheduleInfo struct {
	running bool
	next    time.Time
}

func (f *fakeScheduleInfo) Running() bool { return f.running }

func (f *fakeScheduleInfo) NextRun() time.Time { return f.next }

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

// failingDirectory errors on every call, standing in for a downed database.
type failingDirectory struct {
	err error
}

func (d *failingDirectory) ActivePublications(context.Context) ([]courier.Publication, error) {
	return nil, d.err
}

func (d *failingDirectory) GetPublication(context.Context, string) (courier.Publication, error) {
	return courier.Publication{}, d.err
}

func (d *failingDirectory) UpsertPublication(context.Context, courier.Publication) error {
	return d.err
}

func (d *failingDirectory) ListPublications(context.Context) ([]courier.Publication, error) {
	return nil, d.err
}

func (d *failingDirectory) GetRecipient(context.Context, string) (courier.Recipient, error) {
	return courier.Recipient{}, d.err
}

func (d *failingDirectory) UpsertRecipient(context.Context, courier.Recipient) error {
	return d.err
}

func (d *failingDirectory) ListRecipients(context.Context) ([]courier.Recipient, error) {
	return nil, d.err
}

func (d *failingDirectory) RecordSend(context.Context, string, string, time.Time) error {
	return d.err
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
