package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/batch"
	"github.com/presslane/edition-courier/internal/config"
	"github.com/presslane/edition-courier/internal/courier"
	"github.com/presslane/edition-courier/internal/metrics"
)

// batchControl is the subset of the orchestrator the server needs: start a
// run, ask whether one is in flight, and read the last summary.
type batchControl interface {
	RunBatch(ctx context.Context) (courier.BatchSummary, error)
	Running() bool
	LastSummary() (courier.BatchSummary, bool)
}

// scheduleInfo reports cron state for the status endpoint. Nil when the
// scheduler is disabled.
type scheduleInfo interface {
	Running() bool
	NextRun() time.Time
}

// Server wires HTTP handlers to the orchestrator and the directory.
type Server struct {
	router    chi.Router
	batch     batchControl
	sched     scheduleInfo
	directory courier.Directory
	clock     courier.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	batchCtl batchControl,
	sched scheduleInfo,
	directory courier.Directory,
	clock courier.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		batch:     batchCtl,
		sched:     sched,
		directory: directory,
		clock:     clock,
		cfg:       cfg,
		logger:    logger.Named("api"),
	}

	dir := NewDirectoryHandler(directory, clock, s.logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/batch", func(r chi.Router) {
			r.Post("/run", s.runBatch)
			r.Get("/last", s.lastBatch)
			r.Get("/status", s.batchStatus)
		})
		r.Route("/publications", func(r chi.Router) {
			r.Get("/", dir.ListPublications)
			r.Post("/", dir.UpsertPublication)
			r.Get("/{publication_id}", dir.GetPublication)
		})
		r.Route("/recipients", func(r chi.Router) {
			r.Get("/", dir.ListRecipients)
			r.Post("/", dir.UpsertRecipient)
			r.Get("/{address}", dir.GetRecipient)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe runs the HTTP server until ctx is canceled or the
// listener fails, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz answers ready only when the directory store responds, so a broken
// database takes the instance out of rotation.
func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if _, err := s.directory.ListPublications(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "directory store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// runBatch starts a delivery batch outside the cron schedule. The run
// happens in the background; the response only acknowledges the kickoff.
//
// Responses:
//   - 202 Accepted when the batch was started.
//   - 409 Conflict when a batch is already running.
func (s *Server) runBatch(w http.ResponseWriter, r *http.Request) {
	if s.batch.Running() {
		writeError(w, http.StatusConflict, "a batch is already running")
		return
	}

	// Detached from the request context so the batch survives the caller
	// hanging up. The orchestrator itself rejects overlapping runs.
	ctx := context.WithoutCancel(r.Context())
	go func() {
		if _, err := s.batch.RunBatch(ctx); err != nil && !errors.Is(err, batch.ErrBatchRunning) {
			s.logger.Error("manual batch failed", zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// lastBatch returns the summary of the most recently finished batch.
//
// Responses:
//   - 200 OK with the summary.
//   - 404 Not Found when no batch has finished since startup.
func (s *Server) lastBatch(w http.ResponseWriter, _ *http.Request) {
	summary, ok := s.batch.LastSummary()
	if !ok {
		writeError(w, http.StatusNotFound, "no batch has finished yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"batch": summary})
}

type batchStatusResponse struct {
	Running     bool       `json:"running"`
	SchedulerOn bool       `json:"scheduler_on"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}

// batchStatus reports whether a batch is in flight and when the scheduler
// fires next.
func (s *Server) batchStatus(w http.ResponseWriter, _ *http.Request) {
	resp := batchStatusResponse{Running: s.batch.Running()}
	if s.sched != nil {
		resp.SchedulerOn = s.sched.Running()
		if next := s.sched.NextRun(); !next.IsZero() {
			resp.NextRun = &next
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)

			reqID, _ := r.Context().Value(requestIDKey{}).(string)
			logger.Info("request completed",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("path", r.URL.Path),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
