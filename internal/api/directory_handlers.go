package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
)

const directoryTimeout = 3 * time.Second

// DirectoryHandler exposes publication and recipient administration. Writes
// are upserts; the batch picks up changes on its next run.
type DirectoryHandler struct {
	directory courier.Directory
	clock     courier.Clock
	timeout   time.Duration
	logger    *zap.Logger
}

// NewDirectoryHandler wires the directory store and logger.
func NewDirectoryHandler(directory courier.Directory, clock courier.Clock, logger *zap.Logger) *DirectoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryHandler{
		directory: directory,
		clock:     clock,
		timeout:   directoryTimeout,
		logger:    logger,
	}
}

// ListPublications handles GET /v1/publications. It returns a JSON object
// {"publications": [...]} on success, 503 when the directory is unavailable,
// or 500 if the store call fails.
func (h *DirectoryHandler) ListPublications(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	pubs, err := h.directory.ListPublications(ctx)
	if err != nil {
		h.logger.Error("list publications failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list publications")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"publications": pubs})
}

// GetPublication handles GET /v1/publications/{publication_id}. It returns
// {"publication": {...}} on success, 400 for a missing ID, 404 when the
// publication does not exist, or 500 otherwise.
func (h *DirectoryHandler) GetPublication(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	id := chi.URLParam(r, "publication_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "publication_id is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	pub, err := h.directory.GetPublication(ctx, id)
	if err != nil {
		if errors.Is(err, courier.ErrNotFound) {
			writeError(w, http.StatusNotFound, "publication not found")
			return
		}
		h.logger.Error("get publication failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load publication")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"publication": pub})
}

// UpsertPublication handles POST /v1/publications. The body is a full
// publication document; it replaces any existing row with the same ID.
// Returns 200 with the stored publication, 400 for invalid payloads, or 500
// for store errors.
func (h *DirectoryHandler) UpsertPublication(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	var pub courier.Publication
	if err := json.NewDecoder(r.Body).Decode(&pub); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if strings.TrimSpace(pub.ID) == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if strings.TrimSpace(pub.Name) == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	now := h.clock.Now().UTC()
	pub.UpdatedAt = now
	if pub.CreatedAt.IsZero() {
		pub.CreatedAt = now
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.directory.UpsertPublication(ctx, pub); err != nil {
		h.logger.Error("upsert publication failed", zap.String("publication", pub.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store publication")
		return
	}
	h.logger.Info("publication upserted", zap.String("publication", pub.ID))
	writeJSON(w, http.StatusOK, map[string]any{"publication": pub})
}

// ListRecipients handles GET /v1/recipients. It returns {"recipients": [...]}
// on success, 503 when the directory is unavailable, or 500 if the store
// call fails.
func (h *DirectoryHandler) ListRecipients(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	recips, err := h.directory.ListRecipients(ctx)
	if err != nil {
		h.logger.Error("list recipients failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list recipients")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipients": recips})
}

// GetRecipient handles GET /v1/recipients/{address}. It returns
// {"recipient": {...}} on success, 400 for a missing address, 404 when the
// recipient does not exist, or 500 otherwise.
func (h *DirectoryHandler) GetRecipient(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	address := chi.URLParam(r, "address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address is required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	rec, err := h.directory.GetRecipient(ctx, address)
	if err != nil {
		if errors.Is(err, courier.ErrNotFound) {
			writeError(w, http.StatusNotFound, "recipient not found")
			return
		}
		h.logger.Error("get recipient failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load recipient")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recipient": rec})
}

// UpsertRecipient handles POST /v1/recipients. The body is a full recipient
// document including preferences; it replaces any existing row with the same
// address. Returns 200 with the stored recipient, 400 for invalid payloads,
// or 500 for store errors.
func (h *DirectoryHandler) UpsertRecipient(w http.ResponseWriter, r *http.Request) {
	if h.directory == nil {
		writeError(w, http.StatusServiceUnavailable, "directory unavailable")
		return
	}
	var rec courier.Recipient
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := validateRecipient(rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.directory.UpsertRecipient(ctx, rec); err != nil {
		h.logger.Error("upsert recipient failed", zap.String("recipient", rec.Address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store recipient")
		return
	}
	h.logger.Info("recipient upserted",
		zap.String("recipient", rec.Address),
		zap.Int("preferences", len(rec.Preferences)),
	)
	writeJSON(w, http.StatusOK, map[string]any{"recipient": rec})
}

func validateRecipient(rec courier.Recipient) error {
	address := strings.TrimSpace(rec.Address)
	if address == "" {
		return errors.New("address is required")
	}
	if !strings.Contains(address, "@") {
		return errors.New("invalid address")
	}
	for _, pref := range rec.Preferences {
		if strings.TrimSpace(pref.PublicationID) == "" {
			return errors.New("preference publication_id is required")
		}
	}
	return nil
}
