// Package memory provides in-memory implementations of the registry and
// directory stores. They are used by tests and by local runs that have no
// Postgres available; all methods are safe for concurrent use.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/presslane/edition-courier/internal/courier"
)

// Registry tracks processed editions in a process-local map.
type Registry struct {
	mu      sync.RWMutex
	records map[string]courier.ProcessedEdition
}

// NewRegistry creates an empty in-memory registry.
func NewRegistry() *Registry {
	return &Registry{records: make(map[string]courier.ProcessedEdition)}
}

func registryKey(publicationID, editionKey string) string {
	return publicationID + "\x00" + editionKey
}

// IsProcessed reports whether the edition has been finalized. Records that
// were marked mid-run but never finalized do not count, so an interrupted
// edition is picked up again on the next batch.
func (r *Registry) IsProcessed(_ context.Context, publicationID, editionKey string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[registryKey(publicationID, editionKey)]
	return ok && rec.FinalizedAt != nil, nil
}

// GetProcessed returns the stored record, or courier.ErrNotFound.
func (r *Registry) GetProcessed(_ context.Context, publicationID, editionKey string) (courier.ProcessedEdition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[registryKey(publicationID, editionKey)]
	if !ok {
		return courier.ProcessedEdition{}, courier.ErrNotFound
	}
	return rec, nil
}

// MarkProcessed inserts or updates the record. Scalar fields take the new
// value; timestamps already set on the stored record are kept when the new
// record omits them, so repeated marking never loses an earlier step.
func (r *Registry) MarkProcessed(_ context.Context, rec courier.ProcessedEdition) error {
	if rec.PublicationID == "" || rec.EditionKey == "" {
		return fmt.Errorf("publication id and edition key are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey(rec.PublicationID, rec.EditionKey)
	if prev, ok := r.records[key]; ok {
		rec.FetchedAt = coalesce(rec.FetchedAt, prev.FetchedAt)
		rec.MailedAt = coalesce(rec.MailedAt, prev.MailedAt)
		rec.UploadedAt = coalesce(rec.UploadedAt, prev.UploadedAt)
		rec.ArchivedAt = coalesce(rec.ArchivedAt, prev.ArchivedAt)
		rec.FinalizedAt = coalesce(rec.FinalizedAt, prev.FinalizedAt)
	}
	r.records[key] = rec
	return nil
}

// CleanupOlderThan removes records fetched before now minus the horizon and
// returns how many were purged.
func (r *Registry) CleanupOlderThan(_ context.Context, horizon time.Duration) (int64, error) {
	if horizon <= 0 {
		return 0, fmt.Errorf("horizon must be positive")
	}
	cutoff := time.Now().UTC().Add(-horizon)

	r.mu.Lock()
	defer r.mu.Unlock()

	var purged int64
	for key, rec := range r.records {
		if rec.FetchedAt != nil && rec.FetchedAt.Before(cutoff) {
			delete(r.records, key)
			purged++
		}
	}
	return purged, nil
}

// Len reports how many records are held. Test helper.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func coalesce(v, fallback *time.Time) *time.Time {
	if v != nil {
		return v
	}
	return fallback
}
