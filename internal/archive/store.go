// Package archive implements the long-term edition store and read-through
// cache on top of pluggable object-store backends (GCS, local filesystem,
// in-memory).
package archive

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/presslane/edition-courier/internal/courier"
)

// Backend is the object-level contract implemented by the gcs, local and
// memory stores. Get returns courier.ErrNotFound on a miss.
type Backend interface {
	Name() string
	Exists(ctx context.Context, path string) (bool, error)
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, contentType string, data []byte, tags map[string]string) (string, error)
}

// Store implements courier.Archive over a Backend using the deterministic
// {year}/{publication_id}/{filename} layout.
type Store struct {
	backend     Backend
	contentType string
	clock       courier.Clock
	logger      *zap.Logger
}

// New creates a Store over the given backend.
func New(backend Backend, contentType string, clock courier.Clock, logger *zap.Logger) *Store {
	return &Store{
		backend:     backend,
		contentType: contentType,
		clock:       clock,
		logger:      logger.Named("archive"),
	}
}

// Exists reports whether the edition is already archived.
func (s *Store) Exists(ctx context.Context, pub courier.Publication, ed courier.Edition) (bool, error) {
	return s.backend.Exists(ctx, ObjectPath(pub, ed, s.clock.Now()))
}

// Fetch reads the archived bytes for the edition, returning
// courier.ErrNotFound on a miss.
func (s *Store) Fetch(ctx context.Context, pub courier.Publication, ed courier.Edition) ([]byte, error) {
	objectPath := ObjectPath(pub, ed, s.clock.Now())
	data, err := s.backend.Get(ctx, objectPath)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", objectPath, err)
	}
	s.logger.Debug("cache hit",
		zap.String("publication", pub.ID),
		zap.String("edition", ed.Key()),
		zap.String("path", objectPath))
	return data, nil
}

// Store archives the payload with ASCII-safe metadata tags, including its
// content digest, and returns the resulting location.
func (s *Store) Store(ctx context.Context, pub courier.Publication, ed courier.Edition, payload courier.Payload) (courier.ArchiveLocation, error) {
	now := s.clock.Now()
	objectPath := ObjectPath(pub, ed, now)
	uri, err := s.backend.Put(ctx, objectPath, s.contentType, payload.Data, Tags(pub, ed, payload.ContentHash, now))
	if err != nil {
		return courier.ArchiveLocation{}, fmt.Errorf("archive %s: %w", objectPath, err)
	}
	return courier.ArchiveLocation{
		Store: s.backend.Name(),
		Path:  objectPath,
		URI:   uri,
		Bytes: int64(len(payload.Data)),
	}, nil
}
