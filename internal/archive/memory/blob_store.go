// Package memory stores archived editions in-memory for development and
// tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/presslane/edition-courier/internal/courier"
)

// BlobStore keeps archived editions in process memory and returns pseudo
// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
	tags map[string]map[string]string
}

// NewBlobStore creates a new in-memory archive store.
func NewBlobStore() *BlobStore {
	return &BlobStore{
		data: make(map[string][]byte),
		tags: make(map[string]map[string]string),
	}
}

// Name identifies the backend in archive locations.
func (s *BlobStore) Name() string { return "memory" }

// Exists reports whether content is present at path.
func (s *BlobStore) Exists(_ context.Context, path string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[path]
	return ok, nil
}

// Get returns the stored content, or courier.ErrNotFound.
func (s *BlobStore) Get(_ context.Context, path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[path]
	if !ok {
		return nil, courier.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put persists the content and returns a memory:// URI.
func (s *BlobStore) Put(_ context.Context, path string, _ string, data []byte, tags map[string]string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = append([]byte(nil), data...)
	if len(tags) > 0 {
		copied := make(map[string]string, len(tags))
		for k, v := range tags {
			copied[k] = v
		}
		s.tags[path] = copied
	}
	return fmt.Sprintf("memory://%s", path), nil
}

// Tags returns the metadata recorded for path, if any.
func (s *BlobStore) Tags(path string) map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tags[path]
}

// Len reports the number of stored objects.
func (s *BlobStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
