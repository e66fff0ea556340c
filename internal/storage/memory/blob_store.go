// Package memory keeps blobs and records in process memory for tests and dry
// runs.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/JakeFAU/catalog-harvester/internal/storage"
)

// BlobStore stores objects in a map and returns memory:// URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates an empty BlobStore.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject replaces the object at path.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[path] = body
	return "memory://" + path, nil
}

// GetObject returns a reader over a copy of the object.
func (s *BlobStore) GetObject(_ context.Context, path string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, ok := s.data[path]
	if !ok {
		return nil, fmt.Errorf("memory://%s: %w", path, storage.ErrNotFound)
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(body))), nil
}
