package storage

import (
	"context"
	"fmt"
	"sync"
)

// Object is a stored blob reference.
type Object struct {
	Key string
	URL string
}

// Store is the object-storage contract: upload a blob, resolve its
// durable public URL, delete it again.
type Store interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (Object, error)
	PublicURL(key string) string
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps blobs in a map for dev and tests.
type MemoryStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

// NewMemory creates an empty in-memory object store.
func NewMemory() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Upload(_ context.Context, key string, data []byte, _ string) (Object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = buf
	return Object{Key: key, URL: s.PublicURL(key)}, nil
}

func (s *MemoryStore) PublicURL(key string) string {
	return fmt.Sprintf("memory://photos/%s", key)
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// Get exposes stored bytes to tests.
func (s *MemoryStore) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.blobs[key]
	return data, ok
}

// Len reports how many blobs are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}
