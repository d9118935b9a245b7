package store

import (
	"context"
	"sync"

	"github.com/ashureev/mira-client/internal/domain"
)

// MemoryStore is an in-memory CredentialStore for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.Mutex
	pair *domain.TokenPair
}

// NewMemory creates an empty in-memory credential store.
func NewMemory() *MemoryStore {
	return &MemoryStore{}
}

// Load retrieves the stored token pair.
func (s *MemoryStore) Load(_ context.Context) (*domain.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.pair.Valid() {
		return nil, nil
	}
	pair := *s.pair
	return &pair, nil
}

// Save replaces the stored token pair wholesale.
func (s *MemoryStore) Save(_ context.Context, pair *domain.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *pair
	s.pair = &copied
	return nil
}

// Clear removes any stored credentials.
func (s *MemoryStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pair = nil
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
