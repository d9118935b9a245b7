// Package store provides credential persistence interfaces and implementations.
package store

import (
	"context"

	"github.com/ashureev/mira-client/internal/domain"
)

// CredentialStore persists the access/refresh token pair. Writes replace the
// pair wholesale: readers observe either the old complete pair or the new
// complete pair, never a partial update.
type CredentialStore interface {
	// Load retrieves the stored token pair. Returns (nil, nil) when no
	// complete pair exists.
	Load(ctx context.Context) (*domain.TokenPair, error)

	// Save replaces the stored token pair wholesale.
	Save(ctx context.Context, pair *domain.TokenPair) error

	// Clear removes any stored credentials.
	Clear(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
