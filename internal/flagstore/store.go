// Package flagstore adapts the platform's boolean feature-flag store.
// flagguard only reads the enabled bit and toggles it during rollback and
// restore; flag creation, targeting, and percentage rollout stay with the
// owning store.
package flagstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when the named flag does not exist in the store.
var ErrNotFound = errors.New("flag not found")

// Flag is the engine's view of a feature flag: a named boolean switch.
type Flag struct {
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store defines the interface to the external flag store.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	// IsEnabled reports whether the named flag is currently on.
	// Returns ErrNotFound for unknown flags.
	IsEnabled(ctx context.Context, name string) (bool, error)

	// SetFlag turns the named flag on or off.
	// Returns ErrNotFound for unknown flags.
	SetFlag(ctx context.Context, name string, enabled bool) error

	// ListFlags returns every flag known to the store.
	ListFlags(ctx context.Context) ([]Flag, error)

	// Close releases any resources held by the store.
	// After Close is called, the store should not be used.
	Close() error
}
