// Package persistence makes usage windows and rollback history survive
// restarts. Persistence is continuity, not correctness: load failures fall
// back to empty state with a warning and never block startup.
package persistence

import (
	"context"
	"fmt"

	mydb "github.com/peoplecore/flagguard/internal/db"
	"github.com/peoplecore/flagguard/internal/rollback"
	"github.com/peoplecore/flagguard/internal/usage"
)

// Store is the durable backend for the engine's state. The usage-window
// map is replaced on every flush; rollback events are append-only.
type Store interface {
	// SaveUsage replaces the persisted usage-window map.
	SaveUsage(ctx context.Context, windows map[string]usage.Window) error

	// LoadUsage returns the persisted usage-window map, empty when no
	// state exists.
	LoadUsage(ctx context.Context) (map[string]usage.Window, error)

	// AppendRollbacks durably appends rollback events. At-least-once:
	// callers must tolerate replayed events on load.
	AppendRollbacks(ctx context.Context, events []rollback.Event) error

	// LoadRollbacks returns the full persisted rollback history.
	LoadRollbacks(ctx context.Context) ([]rollback.Event, error)

	// Close releases backend resources.
	Close() error
}

// NewStore creates a persistence backend based on the given type.
// Supported types: "file", "postgres", "none"
func NewStore(ctx context.Context, persistType, path, dbDSN string) (Store, error) {
	switch persistType {
	case "file":
		return NewFileStore(path), nil
	case "postgres":
		pool, err := mydb.NewPool(ctx, dbDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		return NewPostgresStore(pool), nil
	case "none":
		return NopStore{}, nil
	default:
		return nil, fmt.Errorf("unsupported persistence type: %s", persistType)
	}
}

// NopStore discards all state. Used when persistence is disabled.
type NopStore struct{}

func (NopStore) SaveUsage(context.Context, map[string]usage.Window) error { return nil }

func (NopStore) LoadUsage(context.Context) (map[string]usage.Window, error) {
	return map[string]usage.Window{}, nil
}

func (NopStore) AppendRollbacks(context.Context, []rollback.Event) error { return nil }

func (NopStore) LoadRollbacks(context.Context) ([]rollback.Event, error) { return nil, nil }

func (NopStore) Close() error { return nil }
