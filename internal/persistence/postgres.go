package persistence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/peoplecore/flagguard/internal/rollback"
	"github.com/peoplecore/flagguard/internal/usage"
)

// PostgresStore persists engine state in two tables.
//
// Expected schema:
//
//	CREATE TABLE flag_usage_windows (
//	    flag_name   TEXT PRIMARY KEY,
//	    window_data JSONB NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE rollback_events (
//	    id         UUID PRIMARY KEY,
//	    flag_name  TEXT NOT NULL,
//	    event      JSONB NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Column holding the serialized window is named window_data: WINDOW is a
// reserved word in PostgreSQL and not legal as an unquoted identifier.
const (
	clearUsageSQL  = `DELETE FROM flag_usage_windows`
	insertUsageSQL = `INSERT INTO flag_usage_windows (flag_name, window_data, updated_at)
		 VALUES ($1, $2, now())`
	selectUsageSQL = `SELECT flag_name, window_data FROM flag_usage_windows`

	insertEventSQL = `INSERT INTO rollback_events (id, flag_name, event, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO NOTHING`
	selectEventsSQL = `SELECT event FROM rollback_events ORDER BY created_at, id`
)

// NewPostgresStore creates a PostgreSQL-backed persistence store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// SaveUsage replaces the persisted window map in one transaction: rows for
// flags no longer present are removed, the rest upserted.
func (p *PostgresStore) SaveUsage(ctx context.Context, windows map[string]usage.Window) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin usage flush: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, clearUsageSQL); err != nil {
		return fmt.Errorf("clear usage windows: %w", err)
	}

	batch := &pgx.Batch{}
	for flag, w := range windows {
		data, err := json.Marshal(w)
		if err != nil {
			return fmt.Errorf("marshal window for %s: %w", flag, err)
		}
		batch.Queue(insertUsageSQL, flag, data)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("write usage windows: %w", err)
	}

	return tx.Commit(ctx)
}

// LoadUsage reads the persisted window map.
func (p *PostgresStore) LoadUsage(ctx context.Context) (map[string]usage.Window, error) {
	rows, err := p.pool.Query(ctx, selectUsageSQL)
	if err != nil {
		return nil, fmt.Errorf("query usage windows: %w", err)
	}
	defer rows.Close()

	windows := make(map[string]usage.Window)
	for rows.Next() {
		var flag string
		var data []byte
		if err := rows.Scan(&flag, &data); err != nil {
			return nil, fmt.Errorf("scan usage window: %w", err)
		}
		var w usage.Window
		if err := json.Unmarshal(data, &w); err != nil {
			return nil, fmt.Errorf("decode usage window for %s: %w", flag, err)
		}
		windows[flag] = w
	}
	return windows, rows.Err()
}

// AppendRollbacks inserts events, ignoring IDs already present so an
// at-least-once flush never duplicates history.
func (p *PostgresStore) AppendRollbacks(ctx context.Context, events []rollback.Event) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal rollback event %s: %w", e.ID, err)
		}
		batch.Queue(insertEventSQL, e.ID, e.Flag, data, e.Timestamp)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append rollback events: %w", err)
	}
	return nil
}

// LoadRollbacks reads the full event history, oldest first.
func (p *PostgresStore) LoadRollbacks(ctx context.Context) ([]rollback.Event, error) {
	rows, err := p.pool.Query(ctx, selectEventsSQL)
	if err != nil {
		return nil, fmt.Errorf("query rollback events: %w", err)
	}
	defer rows.Close()

	var events []rollback.Event
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan rollback event: %w", err)
		}
		var e rollback.Event
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode rollback event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
