package flagstore

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PostgreSQL implementation of the Store interface,
// reading the platform's feature_flags table directly.
//
// Expected schema:
//
//	CREATE TABLE feature_flags (
//	    name       TEXT PRIMARY KEY,
//	    enabled    BOOLEAN NOT NULL DEFAULT false,
//	    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// IsEnabled reports whether the named flag is on.
func (p *PostgresStore) IsEnabled(ctx context.Context, name string) (bool, error) {
	var enabled bool
	err := p.pool.QueryRow(ctx,
		`SELECT enabled FROM feature_flags WHERE name = $1`, name).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, err
	}
	return enabled, nil
}

// SetFlag toggles the named flag.
func (p *PostgresStore) SetFlag(ctx context.Context, name string, enabled bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE feature_flags SET enabled = $2, updated_at = now() WHERE name = $1`,
		name, enabled)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListFlags returns every flag in the store.
func (p *PostgresStore) ListFlags(ctx context.Context) ([]Flag, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT name, enabled, updated_at FROM feature_flags ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flags []Flag
	for rows.Next() {
		var f Flag
		var updatedAt pgtype.Timestamptz
		if err := rows.Scan(&f.Name, &f.Enabled, &updatedAt); err != nil {
			return nil, err
		}
		f.UpdatedAt = updatedAt.Time
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// Close closes the database connection pool.
func (p *PostgresStore) Close() error {
	p.pool.Close()
	return nil
}
