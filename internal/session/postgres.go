package session

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists session state in a single key-value table.
// Change notifications are in-process only: the bridge is the sole
// writer of its session state.
type PostgresStore struct {
	pool *pgxpool.Pool
	bc   broadcaster
}

// NewPostgresStore connects to Postgres and ensures the session table
// exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database DSN: %w", err)
	}

	config.MaxConns = 5

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS bridge_session (
			key   TEXT PRIMARY KEY,
			value BYTEA NOT NULL
		)`)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create session table: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Get returns the value for key and whether it was present.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM bridge_session WHERE key = $1`, key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, true, nil
}

// Set upserts value under key and notifies subscribers with the prior
// value.
func (s *PostgresStore) Set(ctx context.Context, key string, value []byte) error {
	var old []byte
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bridge_session (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
		RETURNING (SELECT value FROM bridge_session WHERE key = $1)`,
		key, value).Scan(&old)
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}

	s.bc.publish(Change{Key: key, Old: old, New: value})
	return nil
}

// Delete removes key and notifies subscribers if it was present.
func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	var old []byte
	err := s.pool.QueryRow(ctx,
		`DELETE FROM bridge_session WHERE key = $1 RETURNING value`, key).Scan(&old)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}

	s.bc.publish(Change{Key: key, Old: old})
	return nil
}

// Subscribe registers a change callback.
func (s *PostgresStore) Subscribe(fn func(Change)) {
	s.bc.subscribe(fn)
}
