// Package postgres backs the durable state store with a single key/value
// table. SetAll runs in one transaction so the batch is all-or-nothing.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"chrona-engine/internal/statestore"
)

const defaultStateTable = "engine_state"

// Store is a Postgres implementation of statestore.Store.
type Store struct {
	db    *sql.DB
	table string
}

// NewStore constructs a store.
func NewStore(db *sql.DB, opts ...Option) *Store {
	store := &Store{db: db, table: defaultStateTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Option configures the store.
type Option func(*Store)

// WithTable overrides the table name.
func WithTable(table string) Option {
	return func(store *Store) {
		if table != "" {
			store.table = table
		}
	}
}

// Get returns the value for key.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	if s == nil || s.db == nil {
		return "", false, errors.New("state store: nil db")
	}
	if key == "" {
		return "", false, errors.New("state store: empty key")
	}
	query := fmt.Sprintf(`SELECT value FROM %s WHERE key = $1`, s.table)
	var value string
	if err := s.db.QueryRowContext(ctx, query, key).Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, wrapUnavailable(err)
	}
	return value, true, nil
}

// Set upserts a single key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	if s == nil || s.db == nil {
		return errors.New("state store: nil db")
	}
	if key == "" {
		return errors.New("state store: empty key")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UTC()); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// SetAll upserts every pair in one transaction.
func (s *Store) SetAll(ctx context.Context, pairs map[string]string) error {
	if s == nil || s.db == nil {
		return errors.New("state store: nil db")
	}
	if len(pairs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapUnavailable(err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (key, value, updated_at)
VALUES ($1, $2, $3)
ON CONFLICT (key)
DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`, s.table)
	now := time.Now().UTC()
	for key, value := range pairs {
		if key == "" {
			_ = tx.Rollback()
			return errors.New("state store: empty key in batch")
		}
		if _, err := tx.ExecContext(ctx, query, key, value, now); err != nil {
			_ = tx.Rollback()
			return wrapUnavailable(err)
		}
	}
	if err := tx.Commit(); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Delete removes a key.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return errors.New("state store: nil db")
	}
	if key == "" {
		return errors.New("state store: empty key")
	}
	query := fmt.Sprintf(`DELETE FROM %s WHERE key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

// Clear removes every key.
func (s *Store) Clear(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("state store: nil db")
	}
	query := fmt.Sprintf(`DELETE FROM %s`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return wrapUnavailable(err)
	}
	return nil
}

func wrapUnavailable(err error) error {
	return fmt.Errorf("%w: %v", statestore.ErrUnavailable, err)
}
