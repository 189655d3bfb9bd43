package repository

import (
	"context"
	"fmt"

	"github.com/evetabi/managedwealth/internal/domain"
	"github.com/jmoiron/sqlx"
)

// PGStore implements Store on PostgreSQL. The same type serves both the
// pool and an open transaction; q is whichever one is active.
type PGStore struct {
	db *sqlx.DB
	q  sqlx.ExtContext
	tx *sqlx.Tx
}

// NewPGStore creates a PGStore backed by db.
func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db, q: db}
}

// DB exposes the underlying pool for adapters that share the database.
func (s *PGStore) DB() *sqlx.DB {
	return s.db
}

// InTx runs fn inside a transaction. The transaction is rolled back when
// fn returns an error or panics.
func (s *PGStore) InTx(ctx context.Context, fn func(q Queries) error) (err error) {
	if s.tx != nil {
		return fn(s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("pg_store.InTx begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&PGStore{db: s.db, q: tx, tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("pg_store.InTx commit: %w", err)
	}
	return nil
}

// LockKey takes pg_advisory_xact_lock on the hash of key. The lock is held
// until the surrounding transaction ends.
func (s *PGStore) LockKey(ctx context.Context, key string) error {
	if s.tx == nil {
		return nil
	}
	if _, err := s.q.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("pg_store.LockKey: %w", err)
	}
	return nil
}

// statusStrings converts statuses for use with pq.Array.
func statusStrings(statuses []domain.SubscriptionStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

var _ Store = (*PGStore)(nil)
