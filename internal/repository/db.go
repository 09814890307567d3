package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict reports that a guarded update matched no row: the expected
// pre-state changed under a concurrent writer. Callers re-fetch and decide.
var ErrConflict = errors.New("conditional update conflict")

// DB is the query surface shared by *pgxpool.Pool and pgx.Tx, letting
// repositories run against either the pool or an open transaction.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxManager runs a function inside a single database transaction. Ticket
// transitions that also move stock must span both writes with one of these.
type TxManager interface {
	WithinTransaction(ctx context.Context, fn func(db DB) error) error
}

type pgxTxManager struct {
	pool *pgxpool.Pool
}

// NewTxManager builds a pool-backed transaction manager.
func NewTxManager(pool *pgxpool.Pool) TxManager {
	return &pgxTxManager{pool: pool}
}

func (m *pgxTxManager) WithinTransaction(ctx context.Context, fn func(db DB) error) error {
	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
