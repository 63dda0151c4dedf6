package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Masterminds/squirrel"
)

// Tx is the single transaction owned by one import run.
type Tx struct {
	tx         *sql.Tx
	qb         squirrel.StatementBuilderType
	savepoints bool
	seq        int
}

func Begin(ctx context.Context, a Adapter) (*Tx, error) {
	tx, err := a.DB().BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx, qb: a.Builder(), savepoints: a.Savepoints()}, nil
}

func (t *Tx) Builder() squirrel.StatementBuilderType {
	return t.qb
}

// Exec runs one statement. A failure leaves the transaction usable.
func (t *Tx) Exec(ctx context.Context, q squirrel.Sqlizer) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build statement: %w", err)
	}
	return t.guarded(ctx, func() error {
		_, err := t.tx.ExecContext(ctx, query, args...)
		return err
	})
}

// Scan runs a single-row query and scans it into dest. sql.ErrNoRows is
// returned unwrapped.
func (t *Tx) Scan(ctx context.Context, q squirrel.Sqlizer, dest ...any) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	return t.guarded(ctx, func() error {
		return t.tx.QueryRowContext(ctx, query, args...).Scan(dest...)
	})
}

func (t *Tx) guarded(ctx context.Context, fn func() error) error {
	if !t.savepoints {
		return fn()
	}

	t.seq++
	name := fmt.Sprintf("odk_sp_%d", t.seq)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return fmt.Errorf("%w (savepoint rollback failed: %v)", err, rbErr)
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && err != sql.ErrTxDone {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}
