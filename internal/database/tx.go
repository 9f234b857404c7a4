package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/colmask/colmask/internal/sqlident"
)

// Tx is a Session bound to an open transaction.
type Tx struct {
	*Session
	tx *sql.Tx
}

// Savepoint marks a point the transaction can roll back to.
func (t *Tx) Savepoint(ctx context.Context, name string) error {
	if err := sqlident.ValidateIdentifier(name); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, t.d.SavepointSQL(name)); err != nil {
		return fmt.Errorf("creating savepoint %s: %w", name, err)
	}
	return nil
}

// RollbackTo undoes everything since the named savepoint and leaves the
// transaction usable.
func (t *Tx) RollbackTo(ctx context.Context, name string) error {
	if err := sqlident.ValidateIdentifier(name); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(ctx, t.d.RollbackToSavepointSQL(name)); err != nil {
		return fmt.Errorf("rolling back to savepoint %s: %w", name, err)
	}
	return nil
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}
