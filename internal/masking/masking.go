// Package masking rewrites the values of confidential columns between
// plaintext and their encoded form, changing each column's type to match.
package masking

import (
	"context"
	"fmt"
	"strings"

	"github.com/colmask/colmask/internal/catalog"
	"github.com/colmask/colmask/internal/database"
)

// Mode selects the direction of a pass.
type Mode int

const (
	Encode Mode = iota + 1
	Decode
)

func (m Mode) String() string {
	switch m {
	case Encode:
		return "encode"
	case Decode:
		return "decode"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// UpdateStrategy selects how rewritten values are written back.
type UpdateStrategy string

const (
	// StrategyValue replaces every row holding an old value in one statement.
	StrategyValue UpdateStrategy = "value"
	// StrategyRow rewrites row by row, keyed by primary key, so a value
	// produced by one update is never picked up by a later one.
	StrategyRow UpdateStrategy = "row"
)

// Options tune a pass.
type Options struct {
	// Transactional runs each table in one transaction with a savepoint per
	// column type change.
	Transactional bool

	UpdateStrategy UpdateStrategy

	// RestoreTypeLast decodes values while the column is still wide and
	// restores the recorded type afterwards.
	RestoreTypeLast bool
}

// DefaultOptions are the options used when none are configured.
func DefaultOptions() Options {
	return Options{Transactional: true, UpdateStrategy: StrategyValue}
}

// ConfidentialSet is a case-insensitive set of column names.
type ConfidentialSet map[string]struct{}

// NewConfidentialSet builds a set from names.
func NewConfidentialSet(names []string) ConfidentialSet {
	s := make(ConfidentialSet, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			s[strings.ToLower(n)] = struct{}{}
		}
	}
	return s
}

// Contains reports whether column is confidential.
func (s ConfidentialSet) Contains(column string) bool {
	_, ok := s[strings.ToLower(column)]
	return ok
}

// TypeAlterationError reports a column type change the database refused.
type TypeAlterationError struct {
	Table      string
	Column     string
	TargetType string
	Err        error
}

func (e *TypeAlterationError) Error() string {
	return fmt.Sprintf("altering %s.%s to %s: %v", e.Table, e.Column, e.TargetType, e.Err)
}

func (e *TypeAlterationError) Unwrap() error {
	return e.Err
}

// Ops is the per-table work the engine asks of the database.
type Ops interface {
	WideTextType() string
	ColumnNames(ctx context.Context, table string) ([]string, error)
	PrimaryKey(ctx context.Context, table string) ([]string, error)
	AlterColumnType(ctx context.Context, table, column, sig string, notNull bool) error
	DistinctValues(ctx context.Context, table, column, sig string) ([]string, error)
	ReplaceValue(ctx context.Context, table, column, sig, oldValue, newValue string) (int64, error)
	KeyedValues(ctx context.Context, table, column string, key []string) ([]database.KeyedValue, error)
	ReplaceKeyedValue(ctx context.Context, table, column, sig string, key []string, kv database.KeyedValue, newValue string) (int64, error)
}

// TxOps is Ops inside a transaction.
type TxOps interface {
	Ops
	Savepoint(ctx context.Context, name string) error
	RollbackTo(ctx context.Context, name string) error
	Commit() error
	Rollback() error
}

// Target is the database a pass runs against.
type Target interface {
	Ops
	Begin(ctx context.Context) (TxOps, error)
}

// Catalog answers which tables are tracked and what their columns were.
type Catalog interface {
	HasEntry(ctx context.Context, table string) (bool, error)
	Lookup(ctx context.Context, table, column string) (catalog.ColumnDescriptor, bool, error)
}

// Codec is the reversible value transform.
type Codec interface {
	Encode(plaintext string) string
	Decode(encoded string) (string, error)
	LooksEncoded(s string) bool
}

type dbTarget struct {
	*database.DB
}

// DBTarget adapts a database connection to Target.
func DBTarget(db *database.DB) Target {
	return dbTarget{DB: db}
}

func (t dbTarget) Begin(ctx context.Context) (TxOps, error) {
	tx, err := t.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return tx, nil
}
