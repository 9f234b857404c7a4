// Package catalog stores each column's original declared type inside the
// database being masked, so a later decode can restore it.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/colmask/colmask/internal/database"
	"github.com/colmask/colmask/internal/dialect"
)

// ErrDuplicateEntry is returned when a (table, column) pair is already recorded.
var ErrDuplicateEntry = errors.New("catalog entry already exists")

// ColumnDescriptor is the recorded shape of one column. It is written once
// and never updated.
type ColumnDescriptor struct {
	TableName    string  `yaml:"-" json:"table"`
	ColumnName   string  `yaml:"name" json:"column"`
	DataType     string  `yaml:"data_type" json:"data_type"`
	FullType     string  `yaml:"full_type" json:"full_type"`
	DefaultValue *string `yaml:"default_value,omitempty" json:"default_value,omitempty"`
	IsNullable   bool    `yaml:"nullable" json:"nullable"`
	Ordinal      int     `yaml:"ordinal" json:"ordinal"`
}

// Status is a table's scan state.
type Status string

const (
	StatusNotScanned Status = ""
	StatusScanned    Status = "Scanned"
	StatusFailed     Status = "Failed"
)

// ScanStatus is the recorded outcome of the last scan of a table.
type ScanStatus struct {
	Table     string    `json:"table"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error,omitempty"`
}

// Store reads and writes the catalog tables.
type Store struct {
	q      database.Querier
	stmts  dialect.CatalogSQL
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Store issuing d's catalog statements through q.
func New(q database.Querier, d dialect.Dialect, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		q:      q,
		stmts:  d.Catalog(),
		logger: logger.With("component", "catalog"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Migrator applies embedded migrations to a database.
type Migrator interface {
	Dialect() dialect.Dialect
	Migrate(ctx context.Context, fsys fs.FS, dir string) error
}

// Init creates or upgrades the catalog tables.
func Init(ctx context.Context, m Migrator) error {
	fsys, dir := m.Dialect().Migrations()
	if err := m.Migrate(ctx, fsys, dir); err != nil {
		return fmt.Errorf("initializing schema catalog: %w", err)
	}
	return nil
}

// HasEntry reports whether any column of table is recorded.
func (s *Store) HasEntry(ctx context.Context, table string) (bool, error) {
	var n int64
	if err := s.q.QueryRowContext(ctx, s.stmts.CountColumns, table).Scan(&n); err != nil {
		return false, fmt.Errorf("checking catalog for %s: %w", table, err)
	}
	return n > 0, nil
}

// Lookup returns the recorded descriptor of table.column.
func (s *Store) Lookup(ctx context.Context, table, column string) (ColumnDescriptor, bool, error) {
	row := s.q.QueryRowContext(ctx, s.stmts.SelectColumn, table, column)
	d, err := scanDescriptor(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ColumnDescriptor{}, false, nil
	}
	if err != nil {
		return ColumnDescriptor{}, false, fmt.Errorf("reading catalog entry %s.%s: %w", table, column, err)
	}
	return d, true, nil
}

// GetSignature returns the recorded full type of table.column.
func (s *Store) GetSignature(ctx context.Context, table, column string) (string, bool, error) {
	d, ok, err := s.Lookup(ctx, table, column)
	if err != nil || !ok {
		return "", ok, err
	}
	return d.FullType, true, nil
}

// Insert records d. An existing entry for the same (table, column) is left
// untouched and ErrDuplicateEntry is returned.
func (s *Store) Insert(ctx context.Context, d ColumnDescriptor) error {
	res, err := s.q.ExecContext(ctx, s.stmts.InsertColumn,
		d.TableName, d.ColumnName, d.DataType, d.FullType, d.DefaultValue, d.IsNullable, d.Ordinal)
	if err != nil {
		return fmt.Errorf("recording %s.%s: %w", d.TableName, d.ColumnName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("recording %s.%s: %w", d.TableName, d.ColumnName, err)
	}
	if n == 0 {
		return fmt.Errorf("%s.%s: %w", d.TableName, d.ColumnName, ErrDuplicateEntry)
	}
	s.logger.Debug("column recorded", "table", d.TableName, "column", d.ColumnName, "type", d.FullType)
	return nil
}

// Columns returns every recorded column of table in ordinal order.
func (s *Store) Columns(ctx context.Context, table string) ([]ColumnDescriptor, error) {
	rows, err := s.q.QueryContext(ctx, s.stmts.SelectColumns, table)
	if err != nil {
		return nil, fmt.Errorf("reading catalog for %s: %w", table, err)
	}
	defer rows.Close()

	var out []ColumnDescriptor
	for rows.Next() {
		d, err := scanDescriptor(rows)
		if err != nil {
			return nil, fmt.Errorf("reading catalog for %s: %w", table, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Tables returns the names of all tables with recorded columns.
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, s.stmts.SelectTables)
	if err != nil {
		return nil, fmt.Errorf("listing catalog tables: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("listing catalog tables: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDescriptor(r scanner) (ColumnDescriptor, error) {
	var (
		d   ColumnDescriptor
		def sql.NullString
	)
	if err := r.Scan(&d.TableName, &d.ColumnName, &d.DataType, &d.FullType, &def, &d.IsNullable, &d.Ordinal); err != nil {
		return ColumnDescriptor{}, err
	}
	if def.Valid {
		d.DefaultValue = &def.String
	}
	return d, nil
}
