// Package journal keeps a local SQLite history of scan, encode and decode
// passes.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/colmask/colmask/internal/report"
)

// Entry is one recorded pass.
type Entry struct {
	ID                string
	Operation         string
	Driver            string
	Database          string
	StartedAt         time.Time
	FinishedAt        *time.Time
	Status            string
	Error             string
	Tables            int
	TablesSkipped     int
	ColumnsMasked     int
	ColumnsFailed     int
	ColumnsRecorded   int
	ValuesTransformed int
	DecodeFailures    int
}

// Journal is an open run history.
type Journal struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens or creates the journal at path and applies pending migrations.
func Open(path string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, logger: logger.With("component", "journal")}, nil
}

// RunMigrations executes all pending goose migrations against db.
func RunMigrations(db *sql.DB) error {
	goose.SetBaseFS(EmbedMigrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("goose set dialect: %w", err)
	}

	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// NewID returns a fresh run identifier.
func NewID() string {
	return uuid.NewString()
}

// RecordRun stores an encode or decode pass. The run gets an ID if it
// has none.
func (j *Journal) RecordRun(ctx context.Context, r *report.Run) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	tot := r.Totals()
	e := Entry{
		ID:                r.ID,
		Operation:         r.Operation,
		Driver:            r.Driver,
		Database:          r.Database,
		StartedAt:         r.StartedAt,
		FinishedAt:        finished(r.FinishedAt),
		Status:            r.Status,
		Error:             r.Error,
		Tables:            tot.Tables,
		TablesSkipped:     tot.TablesSkipped,
		ColumnsMasked:     tot.ColumnsMasked,
		ColumnsFailed:     tot.ColumnsFailed,
		ValuesTransformed: tot.ValuesTransformed,
		DecodeFailures:    tot.DecodeFailures,
	}
	return j.insert(ctx, e, r)
}

// RecordScan stores a schema capture pass.
func (j *Journal) RecordScan(ctx context.Context, s *report.Scan) error {
	if s.ID == "" {
		s.ID = NewID()
	}
	e := Entry{
		ID:              s.ID,
		Operation:       "scan",
		Driver:          s.Driver,
		Database:        s.Database,
		StartedAt:       s.StartedAt,
		FinishedAt:      finished(s.FinishedAt),
		Status:          s.Status,
		Error:           s.Error,
		Tables:          len(s.Tables),
		ColumnsRecorded: s.Recorded(),
	}
	for _, t := range s.Tables {
		if t.Outcome != report.ScanRecorded {
			e.TablesSkipped++
		}
	}
	return j.insert(ctx, e, s)
}

func (j *Journal) insert(ctx context.Context, e Entry, full any) error {
	doc, err := json.Marshal(full)
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}

	_, err = j.db.ExecContext(ctx, `
		INSERT INTO runs (id, operation, driver, database_name, started_at, finished_at, status, error,
			tables, tables_skipped, columns_masked, columns_failed, columns_recorded,
			values_transformed, decode_failures, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Operation, e.Driver, e.Database, e.StartedAt.UTC(), e.FinishedAt, e.Status, e.Error,
		e.Tables, e.TablesSkipped, e.ColumnsMasked, e.ColumnsFailed, e.ColumnsRecorded,
		e.ValuesTransformed, e.DecodeFailures, string(doc))
	if err != nil {
		return fmt.Errorf("recording run %s: %w", e.ID, err)
	}
	j.logger.Debug("run recorded", "id", e.ID, "operation", e.Operation, "status", e.Status)
	return nil
}

// List returns the most recent runs, newest first. A database filter of
// "" matches every database.
func (j *Journal) List(ctx context.Context, database string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, operation, driver, database_name, started_at, finished_at, status, error,
			tables, tables_skipped, columns_masked, columns_failed, columns_recorded,
			values_transformed, decode_failures
		FROM runs
		WHERE ? = '' OR database_name = ?
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?`, database, database, limit)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var fin sql.NullTime
		if err := rows.Scan(&e.ID, &e.Operation, &e.Driver, &e.Database, &e.StartedAt, &fin, &e.Status, &e.Error,
			&e.Tables, &e.TablesSkipped, &e.ColumnsMasked, &e.ColumnsFailed, &e.ColumnsRecorded,
			&e.ValuesTransformed, &e.DecodeFailures); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		if fin.Valid {
			t := fin.Time
			e.FinishedAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Report returns the stored JSON report of run id.
func (j *Journal) Report(ctx context.Context, id string) ([]byte, error) {
	var doc string
	err := j.db.QueryRowContext(ctx, `SELECT report FROM runs WHERE id = ?`, id).Scan(&doc)
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	return []byte(doc), nil
}

func finished(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}
