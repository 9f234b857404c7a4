// Package scanner captures the declared type of every column of a database's
// tables into the schema catalog.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/colmask/colmask/internal/catalog"
	"github.com/colmask/colmask/internal/database"
	"github.com/colmask/colmask/internal/metrics"
	"github.com/colmask/colmask/internal/report"
	"github.com/colmask/colmask/internal/sqlident"
	"github.com/colmask/colmask/internal/typesig"
)

// ErrTableNotFound is returned by a scan of a table with no live columns.
var ErrTableNotFound = errors.New("table not found")

// Source reports live column metadata.
type Source interface {
	ColumnMetadata(ctx context.Context, table string) ([]database.Column, error)
}

// Catalog is the part of the schema catalog the scanner writes to.
type Catalog interface {
	HasEntry(ctx context.Context, table string) (bool, error)
	Status(ctx context.Context, table string) (catalog.ScanStatus, error)
	Columns(ctx context.Context, table string) ([]catalog.ColumnDescriptor, error)
	Insert(ctx context.Context, d catalog.ColumnDescriptor) error
	MarkScanned(ctx context.Context, table string) error
	MarkFailed(ctx context.Context, table string, cause error) error
}

// Scanner fills the catalog from live metadata.
type Scanner struct {
	// Driver and Database label the reports.
	Driver   string
	Database string

	src    Source
	cat    Catalog
	rules  typesig.Rules
	logger *slog.Logger
}

// New returns a Scanner building signatures with rules.
func New(src Source, cat Catalog, rules typesig.Rules, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{src: src, cat: cat, rules: rules, logger: logger.With("component", "scanner")}
}

// Scan records every column of tables that is not yet in the catalog. It
// stops at the first table that fails; that table is marked failed and the
// error is returned together with the partial report.
func (s *Scanner) Scan(ctx context.Context, tables []string) (*report.Scan, error) {
	rep := report.NewScan(s.Driver, s.Database)

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			rep.Finish(err)
			return rep, err
		}

		if err := sqlident.ValidateIdentifier(table); err != nil {
			s.logger.Warn("refusing table with invalid name", "table", table)
			rep.AddTable(table, report.ScanInvalid).Error = err.Error()
			metrics.TablesSkipped.WithLabelValues("invalid_identifier").Inc()
			continue
		}

		skip, err := s.alreadyScanned(ctx, table)
		if err != nil {
			rep.AddTable(table, report.ScanFailed).Error = err.Error()
			rep.Finish(err)
			return rep, err
		}
		if skip {
			s.logger.Info("table already in catalog, skipping", "table", table)
			rep.AddTable(table, report.ScanSkipped)
			metrics.TablesSkipped.WithLabelValues("already_scanned").Inc()
			continue
		}

		entry := rep.AddTable(table, report.ScanRecorded)
		err = s.scanTable(ctx, table, entry)
		if errors.Is(err, ErrTableNotFound) {
			// No status is written, so a later scan captures the table once it exists.
			s.logger.Warn("table has no columns, not recorded", "table", table)
			entry.Outcome = report.ScanNotFound
			metrics.TablesSkipped.WithLabelValues("not_found").Inc()
			continue
		}
		if err != nil {
			entry.Outcome = report.ScanFailed
			entry.Error = err.Error()
			if markErr := s.cat.MarkFailed(ctx, table, err); markErr != nil {
				s.logger.Error("recording failed scan", "table", table, "error", markErr)
			}
			err = fmt.Errorf("scanning %s: %w", table, err)
			rep.Finish(err)
			return rep, err
		}
		if err := s.cat.MarkScanned(ctx, table); err != nil {
			rep.Finish(err)
			return rep, err
		}
		s.logger.Info("table scanned", "table", table, "recorded", entry.Recorded, "existing", entry.Existing)
	}

	rep.Finish(nil)
	return rep, nil
}

// alreadyScanned is true for a table marked scanned, and for a table with
// catalog rows but no status, which earlier catalogs wrote without one.
func (s *Scanner) alreadyScanned(ctx context.Context, table string) (bool, error) {
	st, err := s.cat.Status(ctx, table)
	if err != nil {
		return false, err
	}
	switch st.Status {
	case catalog.StatusScanned:
		return true, nil
	case catalog.StatusFailed:
		return false, nil
	}
	return s.cat.HasEntry(ctx, table)
}

func (s *Scanner) scanTable(ctx context.Context, table string, entry *report.ScanTable) error {
	existing := map[string]bool{}
	recorded, err := s.cat.Columns(ctx, table)
	if err != nil {
		return err
	}
	for _, d := range recorded {
		existing[strings.ToLower(d.ColumnName)] = true
	}

	cols, err := s.src.ColumnMetadata(ctx, table)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		return ErrTableNotFound
	}

	for _, c := range cols {
		if existing[strings.ToLower(c.Name)] {
			entry.Existing++
			continue
		}
		d := catalog.ColumnDescriptor{
			TableName:    table,
			ColumnName:   c.Name,
			DataType:     c.Facts.DataType,
			FullType:     typesig.Build(s.rules, c.Facts),
			DefaultValue: c.Default,
			IsNullable:   c.Nullable,
			Ordinal:      c.Ordinal,
		}
		err := s.cat.Insert(ctx, d)
		if errors.Is(err, catalog.ErrDuplicateEntry) {
			entry.Existing++
			continue
		}
		if err != nil {
			return err
		}
		entry.Recorded++
		metrics.CatalogColumnsRecorded.Inc()
	}
	return nil
}
