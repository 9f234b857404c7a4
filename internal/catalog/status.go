package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Status returns the scan state of table. A table never scanned has
// StatusNotScanned and a zero UpdatedAt.
func (s *Store) Status(ctx context.Context, table string) (ScanStatus, error) {
	st := ScanStatus{Table: table}
	var (
		status string
		msg    sql.NullString
	)
	err := s.q.QueryRowContext(ctx, s.stmts.SelectStatus, table).Scan(&status, &st.UpdatedAt, &msg)
	if errors.Is(err, sql.ErrNoRows) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("reading scan status of %s: %w", table, err)
	}
	st.Status = Status(status)
	st.Error = msg.String
	return st, nil
}

// Statuses returns the scan state of every table that has one.
func (s *Store) Statuses(ctx context.Context) ([]ScanStatus, error) {
	rows, err := s.q.QueryContext(ctx, s.stmts.SelectStatuses)
	if err != nil {
		return nil, fmt.Errorf("reading scan statuses: %w", err)
	}
	defer rows.Close()

	var out []ScanStatus
	for rows.Next() {
		var (
			st     ScanStatus
			status string
			msg    sql.NullString
		)
		if err := rows.Scan(&st.Table, &status, &st.UpdatedAt, &msg); err != nil {
			return nil, fmt.Errorf("reading scan statuses: %w", err)
		}
		st.Status = Status(status)
		st.Error = msg.String
		out = append(out, st)
	}
	return out, rows.Err()
}

// MarkScanned records that every column of table is in the catalog.
func (s *Store) MarkScanned(ctx context.Context, table string) error {
	return s.setStatus(ctx, table, StatusScanned, nil)
}

// MarkFailed records that the scan of table stopped part way.
func (s *Store) MarkFailed(ctx context.Context, table string, cause error) error {
	return s.setStatus(ctx, table, StatusFailed, cause)
}

func (s *Store) setStatus(ctx context.Context, table string, status Status, cause error) error {
	var msg any
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.q.ExecContext(ctx, s.stmts.UpsertStatus, table, string(status), s.now(), msg); err != nil {
		return fmt.Errorf("recording scan status of %s: %w", table, err)
	}
	s.logger.Debug("scan status recorded", "table", table, "status", status)
	return nil
}
