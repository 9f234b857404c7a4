package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Table skip reasons.
const (
	SkipInvalidIdentifier = "invalid identifier"
	SkipNotTracked        = "not tracked, skipped"
	SkipAlreadyScanned    = "already scanned"
)

// ColumnOutcome is what happened to one column in a masking pass.
type ColumnOutcome string

const (
	ColumnMasked      ColumnOutcome = "masked"
	ColumnNotMasked   ColumnOutcome = "not masked"
	ColumnAlterFailed ColumnOutcome = "type alteration failed"
)

// Run is the outcome of one encode or decode pass.
type Run struct {
	Version    string         `json:"version"`
	ID         string         `json:"id,omitempty"`
	Operation  string         `json:"operation"`
	Driver     string         `json:"driver"`
	Database   string         `json:"database"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	Tables     []*TableResult `json:"tables"`
}

// TableResult is the outcome for one table.
type TableResult struct {
	Name    string          `json:"name"`
	Skipped string          `json:"skipped,omitempty"`
	Columns []*ColumnResult `json:"columns,omitempty"`
}

// ColumnResult is the outcome for one column.
type ColumnResult struct {
	Name           string        `json:"name"`
	Outcome        ColumnOutcome `json:"outcome"`
	TargetType     string        `json:"target_type,omitempty"`
	Transformed    int           `json:"transformed"`
	RowsUpdated    int64         `json:"rows_updated"`
	Unchanged      int           `json:"unchanged"`
	DecodeFailures int           `json:"decode_failures,omitempty"`
	Error          string        `json:"error,omitempty"`
}

// Totals aggregates a Run.
type Totals struct {
	Tables            int   `json:"tables"`
	TablesSkipped     int   `json:"tables_skipped"`
	ColumnsMasked     int   `json:"columns_masked"`
	ColumnsFailed     int   `json:"columns_failed"`
	ValuesTransformed int   `json:"values_transformed"`
	RowsUpdated       int64 `json:"rows_updated"`
	DecodeFailures    int   `json:"decode_failures"`
}

// NewRun starts a report for operation against database.
func NewRun(operation, driver, database string) *Run {
	return &Run{
		Version:   "1",
		Operation: operation,
		Driver:    driver,
		Database:  database,
		StartedAt: time.Now(),
		Status:    "running",
	}
}

// AddTable appends a table entry and returns it for filling in.
func (r *Run) AddTable(name string) *TableResult {
	t := &TableResult{Name: name}
	r.Tables = append(r.Tables, t)
	return t
}

// AddColumn appends a column entry to t and returns it.
func (t *TableResult) AddColumn(name string, outcome ColumnOutcome) *ColumnResult {
	c := &ColumnResult{Name: name, Outcome: outcome}
	t.Columns = append(t.Columns, c)
	return c
}

// Column returns the entry for name, or nil.
func (t *TableResult) Column(name string) *ColumnResult {
	for _, c := range t.Columns {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// Table returns the entry for name, or nil.
func (r *Run) Table(name string) *TableResult {
	for _, t := range r.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Finish stamps the end time and final status.
func (r *Run) Finish(err error) {
	r.FinishedAt = time.Now()
	if err != nil {
		r.Status = "failed"
		r.Error = err.Error()
		return
	}
	r.Status = "completed"
}

// Totals sums the per-table results.
func (r *Run) Totals() Totals {
	var tot Totals
	for _, t := range r.Tables {
		tot.Tables++
		if t.Skipped != "" {
			tot.TablesSkipped++
		}
		for _, c := range t.Columns {
			switch c.Outcome {
			case ColumnMasked:
				tot.ColumnsMasked++
			case ColumnAlterFailed:
				tot.ColumnsFailed++
			}
			tot.ValuesTransformed += c.Transformed
			tot.RowsUpdated += c.RowsUpdated
			tot.DecodeFailures += c.DecodeFailures
		}
	}
	return tot
}

// WriteJSON writes v as indented JSON, creating the directory.
func WriteJSON(v any, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling report: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadRun reads a run report from a JSON file.
func ReadRun(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	r := &Run{}
	if err := json.Unmarshal(data, r); err != nil {
		return nil, fmt.Errorf("parsing report: %w", err)
	}
	return r, nil
}

// FormatRun renders r as human-readable text.
func FormatRun(r *Run) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("=== colmask %s ===\n", r.Operation))
	b.WriteString(fmt.Sprintf("Database: %s (%s)\n", r.Database, r.Driver))
	b.WriteString(fmt.Sprintf("Started:  %s\n", r.StartedAt.Format(time.RFC3339)))
	if !r.FinishedAt.IsZero() {
		b.WriteString(fmt.Sprintf("Duration: %s\n", r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond)))
	}
	b.WriteString(fmt.Sprintf("Status:   %s\n", r.Status))
	if r.Error != "" {
		b.WriteString(fmt.Sprintf("Error:    %s\n", r.Error))
	}
	b.WriteString("\n")

	for _, t := range r.Tables {
		if t.Skipped != "" {
			b.WriteString(fmt.Sprintf("%s: %s\n", t.Name, t.Skipped))
			continue
		}
		b.WriteString(fmt.Sprintf("%s:\n", t.Name))
		for _, c := range t.Columns {
			switch c.Outcome {
			case ColumnNotMasked:
				b.WriteString(fmt.Sprintf("  %s: not masked\n", c.Name))
			case ColumnAlterFailed:
				b.WriteString(fmt.Sprintf("  %s: type alteration to %s failed: %s\n", c.Name, c.TargetType, c.Error))
			default:
				line := fmt.Sprintf("  %s: %s -> %s, %d values rewritten (%d rows), %d unchanged",
					c.Name, c.Outcome, c.TargetType, c.Transformed, c.RowsUpdated, c.Unchanged)
				if c.DecodeFailures > 0 {
					line += fmt.Sprintf(", %d decode failures", c.DecodeFailures)
				}
				if c.Error != "" {
					line += ": " + c.Error
				}
				b.WriteString(line + "\n")
			}
		}
	}

	tot := r.Totals()
	b.WriteString(fmt.Sprintf("\nTables: %d (%d skipped)  Columns masked: %d  Failed: %d  Values: %d  Decode failures: %d\n",
		tot.Tables, tot.TablesSkipped, tot.ColumnsMasked, tot.ColumnsFailed, tot.ValuesTransformed, tot.DecodeFailures))
	return b.String()
}
