package report

import (
	"fmt"
	"strings"
	"time"
)

// ScanTable is the outcome of capturing one table's schema.
type ScanTable struct {
	Name     string `json:"name"`
	Outcome  string `json:"outcome"`
	Recorded int    `json:"recorded"`
	Existing int    `json:"existing,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Scan table outcomes.
const (
	ScanRecorded = "scanned"
	ScanSkipped  = "skipped"
	ScanInvalid  = "invalid identifier"
	ScanFailed   = "failed"
	ScanNotFound = "not found"
)

// Scan is the outcome of one schema capture pass.
type Scan struct {
	Version    string       `json:"version"`
	ID         string       `json:"id,omitempty"`
	Driver     string       `json:"driver"`
	Database   string       `json:"database"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	Tables     []*ScanTable `json:"tables"`
}

// NewScan starts a scan report.
func NewScan(driver, database string) *Scan {
	return &Scan{
		Version:   "1",
		Driver:    driver,
		Database:  database,
		StartedAt: time.Now(),
		Status:    "running",
	}
}

// AddTable appends a table entry and returns it.
func (s *Scan) AddTable(name, outcome string) *ScanTable {
	t := &ScanTable{Name: name, Outcome: outcome}
	s.Tables = append(s.Tables, t)
	return t
}

// Finish stamps the end time and final status.
func (s *Scan) Finish(err error) {
	s.FinishedAt = time.Now()
	if err != nil {
		s.Status = "failed"
		s.Error = err.Error()
		return
	}
	s.Status = "completed"
}

// Recorded is the number of columns written to the catalog.
func (s *Scan) Recorded() int {
	var n int
	for _, t := range s.Tables {
		n += t.Recorded
	}
	return n
}

// FormatScan renders s as human-readable text.
func FormatScan(s *Scan) string {
	var b strings.Builder

	b.WriteString("=== colmask scan ===\n")
	b.WriteString(fmt.Sprintf("Database: %s (%s)\n", s.Database, s.Driver))
	b.WriteString(fmt.Sprintf("Status:   %s\n", s.Status))
	if s.Error != "" {
		b.WriteString(fmt.Sprintf("Error:    %s\n", s.Error))
	}
	b.WriteString("\n")

	for _, t := range s.Tables {
		switch t.Outcome {
		case ScanRecorded:
			if t.Existing > 0 {
				b.WriteString(fmt.Sprintf("  %-30s %d columns recorded, %d already present\n", t.Name, t.Recorded, t.Existing))
			} else {
				b.WriteString(fmt.Sprintf("  %-30s %d columns recorded\n", t.Name, t.Recorded))
			}
		case ScanFailed:
			b.WriteString(fmt.Sprintf("  %-30s failed: %s\n", t.Name, t.Error))
		default:
			b.WriteString(fmt.Sprintf("  %-30s %s\n", t.Name, t.Outcome))
		}
	}

	b.WriteString(fmt.Sprintf("\nTables: %d  Columns recorded: %d\n", len(s.Tables), s.Recorded()))
	return b.String()
}
