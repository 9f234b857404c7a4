// Package schema is the portable YAML form of a database's column catalog.
package schema

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colmask/colmask/internal/catalog"
)

// Schema is an exported catalog.
type Schema struct {
	Driver     string    `yaml:"driver"`
	Database   string    `yaml:"database"`
	SchemaName string    `yaml:"schema_name,omitempty"`
	ExportedAt time.Time `yaml:"exported_at"`
	Tables     []Table   `yaml:"tables"`
}

// Table is one catalogued table with its scan state.
type Table struct {
	Name      string                     `yaml:"name"`
	Status    string                     `yaml:"status,omitempty"`
	ScannedAt *time.Time                 `yaml:"scanned_at,omitempty"`
	Error     string                     `yaml:"error,omitempty"`
	Columns   []catalog.ColumnDescriptor `yaml:"columns"`
}

// Source is the part of catalog.Store an export reads.
type Source interface {
	Tables(ctx context.Context) ([]string, error)
	Columns(ctx context.Context, table string) ([]catalog.ColumnDescriptor, error)
	Statuses(ctx context.Context) ([]catalog.ScanStatus, error)
}

// Export reads every catalogued table from src. Tables with a status row
// but no columns are included so failed scans show up.
func Export(ctx context.Context, src Source, driver, database, schemaName string) (*Schema, error) {
	statuses, err := src.Statuses(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading scan statuses: %w", err)
	}
	byTable := make(map[string]catalog.ScanStatus, len(statuses))
	for _, st := range statuses {
		byTable[st.Table] = st
	}

	names, err := src.Tables(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing catalogued tables: %w", err)
	}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		seen[n] = true
	}
	for _, st := range statuses {
		if !seen[st.Table] {
			names = append(names, st.Table)
			seen[st.Table] = true
		}
	}

	s := &Schema{
		Driver:     driver,
		Database:   database,
		SchemaName: schemaName,
		ExportedAt: time.Now().UTC(),
	}
	for _, name := range names {
		cols, err := src.Columns(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("reading columns of %s: %w", name, err)
		}
		t := Table{Name: name, Columns: cols}
		if st, ok := byTable[name]; ok {
			t.Status = string(st.Status)
			t.Error = st.Error
			if !st.UpdatedAt.IsZero() {
				at := st.UpdatedAt
				t.ScannedAt = &at
			}
		}
		s.Tables = append(s.Tables, t)
	}
	return s, nil
}

// LoadYAML reads a schema from a YAML file.
func LoadYAML(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading schema file: %w", err)
	}
	s := &Schema{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing schema: %w", err)
	}
	for i := range s.Tables {
		for j := range s.Tables[i].Columns {
			s.Tables[i].Columns[j].TableName = s.Tables[i].Name
		}
	}
	return s, nil
}

// WriteYAML writes the schema to a YAML file at the given path.
func (s *Schema) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	data, err := s.ToYAML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ToYAML returns the schema as a YAML byte slice.
func (s *Schema) ToYAML() ([]byte, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	return data, nil
}

// Summary returns a human-readable summary of the schema.
func (s *Schema) Summary() string {
	var cols, failed int
	for _, t := range s.Tables {
		cols += len(t.Columns)
		if t.Status == string(catalog.StatusFailed) {
			failed++
		}
	}
	return fmt.Sprintf("%d tables, %d columns recorded, %d failed scans", len(s.Tables), cols, failed)
}
