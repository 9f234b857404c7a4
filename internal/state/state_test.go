package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingReturnsEmpty(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "state.yaml"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.LastDatabase != "" || len(s.Databases) != 0 {
		t.Errorf("expected empty state, got %+v", s)
	}
}

func TestRecordSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.yaml")

	s := New()
	s.Record("Payroll", "encode", "run-1", "completed")
	s.Record("HR", "scan", "run-2", "failed")
	if err := s.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.LastDatabase != "HR" || loaded.LastOperation != "scan" {
		t.Errorf("unexpected last pass: %s %s", loaded.LastDatabase, loaded.LastOperation)
	}
	d, ok := loaded.Last("Payroll")
	if !ok {
		t.Fatal("expected Payroll entry")
	}
	if d.Operation != "encode" || d.RunID != "run-1" || d.Status != "completed" {
		t.Errorf("unexpected Payroll entry: %+v", d)
	}
	if _, ok := loaded.Last("missing"); ok {
		t.Error("expected no entry for unknown database")
	}
}

func TestSaveReplacesAndLeavesNoTemp(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.yaml")

	s := New()
	s.Record("Payroll", "encode", "run-1", "completed")
	if err := s.Save(path); err != nil {
		t.Fatalf("first save: %v", err)
	}
	s.Record("Payroll", "decode", "run-2", "completed")
	if err := s.Save(path); err != nil {
		t.Fatalf("second save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p, _ := loaded.Last("Payroll"); p.Operation != "decode" || p.RunID != "run-2" {
		t.Errorf("expected latest pass, got %+v", p)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("expected only the state file, found %d entries", len(entries))
	}
}

func TestLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.yaml")
	if err := os.WriteFile(path, []byte("databases: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}
