// Package state keeps the small amount of memory the CLI carries between
// runs: which database was used last and how each database's latest pass
// ended.
package state

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/colmask/colmask/internal/config"
)

const DefaultPath = "~/.colmask/state.yaml"

type State struct {
	LastDatabase  string          `yaml:"last_database,omitempty"`
	LastOperation string          `yaml:"last_operation,omitempty"`
	LastUpdated   time.Time       `yaml:"last_updated"`
	Databases     map[string]Pass `yaml:"databases,omitempty"`
}

// Pass is the outcome of one scan, encode or decode.
type Pass struct {
	Operation string    `yaml:"operation"`
	RunID     string    `yaml:"run_id,omitempty"`
	Status    string    `yaml:"status"`
	At        time.Time `yaml:"at"`
}

func resolve(path string) string {
	if path == "" {
		return config.ExpandHome(DefaultPath)
	}
	return path
}

// Load reads the state file. A missing file yields an empty state.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(resolve(path))
	if errors.Is(err, fs.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading state: %w", err)
	}

	s := New()
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	if s.Databases == nil {
		s.Databases = make(map[string]Pass)
	}
	return s, nil
}

// Save replaces the state file through a rename so a crash never leaves
// it half written.
func (s *State) Save(path string) error {
	path = resolve(path)
	s.LastUpdated = time.Now().UTC()

	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshaling state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.yaml")
	if err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing state: %w", err)
	}
	return os.Rename(tmp.Name(), path)
}

func New() *State {
	return &State{Databases: make(map[string]Pass)}
}

// Record notes a finished pass against database.
func (s *State) Record(database, operation, runID, status string) {
	s.LastDatabase = database
	s.LastOperation = operation
	s.Databases[database] = Pass{
		Operation: operation,
		RunID:     runID,
		Status:    status,
		At:        time.Now().UTC(),
	}
}

// Last returns the latest pass against database.
func (s *State) Last(database string) (Pass, bool) {
	p, ok := s.Databases[database]
	return p, ok
}
