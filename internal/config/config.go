package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/colmask/colmask/internal/dialect"
	"github.com/colmask/colmask/internal/sqlident"
)

const (
	CurrentVersion = 1
	DefaultPath    = "~/.colmask/colmask.yaml"
)

// Config is the top-level configuration.
type Config struct {
	Version  int            `yaml:"version"`
	Database DatabaseConfig `yaml:"database"`
	Masking  MaskingConfig  `yaml:"masking"`
	Logging  LogConfig      `yaml:"logging,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty"`
	Journal  JournalConfig  `yaml:"journal,omitempty"`
}

// DatabaseConfig defines the server connection. Database is the default
// database name; the interactive prompt and --database override it.
type DatabaseConfig struct {
	Driver           string `yaml:"driver"` // sqlserver or postgresql
	Host             string `yaml:"host,omitempty"`
	Port             int    `yaml:"port,omitempty"`
	Database         string `yaml:"database,omitempty"`
	Schema           string `yaml:"schema,omitempty"`
	Username         string `yaml:"username,omitempty"`
	Password         string `yaml:"password,omitempty"`
	ConnectionString string `yaml:"connection_string,omitempty"` // overrides host/port/credentials
	SSL              bool   `yaml:"ssl,omitempty"`
}

// MaskingConfig selects the confidential columns and tunes masking passes.
type MaskingConfig struct {
	ConfidentialColumns []string `yaml:"confidential_columns"`
	Transactional       *bool    `yaml:"transactional,omitempty"`     // default true
	UpdateStrategy      string   `yaml:"update_strategy,omitempty"`   // value or row
	RestoreTypeLast     bool     `yaml:"restore_type_last,omitempty"` // decode values before restoring the type
}

// LogConfig defines logging settings.
type LogConfig struct {
	Level         string `yaml:"level,omitempty"`          // debug, info, warn, error
	Directory     string `yaml:"directory,omitempty"`      // default ~/.colmask/logs/
	RetentionDays int    `yaml:"retention_days,omitempty"` // default 30
}

// MetricsConfig defines where counters are exported after each run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile,omitempty"` // node_exporter textfile path; empty disables
}

// JournalConfig defines the local run history.
type JournalConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"` // default true
	Path    string `yaml:"path,omitempty"`    // default ~/.colmask/journal.db
}

// Load reads, resolves and validates the config file at path.
func Load(ctx context.Context, path string) (*Config, error) {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if cfg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version %d (expected %d)", cfg.Version, CurrentVersion)
	}

	if err := cfg.resolveSecrets(ctx); err != nil {
		return nil, fmt.Errorf("resolving secrets: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to path.
func (c *Config) Save(path string) error {
	if path == "" {
		path = ExpandHome(DefaultPath)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

func (c *Config) applyDefaults() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	if d, err := dialect.Get(c.Database.Driver); err == nil {
		c.Database.Driver = d.Name()
		if c.Database.Schema == "" {
			c.Database.Schema = d.DefaultSchema()
		}
		if c.Database.Port == 0 {
			switch d.Name() {
			case "sqlserver":
				c.Database.Port = 1433
			case "postgresql":
				c.Database.Port = 5432
			}
		}
	}
	if c.Database.Host == "" {
		c.Database.Host = "localhost"
	}

	if c.Masking.Transactional == nil {
		t := true
		c.Masking.Transactional = &t
	}
	if c.Masking.UpdateStrategy == "" {
		c.Masking.UpdateStrategy = "value"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Directory == "" {
		c.Logging.Directory = "~/.colmask/logs/"
	}
	c.Logging.Directory = ExpandHome(c.Logging.Directory)
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = 30
	}

	if c.Journal.Enabled == nil {
		t := true
		c.Journal.Enabled = &t
	}
	if c.Journal.Path == "" {
		c.Journal.Path = "~/.colmask/journal.db"
	}
	c.Journal.Path = ExpandHome(c.Journal.Path)
	c.Metrics.Textfile = ExpandHome(c.Metrics.Textfile)
}

// Validate reports every problem with c at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := dialect.Get(c.Database.Driver); err != nil {
		errs = append(errs, fmt.Errorf("database.driver: %w (supported: %s)", err, strings.Join(dialect.Names(), ", ")))
	}
	if c.Database.Schema != "" {
		if err := sqlident.ValidateIdentifier(c.Database.Schema); err != nil {
			errs = append(errs, fmt.Errorf("database.schema: %w", err))
		}
	}
	if c.Database.ConnectionString == "" && c.Database.Host == "" {
		errs = append(errs, errors.New("database.host or database.connection_string is required"))
	}

	if len(c.Masking.ConfidentialColumns) == 0 {
		errs = append(errs, errors.New("masking.confidential_columns must name at least one column"))
	}
	for _, col := range c.Masking.ConfidentialColumns {
		if err := sqlident.ValidateIdentifier(col); err != nil {
			errs = append(errs, fmt.Errorf("masking.confidential_columns: %w", err))
		}
	}
	switch c.Masking.UpdateStrategy {
	case "value", "row":
	default:
		errs = append(errs, fmt.Errorf("masking.update_strategy: unknown strategy %q (value or row)", c.Masking.UpdateStrategy))
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}

	return errors.Join(errs...)
}

// JournalEnabled reports whether runs are recorded.
func (c *Config) JournalEnabled() bool {
	return c.Journal.Enabled == nil || *c.Journal.Enabled
}

// IsTransactional reports whether masking passes run in per-table transactions.
func (c *Config) IsTransactional() bool {
	return c.Masking.Transactional == nil || *c.Masking.Transactional
}

// DSN returns the connection string for database dbName.
func (c *Config) DSN(dbName string) (string, error) {
	d, err := dialect.Get(c.Database.Driver)
	if err != nil {
		return "", err
	}
	if dbName == "" {
		dbName = c.Database.Database
	}
	if c.Database.ConnectionString != "" {
		if dbName == "" {
			return c.Database.ConnectionString, nil
		}
		return d.WithDatabase(c.Database.ConnectionString, dbName)
	}
	if dbName == "" {
		return "", errors.New("no database name given")
	}
	return d.DSN(dialect.Conn{
		Host:     c.Database.Host,
		Port:     c.Database.Port,
		Database: dbName,
		Username: c.Database.Username,
		Password: c.Database.Password,
		SSL:      c.Database.SSL,
	}), nil
}

var secretPattern = regexp.MustCompile(`\$\{(ENV|VAULT|AWS_SM):([^}]+)\}`)

func (c *Config) resolveSecrets(ctx context.Context) error {
	var err error
	c.Database.Password, err = ResolveValue(ctx, c.Database.Password)
	if err != nil {
		return fmt.Errorf("database password: %w", err)
	}
	c.Database.ConnectionString, err = ResolveValue(ctx, c.Database.ConnectionString)
	if err != nil {
		return fmt.Errorf("database connection string: %w", err)
	}
	return nil
}

// ResolveValue resolves a secret reference in val. Values without a
// reference are returned unchanged.
func ResolveValue(ctx context.Context, val string) (string, error) {
	matches := secretPattern.FindStringSubmatch(val)
	if matches == nil {
		return val, nil
	}

	provider := matches[1]
	ref := matches[2]

	switch provider {
	case "ENV":
		v := os.Getenv(ref)
		if v == "" {
			return "", fmt.Errorf("environment variable %s not set", ref)
		}
		return v, nil
	case "VAULT":
		return readVault(ctx, ref)
	case "AWS_SM":
		return readAWSSecret(ctx, ref)
	default:
		return "", fmt.Errorf("unknown secrets provider: %s", provider)
	}
}

// ExpandHome expands ~ to the user's home directory.
func ExpandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
