package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/colmask/colmask/internal/config"
	"github.com/colmask/colmask/internal/logging"
	"github.com/colmask/colmask/internal/state"
	"github.com/colmask/colmask/internal/wizard"
)

var (
	cfgFile  string
	logLevel string
	dbName   string
	version  = "dev"
	commit   = "none"
	date     = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "colmask",
	Short: "Colmask: reversible masking of confidential columns",
	Long: `colmask records the declared type of every column of a SQL Server or
PostgreSQL database in a catalog kept in that database, then base64-encodes
or decodes the configured confidential columns in place.

Running without a subcommand asks for a database and an operation.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInteractive(cmd.Context())
	},
}

// Execute runs the root command until completion or SIGINT/SIGTERM.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.colmask/colmask.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVar(&dbName, "database", "", "database to work on (default: database.database from the config)")
}

func configPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	return config.ExpandHome(config.DefaultPath)
}

// loadConfig loads the .env file next to the config, then the config itself.
func loadConfig(ctx context.Context) (*config.Config, error) {
	path := configPath()

	envPath := filepath.Join(filepath.Dir(path), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Could not load .env file, continuing with existing environment", "path", envPath, "error", err)
	}

	cfg, err := config.Load(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

// setupLogger builds the run logger. stdout may be io.Discard when a
// terminal view owns the screen.
func setupLogger(cfg *config.Config, stdout io.Writer) (*slog.Logger, func() error, error) {
	logger, closeFn, err := logging.Setup(logging.Options{
		Level:         cfg.Logging.Level,
		Directory:     cfg.Logging.Directory,
		RetentionDays: cfg.Logging.RetentionDays,
		Stdout:        stdout,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	slog.SetDefault(logger)
	return logger, closeFn, nil
}

func runInteractive(ctx context.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}

	st, err := state.Load("")
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}

	defaultDB := dbName
	if defaultDB == "" {
		defaultDB = st.LastDatabase
	}
	if defaultDB == "" {
		defaultDB = cfg.Database.Database
	}

	sel, err := wizard.Prompt(os.Stdin, os.Stdout, defaultDB)
	if errors.Is(err, wizard.ErrCancelled) {
		fmt.Println("Cancelled.")
		return nil
	}
	if err != nil {
		return err
	}

	terminal := wizard.IsTerminal(os.Stdout)
	var stdout io.Writer = os.Stdout
	if terminal {
		stdout = io.Discard
	}
	logger, closeLog, err := setupLogger(cfg, stdout)
	if err != nil {
		return err
	}
	defer closeLog()

	task := func(ctx context.Context) (string, error) {
		return runOperation(ctx, cfg, logger, sel.Database, sel.Operation, nil)
	}

	if !terminal {
		summary, err := task(ctx)
		if summary != "" {
			fmt.Println(summary)
		}
		return err
	}
	return wizard.RunWithSpinner(ctx, os.Stdout, operationLabel(sel.Operation), task)
}

func operationLabel(op wizard.Operation) string {
	switch op {
	case wizard.OpScan:
		return "Capturing schema"
	case wizard.OpEncode:
		return "Encoding confidential columns"
	default:
		return "Decoding confidential columns"
	}
}
