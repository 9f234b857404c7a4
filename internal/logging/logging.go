package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/colmask/colmask/internal/config"
)

const filePrefix = "colmask-"

// Options configures Setup.
type Options struct {
	Level         string
	Directory     string
	RetentionDays int
	Stdout        io.Writer // defaults to os.Stdout
}

// Setup returns a logger writing text records to stdout and to a daily file
// under Directory. The returned close function flushes and closes the file.
func Setup(opts Options) (*slog.Logger, func() error, error) {
	directory := opts.Directory
	if directory == "" {
		directory = "~/.colmask/logs/"
	}
	directory = config.ExpandHome(directory)

	if err := os.MkdirAll(directory, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	now := time.Now()
	if opts.RetentionDays > 0 {
		prune(directory, now.AddDate(0, 0, -opts.RetentionDays))
	}

	logPath := filepath.Join(directory, filePrefix+now.Format("2006-01-02")+".log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	stdout := opts.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	handler := slog.NewTextHandler(io.MultiWriter(stdout, file), &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	})
	return slog.New(handler), file.Close, nil
}

// ParseLevel maps a config level name to a slog level. Unknown names are info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// prune removes daily log files dated before cutoff. Errors are ignored.
func prune(directory string, cutoff time.Time) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, ".log") {
			continue
		}
		day, err := time.ParseInLocation("2006-01-02", strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), ".log"), time.Local)
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			_ = os.Remove(filepath.Join(directory, name))
		}
	}
}
