package lock

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/colmask/colmask/internal/config"
)

const Dir = "~/.colmask/locks"

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// PathFor returns the lock file guarding one database on one server.
// Two passes against the same database must not interleave.
func PathFor(driver, host, database string) string {
	name := strings.Join([]string{driver, host, database}, "-")
	name = unsafeChars.ReplaceAllString(strings.ToLower(name), "_")
	return filepath.Join(config.ExpandHome(Dir), name+".lock")
}

// HeldError reports a lock owned by another live process.
type HeldError struct {
	Path string
	PID  int
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("another colmask run holds %s (PID %d); only one pass per database can run at a time", e.Path, e.PID)
}

// Acquire creates the lock file with the current process PID. A lock left
// by a dead process is taken over.
func Acquire(path string) error {
	return acquire(path, os.Getpid())
}

func acquire(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := create(path, pid)
		if err == nil {
			return nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return fmt.Errorf("creating lock: %w", err)
		}

		held, owner, err := IsHeld(path)
		if err != nil {
			return err
		}
		if held && owner == pid {
			return nil
		}
		if held {
			return &HeldError{Path: path, PID: owner}
		}
		if err := takeOver(path, pid); err != nil {
			return err
		}
	}
	return fmt.Errorf("could not take lock %s", path)
}

// create writes pid to a private file and links it into place. The link
// fails with fs.ErrExist when path exists, and a lock is never visible
// without its PID.
func create(path string, pid int) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".lock-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.WriteString(strconv.Itoa(pid))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Link(tmp.Name(), path)
}

// takeOver moves a stale lock aside. If another process replaced it with
// a live lock in the meantime, that lock is put back and reported.
func takeOver(path string, pid int) error {
	aside := fmt.Sprintf("%s.stale.%d", path, pid)
	if err := os.Rename(path, aside); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("removing stale lock: %w", err)
	}
	defer os.Remove(aside)

	if held, owner, _ := IsHeld(aside); held && owner != pid {
		// Link fails if a third process already holds path.
		_ = os.Link(aside, path)
		return &HeldError{Path: path, PID: owner}
	}
	return nil
}

// Release removes the lock file.
func Release(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// IsHeld checks if the lock is currently held by a running process.
func IsHeld(path string) (bool, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0, nil
	}
	return isProcessRunning(pid), pid, nil
}

func isProcessRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
