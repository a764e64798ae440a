// Package lock provides the per-scope advisory locks held by mutating
// operations.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/ui"
)

// FileLocker takes flock(2) locks under dir
type FileLocker struct {
	dir string
}

// NewFileLocker creates a locker keeping lock files in dir
func NewFileLocker(dir string) ports.Locker {
	return &FileLocker{dir: dir}
}

// Path returns the lock file for (env, workload, provider)
func (l *FileLocker) Path(env, workload, provider string) string {
	parts := []string{env, workload, provider}
	for i, p := range parts {
		if p == "" {
			p = "_"
		}
		parts[i] = strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(p)
	}
	return filepath.Join(l.dir, strings.Join(parts, "__")+".lock")
}

// Acquire takes the lock without blocking. A held lock is a precondition
// failure naming the file.
func (l *FileLocker) Acquire(env, workload, provider string) (func() error, error) {
	if err := os.MkdirAll(l.dir, 0700); err != nil {
		return nil, failure.Precondition("", "failed to create lock dir %s: %v", l.dir, err)
	}

	path := l.Path(env, workload, provider)
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, failure.Precondition("", "failed to lock %s: %v", path, err)
	}
	if !locked {
		return nil, failure.Precondition(
			fmt.Sprintf("wait for the other envctl run to finish; if none is running, remove %s", path),
			"another operation holds the lock for %s", path)
	}

	ui.Debug("Acquired lock %s", path)
	return func() error {
		if err := fl.Unlock(); err != nil {
			return fmt.Errorf("failed to release lock %s: %w", path, err)
		}
		ui.Debug("Released lock %s", path)
		return nil
	}, nil
}
