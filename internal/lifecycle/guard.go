// Package lifecycle assembles the service from configuration and owns
// startup and shutdown ordering, including the single-writer guard on
// the data directory.
package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	serrors "github.com/storefind/storefind/internal/errors"
)

// Guard holds an exclusive cross-process lock on the data directory.
// SQLite with one writer connection and an in-process HNSW graph both
// assume a single running instance per directory.
type Guard struct {
	path   string
	flock  *flock.Flock
	locked bool
}

// NewGuard creates a guard for the given data directory. The lock file
// lives at <dir>/.storefind.lock.
func NewGuard(dir string) *Guard {
	path := filepath.Join(dir, ".storefind.lock")
	return &Guard{path: path, flock: flock.New(path)}
}

// Acquire takes the lock without blocking. A held lock means another
// instance owns the directory.
func (g *Guard) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return serrors.New(serrors.ErrCodeStoreUnavailable, "create data directory", err)
	}
	acquired, err := g.flock.TryLock()
	if err != nil {
		return serrors.New(serrors.ErrCodeStoreUnavailable, "acquire data directory lock", err)
	}
	if !acquired {
		return serrors.New(serrors.ErrCodeStoreUnavailable,
			fmt.Sprintf("data directory is locked by another instance (%s)", g.path), nil)
	}
	g.locked = true
	return nil
}

// Release drops the lock. Safe to call when not held.
func (g *Guard) Release() error {
	if !g.locked {
		return nil
	}
	g.locked = false
	return g.flock.Unlock()
}

// Path returns the lock file location.
func (g *Guard) Path() string {
	return g.path
}
