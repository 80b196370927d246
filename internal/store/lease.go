package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	apperrors "github.com/qter21/legal-codes-search-api/internal/errors"
)

// Lease is the exclusive, cross-process right to run a sync against one
// data directory. It is an advisory file lock, released automatically by
// the OS if the holder dies.
type Lease struct {
	path  string
	flock *flock.Flock

	mu     sync.Mutex
	locked bool
}

// NewLease returns the lease guarding dataDir. The lock file is
// <dataDir>/sync.lock.
func NewLease(dataDir string) *Lease {
	path := filepath.Join(dataDir, "sync.lock")
	return &Lease{path: path, flock: flock.New(path)}
}

// Path returns the lock file path.
func (l *Lease) Path() string { return l.path }

// TryAcquire takes the lease without blocking. If another process, another
// Lease, or this Lease already holds it, it returns ErrCodeSyncLeaseHeld.
func (l *Lease) TryAcquire() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locked {
		return l.heldError()
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	acquired, err := l.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire sync lease: %w", err)
	}
	if !acquired {
		return l.heldError()
	}
	l.locked = true
	return nil
}

func (l *Lease) heldError() error {
	return apperrors.New(apperrors.ErrCodeSyncLeaseHeld, "another sync run holds the lease", nil).
		WithDetail("lock", l.path).
		WithSuggestion("Wait for the running sync to finish, or trigger syncs through 'legalcodes serve'")
}

// Release gives up the lease. Safe to call when not held.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release sync lease: %w", err)
	}
	return nil
}

// Held reports whether this Lease currently holds the lock.
func (l *Lease) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.locked
}
