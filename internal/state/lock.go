package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

// lockRetryDelay is how often a blocked Lock re-attempts acquisition.
const lockRetryDelay = 100 * time.Millisecond

// RunLock serializes indexing runs over one fingerprint file, within a
// process and across processes.
type RunLock struct {
	path  string
	flock *flock.Flock

	// sem guards the flock within this process; flock.Flock treats a second
	// acquisition through the same handle as already held.
	sem chan struct{}
}

// NewRunLock creates a lock guarding the fingerprint at statePath. The lock
// file lives next to it as <statePath>.lock.
func NewRunLock(statePath string) *RunLock {
	lockPath := statePath + ".lock"
	return &RunLock{
		path:  lockPath,
		flock: flock.New(lockPath),
		sem:   make(chan struct{}, 1),
	}
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.path
}

// Lock blocks until the lock is held or ctx is done.
func (l *RunLock) Lock(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("%w: creating lock directory: %v", rag.ErrIO, err)
	}

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for run lock: %v", rag.ErrIO, ctx.Err())
	}

	locked, err := l.flock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		<-l.sem
		return fmt.Errorf("%w: acquiring run lock: %v", rag.ErrIO, err)
	}
	if !locked {
		<-l.sem
		return fmt.Errorf("%w: run lock %s not acquired", rag.ErrIO, l.path)
	}
	return nil
}

// TryLock attempts to take the lock without blocking.
func (l *RunLock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, fmt.Errorf("%w: creating lock directory: %v", rag.ErrIO, err)
	}
	select {
	case l.sem <- struct{}{}:
	default:
		return false, nil
	}

	ok, err := l.flock.TryLock()
	if err != nil || !ok {
		<-l.sem
		if err != nil {
			return false, fmt.Errorf("%w: acquiring run lock: %v", rag.ErrIO, err)
		}
		return false, nil
	}
	return true, nil
}

// Unlock releases the lock. Unlocking an unheld lock is a no-op.
func (l *RunLock) Unlock() error {
	if len(l.sem) == 0 {
		return nil
	}
	defer func() { <-l.sem }()
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("%w: releasing run lock: %v", rag.ErrIO, err)
	}
	return nil
}
