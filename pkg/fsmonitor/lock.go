package fsmonitor

import (
	"fmt"
	"path/filepath"

	"github.com/grivet-io/grivet/pkg/filesystem/locking"
	"github.com/grivet-io/grivet/pkg/logging"
	"github.com/grivet-io/grivet/pkg/must"
)

const (
	// lockName is the name of the daemon's single-instance lock file within
	// the gitdir.
	lockName = "fsmonitor--daemon.lock"
)

// Lock represents the per-worktree daemon lock. It is held by a single
// daemon instance at a time.
type Lock struct {
	// locker is the underlying file locker.
	locker *locking.Locker
	// logger is the lock's logger.
	logger *logging.Logger
}

// AcquireLock attempts to acquire the daemon lock for the specified gitdir
// without blocking: a held lock means another daemon is already watching
// this worktree.
func AcquireLock(gitdir string, logger *logging.Logger) (*Lock, error) {
	// Create the locker and attempt to acquire the lock.
	locker, err := locking.NewLocker(filepath.Join(gitdir, lockName), 0600)
	if err != nil {
		return nil, fmt.Errorf("unable to create daemon file locker: %w", err)
	} else if err = locker.Lock(false); err != nil {
		must.Close(locker, logger)
		return nil, fmt.Errorf("another daemon appears to hold the watch: %w", err)
	}

	// Create the lock.
	return &Lock{
		locker: locker,
		logger: logger,
	}, nil
}

// Release releases the daemon lock.
func (l *Lock) Release() error {
	// Release the lock.
	if err := l.locker.Unlock(); err != nil {
		must.Close(l.locker, l.logger)
		return err
	}

	// Close the locker.
	if err := l.locker.Close(); err != nil {
		return fmt.Errorf("unable to close locker: %w", err)
	}

	// Success.
	return nil
}
