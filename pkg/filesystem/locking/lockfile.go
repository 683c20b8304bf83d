package locking

import (
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	// DefaultLockfileTimeout is the default total duration for which lockfile
	// acquisition will spin before giving up.
	DefaultLockfileTimeout = 100 * time.Millisecond
	// lockfileRetryInterval is the interval between lockfile acquisition
	// attempts.
	lockfileRetryInterval = 5 * time.Millisecond
	// lockfileSuffix is the suffix appended to a target path to derive its
	// sibling lockfile path.
	lockfileSuffix = ".lock"
)

// ErrLockfileTimeout indicates that a sibling lockfile could not be acquired
// within the allotted time, most likely because another process holds it.
var ErrLockfileTimeout = errors.New("timed out waiting for lockfile")

// Lockfile represents a held sibling lockfile guarding an update to a shared
// file. The protocol is exclusive-create of <target>.lock, staging of new
// contents into the lockfile, and then either an atomic rename onto the
// target (Commit) or removal (Rollback).
type Lockfile struct {
	// target is the path of the file being updated.
	target string
	// file is the open lockfile. It is nil once the lockfile has been
	// committed or rolled back.
	file *os.File
}

// AcquireLockfile attempts to exclusively create the sibling lockfile for the
// specified target path, retrying at a short interval until the specified
// timeout elapses. A non-positive timeout is replaced with the default.
func AcquireLockfile(target string, timeout time.Duration) (*Lockfile, error) {
	// Validate and adjust the timeout.
	if timeout <= 0 {
		timeout = DefaultLockfileTimeout
	}

	// Spin on exclusive creation until we succeed or run out of time. An
	// EEXIST failure means some other process holds the lock, so it's the
	// only failure worth retrying.
	deadline := time.Now().Add(timeout)
	for {
		file, err := os.OpenFile(target+lockfileSuffix, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
		if err == nil {
			return &Lockfile{target: target, file: file}, nil
		} else if !os.IsExist(err) {
			return nil, fmt.Errorf("unable to create lockfile: %w", err)
		}
		if time.Now().After(deadline) {
			return nil, ErrLockfileTimeout
		}
		time.Sleep(lockfileRetryInterval)
	}
}

// Write stages contents into the lockfile.
func (l *Lockfile) Write(data []byte) (int, error) {
	if l.file == nil {
		return 0, errors.New("lockfile already resolved")
	}
	return l.file.Write(data)
}

// Commit closes the lockfile and atomically renames it onto the target path.
func (l *Lockfile) Commit() error {
	if l.file == nil {
		return errors.New("lockfile already resolved")
	}
	if err := l.file.Close(); err != nil {
		os.Remove(l.file.Name())
		l.file = nil
		return fmt.Errorf("unable to close lockfile: %w", err)
	}
	name := l.file.Name()
	l.file = nil
	if err := os.Rename(name, l.target); err != nil {
		os.Remove(name)
		return fmt.Errorf("unable to rename lockfile onto target: %w", err)
	}
	return nil
}

// Rollback closes and removes the lockfile, leaving the target untouched. It
// is a no-op if the lockfile has already been committed or rolled back, so
// it's safe to defer unconditionally.
func (l *Lockfile) Rollback() error {
	if l.file == nil {
		return nil
	}
	name := l.file.Name()
	closeErr := l.file.Close()
	l.file = nil
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("unable to remove lockfile: %w", err)
	}
	return closeErr
}
