//go:build windows

package locking

import (
	"golang.org/x/sys/windows"
)

// Lock attempts to acquire the file lock.
func (l *Locker) Lock(block bool) error {
	var overlapped windows.Overlapped
	flags := uint32(windows.LOCKFILE_EXCLUSIVE_LOCK)
	if !block {
		flags |= windows.LOCKFILE_FAIL_IMMEDIATELY
	}
	return windows.LockFileEx(windows.Handle(l.file.Fd()), flags, 0, 1, 0, &overlapped)
}

// Unlock releases the file lock.
func (l *Locker) Unlock() error {
	var overlapped windows.Overlapped
	return windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, &overlapped)
}
