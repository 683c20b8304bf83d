package locking

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLockfileCommit(t *testing.T) {
	target := filepath.Join(t.TempDir(), "shared.txt")

	// Acquire, stage, and commit.
	lockfile, err := AcquireLockfile(target, 0)
	if err != nil {
		t.Fatal("unable to acquire lockfile:", err)
	}
	if _, err := lockfile.Write([]byte("updated contents")); err != nil {
		t.Fatal("unable to stage contents:", err)
	}
	if err := lockfile.Commit(); err != nil {
		t.Fatal("unable to commit lockfile:", err)
	}

	// The target must hold the staged contents and the lockfile must be
	// gone.
	contents, err := os.ReadFile(target)
	if err != nil || string(contents) != "updated contents" {
		t.Error("target doesn't hold staged contents")
	}
	if _, err := os.Lstat(target + ".lock"); !os.IsNotExist(err) {
		t.Error("lockfile survived commit")
	}
}

func TestLockfileRollback(t *testing.T) {
	target := filepath.Join(t.TempDir(), "shared.txt")
	if err := os.WriteFile(target, []byte("original"), 0644); err != nil {
		t.Fatal("unable to seed target:", err)
	}

	// Acquire, stage, and roll back.
	lockfile, err := AcquireLockfile(target, 0)
	if err != nil {
		t.Fatal("unable to acquire lockfile:", err)
	}
	lockfile.Write([]byte("discarded"))
	if err := lockfile.Rollback(); err != nil {
		t.Fatal("unable to roll back lockfile:", err)
	}

	// The target must be untouched and the lockfile gone.
	contents, err := os.ReadFile(target)
	if err != nil || string(contents) != "original" {
		t.Error("rollback touched the target")
	}
	if _, err := os.Lstat(target + ".lock"); !os.IsNotExist(err) {
		t.Error("lockfile survived rollback")
	}

	// Rollback is idempotent.
	if err := lockfile.Rollback(); err != nil {
		t.Error("repeated rollback failed:", err)
	}
}

func TestLockfileContention(t *testing.T) {
	target := filepath.Join(t.TempDir(), "contended.txt")

	// Hold the lockfile and ensure that a second acquisition times out
	// within (roughly) its budget.
	held, err := AcquireLockfile(target, 0)
	if err != nil {
		t.Fatal("unable to acquire lockfile:", err)
	}
	defer held.Rollback()

	started := time.Now()
	if _, err := AcquireLockfile(target, 50*time.Millisecond); err != ErrLockfileTimeout {
		t.Fatal("contended acquisition didn't time out:", err)
	}
	if elapsed := time.Since(started); elapsed > 5*time.Second {
		t.Error("contended acquisition spun far past its budget:", elapsed)
	}
}

func TestLockerBasic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.lock")

	// Acquire and release a lock.
	locker, err := NewLocker(path, 0600)
	if err != nil {
		t.Fatal("unable to create locker:", err)
	}
	if err := locker.Lock(false); err != nil {
		t.Fatal("unable to acquire lock:", err)
	}
	if err := locker.Unlock(); err != nil {
		t.Fatal("unable to release lock:", err)
	}
	if err := locker.Close(); err != nil {
		t.Fatal("unable to close locker:", err)
	}
}
