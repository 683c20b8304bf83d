// Package must provides best-effort helpers for cleanup operations whose
// failures can't be meaningfully handled but shouldn't be silently dropped.
package must

import (
	"io"
	"os"

	"github.com/grivet-io/grivet/pkg/logging"
)

// Close closes a closer, logging any error as a warning.
func Close(c io.Closer, logger *logging.Logger) {
	if err := c.Close(); err != nil {
		logger.Warnf("Unable to close: %s", err.Error())
	}
}

// OSRemove removes a filesystem entry, logging any error as a warning.
func OSRemove(name string, logger *logging.Logger) {
	if err := os.Remove(name); err != nil {
		logger.Warnf("Unable to remove '%s': %s", name, err.Error())
	}
}

// Unlock releases a locker, logging any error as a warning.
func Unlock(locker interface{ Unlock() error }, logger *logging.Logger) {
	if err := locker.Unlock(); err != nil {
		logger.Warnf("Unable to unlock locker: %s", err.Error())
	}
}

// Terminate terminates a terminable resource, logging any error as a warning.
func Terminate(t interface{ Terminate() error }, logger *logging.Logger) {
	if err := t.Terminate(); err != nil {
		logger.Warnf("Unable to terminate: %s", err.Error())
	}
}

// Release releases a releasable resource, logging any error as a warning.
func Release(r interface{ Release() error }, logger *logging.Logger) {
	if err := r.Release(); err != nil {
		logger.Warnf("Unable to release: %s", err.Error())
	}
}
