//go:build !windows

package ipc

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// dialTimeoutBudget is the total connection timeout budget on POSIX
	// systems.
	dialTimeoutBudget = 1 * time.Second
)

// DialContext attempts to establish an IPC connection, timing out if the
// provided context expires.
func DialContext(ctx context.Context, path string) (net.Conn, error) {
	// Create a zero-valued dialer, which will have the same dialing behavior
	// as the raw dialing functions.
	dialer := &net.Dialer{}

	// Perform dialing.
	return dialer.DialContext(ctx, "unix", path)
}

// probeEndpointPath checks the endpoint path itself before any dialing. The
// boolean result indicates whether or not the probe was conclusive.
func probeEndpointPath(path string) (ActiveState, bool) {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatePathNotFound, true
		}
		return StateOtherError, true
	}
	if info.Mode()&os.ModeSocket == 0 {
		return StateInvalidPath, true
	}
	return StateListening, false
}

// classifyDialError converts a dial failure into an active state.
func classifyDialError(err error) ActiveState {
	message := err.Error()
	if strings.Contains(message, "connection refused") {
		return StateNotListening
	} else if os.IsNotExist(errors.Cause(err)) {
		return StatePathNotFound
	}
	return StateOtherError
}

// NewListener creates a new IPC listener at the specified path. The path
// must be absolute; its parent directory is created with owner-only
// permissions if missing, and the socket itself is restricted to its owner.
func NewListener(path string) (net.Listener, error) {
	// Enforce the absolute-path requirement: relative socket paths change
	// meaning with the working directory, which is never what a daemon
	// wants.
	if !filepath.IsAbs(path) {
		return nil, errors.New("IPC endpoint path must be absolute")
	}

	// Ensure that the parent directory exists with restricted permissions.
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "unable to create endpoint parent directory")
	}

	// Create the listener.
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}

	// Explicitly set socket permissions.
	if err := os.Chmod(path, 0600); err != nil {
		listener.Close()
		return nil, errors.Wrap(err, "unable to set socket permissions")
	}

	// Success.
	return listener, nil
}
