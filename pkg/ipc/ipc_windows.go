//go:build windows

package ipc

import (
	"context"
	"net"
	"os"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/pkg/errors"
)

const (
	// dialTimeoutBudget is the total connection timeout budget on Windows,
	// where named pipe creation after process start is observably slower
	// than unix socket binding.
	dialTimeoutBudget = 30 * time.Second

	// pipeSecurityDescriptor is the security descriptor applied to the named
	// pipe. It grants GENERIC_READ and GENERIC_WRITE to the Everyone SID so
	// that unelevated clients can reach a daemon that happened to be started
	// elevated. (SDDL: D: starts the DACL, A;; grants, GRGW is
	// GENERIC_READ|GENERIC_WRITE, WD is the Everyone SID.)
	pipeSecurityDescriptor = "D:(A;;GRGW;;;WD)"
)

// DialContext attempts to establish an IPC connection, timing out if the
// provided context expires.
func DialContext(ctx context.Context, path string) (net.Conn, error) {
	return winio.DialPipeContext(ctx, path)
}

// probeEndpointPath is inconclusive on Windows: the named pipe namespace
// isn't usefully statable, so the probe always proceeds to a dial.
func probeEndpointPath(path string) (ActiveState, bool) {
	if !strings.HasPrefix(path, `\\.\pipe\`) {
		return StateInvalidPath, true
	}
	return StateOtherError, false
}

// classifyDialError converts a dial failure into an active state.
func classifyDialError(err error) ActiveState {
	message := err.Error()
	if strings.Contains(message, "cannot find the file") {
		return StatePathNotFound
	} else if strings.Contains(message, "busy") {
		return StateNotListening
	} else if os.IsNotExist(errors.Cause(err)) {
		return StatePathNotFound
	}
	return StateOtherError
}

// NewListener creates a new IPC listener on the named pipe at the specified
// path.
func NewListener(path string) (net.Listener, error) {
	if !strings.HasPrefix(path, `\\.\pipe\`) {
		return nil, errors.New("IPC endpoint path must name a local pipe")
	}
	return winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: pipeSecurityDescriptor,
	})
}
