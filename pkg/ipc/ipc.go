// Package ipc provides the local transport between short-lived client
// processes and long-running helper daemons: unix domain sockets on POSIX
// systems and named pipes on Windows, carrying packet-line framed
// request/response exchanges.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/grivet-io/grivet/pkg/ipc/pktline"
)

const (
	// dialRetryInterval is the interval between connection attempts during
	// daemon startup races.
	dialRetryInterval = 50 * time.Millisecond
)

// ActiveState describes the observed state of an IPC endpoint path.
type ActiveState uint8

const (
	// StateListening indicates that a server is accepting connections.
	StateListening ActiveState = iota
	// StateNotListening indicates that the endpoint exists but no server
	// accepted a connection.
	StateNotListening
	// StatePathNotFound indicates that the endpoint path doesn't exist.
	StatePathNotFound
	// StateInvalidPath indicates that the endpoint path is unusable (e.g.
	// not absolute, or not an endpoint at all).
	StateInvalidPath
	// StateOtherError indicates an unclassifiable probe failure.
	StateOtherError
)

// String provides a human-readable representation of an active state.
func (s ActiveState) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateNotListening:
		return "not listening"
	case StatePathNotFound:
		return "path not found"
	case StateInvalidPath:
		return "invalid path"
	case StateOtherError:
		return "other error"
	default:
		return "unknown"
	}
}

// GetActiveState probes the endpoint at the specified path with a trivial
// connect-and-disconnect.
func GetActiveState(path string) ActiveState {
	if path == "" {
		return StateInvalidPath
	}
	if state, conclusive := probeEndpointPath(path); conclusive {
		return state
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialRetryInterval)
	defer cancel()
	connection, err := DialContext(ctx, path)
	if err != nil {
		return classifyDialError(err)
	}
	connection.Close()
	return StateListening
}

// DialWithRetry attempts to establish a connection to the endpoint at the
// specified path, retrying at a short interval (to paper over daemon startup
// races) until the platform's total connection timeout budget is exhausted.
func DialWithRetry(ctx context.Context, path string) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeoutBudget)
	defer cancel()
	for {
		connection, err := DialContext(ctx, path)
		if err == nil {
			return connection, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("unable to connect to %s: %w", path, err)
		case <-time.After(dialRetryInterval):
		}
	}
}

// Call performs one complete request/response exchange with the daemon at
// the specified endpoint path: the request is framed (chunked if necessary)
// and flushed, and the response payload is read up to the server's flush. A
// nil response with a nil error indicates that the server closed the
// connection without responding (e.g. for a quit command).
func Call(ctx context.Context, path string, request []byte) ([]byte, error) {
	// Connect.
	connection, err := DialWithRetry(ctx, path)
	if err != nil {
		return nil, err
	}
	defer connection.Close()

	// Send the request.
	writer := pktline.NewWriter(connection)
	if err := writer.WriteChunked(request); err != nil {
		return nil, fmt.Errorf("unable to send request: %w", err)
	}
	if err := writer.WriteFlush(); err != nil {
		return nil, fmt.Errorf("unable to flush request: %w", err)
	}

	// Read the response.
	reader := pktline.NewReader(connection)
	response, err := reader.ReadRequest()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("unable to read response: %w", err)
	}
	return response, nil
}
