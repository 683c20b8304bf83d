package fsmonitor

import (
	"context"
	"fmt"
	"time"

	"github.com/grivet-io/grivet/pkg/ipc"
)

const (
	// quitPollInterval is the interval at which Stop polls for the daemon's
	// endpoint to go quiet.
	quitPollInterval = 50 * time.Millisecond
)

// Client queries a running watcher daemon.
type Client struct {
	// endpoint is the daemon's IPC endpoint path.
	endpoint string
}

// NewClient creates a client for the daemon serving the specified repository
// layout.
func NewClient(gitdir, worktree string) (*Client, error) {
	endpoint, err := EndpointPath(gitdir, worktree)
	if err != nil {
		return nil, fmt.Errorf("unable to compute endpoint path: %w", err)
	}
	return &Client{endpoint: endpoint}, nil
}

// State probes the daemon's endpoint.
func (c *Client) State() ipc.ActiveState {
	return ipc.GetActiveState(c.endpoint)
}

// Query asks the daemon what changed since the specified token. An empty
// token requests the current token (with a trivial response).
func (c *Client) Query(ctx context.Context, sinceToken string) (*QueryResponse, error) {
	payload, err := ipc.Call(ctx, c.endpoint, []byte(sinceToken))
	if err != nil {
		return nil, err
	}
	return decodeQueryResponse(payload)
}

// Flush asks the daemon to force a resync, invalidating all outstanding
// tokens. It returns the fresh token.
func (c *Client) Flush(ctx context.Context) (*QueryResponse, error) {
	payload, err := ipc.Call(ctx, c.endpoint, []byte(CommandFlush))
	if err != nil {
		return nil, err
	}
	return decodeQueryResponse(payload)
}

// Stop sends the quit command (which has no response) and waits for the
// daemon's endpoint to stop listening.
func (c *Client) Stop(ctx context.Context) error {
	if _, err := ipc.Call(ctx, c.endpoint, []byte(CommandQuit)); err != nil {
		return err
	}
	for c.State() == ipc.StateListening {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(quitPollInterval):
		}
	}
	return nil
}
