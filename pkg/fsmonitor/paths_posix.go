//go:build !windows

package fsmonitor

import (
	"path/filepath"

	"github.com/grivet-io/grivet/pkg/filesystem"
)

const (
	// endpointName is the name of the daemon's unix socket within the
	// gitdir.
	endpointName = "fsmonitor--daemon.ipc"
)

// EndpointPath computes the daemon's IPC endpoint path for the specified
// repository layout.
func EndpointPath(gitdir, worktree string) (string, error) {
	normalized, err := filesystem.Normalize(gitdir)
	if err != nil {
		return "", err
	}
	return filepath.Join(normalized, endpointName), nil
}
