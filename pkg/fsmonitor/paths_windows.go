//go:build windows

package fsmonitor

import (
	"strings"

	"github.com/grivet-io/grivet/pkg/filesystem"
)

const (
	// pipeNamespace is the local named pipe namespace prefix.
	pipeNamespace = `\\.\pipe\`
)

// EndpointPath computes the daemon's named pipe path for the specified
// repository layout. The name is derived from the resolved worktree path
// with characters that named pipes disallow mapped to allowed ones, so that
// each worktree yields a stable, unique pipe.
func EndpointPath(gitdir, worktree string) (string, error) {
	normalized, err := filesystem.Normalize(worktree)
	if err != nil {
		return "", err
	}
	derived := strings.ReplaceAll(normalized, ":", "_")
	derived = strings.ReplaceAll(derived, "/", `\`)
	return pipeNamespace + "fsmonitor-" + derived, nil
}
