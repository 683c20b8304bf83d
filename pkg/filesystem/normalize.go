package filesystem

import (
	"os"
	"os/user"
	"path/filepath"

	"github.com/pkg/errors"
)

// splitHomeReference splits a ~-prefixed path into its user name (empty for
// the current user) and the remainder following the first path separator.
// The ok result is false for paths that don't reference a home directory.
func splitHomeReference(path string) (string, string, bool) {
	if path == "" || path[0] != '~' {
		return "", "", false
	}
	for i := 1; i < len(path); i++ {
		if os.IsPathSeparator(path[i]) {
			return path[1:i], path[i+1:], true
		}
	}
	return path[1:], "", true
}

// homeDirectory resolves the home directory of the named user, or of the
// current user if the name is empty.
func homeDirectory(name string) (string, error) {
	if name == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "unable to compute path to home directory")
		}
		return home, nil
	}
	account, err := user.Lookup(name)
	if err != nil {
		return "", errors.Wrap(err, "unable to lookup user")
	}
	return account.HomeDir, nil
}

// Normalize converts a path to the canonical form used throughout the
// system: home directory references are expanded, the path is made absolute,
// and the result is cleaned (which also strips any trailing separator). The
// object database deduplicates alternates by comparing these canonical
// forms, and the watcher classifies event paths against them, so every path
// that crosses a package boundary should pass through here first.
func Normalize(path string) (string, error) {
	// Expand any home directory reference.
	if name, remainder, ok := splitHomeReference(path); ok {
		home, err := homeDirectory(name)
		if err != nil {
			return "", errors.Wrap(err, "unable to perform home expansion")
		}
		path = filepath.Join(home, remainder)
	}

	// Convert to an absolute path. This also invokes filepath.Clean.
	path, err := filepath.Abs(path)
	if err != nil {
		return "", errors.Wrap(err, "unable to compute absolute path")
	}

	// Success.
	return path, nil
}
