package fsmonitor

import (
	"path/filepath"
	"strings"
)

// PathClass classifies an observed event path relative to the watched
// worktree. Classification is a constant-time prefix comparison; it runs on
// the listener's hot path for every event.
type PathClass uint8

const (
	// ClassOutside indicates a path outside the watch cone.
	ClassOutside PathClass = iota
	// ClassWorkdirPath indicates an ordinary path inside the worktree.
	// These are the only events that reach batches.
	ClassWorkdirPath
	// ClassGitdir indicates the .git directory (or gitdir) itself. Its
	// deletion forces daemon shutdown.
	ClassGitdir
	// ClassInsideGitdir indicates a path inside the .git directory.
	ClassInsideGitdir
	// ClassCookie indicates a path under the daemon's cookie directory.
	ClassCookie
)

// classifier performs event path classification for one worktree layout.
// All paths are absolute and separator-normalized at construction.
type classifier struct {
	// worktree is the worktree root.
	worktree string
	// gitdir is the repository metadata directory. For primary worktrees it
	// lives inside the worktree; for linked worktrees it is external.
	gitdir string
	// cookieDir is the daemon's cookie directory (inside gitdir).
	cookieDir string
}

// newClassifier creates a classifier for the specified (absolute, cleaned)
// worktree and gitdir paths.
func newClassifier(worktree, gitdir string) *classifier {
	return &classifier{
		worktree:  filepath.Clean(worktree),
		gitdir:    filepath.Clean(gitdir),
		cookieDir: filepath.Join(filepath.Clean(gitdir), cookieDirectoryName),
	}
}

// hasPathPrefix indicates whether or not path is prefix itself or lies
// beneath it.
func hasPathPrefix(path, prefix string) bool {
	if !strings.HasPrefix(path, prefix) {
		return false
	}
	return len(path) == len(prefix) || path[len(prefix)] == filepath.Separator
}

// classify classifies an absolute event path, additionally returning the
// worktree-relative form for ClassWorkdirPath and the cookie name for
// ClassCookie.
func (c *classifier) classify(path string) (PathClass, string) {
	path = filepath.Clean(path)

	// Cookie paths are checked before the general gitdir cone because the
	// cookie directory lies inside it.
	if hasPathPrefix(path, c.cookieDir) {
		if path == c.cookieDir {
			return ClassInsideGitdir, ""
		}
		return ClassCookie, filepath.Base(path)
	}

	// The gitdir itself, then its interior.
	if path == c.gitdir {
		return ClassGitdir, ""
	}
	if hasPathPrefix(path, c.gitdir) {
		return ClassInsideGitdir, ""
	}

	// Worktree paths. The worktree root itself isn't a workdir path (its
	// removal is handled by the event source), and paths outside the cone
	// are ignored.
	if path == c.worktree {
		return ClassOutside, ""
	}
	if hasPathPrefix(path, c.worktree) {
		relative, err := filepath.Rel(c.worktree, path)
		if err != nil {
			return ClassOutside, ""
		}
		return ClassWorkdirPath, filepath.ToSlash(relative)
	}

	return ClassOutside, ""
}
