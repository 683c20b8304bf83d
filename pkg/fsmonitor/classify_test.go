package fsmonitor

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	worktree := filepath.Join(string(filepath.Separator), "repos", "project")
	gitdir := filepath.Join(worktree, ".git")
	c := newClassifier(worktree, gitdir)

	cases := []struct {
		path     string
		class    PathClass
		relative string
	}{
		{filepath.Join(worktree, "a.txt"), ClassWorkdirPath, "a.txt"},
		{filepath.Join(worktree, "dir", "b.txt"), ClassWorkdirPath, "dir/b.txt"},
		{gitdir, ClassGitdir, ""},
		{filepath.Join(gitdir, "HEAD"), ClassInsideGitdir, ""},
		{filepath.Join(gitdir, "objects", "e6", "9d"), ClassInsideGitdir, ""},
		{filepath.Join(gitdir, "fsmonitor--daemon", "cookies"), ClassInsideGitdir, ""},
		{filepath.Join(gitdir, "fsmonitor--daemon", "cookies", "cookie-1-2"), ClassCookie, "cookie-1-2"},
		{worktree, ClassOutside, ""},
		{filepath.Join(string(filepath.Separator), "repos", "other", "c.txt"), ClassOutside, ""},
		{filepath.Join(string(filepath.Separator), "repos", "project-sibling", "d.txt"), ClassOutside, ""},
	}
	for _, testCase := range cases {
		class, relative := c.classify(testCase.path)
		assert.Equal(t, testCase.class, class, "path %s", testCase.path)
		assert.Equal(t, testCase.relative, relative, "path %s", testCase.path)
	}
}

func TestClassifyExternalGitdir(t *testing.T) {
	// Linked worktrees keep their gitdir outside the worktree.
	worktree := filepath.Join(string(filepath.Separator), "repos", "linked")
	gitdir := filepath.Join(string(filepath.Separator), "repos", "main", ".git", "worktrees", "linked")
	c := newClassifier(worktree, gitdir)

	class, relative := c.classify(filepath.Join(worktree, "a.txt"))
	assert.Equal(t, ClassWorkdirPath, class)
	assert.Equal(t, "a.txt", relative)

	class, _ = c.classify(filepath.Join(gitdir, "HEAD"))
	assert.Equal(t, ClassInsideGitdir, class)

	class, _ = c.classify(gitdir)
	assert.Equal(t, ClassGitdir, class)
}
