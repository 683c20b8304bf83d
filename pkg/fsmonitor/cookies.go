package fsmonitor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/grivet-io/grivet/pkg/logging"
)

const (
	// cookieDirectoryName is the name of the cookie directory within the
	// gitdir.
	cookieDirectoryName = "fsmonitor--daemon" + string(os.PathSeparator) + "cookies"
	// cookieWaitTimeout bounds how long a query will wait for its cookie to
	// come back through the event stream before answering anyway. A timeout
	// weakens the ordering barrier for that one response but keeps a stalled
	// event source from wedging every client.
	cookieWaitTimeout = 500 * time.Millisecond
)

// cookieJar creates rendezvous cookies: zero-byte files dropped inside the
// watched cone whose appearance in the event stream proves that every event
// ordered before their creation has been drained.
type cookieJar struct {
	// directory is the cookie directory.
	directory string
	// sequence generates unique cookie names.
	sequence uint64
	// logger is the jar's logger.
	logger *logging.Logger
}

// newCookieJar creates a cookie jar rooted in the specified gitdir.
func newCookieJar(gitdir string, logger *logging.Logger) (*cookieJar, error) {
	directory := filepath.Join(gitdir, cookieDirectoryName)
	if err := os.MkdirAll(directory, 0700); err != nil {
		return nil, fmt.Errorf("unable to create cookie directory: %w", err)
	}
	return &cookieJar{directory: directory, logger: logger}, nil
}

// barrier drops a cookie and waits until the event stream delivers it (as
// recorded in the monitor state), establishing a happens-before fence
// between all earlier filesystem writes and the daemon's view. It degrades
// to a bounded wait if the cookie never arrives.
func (j *cookieJar) barrier(ctx context.Context, state *monitorState) {
	// Mint and create the cookie. Failure to create it just means no
	// barrier: the response is still correct, merely potentially stale by
	// one burst.
	name := fmt.Sprintf("cookie-%d-%d", os.Getpid(), atomic.AddUint64(&j.sequence, 1))
	path := filepath.Join(j.directory, name)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		j.logger.Warnf("unable to create rendezvous cookie: %v", err)
		return
	}
	file.Close()
	defer os.Remove(path)

	// Wait for the cookie to come back through the event stream.
	deadline, cancel := context.WithTimeout(ctx, cookieWaitTimeout)
	defer cancel()
	previous := uint64(0)
	for {
		if state.cookieObserved(name) {
			return
		}
		index, err := state.tracker.WaitForChange(deadline, previous)
		if err != nil {
			j.logger.Debugf("rendezvous cookie %s wait ended early: %v", name, err)
			return
		}
		previous = index
	}
}
