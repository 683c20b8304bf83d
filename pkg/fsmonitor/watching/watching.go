// Package watching provides the per-platform filesystem event sources that
// feed the watcher daemon: inotify on Linux, FSEvents on macOS, and
// ReadDirectoryChangesW on Windows, behind one interface.
package watching

import (
	"errors"
)

const (
	// eventChannelCapacity is the capacity of event source delivery
	// channels.
	eventChannelCapacity = 1024
)

var (
	// ErrWatchTerminated indicates that a watcher has been terminated.
	ErrWatchTerminated = errors.New("watch terminated")
)

// EventFlags mark events that carry meaning beyond a changed path.
type EventFlags uint8

const (
	// EventResync indicates that the event stream has gapped (queue
	// overflow, dropped events, unmount) and all previously derived state
	// must be invalidated.
	EventResync EventFlags = 1 << iota
	// EventRootRemoved indicates that the watch root itself was removed or
	// renamed, which is unrecoverable for the watch.
	EventRootRemoved
)

// Event is a single observation from an event source. For flag-free events,
// Path is the absolute path at which a change was observed. Flagged events
// may carry an empty path.
type Event struct {
	// Path is the absolute path of the observation.
	Path string
	// Flags carry any resync/root-removal markers.
	Flags EventFlags
}

// EventSource is the interface implemented by per-platform event sources. A
// source is not safe for concurrent usage, though the channels returned by
// its methods may (and should) be polled simultaneously.
type EventSource interface {
	// Events returns the channel on which observations are delivered.
	Events() <-chan Event
	// Errors returns a channel that is populated if a watch error occurs.
	// If an error occurs, then the source should be terminated. If
	// Terminate is invoked before any other error occurs, then it will be
	// populated with ErrWatchTerminated.
	Errors() <-chan error
	// Terminate terminates all watching operations and releases any
	// resources associated with the source.
	Terminate() error
}
