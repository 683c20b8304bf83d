// Package state provides primitives for tracking and signaling changes to
// shared state, most notably the watcher daemon's token sequence.
package state

import (
	"context"
	"errors"
	"sync"
)

// ErrTrackingTerminated indicates that tracking was terminated before a
// polling operation saw any changes.
var ErrTrackingTerminated = errors.New("tracking terminated")

// Tracker provides monotonic index-based state tracking. The index starts at
// 1 and increases on every notification, with 0 reserved as a sentinel
// previous index that requests an immediate read. It is safe for concurrent
// usage.
type Tracker struct {
	// lock serializes access to all of the fields below.
	lock sync.Mutex
	// index is the current state index.
	index uint64
	// terminated indicates whether or not tracking has been terminated.
	terminated bool
	// changed is closed and replaced on every index change (and on
	// termination) to wake waiters.
	changed chan struct{}
}

// NewTracker creates a new tracker instance with a state index of 1.
func NewTracker() *Tracker {
	return &Tracker{
		index:   1,
		changed: make(chan struct{}),
	}
}

// Index returns the current state index.
func (t *Tracker) Index() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()
	return t.index
}

// NotifyOfChange increments the state index and wakes all waiters.
func (t *Tracker) NotifyOfChange() uint64 {
	t.lock.Lock()
	defer t.lock.Unlock()

	// If tracking has been terminated, then the index is frozen.
	if t.terminated {
		return t.index
	}

	// Increment the state index. If we do overflow, then at least set the
	// index back to 1, because we want 0 to remain the sentinel value that
	// requests an immediate read of the current state index.
	t.index++
	if t.index == 0 {
		t.index = 1
	}

	// Wake waiters.
	close(t.changed)
	t.changed = make(chan struct{})

	// Done.
	return t.index
}

// Terminate terminates tracking, waking all current and future waiters with
// ErrTrackingTerminated. It is idempotent.
func (t *Tracker) Terminate() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.terminated {
		return
	}
	t.terminated = true
	close(t.changed)
	t.changed = make(chan struct{})
}

// WaitForChange polls for a state index change from the specified previous
// index. It returns the new index at which the change was seen. If tracking
// is terminated before the polling operation completes, then the current
// state index is returned along with ErrTrackingTerminated. If the provided
// context is cancelled before the polling operation completes, then the
// current state index is returned along with the context's error. If a
// previous state index of 0 is provided, then the current state index (which
// will always be greater than 0) is returned immediately.
func (t *Tracker) WaitForChange(ctx context.Context, previousIndex uint64) (uint64, error) {
	for {
		// Grab the current state and the wake channel under the lock.
		t.lock.Lock()
		index := t.index
		terminated := t.terminated
		changed := t.changed
		t.lock.Unlock()

		// Check for exit conditions.
		if terminated {
			return index, ErrTrackingTerminated
		} else if previousIndex == 0 || index != previousIndex {
			return index, nil
		}

		// Wait for a wake-up or cancellation.
		select {
		case <-ctx.Done():
			return index, ctx.Err()
		case <-changed:
		}
	}
}
