package fsmonitor

import (
	"sync"

	"github.com/grivet-io/grivet/pkg/state"
)

// batch is an ordered, append-only list of worktree-relative paths observed
// to have changed, addressed by the sequence at which it was published.
type batch struct {
	// sequence is the token sequence assigned at publication.
	sequence uint64
	// paths holds the batch's worktree-relative paths.
	paths []string
}

// monitorState is the daemon's token/batch/cookie state. One mutex guards
// all of it; both the listener (publisher) and the IPC workers (queriers)
// must hold the mutex for any access. Publication is additionally signaled
// through a tracker so that cookie rendezvous can wait off-lock.
type monitorState struct {
	// lock guards all fields below.
	lock sync.Mutex
	// incarnation is the current token incarnation.
	incarnation string
	// sequence is the most recently published token sequence.
	sequence uint64
	// batches is the in-order list of published batches for the current
	// incarnation.
	batches []batch
	// cookiesObserved records cookie names that the event stream has
	// delivered.
	cookiesObserved map[string]bool
	// tracker signals publications and resyncs to off-lock waiters.
	tracker *state.Tracker
}

// newMonitorState creates state for a fresh daemon incarnation.
func newMonitorState() *monitorState {
	return &monitorState{
		incarnation:     newIncarnation(),
		cookiesObserved: make(map[string]bool),
		tracker:         state.NewTracker(),
	}
}

// current returns the current token.
func (s *monitorState) current() token {
	s.lock.Lock()
	defer s.lock.Unlock()
	return token{incarnation: s.incarnation, sequence: s.sequence}
}

// publish rotates the token forward and appends a batch if paths is non-empty
// (an empty burst leaves the token unchanged), records any cookies observed in
// the burst, and wakes waiters. It returns the current token.
func (s *monitorState) publish(paths []string, cookies []string) token {
	s.lock.Lock()
	if len(paths) > 0 {
		s.sequence++
		s.batches = append(s.batches, batch{sequence: s.sequence, paths: paths})
	}
	for _, cookie := range cookies {
		s.cookiesObserved[cookie] = true
	}
	current := token{incarnation: s.incarnation, sequence: s.sequence}
	s.lock.Unlock()

	// Wake cookie waiters and pollers.
	s.tracker.NotifyOfChange()

	return current
}

// forceResync clears all batches and mints a fresh incarnation, invalidating
// every outstanding token. The incarnation change is the sticky fresh-start
// marker: any token minted before the resync names a foreign incarnation and
// elicits the trivial response forever after.
func (s *monitorState) forceResync() token {
	s.lock.Lock()
	s.incarnation = newIncarnation()
	s.sequence = 0
	s.batches = nil
	s.cookiesObserved = make(map[string]bool)
	current := token{incarnation: s.incarnation, sequence: 0}
	s.lock.Unlock()

	s.tracker.NotifyOfChange()

	return current
}

// query answers a since-token query. It returns the current token, the
// deduplicated union of paths across all batches published after the
// client's token, and whether the response is trivial (the client must
// rescan everything).
func (s *monitorState) query(since string) (token, []string, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()

	current := token{incarnation: s.incarnation, sequence: s.sequence}

	// An empty, unparsable, foreign-incarnation, or future-sequence token
	// gets the trivial response.
	clientToken, ok := parseToken(since)
	if !ok || clientToken.incarnation != s.incarnation || clientToken.sequence > s.sequence {
		return current, nil, true
	}

	// Compose the forward union, deduplicating while preserving first-seen
	// order.
	var union []string
	seen := make(map[string]bool)
	for _, b := range s.batches {
		if b.sequence <= clientToken.sequence {
			continue
		}
		for _, path := range b.paths {
			if !seen[path] {
				seen[path] = true
				union = append(union, path)
			}
		}
	}
	return current, union, false
}

// cookieObserved indicates whether or not the event stream has delivered the
// specified cookie name.
func (s *monitorState) cookieObserved(name string) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.cookiesObserved[name]
}
