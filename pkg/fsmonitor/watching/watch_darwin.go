//go:build darwin && cgo

package watching

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/mutagen-io/fsevents"
)

const (
	// fseventsLatency is the latency parameter handed to the FSEvents API.
	// Coalescing beyond this window is performed downstream, so it is kept
	// short for responsiveness.
	fseventsLatency = 10 * time.Millisecond

	// fseventsCreateFlags are the stream creation flags: deliver one-shot
	// events immediately, watch the root itself, and report per-file paths.
	fseventsCreateFlags = fsevents.NoDefer | fsevents.WatchRoot | fsevents.FileEvents
)

// eventSource implements EventSource on macOS using an FSEvents stream.
type eventSource struct {
	// stream is the underlying FSEvents stream.
	stream *fsevents.EventStream
	// events is the event delivery channel.
	events chan Event
	// errors is the error delivery channel.
	errors chan error
	// stop terminates the forwarding loop.
	stop chan struct{}
	// done is closed when the forwarding loop exits.
	done chan struct{}
}

// NewEventSource establishes a recursive watch rooted at the specified path.
func NewEventSource(root string) (EventSource, error) {
	// FSEvents fully resolves symbolic links in watch paths and reports
	// event paths in resolved form, so resolve the root up front to keep
	// event paths comparable.
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve watch root: %w", err)
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve watch root symlinks: %w", err)
	}

	// Create and start the stream.
	stream := &fsevents.EventStream{
		Paths:   []string{root},
		Latency: fseventsLatency,
		Flags:   fseventsCreateFlags,
	}
	stream.Start()

	// Create the source and start forwarding.
	source := &eventSource{
		stream: stream,
		events: make(chan Event, eventChannelCapacity),
		errors: make(chan error, 1),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go source.run(root)

	// Success.
	return source, nil
}

// Events implements EventSource.Events.
func (s *eventSource) Events() <-chan Event {
	return s.events
}

// Errors implements EventSource.Errors.
func (s *eventSource) Errors() <-chan error {
	return s.errors
}

// Terminate implements EventSource.Terminate.
func (s *eventSource) Terminate() error {
	close(s.stop)
	s.stream.Stop()
	<-s.done
	select {
	case s.errors <- ErrWatchTerminated:
	default:
	}
	return nil
}

// run forwards and translates FSEvents observations.
func (s *eventSource) run(root string) {
	defer close(s.done)
	for {
		select {
		case <-s.stop:
			return
		case burst, ok := <-s.stream.Events:
			if !ok {
				return
			}
			for _, event := range burst {
				s.forward(root, event)
			}
		}
	}
}

// forward translates one FSEvents observation.
func (s *eventSource) forward(root string, event fsevents.Event) {
	// Dropped-event conditions invalidate everything downstream.
	if event.Flags&(fsevents.MustScanSubDirs|fsevents.UserDropped|fsevents.KernelDropped) != 0 {
		s.send(Event{Flags: EventResync})
		return
	}

	// Normalize the path: the FSEvents C API reports absolute paths, but the
	// binding strips the leading separator.
	path := event.Path
	if !filepath.IsAbs(path) {
		path = "/" + path
	}
	path = filepath.Clean(path)

	// Removal or replacement of the root itself is unrecoverable.
	if event.Flags&fsevents.RootChanged != 0 || path == root && event.Flags&fsevents.ItemRemoved != 0 {
		s.send(Event{Path: path, Flags: EventRootRemoved})
		return
	}

	s.send(Event{Path: path})
}

// send delivers an event unless the source is terminating.
func (s *eventSource) send(event Event) {
	select {
	case s.events <- event:
	case <-s.stop:
	}
}
