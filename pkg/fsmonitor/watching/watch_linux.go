//go:build linux

package watching

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	// inotifyReadBufferSize is the size of the inotify read buffer. It holds
	// a few hundred events per read even with long names.
	inotifyReadBufferSize = 64 * 1024
	// renameOrphanTimeout is how long an IN_MOVED_FROM may remain unpaired
	// with its IN_MOVED_TO twin before the stream is presumed to have
	// dropped events.
	renameOrphanTimeout = 1 * time.Second

	// watchMask is the per-directory inotify watch mask.
	watchMask = unix.IN_CREATE | unix.IN_DELETE | unix.IN_MODIFY |
		unix.IN_ATTRIB | unix.IN_CLOSE_WRITE |
		unix.IN_MOVED_FROM | unix.IN_MOVED_TO |
		unix.IN_DELETE_SELF | unix.IN_MOVE_SELF
)

// pendingRename tracks an IN_MOVED_FROM awaiting its IN_MOVED_TO twin.
type pendingRename struct {
	// path is the source path of the rename.
	path string
	// directory indicates whether or not the renamed entry was a watched
	// directory.
	directory bool
}

// eventSource implements EventSource on Linux using inotify with one watch
// per directory in the cone.
type eventSource struct {
	// root is the watch root.
	root string
	// file wraps the inotify descriptor, integrating it with the runtime
	// poller so that Close unblocks reads.
	file *os.File
	// events is the event delivery channel.
	events chan Event
	// errors is the error delivery channel.
	errors chan error
	// cancel terminates the run loop.
	cancel context.CancelFunc
	// done is closed when the run loop exits.
	done chan struct{}

	// lock guards the watch bookkeeping below, which is shared between the
	// run loop and rename-orphan timers.
	lock sync.Mutex
	// watches maps kernel watch descriptors back to directory paths.
	watches map[int]string
	// descriptors maps directory paths to their watch descriptors.
	descriptors map[string]int
	// pendingRenames maps inotify cookies to their unpaired IN_MOVED_FROM
	// halves.
	pendingRenames map[uint32]pendingRename
}

// NewEventSource establishes a recursive watch rooted at the specified path.
func NewEventSource(root string) (EventSource, error) {
	// Resolve the root so that watch registrations and event paths agree.
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve watch root: %w", err)
	}

	// Create the inotify instance. Non-blocking mode hands the descriptor to
	// the runtime poller, which is what makes termination reliable.
	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("unable to create inotify instance: %w", err)
	}

	// Create the source.
	ctx, cancel := context.WithCancel(context.Background())
	source := &eventSource{
		root:           root,
		file:           os.NewFile(uintptr(fd), "inotify"),
		events:         make(chan Event, eventChannelCapacity),
		errors:         make(chan error, 1),
		cancel:         cancel,
		done:           make(chan struct{}),
		watches:        make(map[int]string),
		descriptors:    make(map[string]int),
		pendingRenames: make(map[uint32]pendingRename),
	}

	// Register the cone.
	if err := source.watchTree(ctx, root, false); err != nil {
		source.file.Close()
		cancel()
		return nil, fmt.Errorf("unable to establish watches: %w", err)
	}

	// Start the run loop.
	go source.run(ctx)

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
	s.cancel()
	err := s.file.Close()
	<-s.done
	select {
	case s.errors <- ErrWatchTerminated:
	default:
	}
	return err
}

// fail delivers a fatal watch error.
func (s *eventSource) fail(err error) {
	select {
	case s.errors <- err:
	default:
	}
}

// deliver sends an event, abandoning delivery on termination.
func (s *eventSource) deliver(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// addWatch registers a watch on a single directory.
func (s *eventSource) addWatch(path string) error {
	wd, err := unix.InotifyAddWatch(int(s.file.Fd()), path, watchMask)
	if err != nil {
		return err
	}
	s.lock.Lock()
	s.watches[wd] = path
	s.descriptors[path] = wd
	s.lock.Unlock()
	return nil
}

// removeWatchesUnder drops bookkeeping for a directory and everything
// beneath it. The kernel removes the watches itself when the directories
// disappear, so no explicit IN_RM is issued for them.
func (s *eventSource) removeWatchesUnder(path string) {
	s.lock.Lock()
	for wd, watched := range s.watches {
		if watched == path || hasParent(watched, path) {
			delete(s.watches, wd)
			delete(s.descriptors, watched)
		}
	}
	s.lock.Unlock()
}

// hasParent indicates whether or not path lies strictly beneath parent.
func hasParent(path, parent string) bool {
	if len(path) <= len(parent) {
		return false
	}
	return path[:len(parent)] == parent && path[len(parent)] == filepath.Separator
}

// watchTree recursively registers watches for a directory and its
// descendants. When announce is set (directory appeared mid-watch), every
// discovered child is also delivered as an event, because entries created
// between the directory's creation and our watch registration produced no
// notifications of their own.
func (s *eventSource) watchTree(ctx context.Context, root string, announce bool) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			// The entry may have vanished between the directory read and our
			// visit; that's an ordinary deletion, not a watch failure.
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if announce && path != root {
			s.deliver(ctx, Event{Path: path})
		}
		if entry.IsDir() {
			if err := s.addWatch(path); err != nil {
				if os.IsNotExist(err) {
					return filepath.SkipDir
				}
				return err
			}
		}
		return nil
	})
}

// run is the event processing loop.
func (s *eventSource) run(ctx context.Context) {
	defer close(s.done)
	buffer := make([]byte, inotifyReadBufferSize)
	for {
		length, err := s.file.Read(buffer)
		if err != nil {
			if ctx.Err() == nil {
				s.fail(fmt.Errorf("inotify read failed: %w", err))
			}
			return
		}

		// Walk the variable-length event records.
		offset := 0
		for offset+unix.SizeofInotifyEvent <= length {
			raw := (*unix.InotifyEvent)(unsafe.Pointer(&buffer[offset]))
			nameBytes := buffer[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+int(raw.Len)]
			offset += unix.SizeofInotifyEvent + int(raw.Len)

			// Trim the name's NUL padding.
			var name string
			for i, b := range nameBytes {
				if b == 0 {
					name = string(nameBytes[:i])
					break
				}
			}

			s.handle(ctx, raw, name)
		}
	}
}

// handle processes a single inotify event record.
func (s *eventSource) handle(ctx context.Context, raw *unix.InotifyEvent, name string) {
	// Queue overflow and unmount invalidate everything downstream.
	if raw.Mask&unix.IN_Q_OVERFLOW != 0 || raw.Mask&unix.IN_UNMOUNT != 0 {
		s.deliver(ctx, Event{Flags: EventResync})
		return
	}

	// Resolve the event's directory.
	s.lock.Lock()
	directory, known := s.watches[int(raw.Wd)]
	s.lock.Unlock()
	if !known {
		return
	}

	// Watch-scoped events (no name) concern the watched directory itself.
	if raw.Mask&(unix.IN_DELETE_SELF|unix.IN_MOVE_SELF) != 0 {
		if directory == s.root {
			s.deliver(ctx, Event{Path: directory, Flags: EventRootRemoved})
		} else {
			s.removeWatchesUnder(directory)
			s.deliver(ctx, Event{Path: directory})
		}
		return
	}
	if name == "" {
		return
	}
	path := filepath.Join(directory, name)
	isDirectory := raw.Mask&unix.IN_ISDIR != 0

	switch {
	case raw.Mask&unix.IN_CREATE != 0:
		s.deliver(ctx, Event{Path: path})
		if isDirectory {
			// Register the new subtree, announcing entries that raced ahead
			// of the watch.
			if err := s.watchTree(ctx, path, true); err != nil {
				s.fail(fmt.Errorf("unable to watch new directory: %w", err))
			}
		}
	case raw.Mask&unix.IN_DELETE != 0:
		s.deliver(ctx, Event{Path: path})
		if isDirectory {
			s.removeWatchesUnder(path)
		}
	case raw.Mask&unix.IN_MOVED_FROM != 0:
		s.deliver(ctx, Event{Path: path})
		s.registerPendingRename(ctx, raw.Cookie, path, isDirectory)
		if isDirectory {
			s.removeWatchesUnder(path)
		}
	case raw.Mask&unix.IN_MOVED_TO != 0:
		s.deliver(ctx, Event{Path: path})
		s.resolvePendingRename(raw.Cookie)
		if isDirectory {
			// Re-register the subtree at its new location. The move may also
			// have brought in a tree we've never seen, in which case the walk
			// doubles as discovery.
			if err := s.watchTree(ctx, path, true); err != nil {
				s.fail(fmt.Errorf("unable to watch moved directory: %w", err))
			}
		}
	case raw.Mask&(unix.IN_MODIFY|unix.IN_ATTRIB|unix.IN_CLOSE_WRITE) != 0:
		s.deliver(ctx, Event{Path: path})
	}
}

// registerPendingRename records an IN_MOVED_FROM and arms its orphan timer:
// a rename whose IN_MOVED_TO twin doesn't arrive within the timeout means
// the kernel dropped events between the halves, which demands a resync. (The
// twin may also legitimately never arrive because the target left the cone;
// the resulting resync is wasteful but correct.)
func (s *eventSource) registerPendingRename(ctx context.Context, cookie uint32, path string, directory bool) {
	s.lock.Lock()
	s.pendingRenames[cookie] = pendingRename{path: path, directory: directory}
	s.lock.Unlock()
	time.AfterFunc(renameOrphanTimeout, func() {
		s.lock.Lock()
		_, orphaned := s.pendingRenames[cookie]
		delete(s.pendingRenames, cookie)
		s.lock.Unlock()
		if orphaned && ctx.Err() == nil {
			s.deliver(ctx, Event{Flags: EventResync})
		}
	})
}

// resolvePendingRename pairs an IN_MOVED_TO with its recorded IN_MOVED_FROM.
func (s *eventSource) resolvePendingRename(cookie uint32) {
	s.lock.Lock()
	delete(s.pendingRenames, cookie)
	s.lock.Unlock()
}
