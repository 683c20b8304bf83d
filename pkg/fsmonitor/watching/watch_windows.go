//go:build windows

package watching

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"unsafe"

	"github.com/golang/groupcache/lru"

	"golang.org/x/sys/windows"
)

const (
	// readBufferSize is the size of the change notification buffer. A large
	// buffer matters here: once it overflows, the kernel reports a
	// zero-length completion and every derived state must be rebuilt.
	readBufferSize = 512 * 1024

	// notifyFilter requests every notification class.
	notifyFilter = windows.FILE_NOTIFY_CHANGE_FILE_NAME |
		windows.FILE_NOTIFY_CHANGE_DIR_NAME |
		windows.FILE_NOTIFY_CHANGE_ATTRIBUTES |
		windows.FILE_NOTIFY_CHANGE_SIZE |
		windows.FILE_NOTIFY_CHANGE_LAST_WRITE |
		windows.FILE_NOTIFY_CHANGE_CREATION |
		windows.FILE_NOTIFY_CHANGE_SECURITY

	// longNameCacheEntries bounds the 8.3 short-name resolution cache.
	longNameCacheEntries = 1024
)

// eventSource implements EventSource on Windows using
// ReadDirectoryChangesW.
type eventSource struct {
	// root is the watch root.
	root string
	// handle is the directory handle being monitored.
	handle windows.Handle
	// events is the event delivery channel.
	events chan Event
	// errors is the error delivery channel.
	errors chan error
	// stop signals termination to the run loop.
	stop chan struct{}
	// done is closed when the run loop exits.
	done chan struct{}
	// lock guards the long-name cache.
	lock sync.Mutex
	// longNames caches 8.3 short-name resolutions.
	longNames *lru.Cache
}

// NewEventSource establishes a recursive watch rooted at the specified path.
func NewEventSource(root string) (EventSource, error) {
	// Resolve the root.
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("unable to resolve watch root: %w", err)
	}

	// Open the directory for change monitoring. Backup semantics are what
	// permit opening a directory handle at all.
	pathPointer, err := windows.UTF16PtrFromString(root)
	if err != nil {
		return nil, fmt.Errorf("unable to encode watch root: %w", err)
	}
	handle, err := windows.CreateFile(
		pathPointer,
		windows.FILE_LIST_DIRECTORY,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0,
	)
	if err != nil {
		return nil, fmt.Errorf("unable to open watch root: %w", err)
	}

	// Create the source and start the run loop.
	source := &eventSource{
		root:      root,
		handle:    handle,
		events:    make(chan Event, eventChannelCapacity),
		errors:    make(chan error, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		longNames: lru.New(longNameCacheEntries),
	}
	go source.run()

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
	windows.CancelIoEx(s.handle, nil)
	windows.CloseHandle(s.handle)
	<-s.done
	select {
	case s.errors <- ErrWatchTerminated:
	default:
	}
	return nil
}

// send delivers an event unless the source is terminating.
func (s *eventSource) send(event Event) {
	select {
	case s.events <- event:
	case <-s.stop:
	}
}

// run is the change notification loop.
func (s *eventSource) run() {
	defer close(s.done)
	buffer := make([]byte, readBufferSize)
	for {
		var returned uint32
		err := windows.ReadDirectoryChanges(
			s.handle, &buffer[0], uint32(len(buffer)), true, notifyFilter,
			&returned, nil, 0,
		)
		if err != nil {
			select {
			case <-s.stop:
			default:
				// The handle failing out from under us is how root removal
				// manifests.
				s.send(Event{Path: s.root, Flags: EventRootRemoved})
				select {
				case s.errors <- fmt.Errorf("directory change read failed: %w", err):
				default:
				}
			}
			return
		}

		// A zero-length completion means the kernel buffer overflowed and
		// notifications were discarded.
		if returned == 0 {
			s.send(Event{Flags: EventResync})
			continue
		}

		// Walk the variable-length notification records.
		offset := uint32(0)
		for {
			record := (*windows.FILE_NOTIFY_INFORMATION)(unsafe.Pointer(&buffer[offset]))
			nameLength := record.FileNameLength / 2
			nameWords := unsafe.Slice(&record.FileName[0], nameLength)
			relative := filepath.FromSlash(windows.UTF16ToString(nameWords))
			s.send(Event{Path: s.resolveLongName(filepath.Join(s.root, relative))})
			if record.NextEntryOffset == 0 {
				break
			}
			offset += record.NextEntryOffset
		}
	}
}

// resolveLongName resolves 8.3 short names within a path to their long
// forms, so that event paths compare equal to the paths the rest of the
// system uses. Resolution only runs when the path plausibly contains a short
// name component, and results are cached.
func (s *eventSource) resolveLongName(path string) string {
	if !strings.Contains(path, "~") {
		return path
	}

	// Consult the cache.
	s.lock.Lock()
	if cached, ok := s.longNames.Get(path); ok {
		s.lock.Unlock()
		return cached.(string)
	}
	s.lock.Unlock()

	// Resolve. Failure (e.g. the path is already gone, or the volume doesn't
	// keep short names) leaves the path as reported.
	pathPointer, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return path
	}
	buffer := make([]uint16, windows.MAX_LONG_PATH)
	length, err := windows.GetLongPathName(pathPointer, &buffer[0], uint32(len(buffer)))
	if err != nil || length == 0 || int(length) > len(buffer) {
		return path
	}
	resolved := windows.UTF16ToString(buffer[:length])

	// Cache and return.
	s.lock.Lock()
	s.longNames.Add(path, resolved)
	s.lock.Unlock()
	return resolved
}
