package fsmonitor

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/grivet-io/grivet/pkg/filesystem"
	"github.com/grivet-io/grivet/pkg/ipc/server"
	"github.com/grivet-io/grivet/pkg/logging"
	"github.com/grivet-io/grivet/pkg/must"
	"github.com/grivet-io/grivet/pkg/state"
	"github.com/grivet-io/grivet/pkg/telemetry"

	"github.com/grivet-io/grivet/pkg/fsmonitor/watching"
)

const (
	// batchCoalescingWindow is the quiet window over which event bursts are
	// coalesced into a single batch publication.
	batchCoalescingWindow = 10 * time.Millisecond
	// batchPublishDeadline bounds how long a pending batch may keep
	// absorbing events before it is published anyway. Without it, steady
	// filesystem churn would keep resetting the quiet window and queries
	// would starve.
	batchPublishDeadline = 100 * time.Millisecond
)

// Configuration configures a daemon.
type Configuration struct {
	// Worktree is the worktree root to watch.
	Worktree string
	// Gitdir is the repository metadata directory.
	Gitdir string
	// Workers is the IPC worker pool size. Non-positive values select the
	// default.
	Workers int
	// Logger is the daemon's logger. A nil logger is valid and silent.
	Logger *logging.Logger
}

// Daemon is a per-worktree filesystem watcher daemon. Its lifetime is one
// Run call.
type Daemon struct {
	// worktree is the normalized worktree root.
	worktree string
	// gitdir is the normalized metadata directory.
	gitdir string
	// workers is the IPC worker pool size.
	workers int
	// logger is the daemon's logger.
	logger *logging.Logger
	// monitor is the token/batch/cookie state.
	monitor *monitorState
	// classifier classifies event paths.
	classifier *classifier
	// cookies is the rendezvous cookie jar.
	cookies *cookieJar
	// telemetry is the daemon's telemetry context.
	telemetry *telemetry.Context

	// ipc is the IPC server. It is populated during Run.
	ipc *server.Server

	// pendingLock guards the coalescing batch below.
	pendingLock sync.Mutex
	// pendingPaths is the batch being accumulated for the next publication,
	// in first-seen order.
	pendingPaths []string
	// pendingSeen deduplicates pendingPaths.
	pendingSeen map[string]bool
	// pendingCookies holds cookie names observed in the current burst.
	pendingCookies []string
}

// NewDaemon creates a daemon for the specified repository layout.
func NewDaemon(configuration Configuration) (*Daemon, error) {
	worktree, err := filesystem.Normalize(configuration.Worktree)
	if err != nil {
		return nil, fmt.Errorf("unable to normalize worktree path: %w", err)
	}
	gitdir, err := filesystem.Normalize(configuration.Gitdir)
	if err != nil {
		return nil, fmt.Errorf("unable to normalize gitdir path: %w", err)
	}
	logger := configuration.Logger
	cookies, err := newCookieJar(gitdir, logger.Sublogger("cookies"))
	if err != nil {
		return nil, err
	}
	return &Daemon{
		worktree:    worktree,
		gitdir:      gitdir,
		workers:     configuration.Workers,
		logger:      logger,
		monitor:     newMonitorState(),
		classifier:  newClassifier(worktree, gitdir),
		cookies:     cookies,
		telemetry:   telemetry.NewContext("fsmonitor"),
		pendingSeen: make(map[string]bool),
	}, nil
}

// Run watches the worktree and serves queries until shutdown (via context
// cancellation, a quit command, endpoint theft, or loss of the worktree).
// The returned error is nil for clean shutdown.
func (d *Daemon) Run(ctx context.Context) error {
	// Make this process the worktree's single daemon.
	lock, err := AcquireLock(d.gitdir, d.logger.Sublogger("lock"))
	if err != nil {
		return err
	}
	defer must.Release(lock, d.logger)

	// Release the daemon's telemetry at exit so its timers and counters fold
	// into the process-wide totals.
	defer d.telemetry.Release()

	// Bind the IPC endpoint. Holding the daemon lock means any endpoint
	// entry already on disk is a leftover from a crashed daemon, so clear
	// it rather than failing the bind.
	endpoint, err := EndpointPath(d.gitdir, d.worktree)
	if err != nil {
		return fmt.Errorf("unable to compute endpoint path: %w", err)
	}
	if err := os.Remove(endpoint); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("unable to remove stale endpoint: %w", err)
	}
	d.ipc, err = server.New(endpoint, d.handle, server.Options{
		Workers: d.workers,
		Logger:  d.logger.Sublogger("ipc"),
	})
	if err != nil {
		return err
	}

	// Establish the watch before serving so that the first query's token
	// already covers a live event stream.
	source, err := watching.NewEventSource(d.worktree)
	if err != nil {
		d.ipc.Shutdown()
		return fmt.Errorf("unable to establish filesystem watch: %w", err)
	}
	defer must.Terminate(source, d.logger)

	// Start the listener and health loops.
	loopCtx, cancelLoops := context.WithCancel(ctx)
	defer cancelLoops()
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		d.listen(loopCtx, source)
	}()
	go func() {
		defer loops.Done()
		d.monitorHealth(loopCtx)
	}()

	// Serve until shutdown, then stop the loops and wake any blocked cookie
	// waits.
	d.logger.Infof("watching %s (endpoint %s)", d.worktree, endpoint)
	err = d.ipc.Run(ctx)
	cancelLoops()
	d.monitor.tracker.Terminate()
	loops.Wait()
	return err
}

// handle is the IPC request handler.
func (d *Daemon) handle(ctx context.Context, request []byte, reply *server.Reply) error {
	defer d.telemetry.Timer(telemetry.TimerRequest).Start().Stop()
	d.telemetry.Counter(telemetry.CounterRequests).Add(1)

	command := string(request)
	switch command {
	case CommandQuit:
		return server.ErrStop
	case CommandFlush:
		current := d.monitor.forceResync()
		d.logger.Infof("flush requested; all tokens invalidated")
		return reply.Write(encodeQueryResponse(current, nil, true))
	default:
		return d.handleQuery(ctx, command, reply)
	}
}

// handleQuery answers a since-token query.
func (d *Daemon) handleQuery(ctx context.Context, since string, reply *server.Reply) error {
	// Rendezvous with the event stream so that every filesystem write the
	// client performed before asking is reflected in the answer.
	d.cookies.barrier(ctx, d.monitor)

	// Compose the response.
	current, paths, trivial := d.monitor.query(since)
	if trivial {
		d.telemetry.Counter(telemetry.CounterTrivialResponses).Add(1)
	}
	d.telemetry.Counter(telemetry.CounterPathsReturned).Add(int64(len(paths)))
	return reply.Write(encodeQueryResponse(current, paths, trivial))
}

// listen drains the event source into the coalescing batch and publishes on
// coalescing boundaries.
func (d *Daemon) listen(ctx context.Context, source watching.EventSource) {
	coalescer := state.NewCoalescer(batchCoalescingWindow, batchPublishDeadline)
	defer coalescer.Terminate()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-source.Errors():
			if err != nil && err != watching.ErrWatchTerminated {
				d.logger.Errorf("watch failed: %v; shutting down", err)
			}
			d.ipc.Shutdown()
			return
		case event := <-source.Events():
			if d.ingest(event) {
				d.ipc.Shutdown()
				return
			}
			coalescer.Strobe()
		case burst := <-coalescer.Events():
			d.logger.Tracef("coalesced burst of %d observations", burst)
			d.publishPending()
		}
	}
}

// ingest folds one observation into the pending batch, returning true if
// the daemon must shut down.
func (d *Daemon) ingest(event watching.Event) bool {
	// Stream gaps invalidate everything, including the pending batch.
	if event.Flags&watching.EventResync != 0 {
		d.telemetry.Counter(telemetry.CounterResyncs).Add(1)
		d.logger.Warnf("event stream gapped; forcing resync")
		d.dropPending()
		d.monitor.forceResync()
		return false
	}

	// Loss of the watch root is unrecoverable.
	if event.Flags&watching.EventRootRemoved != 0 {
		d.logger.Errorf("watch root removed; shutting down")
		return true
	}

	// Classify and dispatch.
	class, relative := d.classifier.classify(event.Path)
	d.telemetry.Counter(telemetry.CounterEvents).Add(1)
	switch class {
	case ClassWorkdirPath:
		d.pendingLock.Lock()
		if !d.pendingSeen[relative] {
			d.pendingSeen[relative] = true
			d.pendingPaths = append(d.pendingPaths, relative)
		}
		d.pendingLock.Unlock()
	case ClassCookie:
		d.pendingLock.Lock()
		d.pendingCookies = append(d.pendingCookies, relative)
		d.pendingLock.Unlock()
	case ClassGitdir:
		// The gitdir disappearing means the repository is gone; an event
		// that merely touched it is not a reason to exit.
		if _, err := os.Lstat(event.Path); os.IsNotExist(err) {
			d.logger.Errorf("gitdir removed; shutting down")
			return true
		}
	case ClassInsideGitdir, ClassOutside:
		// Never batched.
	}
	return false
}

// dropPending discards the coalescing batch.
func (d *Daemon) dropPending() {
	d.pendingLock.Lock()
	d.pendingPaths = nil
	d.pendingSeen = make(map[string]bool)
	d.pendingCookies = nil
	d.pendingLock.Unlock()
}

// publishPending publishes the coalescing batch (and observed cookies) as
// one token rotation.
func (d *Daemon) publishPending() {
	d.pendingLock.Lock()
	paths := d.pendingPaths
	cookies := d.pendingCookies
	d.pendingPaths = nil
	d.pendingSeen = make(map[string]bool)
	d.pendingCookies = nil
	d.pendingLock.Unlock()

	if len(paths) == 0 && len(cookies) == 0 {
		return
	}
	current := d.monitor.publish(paths, cookies)
	d.telemetry.Counter(telemetry.CounterBatches).Add(1)
	d.logger.Debugf("published %d paths at %s", len(paths), current)
}
