// Package server implements the daemon side of the IPC transport: an accept
// loop feeding a bounded connection FIFO drained by a fixed worker pool,
// with each worker serving exactly one request/response exchange per
// connection.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/grivet-io/grivet/pkg/ipc"
	"github.com/grivet-io/grivet/pkg/ipc/pktline"
	"github.com/grivet-io/grivet/pkg/logging"
)

const (
	// DefaultWorkers is the default worker pool size.
	DefaultWorkers = 2
	// fifoCapacityPerWorker scales the connection FIFO's capacity with the
	// worker pool size.
	fifoCapacityPerWorker = 100
	// clientReadableWait is how long a worker waits for a freshly dequeued
	// connection to become readable before silently dropping it (clients
	// that connected and immediately hung up are common during probes).
	clientReadableWait = 10 * time.Millisecond
	// endpointWatchInterval is the interval at which the endpoint's identity
	// is re-verified against theft by another daemon.
	endpointWatchInterval = 1 * time.Second
)

// ErrStop is returned by handlers to request server shutdown (e.g. on a
// quit command). The connection is closed without a response.
var ErrStop = errors.New("server stop requested")

// Handler processes one complete request and produces a response through the
// supplied reply writer. Returning ErrStop shuts the server down; any other
// error drops the connection without a response but keeps the server
// running.
type Handler func(ctx context.Context, request []byte, reply *Reply) error

// Reply frames response payloads for a single exchange.
type Reply struct {
	// writer is the underlying packet writer.
	writer *pktline.Writer
}

// Write frames a response payload, chunking it if it exceeds the frame
// limit.
func (r *Reply) Write(payload []byte) error {
	return r.writer.WriteChunked(payload)
}

// Options configure a server.
type Options struct {
	// Workers is the worker pool size. Non-positive values select the
	// default.
	Workers int
	// Logger is the server's logger. A nil logger is valid and silent.
	Logger *logging.Logger
}

// Server is an IPC server bound to a single endpoint path. Its lifetime is
// one Run call: create, Run until shutdown, discard.
type Server struct {
	// path is the endpoint path.
	path string
	// handler is the application handler.
	handler Handler
	// workers is the worker pool size.
	workers int
	// logger is the server's logger.
	logger *logging.Logger
	// listener is the bound endpoint listener.
	listener net.Listener
	// work is the bounded connection FIFO.
	work chan net.Conn
	// shutdownOnce guards shutdown initiation.
	shutdownOnce sync.Once
	// shutdown signals asynchronous shutdown requests.
	shutdown chan struct{}
}

// New creates a server bound to the specified endpoint path. The endpoint is
// live (clients can connect and will queue) once New returns, but no
// exchanges are served until Run is invoked.
func New(path string, handler Handler, options Options) (*Server, error) {
	workers := options.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	listener, err := ipc.NewListener(path)
	if err != nil {
		return nil, fmt.Errorf("unable to bind endpoint: %w", err)
	}
	return &Server{
		path:     path,
		handler:  handler,
		workers:  workers,
		logger:   options.Logger,
		listener: listener,
		work:     make(chan net.Conn, workers*fifoCapacityPerWorker),
		shutdown: make(chan struct{}),
	}, nil
}

// Path returns the server's endpoint path.
func (s *Server) Path() string {
	return s.path
}

// Shutdown requests asynchronous server shutdown: the listener stops
// accepting, queued and in-flight exchanges complete, and Run returns. It is
// safe to invoke from any Goroutine, including handlers, and is idempotent.
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.listener.Close()
	})
}

// Run serves the endpoint until shutdown is requested (via Shutdown, a
// handler returning ErrStop, context cancellation, or endpoint theft). All
// worker Goroutines have exited by the time it returns.
func (s *Server) Run(ctx context.Context) error {
	// Propagate context cancellation and endpoint theft into shutdown.
	watchCtx, cancelWatchers := context.WithCancel(ctx)
	defer cancelWatchers()
	go func() {
		select {
		case <-watchCtx.Done():
		case <-s.shutdown:
		}
		s.Shutdown()
	}()
	go s.watchEndpointIdentity(watchCtx)

	// Start the worker pool.
	var workers sync.WaitGroup
	workers.Add(s.workers)
	for i := 0; i < s.workers; i++ {
		worker := s.logger.Sublogger(fmt.Sprintf("worker-%d", i))
		go func() {
			defer workers.Done()
			for connection := range s.work {
				s.serve(ctx, connection, worker)
			}
		}()
	}

	// Accept until shutdown. When the FIFO is full, the connection is
	// dropped immediately: back-pressure over graceful degradation.
	for {
		connection, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				err = nil
			default:
				s.logger.Errorf("accept failed: %v", err)
			}
			close(s.work)
			workers.Wait()
			s.Shutdown()
			return err
		}
		select {
		case s.work <- connection:
		default:
			s.logger.Warnf("connection FIFO full; dropping client")
			connection.Close()
		}
	}
}

// serve handles exactly one request/response exchange on a connection.
func (s *Server) serve(ctx context.Context, connection net.Conn, logger *logging.Logger) {
	defer connection.Close()

	// Wait briefly for the client to become readable, silently dropping
	// clients that connected and hung up (or never wrote).
	connection.SetReadDeadline(time.Now().Add(clientReadableWait))
	reader := pktline.NewReader(connection)
	status, _, err := reader.Peek()
	if err != nil || status == pktline.StatusEOF {
		return
	}
	connection.SetReadDeadline(time.Time{})

	// Read the complete request.
	request, err := reader.ReadRequest()
	if err != nil {
		logger.Debugf("dropping client after malformed request: %v", err)
		return
	}

	// Dispatch. A writer hangup during the response surfaces as an ordinary
	// write error on the connection and drops the client, nothing more.
	reply := &Reply{writer: pktline.NewWriter(connection)}
	if err := s.handler(ctx, request, reply); err != nil {
		if errors.Is(err, ErrStop) {
			s.Shutdown()
		} else {
			logger.Warnf("handler failed: %v", err)
		}
		return
	}

	// Terminate the response.
	if err := reply.writer.WriteFlush(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Debugf("unable to flush response: %v", err)
	}
}
