//go:build !windows

package server

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/grivet-io/grivet/pkg/ipc"
)

// startTestServer runs a server with the specified handler and returns its
// endpoint path and a channel yielding Run's result.
func startTestServer(t *testing.T, handler Handler) (string, *Server, <-chan error) {
	path := filepath.Join(t.TempDir(), "test.ipc")
	server, err := New(path, handler, Options{Workers: 2})
	if err != nil {
		t.Fatal("unable to create server:", err)
	}
	result := make(chan error, 1)
	go func() {
		result <- server.Run(context.Background())
	}()
	return path, server, result
}

// waitForResult waits for a server to exit.
func waitForResult(t *testing.T, result <-chan error) error {
	select {
	case err := <-result:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for server exit")
		return nil
	}
}

func TestServerEcho(t *testing.T) {
	path, server, result := startTestServer(t, func(_ context.Context, request []byte, reply *Reply) error {
		return reply.Write(append([]byte("echo:"), request...))
	})

	// Perform an exchange.
	response, err := ipc.Call(context.Background(), path, []byte("hello"))
	if err != nil {
		t.Fatal("exchange failed:", err)
	}
	if !bytes.Equal(response, []byte("echo:hello")) {
		t.Error("unexpected response:", string(response))
	}

	// The server must still be listening.
	if state := ipc.GetActiveState(path); state != ipc.StateListening {
		t.Error("unexpected endpoint state:", state)
	}

	// Shut down.
	server.Shutdown()
	if err := waitForResult(t, result); err != nil {
		t.Error("server exited with error:", err)
	}
}

func TestServerEmptyExchange(t *testing.T) {
	// A client that sends just a flush must receive just a flush, and the
	// server must keep listening.
	path, server, result := startTestServer(t, func(_ context.Context, request []byte, reply *Reply) error {
		if len(request) != 0 {
			t.Error("expected empty request")
		}
		return nil
	})

	response, err := ipc.Call(context.Background(), path, nil)
	if err != nil {
		t.Fatal("flush exchange failed:", err)
	}
	if len(response) != 0 {
		t.Error("expected empty response")
	}
	if state := ipc.GetActiveState(path); state != ipc.StateListening {
		t.Error("unexpected endpoint state:", state)
	}

	server.Shutdown()
	waitForResult(t, result)
}

func TestServerStopViaHandler(t *testing.T) {
	// A handler returning ErrStop must shut the server down.
	path, _, result := startTestServer(t, func(_ context.Context, request []byte, reply *Reply) error {
		if string(request) == "quit" {
			return ErrStop
		}
		return reply.Write([]byte("ok"))
	})

	// The quit request has no response; the connection just closes.
	response, err := ipc.Call(context.Background(), path, []byte("quit"))
	if err != nil {
		t.Fatal("quit exchange failed:", err)
	}
	if response != nil {
		t.Error("unexpected response to quit:", string(response))
	}
	if err := waitForResult(t, result); err != nil {
		t.Error("server exited with error:", err)
	}

	// The endpoint must no longer be listening.
	if state := ipc.GetActiveState(path); state == ipc.StateListening {
		t.Error("endpoint still listening after quit")
	}
}

func TestServerSequentialExchanges(t *testing.T) {
	// Each connection carries exactly one exchange; several in sequence
	// must all succeed.
	path, server, result := startTestServer(t, func(_ context.Context, request []byte, reply *Reply) error {
		return reply.Write(request)
	})
	for i := 0; i < 10; i++ {
		payload := []byte{byte('a' + i)}
		response, err := ipc.Call(context.Background(), path, payload)
		if err != nil {
			t.Fatal("exchange failed:", err)
		}
		if !bytes.Equal(response, payload) {
			t.Error("unexpected response")
		}
	}
	server.Shutdown()
	waitForResult(t, result)
}
