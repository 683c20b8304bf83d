//go:build !windows

package server

import (
	"context"
	"os"
	"time"
)

// watchEndpointIdentity periodically verifies that the endpoint path still
// names our socket. If another daemon removes and rebinds the path, the
// filesystem entry's identity changes (or stops being a socket), and the
// rightful response is to shut down rather than serve a stolen endpoint.
func (s *Server) watchEndpointIdentity(ctx context.Context) {
	// Capture the identity of the socket we bound.
	original, err := os.Lstat(s.path)
	if err != nil {
		s.logger.Warnf("unable to stat endpoint for theft detection: %v", err)
		return
	}

	// Poll.
	ticker := time.NewTicker(endpointWatchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, err := os.Lstat(s.path)
			if err != nil || current.Mode()&os.ModeSocket == 0 || !os.SameFile(original, current) {
				s.logger.Errorf("endpoint %s is no longer ours; shutting down", s.path)
				s.Shutdown()
				return
			}
		}
	}
}
