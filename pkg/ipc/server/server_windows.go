//go:build windows

package server

import (
	"context"
)

// watchEndpointIdentity is a no-op on Windows: named pipe instances are
// owned by their creating process, so the endpoint can't be stolen out from
// under the server the way a unix socket path can.
func (s *Server) watchEndpointIdentity(ctx context.Context) {
	<-ctx.Done()
}
