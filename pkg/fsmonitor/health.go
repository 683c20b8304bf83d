package fsmonitor

import (
	"context"
	"os"
	"time"
)

const (
	// healthPollInterval is the interval at which externally-visible daemon
	// invariants are re-verified.
	healthPollInterval = 5 * time.Second
)

// monitorHealth watches externally-visible invariants that the event stream
// can't be trusted to report (the worktree or gitdir vanishing wholesale,
// e.g. on volume detach) and shuts the daemon down on violation. Platform
// event hooks extend this via platformHealthCheck.
func (d *Daemon) monitorHealth(ctx context.Context) {
	ticker := time.NewTicker(healthPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := os.Lstat(d.worktree); os.IsNotExist(err) {
				d.logger.Errorf("worktree no longer present; shutting down")
				d.ipc.Shutdown()
				return
			}
			if _, err := os.Lstat(d.gitdir); os.IsNotExist(err) {
				d.logger.Errorf("gitdir no longer present; shutting down")
				d.ipc.Shutdown()
				return
			}
			if err := d.platformHealthCheck(); err != nil {
				d.logger.Errorf("health check failed: %v; shutting down", err)
				d.ipc.Shutdown()
				return
			}
		}
	}
}
