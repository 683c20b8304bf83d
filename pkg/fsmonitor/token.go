// Package fsmonitor implements the filesystem-watcher daemon: a per-worktree
// process that folds OS-level change events into token-addressed batches and
// answers "what changed since token T?" queries over the IPC transport.
package fsmonitor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/grivet-io/grivet/pkg/encoding"
)

const (
	// tokenPrefix is the leading component of every token minted by the
	// daemon.
	tokenPrefix = "watch"
)

// token names a point in a daemon's event timeline. The incarnation
// component is minted at daemon start and at every force-resync, so a token
// from a prior incarnation (or a prior daemon) never matches and forces the
// client to invalidate its cache. Within an incarnation, tokens are totally
// ordered by sequence.
type token struct {
	// incarnation is the opaque identifier of the minting incarnation.
	incarnation string
	// sequence is the monotone batch sequence number within the
	// incarnation.
	sequence uint64
}

// newIncarnation mints a fresh incarnation identifier.
func newIncarnation() string {
	id := uuid.New()
	return encoding.CompactID(id[:])
}

// String formats the token for the wire.
func (t token) String() string {
	return fmt.Sprintf("%s:%s:%d", tokenPrefix, t.incarnation, t.sequence)
}

// parseToken parses a wire-format token. The boolean result indicates
// validity; invalid (including empty) tokens always elicit the trivial
// response, so parse failures need no detail.
func parseToken(value string) (token, bool) {
	components := strings.Split(value, ":")
	if len(components) != 3 || components[0] != tokenPrefix || components[1] == "" {
		return token{}, false
	}
	sequence, err := strconv.ParseUint(components[2], 10, 64)
	if err != nil {
		return token{}, false
	}
	return token{incarnation: components[1], sequence: sequence}, true
}
