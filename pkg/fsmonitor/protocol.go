package fsmonitor

import (
	"bytes"
	"strings"

	"github.com/pkg/errors"
)

const (
	// CommandQuit shuts the daemon down. It has no response.
	CommandQuit = "quit"
	// CommandFlush forces a resync, invalidating all outstanding tokens. It
	// exists for testing and debugging.
	CommandFlush = "flush"
	// trivialMarker opens a trivial ("rescan everything") response.
	trivialMarker = "/"
)

// QueryResponse is the decoded form of a since-token query response.
type QueryResponse struct {
	// Token is the daemon's current token. Subsequent queries should pass
	// it back.
	Token string
	// Trivial indicates that the daemon couldn't answer incrementally and
	// the client must rescan everything.
	Trivial bool
	// Paths holds the worktree-relative changed paths for non-trivial
	// responses.
	Paths []string
}

// encodeQueryResponse encodes a query response: NUL-terminated fields, with
// a leading "/" field marking the trivial form.
func encodeQueryResponse(current token, paths []string, trivial bool) []byte {
	var buffer bytes.Buffer
	if trivial {
		buffer.WriteString(trivialMarker)
		buffer.WriteByte(0)
	}
	buffer.WriteString(current.String())
	buffer.WriteByte(0)
	for _, path := range paths {
		buffer.WriteString(path)
		buffer.WriteByte(0)
	}
	return buffer.Bytes()
}

// decodeQueryResponse decodes a query response payload.
func decodeQueryResponse(payload []byte) (*QueryResponse, error) {
	if len(payload) == 0 || payload[len(payload)-1] != 0 {
		return nil, errors.New("malformed query response")
	}
	fields := strings.Split(string(payload[:len(payload)-1]), "\x00")
	response := &QueryResponse{}
	if fields[0] == trivialMarker {
		if len(fields) != 2 {
			return nil, errors.New("malformed trivial query response")
		}
		response.Trivial = true
		response.Token = fields[1]
		return response, nil
	}
	response.Token = fields[0]
	if len(fields) > 1 {
		response.Paths = fields[1:]
	}
	return response, nil
}
