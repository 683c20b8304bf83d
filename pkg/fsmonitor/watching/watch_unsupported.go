//go:build !linux && !windows && !(darwin && cgo)

package watching

import (
	"github.com/pkg/errors"
)

// NewEventSource fails on platforms without a native event source.
func NewEventSource(root string) (EventSource, error) {
	return nil, errors.New("filesystem watching not supported on this platform")
}
