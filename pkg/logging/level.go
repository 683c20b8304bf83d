package logging

import (
	"github.com/pkg/errors"
)

// Level represents a logging verbosity threshold. Higher values admit more
// output; values are ordered and comparable.
type Level uint

const (
	// LevelDisabled squelches all output.
	LevelDisabled Level = iota
	// LevelError admits only errors.
	LevelError
	// LevelWarn additionally admits warnings.
	LevelWarn
	// LevelInfo additionally admits lifecycle information (daemon start,
	// watch establishment, endpoint binding).
	LevelInfo
	// LevelDebug additionally admits per-operation information (batch
	// publications, dropped clients).
	LevelDebug
	// LevelTrace additionally admits per-event information. This is loud
	// enough that the watcher emits one line per filesystem observation.
	LevelTrace
)

// levelNames indexes the textual level names accepted by ParseLevel and
// emitted by String.
var levelNames = [...]string{
	LevelDisabled: "disabled",
	LevelError:    "error",
	LevelWarn:     "warn",
	LevelInfo:     "info",
	LevelDebug:    "debug",
	LevelTrace:    "trace",
}

// levelTags indexes the fixed-width line tags that the logger prefixes onto
// its output, keeping columns aligned across levels.
var levelTags = [...]string{
	LevelDisabled: "[---]",
	LevelError:    "[ERR]",
	LevelWarn:     "[WRN]",
	LevelInfo:     "[INF]",
	LevelDebug:    "[DBG]",
	LevelTrace:    "[TRC]",
}

// ParseLevel converts a textual level name to a Level.
func ParseLevel(name string) (Level, error) {
	for level, candidate := range levelNames {
		if candidate == name {
			return Level(level), nil
		}
	}
	return LevelDisabled, errors.Errorf("unknown log level: %q", name)
}

// String provides a human-readable representation of a level.
func (l Level) String() string {
	if int(l) < len(levelNames) {
		return levelNames[l]
	}
	return "unknown"
}

// tag returns the line tag for messages admitted at this level.
func (l Level) tag() string {
	if int(l) < len(levelTags) {
		return levelTags[l]
	}
	return levelTags[LevelDisabled]
}
