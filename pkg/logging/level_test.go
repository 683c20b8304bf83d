package logging

import (
	"testing"
)

func TestParseLevel(t *testing.T) {
	for _, name := range []string{"disabled", "error", "warn", "info", "debug", "trace"} {
		level, err := ParseLevel(name)
		if err != nil {
			t.Errorf("unable to parse level %q: %v", name, err)
		} else if level.String() != name {
			t.Errorf("level %q didn't round-trip", name)
		}
	}
	if _, err := ParseLevel("verbose"); err == nil {
		t.Error("unknown level name parsed")
	}
}

func TestLevelOrdering(t *testing.T) {
	if !(LevelDisabled < LevelError && LevelError < LevelWarn &&
		LevelWarn < LevelInfo && LevelInfo < LevelDebug && LevelDebug < LevelTrace) {
		t.Error("level values aren't ordered by verbosity")
	}
}

func TestLevelTags(t *testing.T) {
	// Tags are fixed-width so log columns stay aligned.
	width := len(LevelError.tag())
	for _, level := range []Level{LevelError, LevelWarn, LevelInfo, LevelDebug, LevelTrace} {
		if len(level.tag()) != width {
			t.Errorf("level %s tag isn't fixed-width", level)
		}
	}
}
