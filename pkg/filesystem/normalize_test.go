package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNormalizeAbsolutizes(t *testing.T) {
	normalized, err := Normalize("relative/path")
	if err != nil {
		t.Fatal("unable to normalize relative path:", err)
	}
	if !filepath.IsAbs(normalized) {
		t.Error("normalized path isn't absolute:", normalized)
	}
}

func TestNormalizeTrimsTrailingSeparator(t *testing.T) {
	base := t.TempDir()
	normalized, err := Normalize(base + string(os.PathSeparator))
	if err != nil {
		t.Fatal("unable to normalize path:", err)
	}
	if strings.HasSuffix(normalized, string(os.PathSeparator)) {
		t.Error("normalized path retains trailing separator:", normalized)
	}
}

func TestNormalizeTildeExpansion(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	normalized, err := Normalize("~/somewhere")
	if err != nil {
		t.Fatal("unable to normalize tilde path:", err)
	}
	if normalized != filepath.Join(home, "somewhere") {
		t.Error("tilde expansion incorrect:", normalized)
	}
}
