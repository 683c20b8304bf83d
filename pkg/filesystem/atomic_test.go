package filesystem

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStageFile(t *testing.T) {
	directory := t.TempDir()

	// Stage contents and verify the staged file.
	staged, err := StageFile(directory, "stage-test-", true, func(file *os.File) error {
		_, err := file.Write([]byte("staged contents"))
		return err
	})
	if err != nil {
		t.Fatal("unable to stage file:", err)
	}
	if !strings.HasPrefix(filepath.Base(staged), "stage-test-") {
		t.Error("staged file doesn't carry the requested prefix:", staged)
	}
	contents, err := os.ReadFile(staged)
	if err != nil || string(contents) != "staged contents" {
		t.Error("staged file holds wrong contents")
	}
}

func TestStageFileFailureRemoves(t *testing.T) {
	directory := t.TempDir()

	// A failing fill callback must propagate its error and leave nothing
	// behind.
	failure := errors.New("fill failed")
	if _, err := StageFile(directory, "stage-test-", false, func(*os.File) error {
		return failure
	}); !errors.Is(err, failure) {
		t.Error("fill failure not propagated:", err)
	}
	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatal("unable to read directory:", err)
	}
	if len(entries) != 0 {
		t.Error("failed staging left files behind")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	directory := t.TempDir()
	path := filepath.Join(directory, "target.txt")

	// Write and verify.
	if err := WriteFileAtomic(path, []byte("contents"), 0600); err != nil {
		t.Fatal("unable to write file atomically:", err)
	}
	contents, err := os.ReadFile(path)
	if err != nil || string(contents) != "contents" {
		t.Error("atomic write produced wrong contents")
	}

	// Overwrite and verify.
	if err := WriteFileAtomic(path, []byte("replaced"), 0600); err != nil {
		t.Fatal("unable to overwrite file atomically:", err)
	}
	contents, err = os.ReadFile(path)
	if err != nil || string(contents) != "replaced" {
		t.Error("atomic overwrite produced wrong contents")
	}

	// No temporary files may remain.
	entries, err := os.ReadDir(directory)
	if err != nil {
		t.Fatal("unable to read directory:", err)
	}
	if len(entries) != 1 {
		t.Error("temporary files survived atomic writes")
	}
}
