package filesystem

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// atomicWriteTemporaryNamePrefix is the file name prefix to use for
	// intermediate temporary files used in atomic writes.
	atomicWriteTemporaryNamePrefix = TemporaryNamePrefix + "atomic-write"
)

// StageFile creates a uniquely-named temporary file in the specified
// directory, hands it to the fill callback, optionally synchronizes it to
// stable storage, and closes it. On success it returns the temporary path,
// which the caller owns: committing it (by rename or link) and removing it
// are the caller's responsibility. On failure the temporary file is removed
// and an error is returned. Both the object store's loose writer and the
// whole-file atomic writer below commit through this staging step so that a
// partially written file is never observable at a final path.
func StageFile(directory, prefix string, sync bool, fill func(*os.File) error) (string, error) {
	// Create the temporary file. The os package already uses secure
	// permissions for temporary files, so no explicit permission handling is
	// needed at this stage.
	temporary, err := os.CreateTemp(directory, prefix)
	if err != nil {
		return "", fmt.Errorf("unable to create temporary file: %w", err)
	}
	path := temporary.Name()

	// Run the fill callback and any requested synchronization, then close.
	// Failures remove the temporary file: a partial staging must leave
	// nothing behind.
	err = fill(temporary)
	if err == nil && sync {
		err = temporary.Sync()
	}
	if closeErr := temporary.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return "", fmt.Errorf("unable to stage file contents: %w", err)
	}

	// Success.
	return path, nil
}

// WriteFileAtomic writes a file to disk in an atomic fashion: contents are
// staged into a temporary sibling file and swapped into place with a rename,
// so readers observe either the old contents or the new, never a mixture.
func WriteFileAtomic(path string, data []byte, permissions os.FileMode) error {
	// Stage the contents beside the final path (a rename must not cross
	// filesystems).
	temporary, err := StageFile(filepath.Dir(path), atomicWriteTemporaryNamePrefix, false, func(file *os.File) error {
		_, err := file.Write(data)
		return err
	})
	if err != nil {
		return err
	}

	// Apply the requested permissions before the file becomes visible at its
	// final path.
	if err := os.Chmod(temporary, permissions); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("unable to set file permissions: %w", err)
	}

	// Swap the file into place.
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return fmt.Errorf("unable to rename file into place: %w", err)
	}

	// Success.
	return nil
}
