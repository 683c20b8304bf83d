package loose

import (
	"compress/zlib"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/grivet-io/grivet/pkg/filesystem"
	"github.com/grivet-io/grivet/pkg/hashing"
	"github.com/grivet-io/grivet/pkg/objects"
)

// WriteOptions control loose object writing.
type WriteOptions struct {
	// Fsync indicates whether or not the object file should be synchronized
	// to stable storage before being linked into place.
	Fsync bool
	// Expected, if non-zero, is the identifier that the written content must
	// hash to. A mismatch fails the write, guarding against unstable content
	// sources.
	Expected objects.ID
}

// Write writes an object into the specified object directory as a loose
// object file and returns its identifier. The canonical encoding is deflated
// into a staged temporary file beside the final path, hashed on its
// uncompressed bytes, and then linked to its final name. If the final name
// already exists, the write succeeds without touching it: under content
// addressing, an existing file with the object's name is the object. (On
// link-unsupporting filesystems, a rename is used instead.)
func Write(directory string, algorithm *hashing.Algorithm, objectType objects.Type, payload []byte, options WriteOptions) (objects.ID, error) {
	// Compute the identifier up front so that both the final path and the
	// stability check are available before any filesystem mutation.
	id := objects.ComputeID(algorithm, objectType, payload)
	if !options.Expected.IsZero() && id != options.Expected {
		return objects.ID{}, errors.Errorf(
			"content hashed to %s but %s was expected (unstable source)",
			id, options.Expected,
		)
	}
	finalPath := Path(directory, id)

	// Ensure that the fan-out subdirectory exists. The subdirectory (or the
	// object directory itself) may be a symbolic link into another working
	// tree's object store; MkdirAll follows links, which is exactly the
	// behavior shared layouts need.
	if err := os.MkdirAll(filepath.Dir(finalPath), 0755); err != nil {
		return objects.ID{}, fmt.Errorf("unable to create object subdirectory: %w", err)
	}

	// Stage the deflated canonical encoding beside the final path so that
	// the link below never crosses devices.
	temporaryPath, err := filesystem.StageFile(
		filepath.Dir(finalPath), filesystem.LooseObjectTemporaryNamePrefix, options.Fsync,
		func(file *os.File) error {
			deflater := zlib.NewWriter(file)
			if _, err := deflater.Write(objects.EncodeHeader(objectType, int64(len(payload)))); err != nil {
				return err
			}
			if _, err := deflater.Write(payload); err != nil {
				return err
			}
			return deflater.Close()
		},
	)
	if err != nil {
		return objects.ID{}, fmt.Errorf("unable to stage object file: %w", err)
	}

	// Restrict permissions to match loose object conventions (objects are
	// immutable once written).
	if err := os.Chmod(temporaryPath, 0444); err != nil {
		os.Remove(temporaryPath)
		return objects.ID{}, fmt.Errorf("unable to set object file permissions: %w", err)
	}

	// Link the staged file to its final name, falling back to a rename on
	// filesystems without hard link support. An existing final name means the
	// object is already present and the write is trivially complete.
	if err := os.Link(temporaryPath, finalPath); err != nil {
		if os.IsExist(err) {
			os.Remove(temporaryPath)
			return id, nil
		}
		if err := os.Rename(temporaryPath, finalPath); err != nil {
			os.Remove(temporaryPath)
			return objects.ID{}, fmt.Errorf("unable to move object file into place: %w", err)
		}
		return id, nil
	}

	// The link succeeded, so the staged name is now redundant.
	os.Remove(temporaryPath)

	// Success.
	return id, nil
}
