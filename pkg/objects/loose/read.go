package loose

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"io"
	"os"

	"github.com/grivet-io/grivet/pkg/objects"
)

// readHeader inflates and parses the object header from the specified zlib
// stream. It reads into a fixed scratch window; if no NUL terminator is found
// within that window, then it fails with ErrHeaderTooLong unless permissive
// is true, in which case it continues inflating into a growable buffer (up to
// a sanity limit) to accommodate unknown type names.
func readHeader(inflater io.Reader, permissive bool) (objects.Type, int64, error) {
	// Inflate the scratch window. An error before any header bytes arrive
	// means the stream itself is damaged.
	scratch := make([]byte, headerScratchSize)
	n, err := io.ReadFull(inflater, scratch)
	if err != nil && err != io.ErrUnexpectedEOF {
		return objects.TypeInvalid, 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	scratch = scratch[:n]

	// Locate the NUL terminator.
	nul := bytes.IndexByte(scratch, 0)
	if nul < 0 {
		if !permissive || n < headerScratchSize {
			return objects.TypeInvalid, 0, ErrHeaderTooLong
		}

		// The caller permits unknown types, so keep inflating into a growable
		// buffer until a NUL appears or the sanity limit is exceeded.
		header := append([]byte(nil), scratch...)
		single := make([]byte, 1)
		for {
			if len(header) > permissiveHeaderLimit {
				return objects.TypeInvalid, 0, ErrHeaderTooLong
			}
			if _, err := io.ReadFull(inflater, single); err != nil {
				return objects.TypeInvalid, 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
			}
			if single[0] == 0 {
				break
			}
			header = append(header, single[0])
		}
		objectType, size, err := objects.ParseHeader(header, true)
		if err != nil {
			return objects.TypeInvalid, 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
		}
		return objectType, size, nil
	}

	// Parse the header.
	objectType, size, err := objects.ParseHeader(scratch[:nul], permissive)
	if err != nil {
		return objects.TypeInvalid, 0, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	// The scratch window may have consumed payload bytes beyond the header,
	// so callers that need the payload use Read, which inflates the header
	// byte-precisely instead.
	return objectType, size, nil
}

// ReadInfo reads only the type and size of the loose object at the specified
// path, without materializing its payload.
func ReadInfo(path string, permissive bool) (objects.Info, error) {
	compressed, err := loadCompressed(path)
	if err != nil {
		return objects.Info{}, err
	}
	inflater, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return objects.Info{}, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	defer inflater.Close()
	objectType, size, err := readHeader(inflater, permissive)
	if err != nil {
		return objects.Info{}, err
	}
	return objects.Info{Type: objectType, Size: size}, nil
}

// Read reads and validates the loose object at the specified path, returning
// its type and payload. The expected identifier is rehashed against the
// inflated canonical encoding; any mismatch, payload inflate failure, short
// stream, or trailing garbage yields ErrCorrupt. A stream or header that
// can't be decoded yields ErrMalformedHeader or ErrHeaderTooLong instead.
func Read(path string, expected objects.ID) (objects.Type, []byte, error) {
	// Load the compressed file.
	compressed, err := loadCompressed(path)
	if err != nil {
		return objects.TypeInvalid, nil, err
	}

	// Open the inflate stream. A bytes.Reader is used so that the inflater
	// consumes exactly the stream's bytes, leaving any trailing garbage
	// detectable.
	source := bytes.NewReader(compressed)
	inflater, err := zlib.NewReader(source)
	if err != nil {
		return objects.TypeInvalid, nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}
	defer inflater.Close()

	// Inflate the header. We inflate it byte-precisely here (rather than via
	// the scratch window) because we need the payload to start at a known
	// stream position.
	header, err := inflateHeaderBytes(inflater)
	if err != nil {
		return objects.TypeInvalid, nil, err
	}
	objectType, size, err := objects.ParseHeader(header, false)
	if err != nil {
		return objects.TypeInvalid, nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	// Inflate the payload and require precise termination: the stream must
	// end exactly at the declared size, and no compressed input may trail the
	// deflate stream.
	payload := make([]byte, size)
	if _, err := io.ReadFull(inflater, payload); err != nil {
		return objects.TypeInvalid, nil, fmt.Errorf("%w: short payload: %v", ErrCorrupt, err)
	}
	if trailing := mustEndHere(inflater, source); trailing != nil {
		return objects.TypeInvalid, nil, trailing
	}

	// Rehash and compare.
	actual := objects.ComputeID(expected.Algorithm(), objectType, payload)
	if actual != expected {
		return objects.TypeInvalid, nil, fmt.Errorf(
			"%w: hash mismatch (expected %s, computed %s)", ErrCorrupt, expected, actual,
		)
	}

	// Success.
	return objectType, payload, nil
}

// loadCompressed loads a loose object file, enforcing the prohibition on
// zero-length files.
func loadCompressed(path string) ([]byte, error) {
	compressed, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(compressed) == 0 {
		return nil, ErrEmptyObject
	}
	return compressed, nil
}

// inflateHeaderBytes reads the header from an inflate stream one byte at a
// time, up to the scratch window size, returning the header bytes without
// their NUL terminator.
func inflateHeaderBytes(inflater io.Reader) ([]byte, error) {
	header := make([]byte, 0, headerScratchSize)
	single := make([]byte, 1)
	for {
		if len(header) >= headerScratchSize {
			return nil, ErrHeaderTooLong
		}
		if _, err := io.ReadFull(inflater, single); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
		}
		if single[0] == 0 {
			return header, nil
		}
		header = append(header, single[0])
	}
}

// mustEndHere verifies that an inflate stream has reached its end and that no
// compressed bytes trail it, returning an ErrCorrupt-wrapped error otherwise.
func mustEndHere(inflater io.Reader, source *bytes.Reader) error {
	var single [1]byte
	if _, err := io.ReadFull(inflater, single[:]); err != io.EOF {
		return fmt.Errorf("%w: stream did not terminate at declared size", ErrCorrupt)
	}
	if source.Len() != 0 {
		return fmt.Errorf("%w: trailing garbage after deflate stream", ErrCorrupt)
	}
	return nil
}
