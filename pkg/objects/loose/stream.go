package loose

import (
	"bufio"
	"compress/zlib"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/grivet-io/grivet/pkg/objects"
)

// Reader provides bounded-memory streaming access to a loose object's
// payload. It rehashes the canonical encoding as the payload is consumed and
// reports corruption no later than the final read, so a consumer that reaches
// a clean EOF has read verified content. A Reader is consumed-once and not
// safe for concurrent usage.
type Reader struct {
	// file is the underlying loose object file.
	file *os.File
	// buffered wraps file for byte-precise inflation.
	buffered *bufio.Reader
	// inflater is the inflate stream.
	inflater io.ReadCloser
	// expected is the identifier the content must hash to.
	expected objects.ID
	// digester accumulates the hash of the canonical encoding.
	digester hash.Hash
	// objectType is the object's type, parsed from the header.
	objectType objects.Type
	// size is the declared payload size.
	size int64
	// remaining is the number of payload bytes not yet delivered.
	remaining int64
	// verified indicates that end-of-stream validation has completed.
	verified bool
}

// NewReader opens a streaming reader for the loose object at the specified
// path. The object's type and size are available immediately; payload bytes
// are inflated on demand.
func NewReader(path string, expected objects.ID) (*Reader, error) {
	// Open the file and reject empty files up front.
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if info, err := file.Stat(); err != nil {
		file.Close()
		return nil, fmt.Errorf("unable to stat loose object: %w", err)
	} else if info.Size() == 0 {
		file.Close()
		return nil, ErrEmptyObject
	}

	// Open the inflate stream. The bufio.Reader satisfies io.ByteReader, so
	// the inflater consumes input byte-precisely and any bytes trailing the
	// deflate stream remain observable.
	buffered := bufio.NewReader(file)
	inflater, err := zlib.NewReader(buffered)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	// Inflate and parse the header.
	header, err := inflateHeaderBytes(inflater)
	if err != nil {
		inflater.Close()
		file.Close()
		return nil, err
	}
	objectType, size, err := objects.ParseHeader(header, false)
	if err != nil {
		inflater.Close()
		file.Close()
		return nil, fmt.Errorf("%w: %v", ErrMalformedHeader, err)
	}

	// Start the rolling digest with the canonical header.
	digester := expected.Algorithm().New()
	digester.Write(objects.EncodeHeader(objectType, size))

	// Success.
	return &Reader{
		file:       file,
		buffered:   buffered,
		inflater:   inflater,
		expected:   expected,
		digester:   digester,
		objectType: objectType,
		size:       size,
		remaining:  size,
	}, nil
}

// Type returns the object's type.
func (r *Reader) Type() objects.Type {
	return r.objectType
}

// Size returns the object's payload size.
func (r *Reader) Size() int64 {
	return r.size
}

// Read implements io.Reader.Read, delivering payload bytes. It returns an
// ErrCorrupt-wrapped error if the stream is damaged, overlong, truncated, or
// hashes to an identifier other than the expected one.
func (r *Reader) Read(buffer []byte) (int, error) {
	// If the payload has been fully delivered, then perform (or re-report)
	// end-of-stream validation.
	if r.remaining == 0 {
		if err := r.finish(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}

	// Clamp the read to the remaining payload so that an overlong stream is
	// detected by finish rather than silently consumed.
	if int64(len(buffer)) > r.remaining {
		buffer = buffer[:r.remaining]
	}

	// Inflate.
	n, err := r.inflater.Read(buffer)
	if n > 0 {
		r.digester.Write(buffer[:n])
		r.remaining -= int64(n)
	}
	if err == io.EOF && r.remaining > 0 {
		return n, fmt.Errorf("%w: short payload", ErrCorrupt)
	} else if err != nil && err != io.EOF {
		return n, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	// Done.
	return n, nil
}

// finish validates stream termination and the final digest.
func (r *Reader) finish() error {
	if r.verified {
		return nil
	}

	// The inflate stream must end exactly at the declared size.
	var single [1]byte
	if _, err := io.ReadFull(r.inflater, single[:]); err != io.EOF {
		return fmt.Errorf("%w: stream did not terminate at declared size", ErrCorrupt)
	}

	// No bytes may trail the deflate stream in the file.
	if _, err := r.buffered.ReadByte(); err != io.EOF {
		return fmt.Errorf("%w: trailing garbage after deflate stream", ErrCorrupt)
	}

	// The rolling digest must match the expected identifier.
	actual, err := objects.NewID(r.expected.Algorithm(), r.digester.Sum(nil))
	if err != nil || actual != r.expected {
		return fmt.Errorf("%w: hash mismatch (expected %s)", ErrCorrupt, r.expected)
	}

	// Success.
	r.verified = true
	return nil
}

// Close releases the reader's resources. It does not perform validation;
// consumers that require verification must read to EOF.
func (r *Reader) Close() error {
	r.inflater.Close()
	return r.file.Close()
}

// Verify performs a streaming verification of the loose object at the
// specified path against the expected identifier, without materializing the
// payload.
func Verify(path string, expected objects.ID) error {
	reader, err := NewReader(path, expected)
	if err != nil {
		return err
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return err
	}
	return nil
}
