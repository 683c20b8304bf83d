package odb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/grivet-io/grivet/pkg/objects"
	"github.com/grivet-io/grivet/pkg/objects/loose"
)

const (
	// DefaultStreamThreshold is the default payload size at or above which callers
	// should prefer streaming access over full materialization.
	DefaultStreamThreshold = 512 << 20
)

// ShouldStream indicates whether or not a payload of the specified size is
// at or above the database's streaming threshold, meaning callers should
// prefer NewObjectStream over full materialization.
func (d *DB) ShouldStream(size int64) bool {
	return size >= d.streamThreshold
}

// ObjectStream provides bounded-memory, pull-based access to an object's
// payload. The object's true type and size are available before the first
// read. Streams are consumed-once, not restartable, and not safe for
// concurrent usage. Closing the stream releases all of its resources.
type ObjectStream interface {
	io.ReadCloser
	// Type returns the object's type.
	Type() objects.Type
	// Size returns the object's payload size.
	Size() int64
}

// memoryStream serves a stream from an in-memory payload. It backs both
// pretend-cache objects and packed objects (whose delta reconstruction
// already materialized the payload).
type memoryStream struct {
	// reader reads the payload.
	reader *bytes.Reader
	// objectType is the object's type.
	objectType objects.Type
	// size is the payload size.
	size int64
}

// Type implements ObjectStream.Type.
func (s *memoryStream) Type() objects.Type {
	return s.objectType
}

// Size implements ObjectStream.Size.
func (s *memoryStream) Size() int64 {
	return s.size
}

// Read implements io.Reader.Read.
func (s *memoryStream) Read(buffer []byte) (int, error) {
	return s.reader.Read(buffer)
}

// Close implements io.Closer.Close.
func (s *memoryStream) Close() error {
	return nil
}

// looseStream adapts a loose.Reader to ObjectStream.
type looseStream struct {
	*loose.Reader
}

// NewObjectStream opens a streaming reader for the specified object. Loose
// objects are inflated incrementally with rolling verification; packed delta
// entries are reconstructed through the bounded delta-base cache and served
// from memory; pretend objects are served by plain copy.
func (d *DB) NewObjectStream(ctx context.Context, id objects.ID, flags LookupFlags) (ObjectStream, error) {
	id = d.resolveReplace(id, flags)

	// Serve pretend objects by copy.
	if entry, ok := d.lookupPretend(id); ok {
		return &memoryStream{
			reader:     bytes.NewReader(entry.payload),
			objectType: entry.objectType,
			size:       int64(len(entry.payload)),
		}, nil
	}

	// Prefer the loose-incremental path: it's the only one that avoids
	// materializing the payload.
	if flags&LookupIgnoreLoose == 0 {
		for _, directory := range d.chain() {
			reader, err := loose.NewReader(directory.looseObjectPath(id), id)
			if err == nil {
				return &looseStream{reader}, nil
			}
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
	}

	// Fall back to pack reconstruction.
	for _, p := range d.packs(false) {
		if !p.Has(id) || p.IsBad(id) {
			continue
		}
		objectType, payload, err := p.Read(id, resolver{d})
		if err != nil {
			return nil, err
		}
		return &memoryStream{
			reader:     bytes.NewReader(payload),
			objectType: objectType,
			size:       int64(len(payload)),
		}, nil
	}

	// Attempt a single promisor fetch and retry.
	if d.fetchMissing != nil && flags&LookupSkipFetch == 0 {
		if err := d.fetchMissing(ctx, id); err == nil {
			return d.NewObjectStream(ctx, id, flags|LookupSkipFetch)
		}
	}

	return nil, ErrObjectNotFound
}

// StreamBlobToWriter streams a blob's payload to the specified writer. If
// the underlying storage is corrupt, an error is returned in place of a clean
// end of stream; the bytes inflated before detection (possibly the whole
// payload) have already been written, so consumers must treat any error as
// invalidating all bytes already received.
func (d *DB) StreamBlobToWriter(ctx context.Context, destination io.Writer, id objects.ID, flags LookupFlags) (int64, error) {
	stream, err := d.NewObjectStream(ctx, id, flags)
	if err != nil {
		return 0, err
	}
	defer stream.Close()
	if stream.Type() != objects.TypeBlob {
		return 0, fmt.Errorf("object %s is a %s, not a blob", id, stream.Type())
	}
	written, err := io.Copy(destination, stream)
	if err != nil {
		return written, err
	}
	if written != stream.Size() {
		return written, errors.New("blob stream ended short of its declared size")
	}
	return written, nil
}
