// Package loose implements the loose-object codec: one deflate-compressed
// file per object, containing the object's canonical encoding, stored under a
// fan-out directory derived from the object's identifier.
package loose

import (
	"errors"
	"path/filepath"

	"github.com/grivet-io/grivet/pkg/objects"
)

var (
	// ErrEmptyObject indicates a zero-length loose object file, which is
	// always invalid.
	ErrEmptyObject = errors.New("empty loose object file")
	// ErrMalformedHeader indicates that the deflate stream or the object
	// header within it could not be decoded.
	ErrMalformedHeader = errors.New("malformed loose object header")
	// ErrHeaderTooLong indicates that no NUL terminator was found within the
	// header scratch window.
	ErrHeaderTooLong = errors.New("loose object header too long")
	// ErrCorrupt indicates that the object's content doesn't match its
	// identifier or that its deflate stream is damaged or has trailing
	// garbage.
	ErrCorrupt = errors.New("corrupt loose object")
)

const (
	// headerScratchSize is the size of the fixed scratch buffer into which
	// object headers are inflated. Headers for known types always fit: the
	// longest type name ("commit") plus a space, a 19-digit size, and a NUL
	// total 27 bytes.
	headerScratchSize = 32
	// permissiveHeaderLimit is the maximum header length tolerated when the
	// caller explicitly permits unknown (and thus unbounded) type names.
	permissiveHeaderLimit = 4096
)

// Path computes the path of the loose object file for the specified
// identifier within the specified object directory: the first byte of the
// identifier in hex names a subdirectory and the remaining hex digits name
// the file.
func Path(directory string, id objects.ID) string {
	hexDigest := id.String()
	return filepath.Join(directory, hexDigest[:2], hexDigest[2:])
}
