// Package objects defines the object model of the content-addressed store:
// typed, immutable records identified by a digest of their canonical
// encoding.
package objects

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/pkg/errors"

	"github.com/grivet-io/grivet/pkg/hashing"
)

// Type represents an object type.
type Type uint8

const (
	// TypeInvalid is the zero value for Type and represents an invalid type.
	TypeInvalid Type = iota
	// TypeBlob represents a blob object.
	TypeBlob
	// TypeTree represents a tree object.
	TypeTree
	// TypeCommit represents a commit object.
	TypeCommit
	// TypeTag represents a tag object.
	TypeTag
)

// ParseType converts a wire-format type name to a Type. It returns a boolean
// indicating whether or not the name was valid.
func ParseType(name string) (Type, bool) {
	switch name {
	case "blob":
		return TypeBlob, true
	case "tree":
		return TypeTree, true
	case "commit":
		return TypeCommit, true
	case "tag":
		return TypeTag, true
	default:
		return TypeInvalid, false
	}
}

// String provides the wire-format name of the type.
func (t Type) String() string {
	switch t {
	case TypeBlob:
		return "blob"
	case TypeTree:
		return "tree"
	case TypeCommit:
		return "commit"
	case TypeTag:
		return "tag"
	default:
		return "invalid"
	}
}

// Valid indicates whether or not the type is one of the four storable types.
func (t Type) Valid() bool {
	return t == TypeBlob || t == TypeTree || t == TypeCommit || t == TypeTag
}

// maxRawSize is the largest raw digest size of any registered algorithm.
const maxRawSize = 32

// ID is an object identifier: a fixed-width digest plus a tag naming the
// algorithm that produced it. The zero value is invalid.
type ID struct {
	// algorithm is the identifier of the algorithm that produced the digest.
	algorithm hashing.AlgorithmID
	// digest holds the raw digest bytes in its leading Algorithm().RawSize()
	// bytes.
	digest [maxRawSize]byte
}

// NewID constructs an identifier from a raw digest and an algorithm. It
// returns an error if the digest length doesn't match the algorithm.
func NewID(algorithm *hashing.Algorithm, digest []byte) (ID, error) {
	if !algorithm.Valid() {
		return ID{}, errors.New("unknown algorithm")
	} else if len(digest) != algorithm.RawSize() {
		return ID{}, errors.Errorf(
			"digest length (%d) does not match algorithm %s (%d)",
			len(digest), algorithm.Name(), algorithm.RawSize(),
		)
	}
	var id ID
	id.algorithm = algorithm.ID()
	copy(id.digest[:], digest)
	return id, nil
}

// ParseID parses a hex-encoded identifier, inferring the algorithm from the
// digest length.
func ParseID(value string) (ID, error) {
	digest, err := hex.DecodeString(value)
	if err != nil {
		return ID{}, fmt.Errorf("invalid hex digest: %w", err)
	}
	algorithm := hashing.ByRawLength(len(digest))
	if !algorithm.Valid() {
		return ID{}, errors.Errorf("no algorithm with digest length %d", len(digest))
	}
	return NewID(algorithm, digest)
}

// EmptyBlobID returns the identifier of the canonical empty blob for the
// specified algorithm.
func EmptyBlobID(algorithm *hashing.Algorithm) ID {
	id, err := NewID(algorithm, algorithm.EmptyBlobDigest())
	if err != nil {
		panic("empty blob digest invalid for algorithm")
	}
	return id
}

// EmptyTreeID returns the identifier of the canonical empty tree for the
// specified algorithm.
func EmptyTreeID(algorithm *hashing.Algorithm) ID {
	id, err := NewID(algorithm, algorithm.EmptyTreeDigest())
	if err != nil {
		panic("empty tree digest invalid for algorithm")
	}
	return id
}

// ZeroID returns the all-zero identifier for the specified algorithm.
func ZeroID(algorithm *hashing.Algorithm) ID {
	id, err := NewID(algorithm, algorithm.ZeroDigest())
	if err != nil {
		panic("zero digest invalid for algorithm")
	}
	return id
}

// Algorithm returns the algorithm that produced the identifier.
func (i ID) Algorithm() *hashing.Algorithm {
	return hashing.ByID(i.algorithm)
}

// Digest returns the raw digest bytes of the identifier.
func (i ID) Digest() []byte {
	return i.digest[:i.Algorithm().RawSize()]
}

// String provides the hex encoding of the identifier.
func (i ID) String() string {
	return hex.EncodeToString(i.Digest())
}

// IsZero indicates whether or not the identifier is the zero value (an
// identifier with no algorithm).
func (i ID) IsZero() bool {
	return i.algorithm == hashing.AlgorithmUnknown
}

// Info describes an object without carrying its payload.
type Info struct {
	// Type is the object type.
	Type Type
	// Size is the payload size in bytes.
	Size int64
	// DeltaBase is the identifier of the delta base for packed delta entries.
	// It is the zero ID for non-delta objects.
	DeltaBase ID
}

// EncodeHeader encodes the canonical object header
// "<type> SP <ascii-decimal-size> NUL" for the specified type and size.
func EncodeHeader(objectType Type, size int64) []byte {
	header := make([]byte, 0, 32)
	header = append(header, objectType.String()...)
	header = append(header, ' ')
	header = strconv.AppendInt(header, size, 10)
	header = append(header, 0)
	return header
}

// ParseHeader parses a canonical object header (without its NUL terminator).
// If permissive is true, then unknown type names are accepted and reported
// with TypeInvalid; otherwise they are rejected.
func ParseHeader(header []byte, permissive bool) (Type, int64, error) {
	// Split at the type/size separator.
	space := bytes.IndexByte(header, ' ')
	if space < 0 {
		return TypeInvalid, 0, errors.New("malformed object header: missing separator")
	}

	// Parse the type name.
	objectType, ok := ParseType(string(header[:space]))
	if !ok && !permissive {
		return TypeInvalid, 0, errors.Errorf("invalid object type %q", string(header[:space]))
	}

	// Parse the size. The canonical encoding is ASCII decimal without a sign
	// and without leading zeros (other than the literal "0"), so reject
	// anything strconv would accept beyond that.
	sizeField := string(header[space+1:])
	if sizeField == "" || sizeField[0] < '0' || sizeField[0] > '9' || (len(sizeField) > 1 && sizeField[0] == '0') {
		return TypeInvalid, 0, errors.New("malformed object header: invalid size")
	}
	size, err := strconv.ParseInt(sizeField, 10, 64)
	if err != nil || size < 0 {
		return TypeInvalid, 0, errors.New("malformed object header: invalid size")
	}

	// Success.
	return objectType, size, nil
}

// ComputeID computes the identifier of an object with the specified type and
// payload under the specified algorithm, by hashing the canonical encoding.
func ComputeID(algorithm *hashing.Algorithm, objectType Type, payload []byte) ID {
	digester := algorithm.New()
	digester.Write(EncodeHeader(objectType, int64(len(payload))))
	digester.Write(payload)
	id, err := NewID(algorithm, digester.Sum(nil))
	if err != nil {
		panic("digest length mismatch from algorithm's own digester")
	}
	return id
}
