// Package hashing abstracts the digest algorithms that can back object
// identifiers, allowing higher layers to manipulate object ids without
// knowing the underlying digest.
package hashing

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"hash"
)

// AlgorithmID identifies a hash algorithm within the registry.
type AlgorithmID uint8

const (
	// AlgorithmUnknown is the sentinel identifier for an unknown algorithm.
	AlgorithmUnknown AlgorithmID = iota
	// AlgorithmSHA1 identifies the SHA-1 algorithm.
	AlgorithmSHA1
	// AlgorithmSHA256 identifies the SHA-256 algorithm.
	AlgorithmSHA256
	// algorithmCount is the total number of registry slots.
	algorithmCount
)

const (
	// SHA1FormatID is the 32-bit on-disk format identifier for SHA-1
	// ("sha1" interpreted as a big-endian integer).
	SHA1FormatID = 0x73686131
	// SHA256FormatID is the 32-bit on-disk format identifier for SHA-256
	// ("s256" interpreted as a big-endian integer).
	SHA256FormatID = 0x73323536
)

// Algorithm describes a hash algorithm: its identity, its digest geometry,
// and its precomputed canonical object digests. Algorithm values are obtained
// from the registry lookup functions and compared by identifier.
type Algorithm struct {
	// id is the registry identifier of the algorithm.
	id AlgorithmID
	// name is the printable name of the algorithm.
	name string
	// formatID is the 32-bit format identifier of the algorithm.
	formatID uint32
	// rawSize is the raw digest size in bytes.
	rawSize int
	// hexSize is the hex-encoded digest size in bytes.
	hexSize int
	// factory constructs a new digest instance.
	factory func() hash.Hash
	// emptyTree is the raw digest of the canonical empty tree object.
	emptyTree []byte
	// emptyBlob is the raw digest of the canonical empty blob object.
	emptyBlob []byte
	// zero is the all-zero raw digest.
	zero []byte
}

// mustDecodeHex decodes a hex digest constant, panicking on failure. It is
// only invoked on the registry's compile-time constants.
func mustDecodeHex(digest string) []byte {
	result, err := hex.DecodeString(digest)
	if err != nil {
		panic("invalid digest constant")
	}
	return result
}

// algorithms is the fixed registry table, indexed by AlgorithmID. The unknown
// slot's factory panics if invoked, which guards against code paths that
// operate on an unvalidated algorithm.
var algorithms = [algorithmCount]Algorithm{
	AlgorithmUnknown: {
		id:   AlgorithmUnknown,
		name: "unknown",
		factory: func() hash.Hash {
			panic("hash factory invoked for unknown algorithm")
		},
	},
	AlgorithmSHA1: {
		id:        AlgorithmSHA1,
		name:      "sha1",
		formatID:  SHA1FormatID,
		rawSize:   sha1.Size,
		hexSize:   2 * sha1.Size,
		factory:   sha1.New,
		emptyTree: mustDecodeHex("4b825dc642cb6eb9a060e54bf8d69288fbee4904"),
		emptyBlob: mustDecodeHex("e69de29bb2d1d6434b8b29ae775ad8c2e48c5391"),
		zero:      make([]byte, sha1.Size),
	},
	AlgorithmSHA256: {
		id:        AlgorithmSHA256,
		name:      "sha256",
		formatID:  SHA256FormatID,
		rawSize:   sha256.Size,
		hexSize:   2 * sha256.Size,
		factory:   sha256.New,
		emptyTree: mustDecodeHex("6ef19b41225c5369f1c104d45d8d85efa9b057b53b14b4b9b939dd74decc5321"),
		emptyBlob: mustDecodeHex("473a0f4c3be8a93681a267e3b1e9a7dcda1185436fe141f7749120a303721813"),
		zero:      make([]byte, sha256.Size),
	},
}

// ByID looks up an algorithm by registry identifier, returning the unknown
// sentinel on miss.
func ByID(id AlgorithmID) *Algorithm {
	if id >= algorithmCount {
		return &algorithms[AlgorithmUnknown]
	}
	return &algorithms[id]
}

// ByName looks up an algorithm by printable name, returning the unknown
// sentinel on miss.
func ByName(name string) *Algorithm {
	for i := AlgorithmID(1); i < algorithmCount; i++ {
		if algorithms[i].name == name {
			return &algorithms[i]
		}
	}
	return &algorithms[AlgorithmUnknown]
}

// ByFormatID looks up an algorithm by 32-bit format identifier, returning the
// unknown sentinel on miss.
func ByFormatID(formatID uint32) *Algorithm {
	for i := AlgorithmID(1); i < algorithmCount; i++ {
		if algorithms[i].formatID == formatID {
			return &algorithms[i]
		}
	}
	return &algorithms[AlgorithmUnknown]
}

// ByRawLength looks up an algorithm by raw digest length, returning the
// unknown sentinel on miss.
func ByRawLength(length int) *Algorithm {
	for i := AlgorithmID(1); i < algorithmCount; i++ {
		if algorithms[i].rawSize == length {
			return &algorithms[i]
		}
	}
	return &algorithms[AlgorithmUnknown]
}

// ID returns the registry identifier of the algorithm.
func (a *Algorithm) ID() AlgorithmID {
	return a.id
}

// Name returns the printable name of the algorithm.
func (a *Algorithm) Name() string {
	return a.name
}

// FormatID returns the 32-bit format identifier of the algorithm.
func (a *Algorithm) FormatID() uint32 {
	return a.formatID
}

// RawSize returns the raw digest size of the algorithm in bytes.
func (a *Algorithm) RawSize() int {
	return a.rawSize
}

// HexSize returns the hex-encoded digest size of the algorithm in bytes.
func (a *Algorithm) HexSize() int {
	return a.hexSize
}

// New constructs a new digest instance. It panics if invoked on the unknown
// sentinel.
func (a *Algorithm) New() hash.Hash {
	return a.factory()
}

// Valid indicates whether or not the algorithm is a known (non-sentinel)
// algorithm.
func (a *Algorithm) Valid() bool {
	return a.id != AlgorithmUnknown
}

// EmptyTreeDigest returns a copy of the raw digest of the canonical empty
// tree object.
func (a *Algorithm) EmptyTreeDigest() []byte {
	return append([]byte(nil), a.emptyTree...)
}

// EmptyBlobDigest returns a copy of the raw digest of the canonical empty
// blob object.
func (a *Algorithm) EmptyBlobDigest() []byte {
	return append([]byte(nil), a.emptyBlob...)
}

// ZeroDigest returns a copy of the all-zero raw digest.
func (a *Algorithm) ZeroDigest() []byte {
	return append([]byte(nil), a.zero...)
}
