package objects

import (
	"testing"

	"github.com/grivet-io/grivet/pkg/hashing"
)

func TestTypeRoundTrip(t *testing.T) {
	for _, name := range []string{"blob", "tree", "commit", "tag"} {
		objectType, ok := ParseType(name)
		if !ok {
			t.Errorf("unable to parse type %q", name)
		} else if objectType.String() != name {
			t.Errorf("type %q didn't round-trip", name)
		}
	}
	if _, ok := ParseType("blobber"); ok {
		t.Error("invalid type name parsed")
	}
}

func TestHeaderEncoding(t *testing.T) {
	header := EncodeHeader(TypeBlob, 0)
	if string(header) != "blob 0\x00" {
		t.Errorf("unexpected canonical header: %q", string(header))
	}
	header = EncodeHeader(TypeCommit, 1234)
	if string(header) != "commit 1234\x00" {
		t.Errorf("unexpected canonical header: %q", string(header))
	}
}

func TestHeaderParsing(t *testing.T) {
	objectType, size, err := ParseHeader([]byte("tree 42"), false)
	if err != nil {
		t.Fatal("unable to parse valid header:", err)
	} else if objectType != TypeTree || size != 42 {
		t.Error("header parsed incorrectly")
	}

	// Leading zeros violate the canonical encoding.
	if _, _, err := ParseHeader([]byte("blob 01"), false); err == nil {
		t.Error("header with leading zero parsed")
	}

	// Negative and non-numeric sizes are rejected.
	if _, _, err := ParseHeader([]byte("blob -1"), false); err == nil {
		t.Error("header with negative size parsed")
	}
	if _, _, err := ParseHeader([]byte("blob x"), false); err == nil {
		t.Error("header with non-numeric size parsed")
	}

	// Unknown types are rejected unless permissive.
	if _, _, err := ParseHeader([]byte("gadget 5"), false); err == nil {
		t.Error("header with unknown type parsed strictly")
	}
	if objectType, size, err := ParseHeader([]byte("gadget 5"), true); err != nil {
		t.Error("header with unknown type rejected permissively:", err)
	} else if objectType != TypeInvalid || size != 5 {
		t.Error("permissive header parsed incorrectly")
	}
}

func TestComputeIDEmptyBlob(t *testing.T) {
	// The computed identifier of an empty blob must equal the registry's
	// constant without any prior write.
	for _, name := range []string{"sha1", "sha256"} {
		algorithm := hashing.ByName(name)
		if ComputeID(algorithm, TypeBlob, nil) != EmptyBlobID(algorithm) {
			t.Errorf("%s empty blob identifier mismatch", name)
		}
	}
}

func TestComputeIDKnownValue(t *testing.T) {
	// The SHA-1 identifier of a zero-byte blob is pinned by the on-disk
	// format.
	id := ComputeID(hashing.ByName("sha1"), TypeBlob, nil)
	if id.String() != "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391" {
		t.Error("unexpected zero-byte blob identifier:", id)
	}
}

func TestParseID(t *testing.T) {
	id, err := ParseID("e69de29bb2d1d6434b8b29ae775ad8c2e48c5391")
	if err != nil {
		t.Fatal("unable to parse valid identifier:", err)
	}
	if id.Algorithm().Name() != "sha1" {
		t.Error("parsed identifier has wrong algorithm")
	}
	if id.String() != "e69de29bb2d1d6434b8b29ae775ad8c2e48c5391" {
		t.Error("identifier didn't round-trip")
	}
	if _, err := ParseID("abcd"); err == nil {
		t.Error("identifier with unknown digest length parsed")
	}
	if _, err := ParseID("zzzz"); err == nil {
		t.Error("non-hex identifier parsed")
	}
}
