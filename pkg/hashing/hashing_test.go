package hashing

import (
	"encoding/hex"
	"testing"
)

func TestByName(t *testing.T) {
	// Known algorithms resolve.
	if algorithm := ByName("sha1"); !algorithm.Valid() {
		t.Error("sha1 lookup returned sentinel")
	} else if algorithm.RawSize() != 20 || algorithm.HexSize() != 40 {
		t.Error("sha1 geometry incorrect")
	}
	if algorithm := ByName("sha256"); !algorithm.Valid() {
		t.Error("sha256 lookup returned sentinel")
	} else if algorithm.RawSize() != 32 {
		t.Error("sha256 geometry incorrect")
	}

	// Misses return the sentinel.
	if ByName("md5").Valid() {
		t.Error("unknown algorithm lookup didn't return sentinel")
	}
}

func TestByFormatID(t *testing.T) {
	if ByFormatID(SHA1FormatID).Name() != "sha1" {
		t.Error("sha1 format id lookup failed")
	}
	if ByFormatID(SHA256FormatID).Name() != "sha256" {
		t.Error("sha256 format id lookup failed")
	}
	if ByFormatID(0xdeadbeef).Valid() {
		t.Error("unknown format id lookup didn't return sentinel")
	}
}

func TestByRawLength(t *testing.T) {
	if ByRawLength(20).Name() != "sha1" {
		t.Error("raw length 20 lookup failed")
	}
	if ByRawLength(32).Name() != "sha256" {
		t.Error("raw length 32 lookup failed")
	}
	if ByRawLength(16).Valid() {
		t.Error("unknown raw length lookup didn't return sentinel")
	}
}

func TestSentinelNeverCallGuard(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("sentinel factory didn't panic")
		}
	}()
	ByName("nonexistent").New()
}

func TestCanonicalDigests(t *testing.T) {
	// The empty-object digests must match the digests of the corresponding
	// canonical encodings, computed fresh.
	cases := []struct {
		algorithm string
		encoding  string
		expected  func(a *Algorithm) []byte
	}{
		{"sha1", "blob 0\x00", (*Algorithm).EmptyBlobDigest},
		{"sha1", "tree 0\x00", (*Algorithm).EmptyTreeDigest},
		{"sha256", "blob 0\x00", (*Algorithm).EmptyBlobDigest},
		{"sha256", "tree 0\x00", (*Algorithm).EmptyTreeDigest},
	}
	for _, testCase := range cases {
		algorithm := ByName(testCase.algorithm)
		digester := algorithm.New()
		digester.Write([]byte(testCase.encoding))
		computed := digester.Sum(nil)
		if hex.EncodeToString(computed) != hex.EncodeToString(testCase.expected(algorithm)) {
			t.Errorf(
				"%s digest of %q doesn't match registry constant",
				testCase.algorithm, testCase.encoding,
			)
		}
	}
}

func TestZeroDigest(t *testing.T) {
	for _, zero := range ByName("sha1").ZeroDigest() {
		if zero != 0 {
			t.Fatal("zero digest contains non-zero byte")
		}
	}
}
