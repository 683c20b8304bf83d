package odb

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grivet-io/grivet/pkg/hashing"
	"github.com/grivet-io/grivet/pkg/objects"
	"github.com/grivet-io/grivet/pkg/objects/loose"
)

// newTestDB creates a database over a fresh object directory.
func newTestDB(t *testing.T) (*DB, string) {
	directory := t.TempDir()
	db, err := New(directory, Options{})
	require.NoError(t, err)
	return db, directory
}

func TestWriteReadRoundTrip(t *testing.T) {
	db, _ := newTestDB(t)
	payload := []byte("facade round trip")

	id, err := db.WriteLoose(objects.TypeBlob, payload)
	require.NoError(t, err)

	objectType, read, err := db.ReadObject(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, objects.TypeBlob, objectType)
	assert.Equal(t, payload, read)

	info, err := db.ObjectInfo(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, objects.TypeBlob, info.Type)
	assert.Equal(t, int64(len(payload)), info.Size)

	assert.True(t, db.HasObject(context.Background(), id))
}

func TestReadMissing(t *testing.T) {
	db, _ := newTestDB(t)
	missing := objects.ComputeID(db.Algorithm(), objects.TypeBlob, []byte("never written"))
	_, _, err := db.ReadObject(context.Background(), missing, 0)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.False(t, db.HasObject(context.Background(), missing))
}

func TestPretendCache(t *testing.T) {
	db, directory := newTestDB(t)
	payload := []byte("pretend object")

	id := db.WritePretend(objects.TypeBlob, payload)

	// The object must read back without any file existing.
	objectType, read, err := db.ReadObject(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, objects.TypeBlob, objectType)
	assert.Equal(t, payload, read)
	_, err = os.Stat(loose.Path(directory, id))
	assert.True(t, os.IsNotExist(err))
}

func TestReplaceMap(t *testing.T) {
	db, _ := newTestDB(t)
	original, err := db.WriteLoose(objects.TypeBlob, []byte("original"))
	require.NoError(t, err)
	replacement, err := db.WriteLoose(objects.TypeBlob, []byte("replacement"))
	require.NoError(t, err)
	db.SetReplacement(original, replacement)

	// Without the flag, the substitution must not apply.
	_, read, err := db.ReadObject(context.Background(), original, 0)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), read)

	// With it, it must.
	_, read, err = db.ReadObject(context.Background(), original, LookupReplace)
	require.NoError(t, err)
	assert.Equal(t, []byte("replacement"), read)
}

// writeAlternatesFile writes an info/alternates file in a directory.
func writeAlternatesFile(t *testing.T, directory string, lines ...string) {
	require.NoError(t, os.MkdirAll(filepath.Join(directory, "info"), 0755))
	contents := ""
	for _, line := range lines {
		contents += line + "\n"
	}
	require.NoError(t, os.WriteFile(filepath.Join(directory, "info", "alternates"), []byte(contents), 0644))
}

func TestAlternateLookup(t *testing.T) {
	// Create an alternate holding an object.
	alternate := t.TempDir()
	alternateDB, err := New(alternate, Options{})
	require.NoError(t, err)
	payload := []byte("only present in the alternate")
	id, err := alternateDB.WriteLoose(objects.TypeBlob, payload)
	require.NoError(t, err)

	// Create a primary referencing the alternate (with a comment and a
	// blank line for parser coverage).
	primary := t.TempDir()
	writeAlternatesFile(t, primary, "# a comment", "", alternate)
	db, err := New(primary, Options{})
	require.NoError(t, err)

	// The object must be reachable through the chain.
	_, read, err := db.ReadObject(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, read)
}

func TestAlternateNonexistentFailsSoft(t *testing.T) {
	primary := t.TempDir()
	writeAlternatesFile(t, primary, filepath.Join(primary, "does-not-exist"))
	db, err := New(primary, Options{})
	require.NoError(t, err)

	// The primary must still serve objects.
	id, err := db.WriteLoose(objects.TypeBlob, []byte("served from primary"))
	require.NoError(t, err)
	_, _, err = db.ReadObject(context.Background(), id, 0)
	assert.NoError(t, err)

	// Only the primary may appear in the chain.
	assert.Len(t, db.chain(), 1)
}

func TestAlternateCycleTerminates(t *testing.T) {
	// A self-referencing alternates file must add nothing.
	primary := t.TempDir()
	writeAlternatesFile(t, primary, primary)
	db, err := New(primary, Options{})
	require.NoError(t, err)
	assert.Len(t, db.chain(), 1)
}

func TestAlternateDuplicateIdempotent(t *testing.T) {
	alternate := t.TempDir()
	primary := t.TempDir()
	writeAlternatesFile(t, primary, alternate, alternate, alternate+string(os.PathSeparator))
	db, err := New(primary, Options{})
	require.NoError(t, err)

	// The alternate must appear exactly once despite three spellings.
	assert.Len(t, db.chain(), 2)
}

func TestAlternateRecursion(t *testing.T) {
	// Build a chain: primary -> middle -> leaf, with the object in leaf.
	leaf := t.TempDir()
	leafDB, err := New(leaf, Options{})
	require.NoError(t, err)
	id, err := leafDB.WriteLoose(objects.TypeBlob, []byte("deep object"))
	require.NoError(t, err)

	middle := t.TempDir()
	writeAlternatesFile(t, middle, leaf)
	primary := t.TempDir()
	writeAlternatesFile(t, primary, middle)

	db, err := New(primary, Options{})
	require.NoError(t, err)
	_, _, err = db.ReadObject(context.Background(), id, 0)
	assert.NoError(t, err)
	assert.Len(t, db.chain(), 3)
}

func TestFetchMissingRetry(t *testing.T) {
	directory := t.TempDir()
	payload := []byte("materialized by fetch")

	// The fetch hook writes the object on demand.
	var fetches int
	db, err := New(directory, Options{
		FetchMissing: func(_ context.Context, id objects.ID) error {
			fetches++
			_, err := loose.Write(directory, hashing.ByID(hashing.AlgorithmSHA1), objects.TypeBlob, payload, loose.WriteOptions{})
			return err
		},
	})
	require.NoError(t, err)

	id := objects.ComputeID(db.Algorithm(), objects.TypeBlob, payload)
	_, read, err := db.ReadObject(context.Background(), id, 0)
	require.NoError(t, err)
	assert.Equal(t, payload, read)
	assert.Equal(t, 1, fetches)

	// With fetching suppressed, a missing object stays missing.
	missing := objects.ComputeID(db.Algorithm(), objects.TypeBlob, []byte("still missing"))
	_, _, err = db.ReadObject(context.Background(), missing, LookupSkipFetch)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.Equal(t, 1, fetches)
}

func TestObjectStream(t *testing.T) {
	db, _ := newTestDB(t)
	payload := bytes.Repeat([]byte("streaming payload "), 1024)
	id, err := db.WriteLoose(objects.TypeBlob, payload)
	require.NoError(t, err)

	stream, err := db.NewObjectStream(context.Background(), id, 0)
	require.NoError(t, err)
	defer stream.Close()
	assert.Equal(t, objects.TypeBlob, stream.Type())
	assert.Equal(t, int64(len(payload)), stream.Size())

	var destination bytes.Buffer
	written, err := db.StreamBlobToWriter(context.Background(), &destination, id, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), written)
	assert.Equal(t, payload, destination.Bytes())
}

func TestStreamCorruptFailsBeforeEOF(t *testing.T) {
	db, directory := newTestDB(t)
	payload := bytes.Repeat([]byte("to be corrupted "), 256)
	id, err := db.WriteLoose(objects.TypeBlob, payload)
	require.NoError(t, err)

	// Rewrite the object file with one payload byte flipped.
	altered := append([]byte(nil), payload...)
	altered[100] ^= 1
	path := loose.Path(directory, id)
	require.NoError(t, os.Chmod(path, 0644))
	require.NoError(t, os.Remove(path))
	rewritten, err := loose.Write(directory, db.Algorithm(), objects.TypeBlob, altered, loose.WriteOptions{})
	require.NoError(t, err)
	require.NoError(t, os.Rename(loose.Path(directory, rewritten), path))

	// Streaming to a writer must fail.
	var destination bytes.Buffer
	_, err = db.StreamBlobToWriter(context.Background(), &destination, id, 0)
	assert.Error(t, err)
}
