package pack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grivet-io/grivet/pkg/hashing"
	"github.com/grivet-io/grivet/pkg/objects"
)

// sha1Algorithm is the algorithm used by these tests.
var sha1Algorithm = hashing.ByName("sha1")

// packEntry describes one entry for the test pack builder.
type packEntry struct {
	// id is the entry's object identifier.
	id objects.ID
	// entryType is the raw entry type code.
	entryType int
	// payload is the entry's uncompressed payload (object bytes, or delta
	// bytes for delta entries).
	payload []byte
	// baseID is the base identifier for REF-delta entries.
	baseID objects.ID
	// baseIndex is the position of the base entry for OFS-delta entries; the
	// base offset is computed from it during building.
	baseIndex int
}

// encodeEntrySize encodes a pack entry's type/size header.
func encodeEntrySize(entryType int, size int64) []byte {
	first := byte(entryType<<4) | byte(size&15)
	size >>= 4
	encoded := []byte{first}
	for size > 0 {
		encoded[len(encoded)-1] |= 0x80
		encoded = append(encoded, byte(size&0x7f))
		size >>= 7
	}
	return encoded
}

// encodeOFSDistance encodes an OFS-delta relative offset.
func encodeOFSDistance(distance int64) []byte {
	encoded := []byte{byte(distance & 0x7f)}
	distance >>= 7
	for distance > 0 {
		distance--
		encoded = append([]byte{byte(distance&0x7f) | 0x80}, encoded...)
		distance >>= 7
	}
	return encoded
}

// deflate compresses a payload.
func deflate(t *testing.T, payload []byte) []byte {
	var buffer bytes.Buffer
	deflater := zlib.NewWriter(&buffer)
	_, err := deflater.Write(payload)
	require.NoError(t, err)
	require.NoError(t, deflater.Close())
	return buffer.Bytes()
}

// buildPack writes a packfile and index for the specified entries and
// returns the packfile path.
func buildPack(t *testing.T, directory string, entries []*packEntry) string {
	// Build the packfile, recording entry offsets.
	var packBuffer bytes.Buffer
	header := make([]byte, 12)
	copy(header, "PACK")
	binary.BigEndian.PutUint32(header[4:], 2)
	binary.BigEndian.PutUint32(header[8:], uint32(len(entries)))
	packBuffer.Write(header)

	offsets := make([]int64, len(entries))
	for i, entry := range entries {
		offsets[i] = int64(packBuffer.Len())
		packBuffer.Write(encodeEntrySize(entry.entryType, int64(len(entry.payload))))
		if entry.entryType == entryOFSDelta {
			packBuffer.Write(encodeOFSDistance(offsets[i] - offsets[entry.baseIndex]))
		} else if entry.entryType == entryREFDelta {
			packBuffer.Write(entry.baseID.Digest())
		}
		packBuffer.Write(deflate(t, entry.payload))
	}

	// Append the trailer checksum.
	trailerDigester := sha1Algorithm.New()
	trailerDigester.Write(packBuffer.Bytes())
	packChecksum := trailerDigester.Sum(nil)
	packBuffer.Write(packChecksum)

	// Build the version-2 index: sorted names, CRC placeholders, offsets.
	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return bytes.Compare(entries[order[a]].id.Digest(), entries[order[b]].id.Digest()) < 0
	})

	var indexBuffer bytes.Buffer
	indexBuffer.Write(indexMagic)
	versioned := make([]byte, 4)
	binary.BigEndian.PutUint32(versioned, indexVersion)
	indexBuffer.Write(versioned)
	var fanout [256]uint32
	for _, position := range order {
		first := entries[position].id.Digest()[0]
		for bucket := int(first); bucket < 256; bucket++ {
			fanout[bucket]++
		}
	}
	for _, count := range fanout {
		entry := make([]byte, 4)
		binary.BigEndian.PutUint32(entry, count)
		indexBuffer.Write(entry)
	}
	for _, position := range order {
		indexBuffer.Write(entries[position].id.Digest())
	}
	for range order {
		indexBuffer.Write(make([]byte, 4))
	}
	for _, position := range order {
		entry := make([]byte, 4)
		binary.BigEndian.PutUint32(entry, uint32(offsets[position]))
		indexBuffer.Write(entry)
	}
	indexBuffer.Write(packChecksum)
	indexDigester := sha1Algorithm.New()
	indexDigester.Write(indexBuffer.Bytes())
	indexBuffer.Write(indexDigester.Sum(nil))

	// Write both files.
	packPath := filepath.Join(directory, "test.pack")
	require.NoError(t, os.WriteFile(packPath, packBuffer.Bytes(), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(directory, "test.idx"), indexBuffer.Bytes(), 0644))
	return packPath
}

// buildDelta constructs a delta payload that rewrites base into result using
// one copy of the shared prefix and one insert of the remainder.
func buildDelta(base, result []byte, copyLength int) []byte {
	var delta []byte
	appendSizeVarint := func(value int64) {
		for {
			b := byte(value & 0x7f)
			value >>= 7
			if value != 0 {
				delta = append(delta, b|0x80)
			} else {
				delta = append(delta, b)
				break
			}
		}
	}
	appendSizeVarint(int64(len(base)))
	appendSizeVarint(int64(len(result)))

	// Copy instruction: offset 0, explicit one-byte length.
	delta = append(delta, 0x80|0x10, byte(copyLength))

	// Insert instruction for the remainder.
	remainder := result[copyLength:]
	delta = append(delta, byte(len(remainder)))
	delta = append(delta, remainder...)
	return delta
}

func TestPackReadNonDelta(t *testing.T) {
	directory := t.TempDir()
	payload := []byte("a packed blob payload")
	id := objects.ComputeID(sha1Algorithm, objects.TypeBlob, payload)
	packPath := buildPack(t, directory, []*packEntry{
		{id: id, entryType: entryBlob, payload: payload},
	})

	p, err := Open(packPath, sha1Algorithm, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.True(t, p.Has(id))
	objectType, read, err := p.Read(id, nil)
	require.NoError(t, err)
	assert.Equal(t, objects.TypeBlob, objectType)
	assert.Equal(t, payload, read)

	info, err := p.Info(id, nil)
	require.NoError(t, err)
	assert.Equal(t, objects.TypeBlob, info.Type)
	assert.Equal(t, int64(len(payload)), info.Size)
	assert.True(t, info.DeltaBase.IsZero())
}

func TestPackReadOFSDelta(t *testing.T) {
	directory := t.TempDir()
	base := []byte("base content that the delta will extend")
	result := append(append([]byte(nil), base[:16]...), []byte("***rewritten tail")...)
	baseID := objects.ComputeID(sha1Algorithm, objects.TypeBlob, base)
	resultID := objects.ComputeID(sha1Algorithm, objects.TypeBlob, result)
	packPath := buildPack(t, directory, []*packEntry{
		{id: baseID, entryType: entryBlob, payload: base},
		{id: resultID, entryType: entryOFSDelta, payload: buildDelta(base, result, 16), baseIndex: 0},
	})

	p, err := Open(packPath, sha1Algorithm, nil)
	require.NoError(t, err)
	defer p.Close()

	objectType, read, err := p.Read(resultID, nil)
	require.NoError(t, err)
	assert.Equal(t, objects.TypeBlob, objectType)
	assert.Equal(t, result, read)

	info, err := p.Info(resultID, nil)
	require.NoError(t, err)
	assert.Equal(t, objects.TypeBlob, info.Type)
	assert.Equal(t, int64(len(result)), info.Size)
	assert.Equal(t, baseID, info.DeltaBase)
}

// testResolver resolves REF-delta bases from a map.
type testResolver map[objects.ID][]byte

// ReadBase implements Resolver.ReadBase.
func (r testResolver) ReadBase(id objects.ID) (objects.Type, []byte, error) {
	if payload, ok := r[id]; ok {
		return objects.TypeBlob, payload, nil
	}
	return objects.TypeInvalid, nil, ErrBadEntry
}

func TestPackReadREFDelta(t *testing.T) {
	directory := t.TempDir()
	base := []byte("an external base held loose")
	result := append(append([]byte(nil), base[:8]...), []byte("!delta suffix")...)
	baseID := objects.ComputeID(sha1Algorithm, objects.TypeBlob, base)
	resultID := objects.ComputeID(sha1Algorithm, objects.TypeBlob, result)
	packPath := buildPack(t, directory, []*packEntry{
		{id: resultID, entryType: entryREFDelta, payload: buildDelta(base, result, 8), baseID: baseID},
	})

	p, err := Open(packPath, sha1Algorithm, nil)
	require.NoError(t, err)
	defer p.Close()

	// Without a resolver, the external base is unreachable.
	_, _, err = p.Read(resultID, nil)
	assert.Error(t, err)

	// With one, the delta resolves.
	objectType, read, err := p.Read(resultID, testResolver{baseID: base})
	require.NoError(t, err)
	assert.Equal(t, objects.TypeBlob, objectType)
	assert.Equal(t, result, read)

	info, err := p.Info(resultID, testResolver{baseID: base})
	require.NoError(t, err)
	assert.Equal(t, baseID, info.DeltaBase)
	assert.Equal(t, int64(len(result)), info.Size)
}

func TestPackBadEntry(t *testing.T) {
	directory := t.TempDir()
	payload := []byte("will be damaged")
	id := objects.ComputeID(sha1Algorithm, objects.TypeBlob, payload)
	packPath := buildPack(t, directory, []*packEntry{
		{id: id, entryType: entryBlob, payload: payload},
	})

	// Damage the entry's deflate stream.
	packBytes, err := os.ReadFile(packPath)
	require.NoError(t, err)
	packBytes[14] ^= 0xff
	require.NoError(t, os.WriteFile(packPath, packBytes, 0644))

	p, err := Open(packPath, sha1Algorithm, nil)
	require.NoError(t, err)
	defer p.Close()

	// The read must fail and record the entry as bad.
	_, _, err = p.Read(id, nil)
	assert.Error(t, err)
	assert.True(t, p.IsBad(id))
}

func TestApplyDeltaValidation(t *testing.T) {
	base := []byte("0123456789")

	// A copy beyond the base bounds must fail.
	var delta []byte
	delta = append(delta, 10, 12)
	delta = append(delta, 0x80|0x10, 20)
	_, err := applyDelta(base, delta)
	assert.Error(t, err)

	// A result size mismatch must fail.
	delta = nil
	delta = append(delta, 10, 2)
	delta = append(delta, 1, 'x')
	_, err = applyDelta(base, delta)
	assert.Error(t, err)
}

func TestParseSizeVarint(t *testing.T) {
	value, consumed, err := parseSizeVarint([]byte{0x83, 0x02})
	require.NoError(t, err)
	assert.Equal(t, int64(0x103), value)
	assert.Equal(t, 2, consumed)

	_, _, err = parseSizeVarint([]byte{0x80})
	assert.Error(t, err)
}
