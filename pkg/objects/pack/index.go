package pack

import (
	"bytes"
	"encoding/binary"
	"os"

	"github.com/pkg/errors"

	"github.com/grivet-io/grivet/pkg/hashing"
	"github.com/grivet-io/grivet/pkg/objects"
)

// indexMagic is the magic number opening a version-2 pack index.
var indexMagic = []byte{0xff, 0x74, 0x4f, 0x63}

const (
	// indexVersion is the only supported pack index version.
	indexVersion = 2
	// largeOffsetFlag marks a 32-bit offset entry as an index into the
	// 64-bit offset spillover table.
	largeOffsetFlag = 0x80000000
)

// Index provides identifier-to-offset mapping for a packfile. It holds the
// index file's tables in memory; entries are immutable once the index is
// opened.
type Index struct {
	// algorithm is the digest algorithm of the identifiers in the index.
	algorithm *hashing.Algorithm
	// fanout is the 256-entry cumulative count table keyed by the first
	// digest byte.
	fanout [256]uint32
	// names holds the sorted raw digests, concatenated.
	names []byte
	// offsets holds the 32-bit offset table.
	offsets []byte
	// largeOffsets holds the 64-bit offset spillover table.
	largeOffsets []byte
	// packChecksum is the trailer checksum of the companion packfile.
	packChecksum []byte
}

// OpenIndex opens and parses a version-2 pack index file.
func OpenIndex(path string, algorithm *hashing.Algorithm) (*Index, error) {
	// Load the index.
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Validate the header.
	if len(data) < 8+256*4 || !bytes.Equal(data[:4], indexMagic) {
		return nil, errors.New("not a version-2 pack index")
	}
	if version := binary.BigEndian.Uint32(data[4:8]); version != indexVersion {
		return nil, errors.Errorf("unsupported pack index version %d", version)
	}

	// Parse the fan-out table and validate its monotonicity.
	index := &Index{algorithm: algorithm}
	for i := 0; i < 256; i++ {
		index.fanout[i] = binary.BigEndian.Uint32(data[8+4*i:])
		if i > 0 && index.fanout[i] < index.fanout[i-1] {
			return nil, errors.New("pack index fan-out table is not monotonic")
		}
	}
	count := int(index.fanout[255])

	// Slice out the name, CRC, and offset tables. The CRC table is retained
	// only implicitly (it's skipped over); this reader doesn't validate
	// per-entry CRCs.
	rawSize := algorithm.RawSize()
	namesStart := 8 + 256*4
	crcStart := namesStart + count*rawSize
	offsetsStart := crcStart + count*4
	largeStart := offsetsStart + count*4
	trailerSize := 2 * rawSize
	if len(data) < largeStart+trailerSize {
		return nil, errors.New("truncated pack index")
	}
	index.names = data[namesStart:crcStart]
	index.offsets = data[offsetsStart:largeStart]
	index.largeOffsets = data[largeStart : len(data)-trailerSize]
	index.packChecksum = data[len(data)-trailerSize : len(data)-rawSize]

	// Success.
	return index, nil
}

// Count returns the number of objects in the index.
func (i *Index) Count() int {
	return int(i.fanout[255])
}

// find locates the position of an identifier within the sorted name table
// using the fan-out table to bound a binary search. It returns -1 on miss.
func (i *Index) find(id objects.ID) int {
	digest := id.Digest()
	rawSize := i.algorithm.RawSize()

	// Bound the search using the fan-out table.
	var low uint32
	if digest[0] > 0 {
		low = i.fanout[digest[0]-1]
	}
	high := i.fanout[digest[0]]

	// Binary search within the bounded range.
	for low < high {
		mid := (low + high) / 2
		name := i.names[int(mid)*rawSize : int(mid+1)*rawSize]
		switch bytes.Compare(digest, name) {
		case 0:
			return int(mid)
		case -1:
			high = mid
		default:
			low = mid + 1
		}
	}
	return -1
}

// Offset returns the packfile byte offset of the specified identifier. The
// second return value indicates whether or not the identifier is present.
func (i *Index) Offset(id objects.ID) (int64, bool) {
	position := i.find(id)
	if position < 0 {
		return 0, false
	}
	offset := binary.BigEndian.Uint32(i.offsets[position*4:])
	if offset&largeOffsetFlag != 0 {
		large := int(offset &^ largeOffsetFlag)
		if (large+1)*8 > len(i.largeOffsets) {
			return 0, false
		}
		return int64(binary.BigEndian.Uint64(i.largeOffsets[large*8:])), true
	}
	return int64(offset), true
}

// Has indicates whether or not the index contains the specified identifier.
func (i *Index) Has(id objects.ID) bool {
	return i.find(id) >= 0
}

// EntryID returns the identifier at the specified position in the sorted
// name table.
func (i *Index) EntryID(position int) (objects.ID, error) {
	rawSize := i.algorithm.RawSize()
	if position < 0 || (position+1)*rawSize > len(i.names) {
		return objects.ID{}, errors.New("pack index position out of range")
	}
	return objects.NewID(i.algorithm, i.names[position*rawSize:(position+1)*rawSize])
}
