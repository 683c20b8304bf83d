// Package pack provides read-only access to packfiles: concatenated,
// delta-compressed archives of objects with companion indices. Only the
// access needed to answer object-info and read queries is implemented;
// packfile creation is out of scope.
package pack

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/grivet-io/grivet/pkg/hashing"
	"github.com/grivet-io/grivet/pkg/objects"
)

// Entry type codes within a packfile.
const (
	entryCommit   = 1
	entryTree     = 2
	entryBlob     = 3
	entryTag      = 4
	entryOFSDelta = 6
	entryREFDelta = 7
)

// packMagic is the magic number opening a packfile.
var packMagic = []byte("PACK")

// ErrBadEntry indicates a damaged pack entry. Entries that fail with it are
// recorded in the pack's bad-object set so that facade-level lookups can fall
// back to loose storage.
var ErrBadEntry = errors.New("bad pack entry")

// Resolver resolves REF-delta bases that live outside the pack being read
// (in another pack or in loose storage).
type Resolver interface {
	// ReadBase reads the specified object's type and payload.
	ReadBase(id objects.ID) (objects.Type, []byte, error)
}

// Pack provides read-only access to a single packfile and its index. It is
// safe for concurrent usage.
type Pack struct {
	// packPath is the path of the packfile.
	packPath string
	// algorithm is the digest algorithm of the pack's identifiers.
	algorithm *hashing.Algorithm
	// index is the companion index.
	index *Index
	// file is the open packfile.
	file *os.File
	// size is the packfile's total size.
	size int64
	// cache is the shared delta-base cache.
	cache *BaseCache
	// lock guards the fields below.
	lock sync.Mutex
	// bad is the set of identifiers whose entries have been found damaged.
	bad map[objects.ID]bool
	// reverse maps entry offsets back to index positions. It is built lazily
	// on the first OFS-delta base identification.
	reverse map[int64]int
}

// Open opens a packfile and its companion index. The index path is derived
// by replacing the packfile's ".pack" suffix with ".idx".
func Open(packPath string, algorithm *hashing.Algorithm, cache *BaseCache) (*Pack, error) {
	// Open and validate the index.
	indexPath := strings.TrimSuffix(packPath, ".pack") + ".idx"
	index, err := OpenIndex(indexPath, algorithm)
	if err != nil {
		return nil, fmt.Errorf("unable to open pack index: %w", err)
	}

	// Open the packfile and validate its header.
	file, err := os.Open(packPath)
	if err != nil {
		return nil, err
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("unable to stat packfile: %w", err)
	}
	var header [12]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		file.Close()
		return nil, fmt.Errorf("unable to read packfile header: %w", err)
	}
	if !bytes.Equal(header[:4], packMagic) {
		file.Close()
		return nil, errors.New("not a packfile")
	}
	if version := binary.BigEndian.Uint32(header[4:8]); version != 2 {
		file.Close()
		return nil, errors.Errorf("unsupported packfile version %d", version)
	}
	if count := binary.BigEndian.Uint32(header[8:12]); int(count) != index.Count() {
		file.Close()
		return nil, errors.New("packfile and index disagree on object count")
	}

	// Ensure that a cache exists.
	if cache == nil {
		cache = NewBaseCache(0)
	}

	// Success.
	return &Pack{
		packPath:  packPath,
		algorithm: algorithm,
		index:     index,
		file:      file,
		size:      info.Size(),
		cache:     cache,
		bad:       make(map[objects.ID]bool),
	}, nil
}

// Path returns the path of the packfile.
func (p *Pack) Path() string {
	return p.packPath
}

// Close closes the packfile.
func (p *Pack) Close() error {
	return p.file.Close()
}

// Has indicates whether or not the pack contains the specified identifier.
func (p *Pack) Has(id objects.ID) bool {
	return p.index.Has(id)
}

// markBad records an identifier as damaged.
func (p *Pack) markBad(id objects.ID) {
	p.lock.Lock()
	p.bad[id] = true
	p.lock.Unlock()
}

// IsBad indicates whether or not the specified identifier's entry has
// previously been found damaged.
func (p *Pack) IsBad(id objects.ID) bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	return p.bad[id]
}

// entryHeader describes a decoded pack entry header.
type entryHeader struct {
	// entryType is the raw entry type code.
	entryType int
	// size is the inflated size of the entry's payload (for delta entries,
	// the size of the delta itself).
	size int64
	// dataOffset is the packfile offset of the entry's deflate stream.
	dataOffset int64
	// baseOffset is the base entry offset for OFS-delta entries.
	baseOffset int64
	// baseID is the base identifier for REF-delta entries.
	baseID objects.ID
}

// readEntryHeader decodes the entry header at the specified offset.
func (p *Pack) readEntryHeader(offset int64) (entryHeader, error) {
	// Read a bounded window: the type/size varint and any delta preamble fit
	// comfortably within it.
	window := make([]byte, 64)
	n, err := p.file.ReadAt(window, offset)
	if err != nil && err != io.EOF {
		return entryHeader{}, fmt.Errorf("unable to read pack entry: %w", err)
	}
	window = window[:n]
	if len(window) == 0 {
		return entryHeader{}, errors.New("pack entry offset out of range")
	}

	// Decode the type and size.
	header := entryHeader{entryType: int(window[0]>>4) & 7, size: int64(window[0] & 15)}
	shift := uint(4)
	position := 1
	for window[position-1]&0x80 != 0 {
		if position >= len(window) {
			return entryHeader{}, errors.New("truncated pack entry header")
		}
		header.size |= int64(window[position]&0x7f) << shift
		shift += 7
		position++
	}

	// Decode any delta base reference.
	switch header.entryType {
	case entryOFSDelta:
		// The base offset is encoded as a big-endian base-128 varint with
		// an offset-by-one accumulation per continuation byte.
		if position >= len(window) {
			return entryHeader{}, errors.New("truncated OFS-delta header")
		}
		relative := int64(window[position] & 0x7f)
		for window[position]&0x80 != 0 {
			position++
			if position >= len(window) {
				return entryHeader{}, errors.New("truncated OFS-delta header")
			}
			relative = ((relative + 1) << 7) | int64(window[position]&0x7f)
		}
		position++
		header.baseOffset = offset - relative
		if header.baseOffset <= 0 {
			return entryHeader{}, errors.New("OFS-delta base offset out of range")
		}
	case entryREFDelta:
		rawSize := p.algorithm.RawSize()
		if position+rawSize > len(window) {
			return entryHeader{}, errors.New("truncated REF-delta header")
		}
		baseID, err := objects.NewID(p.algorithm, window[position:position+rawSize])
		if err != nil {
			return entryHeader{}, err
		}
		header.baseID = baseID
		position += rawSize
	}

	// Record where the deflate stream starts.
	header.dataOffset = offset + int64(position)
	return header, nil
}

// inflateEntry inflates an entry's payload given its decoded header.
func (p *Pack) inflateEntry(header entryHeader) ([]byte, error) {
	section := io.NewSectionReader(p.file, header.dataOffset, p.size-header.dataOffset)
	inflater, err := zlib.NewReader(section)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEntry, err)
	}
	defer inflater.Close()
	payload := make([]byte, header.size)
	if _, err := io.ReadFull(inflater, payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadEntry, err)
	}
	return payload, nil
}

// typeFromCode converts a non-delta entry type code to an object type.
func typeFromCode(code int) (objects.Type, bool) {
	switch code {
	case entryCommit:
		return objects.TypeCommit, true
	case entryTree:
		return objects.TypeTree, true
	case entryBlob:
		return objects.TypeBlob, true
	case entryTag:
		return objects.TypeTag, true
	default:
		return objects.TypeInvalid, false
	}
}

// resolveAt fully reconstructs the entry at the specified offset, following
// delta chains. The resolver handles REF-delta bases that live outside this
// pack.
func (p *Pack) resolveAt(offset int64, resolver Resolver) (objects.Type, []byte, error) {
	// Serve from the delta-base cache when possible.
	if cached, ok := p.cache.get(p.packPath, offset); ok {
		return cached.objectType, cached.data, nil
	}

	// Decode the entry.
	header, err := p.readEntryHeader(offset)
	if err != nil {
		return objects.TypeInvalid, nil, err
	}
	payload, err := p.inflateEntry(header)
	if err != nil {
		return objects.TypeInvalid, nil, err
	}

	// Non-delta entries are complete as-is.
	if objectType, ok := typeFromCode(header.entryType); ok {
		p.cache.put(p.packPath, offset, &cachedBase{objectType: objectType, data: payload})
		return objectType, payload, nil
	}

	// Reconstruct the base.
	var baseType objects.Type
	var base []byte
	switch header.entryType {
	case entryOFSDelta:
		baseType, base, err = p.resolveAt(header.baseOffset, resolver)
	case entryREFDelta:
		if baseOffset, ok := p.index.Offset(header.baseID); ok {
			baseType, base, err = p.resolveAt(baseOffset, resolver)
		} else if resolver != nil {
			baseType, base, err = resolver.ReadBase(header.baseID)
		} else {
			err = errors.Errorf("REF-delta base %s not present in pack", header.baseID)
		}
	default:
		err = fmt.Errorf("%w: unknown pack entry type %d", ErrBadEntry, header.entryType)
	}
	if err != nil {
		return objects.TypeInvalid, nil, err
	}

	// Apply the delta and cache the result.
	result, err := applyDelta(base, payload)
	if err != nil {
		return objects.TypeInvalid, nil, fmt.Errorf("%w: %v", ErrBadEntry, err)
	}
	p.cache.put(p.packPath, offset, &cachedBase{objectType: baseType, data: result})
	return baseType, result, nil
}

// Read reads and reconstructs the specified object from the pack. Damaged
// entries are recorded in the bad-object set and reported with ErrBadEntry
// so that the caller can fall back to loose storage.
func (p *Pack) Read(id objects.ID, resolver Resolver) (objects.Type, []byte, error) {
	offset, ok := p.index.Offset(id)
	if !ok {
		return objects.TypeInvalid, nil, errors.Errorf("object %s not present in pack", id)
	}
	objectType, payload, err := p.resolveAt(offset, resolver)
	if err != nil {
		if errors.Is(err, ErrBadEntry) {
			p.markBad(id)
		}
		return objects.TypeInvalid, nil, err
	}
	return objectType, payload, nil
}

// idAtOffset performs a reverse offset-to-identifier lookup, building the
// reverse table on first use.
func (p *Pack) idAtOffset(offset int64) (objects.ID, bool) {
	p.lock.Lock()
	if p.reverse == nil {
		p.reverse = make(map[int64]int, p.index.Count())
		for position := 0; position < p.index.Count(); position++ {
			if id, err := p.index.EntryID(position); err == nil {
				if entryOffset, ok := p.index.Offset(id); ok {
					p.reverse[entryOffset] = position
				}
			}
		}
	}
	position, ok := p.reverse[offset]
	p.lock.Unlock()
	if !ok {
		return objects.ID{}, false
	}
	id, err := p.index.EntryID(position)
	if err != nil {
		return objects.ID{}, false
	}
	return id, true
}

// Info reports the specified object's resolved type, size, and (for delta
// entries) delta base without fully reconstructing non-trivial payloads
// where avoidable: the result size of a delta is parsed from its preamble
// and only the chain's types require walking.
func (p *Pack) Info(id objects.ID, resolver Resolver) (objects.Info, error) {
	offset, ok := p.index.Offset(id)
	if !ok {
		return objects.Info{}, errors.Errorf("object %s not present in pack", id)
	}

	header, err := p.readEntryHeader(offset)
	if err != nil {
		return objects.Info{}, err
	}

	// Non-delta entries carry their size directly.
	if objectType, ok := typeFromCode(header.entryType); ok {
		return objects.Info{Type: objectType, Size: header.size}, nil
	}

	// Delta entries: parse the result size from the delta preamble and walk
	// the chain for the resolved type.
	payload, err := p.inflateEntry(header)
	if err != nil {
		p.markBad(id)
		return objects.Info{}, err
	}
	_, resultSize, _, err := parseDeltaSizes(payload)
	if err != nil {
		p.markBad(id)
		return objects.Info{}, fmt.Errorf("%w: %v", ErrBadEntry, err)
	}

	info := objects.Info{Size: resultSize}
	switch header.entryType {
	case entryOFSDelta:
		if baseID, ok := p.idAtOffset(header.baseOffset); ok {
			info.DeltaBase = baseID
		}
		baseType, _, err := p.resolveAt(header.baseOffset, resolver)
		if err != nil {
			return objects.Info{}, err
		}
		info.Type = baseType
	case entryREFDelta:
		info.DeltaBase = header.baseID
		if baseOffset, ok := p.index.Offset(header.baseID); ok {
			baseType, _, err := p.resolveAt(baseOffset, resolver)
			if err != nil {
				return objects.Info{}, err
			}
			info.Type = baseType
		} else if resolver != nil {
			baseType, _, err := resolver.ReadBase(header.baseID)
			if err != nil {
				return objects.Info{}, err
			}
			info.Type = baseType
		} else {
			return objects.Info{}, errors.Errorf("REF-delta base %s not present in pack", header.baseID)
		}
	}
	return info, nil
}
