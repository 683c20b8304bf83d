package odb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/grivet-io/grivet/pkg/filesystem"
	"github.com/grivet-io/grivet/pkg/hashing"
	"github.com/grivet-io/grivet/pkg/logging"
	"github.com/grivet-io/grivet/pkg/objects"
	"github.com/grivet-io/grivet/pkg/objects/loose"
	"github.com/grivet-io/grivet/pkg/objects/pack"
)

// ErrObjectNotFound indicates that an object is absent from the primary
// directory, every alternate, and the pretend cache (and, if fetching was
// permitted, that a promisor fetch did not produce it).
var ErrObjectNotFound = errors.New("object not found")

// LookupFlags adjust object lookup behavior.
type LookupFlags uint

const (
	// LookupReplace substitutes the requested identifier through the replace
	// map before lookup.
	LookupReplace LookupFlags = 1 << iota
	// LookupQuick suppresses the pack-list refresh retry on miss.
	LookupQuick
	// LookupIgnoreLoose skips loose storage.
	LookupIgnoreLoose
	// LookupSkipFetch suppresses the promisor fetch retry on miss.
	LookupSkipFetch
)

// FetchFunc fetches a missing object from a promisor remote. The remote
// transport itself is an external collaborator; the database only requires
// that a successful return means the object is now present locally.
type FetchFunc func(ctx context.Context, id objects.ID) error

// Options configure a database.
type Options struct {
	// Algorithm is the digest algorithm. If nil, SHA-1 is used.
	Algorithm *hashing.Algorithm
	// Fsync indicates whether or not loose object writes should be
	// synchronized to stable storage.
	Fsync bool
	// DeltaBaseCacheBudget is the byte budget for the shared delta-base
	// cache. A non-positive value selects the default.
	DeltaBaseCacheBudget int64
	// StreamThreshold is the payload size at or above which callers should
	// prefer streaming access over full materialization. A non-positive
	// value selects the default.
	StreamThreshold int64
	// FetchMissing, if non-nil, enables the promisor fetch retry.
	FetchMissing FetchFunc
	// Logger is the logger to use. A nil logger is valid and silent.
	Logger *logging.Logger
}

// DB is the object database facade: an ordered chain of object directories
// (primary first), a pretend cache, a replace map, and an optional promisor
// fetch hook. All methods are safe for concurrent usage.
type DB struct {
	// algorithm is the digest algorithm of the database's identifiers.
	algorithm *hashing.Algorithm
	// fsync indicates whether or not loose writes are synchronized.
	fsync bool
	// streamThreshold is the payload size at or above which streaming access
	// is recommended.
	streamThreshold int64
	// cache is the delta-base cache shared by all packs in the chain.
	cache *pack.BaseCache
	// fetchMissing is the promisor fetch hook.
	fetchMissing FetchFunc
	// logger is the database's logger.
	logger *logging.Logger

	// lock is the global object-read lock. It guards the mutable lookup
	// state below (pretend cache, replace map, pack lists, alternate
	// loading); it is deliberately not held across inflation so that
	// concurrent readers of distinct objects overlap on CPU.
	lock sync.Mutex
	// directories is the ordered chain, primary first. It is append-only
	// after alternate materialization.
	directories []*Directory
	// known is the normalized-path duplicate/cycle guard for the chain.
	known map[string]bool
	// alternatesLoaded indicates whether or not the alternate chain has been
	// materialized.
	alternatesLoaded bool
	// pretend is the pretend cache.
	pretend map[objects.ID]*pretendEntry
	// replace is the replace map applied under LookupReplace.
	replace map[objects.ID]objects.ID
}

// New creates a database rooted at the specified primary object directory.
func New(primary string, options Options) (*DB, error) {
	// Normalize and validate the primary.
	normalized, err := filesystem.Normalize(primary)
	if err != nil {
		return nil, fmt.Errorf("unable to normalize object directory path: %w", err)
	}
	if err := validateObjectDirectory(normalized); err != nil {
		return nil, fmt.Errorf("unusable object directory: %w", err)
	}

	// Default the algorithm.
	algorithm := options.Algorithm
	if algorithm == nil {
		algorithm = hashing.ByID(hashing.AlgorithmSHA1)
	}

	// Default the streaming threshold.
	streamThreshold := options.StreamThreshold
	if streamThreshold <= 0 {
		streamThreshold = DefaultStreamThreshold
	}

	// Create the database.
	return &DB{
		algorithm:       algorithm,
		streamThreshold: streamThreshold,
		fsync:           options.Fsync,
		cache:           pack.NewBaseCache(options.DeltaBaseCacheBudget),
		fetchMissing:    options.FetchMissing,
		logger:          options.Logger,
		directories:     []*Directory{newDirectory(normalized)},
		known:           map[string]bool{normalized: true},
		pretend:         make(map[objects.ID]*pretendEntry),
		replace:         make(map[objects.ID]objects.ID),
	}, nil
}

// Algorithm returns the database's digest algorithm.
func (d *DB) Algorithm() *hashing.Algorithm {
	return d.algorithm
}

// Primary returns the primary object directory.
func (d *DB) Primary() *Directory {
	return d.directories[0]
}

// SetReplacement registers a replace-map substitution applied under
// LookupReplace.
func (d *DB) SetReplacement(original, replacement objects.ID) {
	d.lock.Lock()
	d.replace[original] = replacement
	d.lock.Unlock()
}

// resolveReplace applies the replace map to an identifier if requested. With
// an empty map (or no mapping for the identifier) the substitution is the
// identity.
func (d *DB) resolveReplace(id objects.ID, flags LookupFlags) objects.ID {
	if flags&LookupReplace == 0 {
		return id
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if replacement, ok := d.replace[id]; ok {
		return replacement
	}
	return id
}

// chain returns a snapshot of the directory chain, materializing alternates
// on first use.
func (d *DB) chain() []*Directory {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.ensureAlternatesLocked()
	return append([]*Directory(nil), d.directories...)
}

// packs returns all open packs across the chain, optionally forcing a rescan
// of each directory's pack subdirectory. It acquires the DB lock itself.
func (d *DB) packs(refresh bool) []*pack.Pack {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.ensureAlternatesLocked()
	var result []*pack.Pack
	for _, directory := range d.directories {
		directory.loadPacks(d.algorithm, d.cache, refresh, d.logger)
		result = append(result, directory.packs...)
	}
	return result
}

// looseBitmapAdmits consults a directory's fan-out bitmap under the global
// read lock (the bitmap is lazily populated and thus mutable).
func (d *DB) looseBitmapAdmits(directory *Directory, id objects.ID) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return directory.mayHaveLoose(id)
}

// resolver adapts the database to the pack.Resolver interface for REF-delta
// bases that live outside a given pack. It performs raw reads: no replace
// substitution and no promisor fetches.
type resolver struct {
	db *DB
}

// ReadBase implements pack.Resolver.ReadBase.
func (r resolver) ReadBase(id objects.ID) (objects.Type, []byte, error) {
	return r.db.readRaw(id, 0)
}

// readRaw reads an object from the pretend cache, packs, or loose storage
// without replace substitution or fetching. It implements the retry-on-
// corrupt-pack-entry policy: a bad pack entry is recorded and the loose path
// is consulted before failing.
func (d *DB) readRaw(id objects.ID, flags LookupFlags) (objects.Type, []byte, error) {
	// Consult the pretend cache.
	if entry, ok := d.lookupPretend(id); ok {
		return entry.objectType, entry.payload, nil
	}

	// Try packs.
	var packErr error
	for _, p := range d.packs(false) {
		if !p.Has(id) || p.IsBad(id) {
			continue
		}
		objectType, payload, err := p.Read(id, resolver{d})
		if err == nil {
			return objectType, payload, nil
		}
		packErr = err
		d.logger.Warnf("pack read of %s failed: %v", id, err)
	}

	// Try loose storage across the chain. The fan-out bitmap short-circuits
	// directories that can't hold the object, with a direct probe as a
	// staleness backstop.
	if flags&LookupIgnoreLoose == 0 {
		for _, directory := range d.chain() {
			if !d.looseBitmapAdmits(directory, id) && !directory.hasLoose(id) {
				continue
			}
			objectType, payload, err := loose.Read(directory.looseObjectPath(id), id)
			if err == nil {
				return objectType, payload, nil
			}
			if os.IsNotExist(err) {
				continue
			}
			return objects.TypeInvalid, nil, err
		}
	}

	// Unless suppressed, refresh the pack lists (another process may have
	// repacked) and retry packs once.
	if flags&LookupQuick == 0 {
		for _, p := range d.packs(true) {
			if !p.Has(id) || p.IsBad(id) {
				continue
			}
			objectType, payload, err := p.Read(id, resolver{d})
			if err == nil {
				return objectType, payload, nil
			}
			packErr = err
		}
	}

	// A recorded pack corruption is more informative than a plain miss.
	if packErr != nil {
		return objects.TypeInvalid, nil, packErr
	}
	return objects.TypeInvalid, nil, ErrObjectNotFound
}

// ReadObject reads an object's type and payload, applying the full lookup
// policy: replace substitution, pretend cache, packs, loose storage across
// the alternate chain, pack refresh, and a single promisor fetch retry.
func (d *DB) ReadObject(ctx context.Context, id objects.ID, flags LookupFlags) (objects.Type, []byte, error) {
	id = d.resolveReplace(id, flags)
	objectType, payload, err := d.readRaw(id, flags)
	if err == nil || !errors.Is(err, ErrObjectNotFound) {
		return objectType, payload, err
	}

	// Attempt a single promisor fetch and retry from the top. A second
	// failure is final.
	if d.fetchMissing != nil && flags&LookupSkipFetch == 0 {
		if fetchErr := d.fetchMissing(ctx, id); fetchErr != nil {
			d.logger.Warnf("promisor fetch of %s failed: %v", id, fetchErr)
			return objects.TypeInvalid, nil, err
		}
		return d.readRaw(id, flags)
	}

	return objects.TypeInvalid, nil, err
}

// ObjectInfo reports an object's type, size, and (for packed delta entries)
// delta base without materializing its payload where avoidable.
func (d *DB) ObjectInfo(ctx context.Context, id objects.ID, flags LookupFlags) (objects.Info, error) {
	id = d.resolveReplace(id, flags)

	// Consult the pretend cache.
	if entry, ok := d.lookupPretend(id); ok {
		return objects.Info{Type: entry.objectType, Size: int64(len(entry.payload))}, nil
	}

	// Try packs.
	for _, p := range d.packs(false) {
		if !p.Has(id) || p.IsBad(id) {
			continue
		}
		if info, err := p.Info(id, resolver{d}); err == nil {
			return info, nil
		} else {
			d.logger.Warnf("pack info of %s failed: %v", id, err)
		}
	}

	// Try loose headers across the chain.
	if flags&LookupIgnoreLoose == 0 {
		for _, directory := range d.chain() {
			info, err := loose.ReadInfo(directory.looseObjectPath(id), false)
			if err == nil {
				return info, nil
			}
			if !os.IsNotExist(err) {
				d.logger.Warnf("loose info of %s failed: %v", id, err)
			}
		}
	}

	// Refresh packs and retry once.
	if flags&LookupQuick == 0 {
		for _, p := range d.packs(true) {
			if !p.Has(id) || p.IsBad(id) {
				continue
			}
			if info, err := p.Info(id, resolver{d}); err == nil {
				return info, nil
			}
		}
	}

	// Attempt a single promisor fetch and retry.
	if d.fetchMissing != nil && flags&LookupSkipFetch == 0 {
		if fetchErr := d.fetchMissing(ctx, id); fetchErr == nil {
			return d.ObjectInfo(ctx, id, flags|LookupSkipFetch)
		}
	}

	return objects.Info{}, ErrObjectNotFound
}

// HasObject indicates whether or not an object is present (without
// fetching).
func (d *DB) HasObject(ctx context.Context, id objects.ID) bool {
	_, err := d.ObjectInfo(ctx, id, LookupQuick|LookupSkipFetch)
	return err == nil
}

// WriteLoose writes an object into the primary directory as a loose object.
func (d *DB) WriteLoose(objectType objects.Type, payload []byte) (objects.ID, error) {
	id, err := loose.Write(d.Primary().Path(), d.algorithm, objectType, payload, loose.WriteOptions{
		Fsync: d.fsync,
	})
	if err != nil {
		return objects.ID{}, err
	}

	// Keep the primary's fan-out bitmap coherent with the write.
	d.lock.Lock()
	if d.directories[0].looseScanned {
		d.directories[0].looseSubdirs[id.Digest()[0]] = true
	}
	d.lock.Unlock()

	return id, nil
}
