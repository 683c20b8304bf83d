// Package odb composes loose and packed object storage behind a single
// facade: a primary object directory, an ordered chain of alternates, an
// in-memory pretend cache, and an optional promisor fetch hook.
package odb

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/grivet-io/grivet/pkg/hashing"
	"github.com/grivet-io/grivet/pkg/logging"
	"github.com/grivet-io/grivet/pkg/objects"
	"github.com/grivet-io/grivet/pkg/objects/loose"
	"github.com/grivet-io/grivet/pkg/objects/pack"
)

// Directory represents a single object directory: loose fan-out
// subdirectories, a pack/ subdirectory, and an optional info/alternates
// file.
type Directory struct {
	// path is the normalized absolute path of the directory.
	path string
	// DisableRefUpdates is set for temporary overlay directories.
	DisableRefUpdates bool
	// WillDestroy is set for scratch directories that will be removed.
	WillDestroy bool
	// packs is the memoized list of open packs.
	packs []*pack.Pack
	// packsLoaded indicates whether or not the pack list has been scanned.
	packsLoaded bool
	// looseSubdirs is the lazily-populated fan-out subdirectory presence
	// bitmap used to short-circuit loose lookups.
	looseSubdirs [256]bool
	// looseScanned indicates whether or not looseSubdirs has been populated.
	looseScanned bool
}

// newDirectory creates a directory record for the specified normalized path.
func newDirectory(path string) *Directory {
	return &Directory{path: path}
}

// Path returns the directory's normalized path.
func (d *Directory) Path() string {
	return d.path
}

// alternatesPath returns the path of the directory's alternates file.
func (d *Directory) alternatesPath() string {
	return filepath.Join(d.path, "info", "alternates")
}

// scanLoose populates the fan-out subdirectory bitmap. A subdirectory may
// vanish between the directory read and any subsequent stat, which callers
// treat as "deleted, skip".
func (d *Directory) scanLoose() {
	d.looseSubdirs = [256]bool{}
	entries, err := os.ReadDir(d.path)
	if err == nil {
		for _, entry := range entries {
			name := entry.Name()
			if len(name) == 2 {
				if value, ok := parseHexByte(name); ok {
					d.looseSubdirs[value] = true
				}
			}
		}
	}
	d.looseScanned = true
}

// mayHaveLoose indicates whether or not the directory's fan-out bitmap
// admits the possibility of a loose object with the specified identifier.
func (d *Directory) mayHaveLoose(id objects.ID) bool {
	if !d.looseScanned {
		d.scanLoose()
	}
	return d.looseSubdirs[id.Digest()[0]]
}

// parseHexByte parses a two-character lowercase hex byte.
func parseHexByte(name string) (byte, bool) {
	var value byte
	for i := 0; i < 2; i++ {
		c := name[i]
		switch {
		case c >= '0' && c <= '9':
			value = value<<4 | (c - '0')
		case c >= 'a' && c <= 'f':
			value = value<<4 | (c - 'a' + 10)
		default:
			return 0, false
		}
	}
	return value, true
}

// loadPacks scans the directory's pack/ subdirectory and opens any packs not
// yet open. It is idempotent and memoized; pass refresh to force a rescan
// (e.g. after another process may have repacked).
func (d *Directory) loadPacks(algorithm *hashing.Algorithm, cache *pack.BaseCache, refresh bool, logger *logging.Logger) {
	if d.packsLoaded && !refresh {
		return
	}
	d.packsLoaded = true

	// Enumerate pack files. A missing pack/ subdirectory just means no
	// packs.
	entries, err := os.ReadDir(filepath.Join(d.path, "pack"))
	if err != nil {
		return
	}

	// Index already-open packs by path.
	open := make(map[string]bool, len(d.packs))
	for _, p := range d.packs {
		open[p.Path()] = true
	}

	// Open anything new. Unopenable packs are skipped with a warning; their
	// objects may still be reachable loose or in other packs.
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".pack") {
			continue
		}
		packPath := filepath.Join(d.path, "pack", entry.Name())
		if open[packPath] {
			continue
		}
		p, err := pack.Open(packPath, algorithm, cache)
		if err != nil {
			logger.Warnf("unable to open pack %s: %v", packPath, err)
			continue
		}
		d.packs = append(d.packs, p)
	}
}

// looseObjectPath computes the loose object path for an identifier within
// this directory.
func (d *Directory) looseObjectPath(id objects.ID) string {
	return loose.Path(d.path, id)
}

// hasLoose checks for a loose object's presence on disk.
func (d *Directory) hasLoose(id objects.ID) bool {
	if info, err := os.Stat(d.looseObjectPath(id)); err == nil && info.Mode().IsRegular() {
		return true
	}
	return false
}

// validateObjectDirectory performs a light sanity check that a path is
// plausibly an object directory (it exists and is a directory, possibly via
// a symbolic link).
func validateObjectDirectory(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}
	return nil
}
