package odb

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"github.com/grivet-io/grivet/pkg/filesystem"
)

const (
	// alternateRecursionBudget is the maximum depth to which nested
	// info/alternates files will be followed. Exceeding it yields a warning
	// and stops recursion rather than failing the lookup.
	alternateRecursionBudget = 5
)

// parseAlternateLine parses a single line of an info/alternates file,
// returning the referenced path (possibly empty for comments and blank
// lines). A line beginning with '"' is a C-style quoted string.
func parseAlternateLine(line []byte) (string, error) {
	line = bytes.TrimRight(line, "\r\n")
	if len(line) == 0 || line[0] == '#' {
		return "", nil
	}
	if line[0] == '"' {
		unquoted, err := strconv.Unquote(string(line))
		if err != nil {
			return "", errors.Wrap(err, "invalid quoted alternate path")
		}
		return unquoted, nil
	}
	return string(line), nil
}

// resolveAlternatePath resolves an alternates entry against its containing
// object directory, absolutizes and normalizes it, and trims any trailing
// separator.
func resolveAlternatePath(entry, containing string) (string, error) {
	if !filepath.IsAbs(entry) {
		entry = filepath.Join(containing, entry)
	}
	normalized, err := filesystem.Normalize(entry)
	if err != nil {
		return "", err
	}
	return normalized, nil
}

// loadAlternates recursively loads the alternates referenced by the
// specified directory into the chain. The known set (keyed by normalized
// path) provides the duplicate and cycle guard. Nonexistent alternates and
// budget exhaustion produce warnings, not failures.
func (d *DB) loadAlternates(directory *Directory, depth int) {
	// Read the alternates file. Its absence is the common case.
	file, err := os.Open(directory.alternatesPath())
	if err != nil {
		if !os.IsNotExist(err) {
			d.logger.Warnf("unable to read alternates for %s: %v", directory.Path(), err)
		}
		return
	}
	defer file.Close()

	// Process entries line by line.
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		entry, err := parseAlternateLine(scanner.Bytes())
		if err != nil {
			d.logger.Warnf("ignoring malformed alternate in %s: %v", directory.Path(), err)
			continue
		}
		if entry == "" {
			continue
		}

		// Resolve and normalize.
		normalized, err := resolveAlternatePath(entry, directory.Path())
		if err != nil {
			d.logger.Warnf("ignoring unresolvable alternate %q: %v", entry, err)
			continue
		}

		// Apply the duplicate/cycle guard.
		if d.known[normalized] {
			continue
		}

		// Fail soft on nonexistent or invalid alternates.
		if err := validateObjectDirectory(normalized); err != nil {
			d.logger.Warnf("ignoring unusable alternate %s: %v", normalized, err)
			continue
		}

		// Enforce the recursion budget. The alternate itself is still added;
		// only its own alternates go unvisited.
		alternate := newDirectory(normalized)
		d.known[normalized] = true
		d.directories = append(d.directories, alternate)
		if depth+1 >= alternateRecursionBudget {
			d.logger.Warnf(
				"alternates nested more than %d deep; not recursing into %s",
				alternateRecursionBudget, normalized,
			)
			continue
		}
		d.loadAlternates(alternate, depth+1)
	}
	if err := scanner.Err(); err != nil {
		d.logger.Warnf("error scanning alternates for %s: %v", directory.Path(), err)
	}
}

// ensureAlternatesLocked lazily materializes the alternate chain. The DB
// lock must be held. After the first materialization the chain is
// append-only and reads no longer require the lock.
func (d *DB) ensureAlternatesLocked() {
	if d.alternatesLoaded {
		return
	}
	d.alternatesLoaded = true
	d.loadAlternates(d.directories[0], 0)
}
