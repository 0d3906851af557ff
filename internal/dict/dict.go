package dict

import (
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"time"
)

// DigestSize is the width of a file content fingerprint (SHA-256).
const DigestSize = 32

// Digest is the SHA-256 fingerprint of a file's content. Two entries are
// content-equal iff their digests match.
type Digest [DigestSize]byte

func (d Digest) String() string {
	return hex.EncodeToString(d[:])
}

// FileEntry describes one file of a tree. Immutable once computed.
type FileEntry struct {
	Path    string // relative, '/'-separated
	Size    int64
	Digest  Digest
	ModTime time.Time
}

// Dictionary is the manifest of a file tree: one FileEntry per relative
// path. Paths are unique and compared byte-exact. A Dictionary never
// changes after construction.
type Dictionary struct {
	entries map[string]*FileEntry
}

// Empty returns a Dictionary with zero entries.
func Empty() *Dictionary {
	return &Dictionary{entries: map[string]*FileEntry{}}
}

// FromEntries builds a Dictionary from entries. Duplicate paths are
// rejected.
func FromEntries(entries []*FileEntry) (*Dictionary, error) {
	m := make(map[string]*FileEntry, len(entries))
	for _, e := range entries {
		if e.Path == "" {
			return nil, fmt.Errorf("%w: entry with empty path", ErrInvalidPath)
		}
		if _, exists := m[e.Path]; exists {
			return nil, fmt.Errorf("%w: duplicate path %q", ErrInvalidPath, e.Path)
		}
		m[e.Path] = e
	}
	return &Dictionary{entries: m}, nil
}

func (d *Dictionary) Len() int {
	return len(d.entries)
}

func (d *Dictionary) Get(path string) (*FileEntry, bool) {
	e, ok := d.entries[path]
	return e, ok
}

// Paths returns all paths in sorted order.
func (d *Dictionary) Paths() []string {
	paths := make([]string, 0, len(d.entries))
	for p := range d.entries {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Entries returns all entries in path order.
func (d *Dictionary) Entries() []*FileEntry {
	entries := make([]*FileEntry, 0, len(d.entries))
	for _, p := range d.Paths() {
		entries = append(entries, d.entries[p])
	}
	return entries
}

// Equal reports whether two Dictionaries hold the same paths with the same
// sizes and digests. Modification times are metadata and do not affect
// equality.
func (d *Dictionary) Equal(other *Dictionary) bool {
	if d.Len() != other.Len() {
		return false
	}
	for p, e := range d.entries {
		o, ok := other.entries[p]
		if !ok || o.Size != e.Size || o.Digest != e.Digest {
			return false
		}
	}
	return true
}

// NormPath converts a filesystem path to the '/'-separated form used as a
// Dictionary key.
func NormPath(path string) string {
	return filepath.ToSlash(path)
}
