package dict

import (
	"crypto/sha256"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/laj3/laj3/internal/utils"
)

// BuildOptions controls how a tree is fingerprinted.
type BuildOptions struct {
	// Recursive descends into subdirectories. Otherwise only the root's
	// immediate files are included.
	Recursive bool

	// Empty produces a zero-entry Dictionary. The root must still exist;
	// its contents are ignored. Placeholder for a first-time install.
	Empty bool

	// Exclude holds doublestar glob patterns matched against each entry's
	// relative path.
	Exclude []string
}

// Build walks root and assembles a Dictionary of its files.
func Build(root string, opts BuildOptions) (*Dictionary, error) {
	root, err := utils.ResolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPath, root, err)
	}

	if opts.Empty {
		return Empty(), nil
	}

	// A single regular file is a one-entry tree.
	if !info.IsDir() {
		entry, err := buildEntry(root, NormPath(filepath.Base(root)), info)
		if err != nil {
			return nil, err
		}
		return FromEntries([]*FileEntry{entry})
	}

	var entries []*FileEntry
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return fmt.Errorf("walk %q: %w", path, walkErr)
		}

		if d.IsDir() {
			if path != root && !opts.Recursive {
				return fs.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("walk rel path: %w", err)
		}
		relPath = NormPath(relPath)

		if excluded(relPath, opts.Exclude) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %q: %w", path, err)
		}

		entry, err := buildEntry(path, relPath, fi)
		if err != nil {
			return err
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("build dictionary: %w", err)
	}

	return FromEntries(entries)
}

func buildEntry(path, relPath string, info fs.FileInfo) (*FileEntry, error) {
	digest, err := FileDigest(path)
	if err != nil {
		return nil, err
	}
	return &FileEntry{
		Path:    relPath,
		Size:    info.Size(),
		Digest:  digest,
		ModTime: info.ModTime(),
	}, nil
}

// FileDigest computes the SHA-256 fingerprint of the file at path.
func FileDigest(path string) (Digest, error) {
	var digest Digest

	file, err := os.Open(path)
	if err != nil {
		return digest, fmt.Errorf("open %q: %w", path, err)
	}
	defer file.Close()

	h := sha256.New()
	if _, err := io.Copy(h, file); err != nil {
		return digest, fmt.Errorf("hash %q: %w", path, err)
	}
	copy(digest[:], h.Sum(nil))
	return digest, nil
}

func excluded(relPath string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, err := doublestar.Match(pattern, relPath); err == nil && ok {
			return true
		}
	}
	return false
}
