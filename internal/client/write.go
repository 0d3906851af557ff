package client

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/laj3/laj3/internal/dict"
	"github.com/laj3/laj3/internal/utils"
)

// writeFileAtomic streams size bytes from r into destPath: the content
// lands in a temp file in the same directory, its digest is verified, and
// only then is it renamed into place. The destination path never holds a
// partially written file; failures leave at worst a temp artifact. Returns
// the number of bytes consumed from r.
func writeFileAtomic(destPath string, r io.Reader, size int64, want dict.Digest) (int64, error) {
	if err := utils.EnsureParent(destPath); err != nil {
		return 0, fmt.Errorf("ensure parent: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), filepath.Base(destPath)+".laj3.tmp.*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	hasher := sha256.New()
	written, err := io.Copy(io.MultiWriter(tmp, hasher), r)
	if err != nil {
		return written, fmt.Errorf("write temp file: %w", err)
	}
	if written != size {
		return written, fmt.Errorf("short payload: %d of %d bytes", written, size)
	}

	var got dict.Digest
	copy(got[:], hasher.Sum(nil))
	if got != want {
		return written, fmt.Errorf("digest mismatch: want %s, got %s", want, got)
	}

	// Durability before visibility.
	if err := tmp.Sync(); err != nil {
		return written, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return written, fmt.Errorf("rename into place: %w", err)
	}

	success = true
	return written, nil
}
