package dict

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/laj3/laj3/internal/utils"
)

// Versioned binary manifest:
//
//	magic   "LAJD"
//	version u16
//	count   u32
//	entries, in path order:
//	  pathlen u16, path bytes
//	  size    u64
//	  digest  32 bytes
//	  mtime   i64 unix seconds (0 when unknown)
//
// All integers big-endian.
const (
	storeVersion  = uint16(1)
	maxPathLen    = 1 << 15
	lockExtension = ".lock"

	// Decode grows past this on demand; the declared count is untrusted
	// input and must never size an allocation on its own.
	maxDecodePrealloc = 4096
)

var storeMagic = [4]byte{'L', 'A', 'J', 'D'}

// Encode writes d to w in the versioned binary form. Entries are written
// in path order, so encoding a given Dictionary is deterministic.
func Encode(w io.Writer, d *Dictionary) error {
	bw := bufio.NewWriter(w)

	if _, err := bw.Write(storeMagic[:]); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	if err := binary.Write(bw, binary.BigEndian, storeVersion); err != nil {
		return fmt.Errorf("write version: %w", err)
	}
	if err := binary.Write(bw, binary.BigEndian, uint32(d.Len())); err != nil {
		return fmt.Errorf("write count: %w", err)
	}

	for _, entry := range d.Entries() {
		path := []byte(entry.Path)
		if len(path) >= maxPathLen {
			return fmt.Errorf("%w: path too long: %q", ErrInvalidPath, entry.Path)
		}
		if err := binary.Write(bw, binary.BigEndian, uint16(len(path))); err != nil {
			return fmt.Errorf("write path length: %w", err)
		}
		if _, err := bw.Write(path); err != nil {
			return fmt.Errorf("write path: %w", err)
		}
		if err := binary.Write(bw, binary.BigEndian, uint64(entry.Size)); err != nil {
			return fmt.Errorf("write size: %w", err)
		}
		if _, err := bw.Write(entry.Digest[:]); err != nil {
			return fmt.Errorf("write digest: %w", err)
		}
		var mtime int64
		if !entry.ModTime.IsZero() {
			mtime = entry.ModTime.Unix()
		}
		if err := binary.Write(bw, binary.BigEndian, mtime); err != nil {
			return fmt.Errorf("write mtime: %w", err)
		}
	}

	return bw.Flush()
}

// Decode reads a Dictionary from r, validating magic, version and that the
// stream ends exactly after the declared entry count.
func Decode(r io.Reader) (*Dictionary, error) {
	br := bufio.NewReader(r)

	var magic [4]byte
	if _, err := io.ReadFull(br, magic[:]); err != nil {
		return nil, corrupt("read magic", err)
	}
	if magic != storeMagic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrCorruptDictionary, magic[:])
	}

	var ver uint16
	if err := binary.Read(br, binary.BigEndian, &ver); err != nil {
		return nil, corrupt("read version", err)
	}
	if ver != storeVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorruptDictionary, ver)
	}

	var count uint32
	if err := binary.Read(br, binary.BigEndian, &count); err != nil {
		return nil, corrupt("read count", err)
	}

	entries := make([]*FileEntry, 0, min(count, maxDecodePrealloc))
	for i := uint32(0); i < count; i++ {
		entry, err := decodeEntry(br)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	// The declared count must account for the whole stream.
	if _, err := br.ReadByte(); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after %d entries", ErrCorruptDictionary, count)
	}

	d, err := FromEntries(entries)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptDictionary, err)
	}
	return d, nil
}

func decodeEntry(br *bufio.Reader) (*FileEntry, error) {
	var pathLen uint16
	if err := binary.Read(br, binary.BigEndian, &pathLen); err != nil {
		return nil, corrupt("read path length", err)
	}

	path := make([]byte, pathLen)
	if _, err := io.ReadFull(br, path); err != nil {
		return nil, corrupt("read path", err)
	}

	var size uint64
	if err := binary.Read(br, binary.BigEndian, &size); err != nil {
		return nil, corrupt("read size", err)
	}

	var digest Digest
	if _, err := io.ReadFull(br, digest[:]); err != nil {
		return nil, corrupt("read digest", err)
	}

	var mtime int64
	if err := binary.Read(br, binary.BigEndian, &mtime); err != nil {
		return nil, corrupt("read mtime", err)
	}

	entry := &FileEntry{
		Path:   string(path),
		Size:   int64(size),
		Digest: digest,
	}
	if mtime != 0 {
		entry.ModTime = time.Unix(mtime, 0)
	}
	return entry, nil
}

// Save persists d to path atomically: the encoded form goes to a temp file
// that is renamed into place. An exclusive flock serializes concurrent
// writers of the same dictionary file.
func Save(path string, d *Dictionary) error {
	path, err := utils.ResolvePath(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	if err := utils.EnsureParent(path); err != nil {
		return fmt.Errorf("ensure parent of %q: %w", path, err)
	}

	lock := flock.New(path + lockExtension)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %q: %w", path, err)
	}
	defer func() {
		lock.Unlock()
		os.Remove(path + lockExtension)
	}()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := Encode(tmp, d); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %q: %w", path, err)
	}

	success = true
	return nil
}

// Load reads a Dictionary from the file at path.
func Load(path string) (*Dictionary, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", ErrInvalidPath, path, err)
	}
	defer file.Close()

	d, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", path, err)
	}
	return d, nil
}

func corrupt(op string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: truncated stream (%s)", ErrCorruptDictionary, op)
	}
	return fmt.Errorf("%s: %w", op, err)
}
