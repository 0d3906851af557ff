package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Payload helpers for the frames that carry structured data. Strings are
// u16 length-prefixed, integers big-endian, mirroring the dictionary Store
// format.

// FileBegin is the header announcing one file payload.
type FileBegin struct {
	Path string
	Size int64
}

// FileError reports one failed path inside an otherwise healthy session.
type FileError struct {
	Path    string
	Message string
}

// EncodePathList encodes a FileRequest payload: u32 count, then each path.
func EncodePathList(paths []string) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, uint32(len(paths))); err != nil {
		return nil, err
	}
	for _, p := range paths {
		if err := writeString(&buf, p); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodePathList decodes a FileRequest payload.
func DecodePathList(payload []byte) ([]string, error) {
	buf := bytes.NewReader(payload)

	var count uint32
	if err := binary.Read(buf, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: path list count", ErrBadFrame)
	}

	paths := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := readString(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: path list entry %d", ErrBadFrame, i)
		}
		paths = append(paths, p)
	}
	if buf.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes in path list", ErrBadFrame)
	}
	return paths, nil
}

// EncodeFileBegin encodes a FileBegin payload.
func EncodeFileBegin(fb FileBegin) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, fb.Path); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, uint64(fb.Size)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFileBegin decodes a FileBegin payload.
func DecodeFileBegin(payload []byte) (FileBegin, error) {
	buf := bytes.NewReader(payload)

	path, err := readString(buf)
	if err != nil {
		return FileBegin{}, fmt.Errorf("%w: file begin path", ErrBadFrame)
	}
	var size uint64
	if err := binary.Read(buf, binary.BigEndian, &size); err != nil {
		return FileBegin{}, fmt.Errorf("%w: file begin size", ErrBadFrame)
	}
	if buf.Len() != 0 {
		return FileBegin{}, fmt.Errorf("%w: trailing bytes in file begin", ErrBadFrame)
	}
	return FileBegin{Path: path, Size: int64(size)}, nil
}

// EncodeFileError encodes a FileError payload.
func EncodeFileError(fe FileError) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeString(&buf, fe.Path); err != nil {
		return nil, err
	}
	if err := writeString(&buf, fe.Message); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeFileError decodes a FileError payload.
func DecodeFileError(payload []byte) (FileError, error) {
	buf := bytes.NewReader(payload)

	path, err := readString(buf)
	if err != nil {
		return FileError{}, fmt.Errorf("%w: file error path", ErrBadFrame)
	}
	msg, err := readString(buf)
	if err != nil {
		return FileError{}, fmt.Errorf("%w: file error message", ErrBadFrame)
	}
	return FileError{Path: path, Message: msg}, nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("%w: string too long (%d bytes)", ErrBadFrame, len(s))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func readString(buf *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(buf, binary.BigEndian, &n); err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(buf, b); err != nil {
		return "", err
	}
	return string(b), nil
}
