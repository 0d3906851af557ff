// Package wire implements the framed TCP protocol spoken between the laj3
// server and client.
//
// Every frame carries a fixed envelope: [magic "LJ"][version][type][u32
// length][payload]. File bytes deliberately travel outside frame payloads:
// a FileBegin frame announces path and size, then exactly size raw bytes
// follow on the stream, so neither side ever buffers a whole file.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	magic0  = byte('L')
	magic1  = byte('J')
	version = byte(1)

	headerSize = 8

	// MaxFramePayload bounds a single frame. Dictionaries of ~100k entries
	// fit well below this.
	MaxFramePayload = 16 << 20

	// ChunkSize is the copy buffer size used when streaming file bytes.
	ChunkSize = 256 << 10
)

var (
	// ErrBadFrame indicates a frame with a bad magic, an unsupported
	// version or an oversized payload.
	ErrBadFrame = errors.New("malformed frame")
)

// FrameType discriminates protocol frames.
type FrameType uint8

const (
	// FrameHello opens a session: client -> server, payload is the
	// project name.
	FrameHello FrameType = iota + 1

	// FrameDict carries the Store-encoded reference dictionary.
	FrameDict

	// FrameFileRequest lists relative paths the client wants.
	FrameFileRequest

	// FrameFileBegin announces one file: path and size. The raw bytes
	// follow the frame.
	FrameFileBegin

	// FrameFileError reports a per-path failure without aborting the
	// session.
	FrameFileError

	// FrameDone signals clean termination.
	FrameDone

	// FrameError reports a fatal session error, e.g. an unknown project.
	FrameError
)

var frameTypeNames = map[FrameType]string{
	FrameHello:       "Hello",
	FrameDict:        "Dict",
	FrameFileRequest: "FileRequest",
	FrameFileBegin:   "FileBegin",
	FrameFileError:   "FileError",
	FrameDone:        "Done",
	FrameError:       "Error",
}

func (t FrameType) String() string {
	if name, ok := frameTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("FrameType(%d)", uint8(t))
}

// WriteFrame writes one framed message to w.
func WriteFrame(w io.Writer, t FrameType, payload []byte) error {
	if len(payload) > MaxFramePayload {
		return fmt.Errorf("%w: payload %d exceeds limit", ErrBadFrame, len(payload))
	}

	header := make([]byte, headerSize)
	header[0], header[1], header[2], header[3] = magic0, magic1, version, byte(t)
	binary.BigEndian.PutUint32(header[4:], uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if len(payload) > 0 {
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("write frame payload: %w", err)
		}
	}
	return nil
}

// ReadFrame reads one framed message from r.
func ReadFrame(r io.Reader) (FrameType, []byte, error) {
	header := make([]byte, headerSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, err
	}
	if header[0] != magic0 || header[1] != magic1 {
		return 0, nil, fmt.Errorf("%w: bad magic", ErrBadFrame)
	}
	if header[2] != version {
		return 0, nil, fmt.Errorf("%w: unsupported version %d", ErrBadFrame, header[2])
	}

	t := FrameType(header[3])
	size := binary.BigEndian.Uint32(header[4:])
	if size > MaxFramePayload {
		return 0, nil, fmt.Errorf("%w: payload %d exceeds limit", ErrBadFrame, size)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("read frame payload: %w", err)
	}
	return t, payload, nil
}
