package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/laj3/laj3/internal/dict"
	"github.com/laj3/laj3/internal/utils"
	"github.com/laj3/laj3/internal/wire"
)

// session is one TCP connection to the server, already past the handshake
// and holding the reference dictionary.
type session struct {
	conn   net.Conn
	src    *activityReader
	ref    *dict.Dictionary
	broken bool
}

// activityReader pushes the connection's read deadline forward on every
// read, so the idle timeout measures inactivity, not total transfer time.
// A large file arriving slowly but steadily never times out.
type activityReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *activityReader) Read(p []byte) (int, error) {
	r.conn.SetReadDeadline(time.Now().Add(r.timeout))
	return r.conn.Read(p)
}

// connect dials the server, sends the Hello and receives the reference
// dictionary.
func (in *Installer) connect(ctx context.Context) (*session, error) {
	dialer := net.Dialer{Timeout: in.config.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", in.config.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect %q: %w", in.config.Addr, err)
	}
	slog.Debug("connected", "addr", conn.RemoteAddr())

	success := false
	defer func() {
		if !success {
			conn.Close()
		}
	}()

	if err := wire.WriteFrame(conn, wire.FrameHello, []byte(in.config.Project)); err != nil {
		return nil, fmt.Errorf("send hello: %w", err)
	}

	src := &activityReader{conn: conn, timeout: in.config.IdleTimeout}
	t, payload, err := wire.ReadFrame(src)
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}

	switch t {
	case wire.FrameDict:
		ref, err := dict.Decode(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		success = true
		return &session{conn: conn, src: src, ref: ref}, nil
	case wire.FrameError:
		return nil, fmt.Errorf("server refused session: %s", payload)
	default:
		return nil, fmt.Errorf("%w: expected Dict, got %s", wire.ErrBadFrame, t)
	}
}

func (s *session) dead() bool {
	return s.broken || s.conn == nil
}

// close signals completion and closes the connection.
func (s *session) close() {
	if s.conn == nil {
		return
	}
	if !s.broken {
		wire.WriteFrame(s.conn, wire.FrameDone, nil)
	}
	s.conn.Close()
	s.conn = nil
}

// abort drops the connection without the Done frame; the stream can no
// longer be trusted.
func (s *session) abort() {
	s.broken = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

// outcome is the per-path result of one fetch batch.
type outcome struct {
	path      string
	err       error
	permanent bool
}

// fetch requests paths and installs each answered payload. The server
// responds strictly in request order. A transport error aborts the batch:
// every unanswered path is reported as retryable.
func (s *session) fetch(ctx context.Context, paths []string, cfg Config, result *Result) []outcome {
	outcomes := make([]outcome, 0, len(paths))
	remaining := append([]string(nil), paths...)

	interrupted := func(err error) []outcome {
		s.abort()
		for _, path := range remaining {
			outcomes = append(outcomes, outcome{
				path: path,
				err:  fmt.Errorf("%w: %w", ErrTransferInterrupted, err),
			})
		}
		return outcomes
	}

	payload, err := wire.EncodePathList(remaining)
	if err != nil {
		return interrupted(err)
	}
	if err := wire.WriteFrame(s.conn, wire.FrameFileRequest, payload); err != nil {
		return interrupted(err)
	}

	for len(remaining) > 0 {
		if ctx.Err() != nil {
			return interrupted(ctx.Err())
		}

		t, payload, err := wire.ReadFrame(s.src)
		if err != nil {
			return interrupted(err)
		}

		switch t {
		case wire.FrameFileBegin:
			fb, err := wire.DecodeFileBegin(payload)
			if err != nil {
				return interrupted(err)
			}
			if fb.Path != remaining[0] {
				return interrupted(fmt.Errorf("out of order response: got %q, want %q", fb.Path, remaining[0]))
			}

			entry, ok := s.ref.Get(fb.Path)
			if !ok {
				return interrupted(fmt.Errorf("server sent unlisted path %q", fb.Path))
			}

			oc := s.receiveFile(fb, entry, cfg)
			if oc.err != nil && !oc.permanent && s.broken {
				// Connection is desynced; everything else is interrupted too.
				outcomes = append(outcomes, oc)
				remaining = remaining[1:]
				return interrupted(errors.New("transfer stream broken"))
			}
			if oc.err == nil {
				result.Downloaded = append(result.Downloaded, fb.Path)
				result.BytesWritten += fb.Size
				slog.Info("installed", "path", fb.Path, "size", humanize.Bytes(uint64(fb.Size)))
			}
			outcomes = append(outcomes, oc)
			remaining = remaining[1:]

		case wire.FrameFileError:
			fe, err := wire.DecodeFileError(payload)
			if err != nil {
				return interrupted(err)
			}
			if fe.Path != remaining[0] {
				return interrupted(fmt.Errorf("out of order error: got %q, want %q", fe.Path, remaining[0]))
			}
			// The server keeps the session alive; the path itself is a
			// lost cause.
			outcomes = append(outcomes, outcome{
				path:      fe.Path,
				err:       fmt.Errorf("server: %s", fe.Message),
				permanent: true,
			})
			remaining = remaining[1:]

		case wire.FrameError:
			return interrupted(fmt.Errorf("server: %s", payload))

		default:
			return interrupted(fmt.Errorf("%w: unexpected %s frame", wire.ErrBadFrame, t))
		}
	}

	return outcomes
}

// receiveFile reads one announced payload off the stream and installs it
// atomically. The payload size comes from the FileBegin header so the
// connection stays framed even when the content is rejected.
func (s *session) receiveFile(fb wire.FileBegin, entry *dict.FileEntry, cfg Config) outcome {
	if fb.Size != entry.Size {
		// Must still drain the announced bytes to keep the stream sane.
		if _, err := io.CopyN(io.Discard, s.src, fb.Size); err != nil {
			s.broken = true
		}
		return outcome{path: fb.Path, err: fmt.Errorf("size mismatch: announced %d, dictionary %d", fb.Size, entry.Size)}
	}

	// The path comes from the server's dictionary and is untrusted; never
	// let it place a file outside the destination tree.
	destPath, err := utils.SafeJoin(cfg.Dest, fb.Path)
	if err != nil {
		if _, derr := io.CopyN(io.Discard, s.src, fb.Size); derr != nil {
			s.broken = true
		}
		return outcome{path: fb.Path, err: err, permanent: true}
	}

	written, err := writeFileAtomic(destPath, io.LimitReader(s.src, fb.Size), fb.Size, entry.Digest)
	if err != nil {
		if written < fb.Size {
			// Short read: the stream position is unknown.
			s.broken = true
		}
		return outcome{path: fb.Path, err: err}
	}
	return outcome{path: fb.Path}
}
