package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/semaphore"

	"github.com/laj3/laj3/internal/dict"
	"github.com/laj3/laj3/internal/utils"
	"github.com/laj3/laj3/internal/wire"
)

// Server accepts sync sessions over TCP. Each connection runs in its own
// goroutine; all of them share the read-only project Registry. A session
// walks Handshake -> ServingDictionary -> ServingFiles -> Closed.
type Server struct {
	config   Config
	registry *Registry
	cache    *lru.Cache[dict.Digest, []byte]
	sem      *semaphore.Weighted

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

func New(config Config, registry *Registry) (*Server, error) {
	if registry == nil || registry.Len() == 0 {
		return nil, errors.New("server needs at least one project")
	}

	cfg := config.withDefaults()

	// Projects never change after startup, so cached payloads keyed by
	// digest can never go stale.
	cache, err := lru.New[dict.Digest, []byte](cacheEntries)
	if err != nil {
		return nil, fmt.Errorf("create payload cache: %w", err)
	}

	return &Server{
		config:   cfg,
		registry: registry,
		cache:    cache,
		sem:      semaphore.NewWeighted(cfg.MaxConns),
	}, nil
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Start listens and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("listen %q: %w", s.config.Addr, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	slog.Info("server start", "addr", listener.Addr(), "projects", s.registry.Len())
	defer slog.Info("server stop")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			slog.Error("accept", "error", err)
			continue
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			conn.Close()
			break
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			defer conn.Close()
			s.handleConn(conn)
		}()
	}

	s.wg.Wait()
	return nil
}

func (s *Server) handleConn(conn net.Conn) {
	connID := uuid.NewString()
	log := slog.With("conn", connID[:8], "remote", conn.RemoteAddr())

	project, err := s.handshake(conn)
	if err != nil {
		log.Warn("handshake failed", "error", err)
		return
	}
	log = log.With("project", project.Name)
	log.Info("session start", "files", project.Dict.Len())

	if err := s.sendDictionary(conn, project); err != nil {
		log.Warn("send dictionary", "error", err)
		return
	}

	if err := s.serveFiles(conn, project, log); err != nil {
		log.Warn("session aborted", "error", err)
		return
	}
	log.Info("session end")
}

func (s *Server) handshake(conn net.Conn) (*Project, error) {
	conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

	t, payload, err := wire.ReadFrame(conn)
	if err != nil {
		return nil, fmt.Errorf("read hello: %w", err)
	}
	if t != wire.FrameHello {
		return nil, fmt.Errorf("%w: expected Hello, got %s", wire.ErrBadFrame, t)
	}

	name := string(payload)
	project, ok := s.registry.Get(name)
	if !ok {
		// Tell the client why before closing.
		msg := fmt.Sprintf("unknown project %q", name)
		wire.WriteFrame(conn, wire.FrameError, []byte(msg))
		return nil, fmt.Errorf("%w: %q", ErrUnknownProject, name)
	}
	return project, nil
}

func (s *Server) sendDictionary(conn net.Conn, project *Project) error {
	var buf bytes.Buffer
	if err := dict.Encode(&buf, project.Dict); err != nil {
		return err
	}
	return wire.WriteFrame(conn, wire.FrameDict, buf.Bytes())
}

// serveFiles answers FileRequest batches until the client sends Done or
// goes idle past the timeout.
func (s *Server) serveFiles(conn net.Conn, project *Project, log *slog.Logger) error {
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.IdleTimeout))

		t, payload, err := wire.ReadFrame(conn)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				return errors.New("idle timeout")
			}
			if errors.Is(err, io.EOF) {
				return errors.New("client hung up")
			}
			return fmt.Errorf("read request: %w", err)
		}

		switch t {
		case wire.FrameDone:
			return nil
		case wire.FrameFileRequest:
			paths, err := wire.DecodePathList(payload)
			if err != nil {
				return err
			}
			// Requested paths are answered strictly in request order.
			for _, relPath := range paths {
				if err := s.serveFile(conn, project, relPath, log); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("%w: unexpected %s frame", wire.ErrBadFrame, t)
		}
	}
}

// serveFile streams one file, or reports a per-path error frame when the
// path is unknown or unreadable. Only transport errors abort the session.
func (s *Server) serveFile(conn net.Conn, project *Project, relPath string, log *slog.Logger) error {
	entry, ok := project.Dict.Get(relPath)
	if !ok {
		return s.fileError(conn, relPath, "not in project dictionary")
	}

	fullPath, err := utils.SafeJoin(project.Root, relPath)
	if err != nil {
		log.Warn("rejected path", "path", relPath, "error", err)
		return s.fileError(conn, relPath, "invalid path")
	}

	header, err := wire.EncodeFileBegin(wire.FileBegin{Path: relPath, Size: entry.Size})
	if err != nil {
		return err
	}

	if cached, ok := s.cache.Get(entry.Digest); ok {
		if err := wire.WriteFrame(conn, wire.FrameFileBegin, header); err != nil {
			return err
		}
		_, err := conn.Write(cached)
		return err
	}

	file, err := os.Open(fullPath)
	if err != nil {
		log.Warn("open failed", "path", relPath, "error", err)
		return s.fileError(conn, relPath, "unreadable on server")
	}
	defer file.Close()

	if err := wire.WriteFrame(conn, wire.FrameFileBegin, header); err != nil {
		return err
	}

	// Stream in bounded chunks; large files are never fully buffered.
	// Small payloads are tee'd into the digest-keyed cache on the way out.
	var cacheBuf []byte
	if entry.Size <= cacheableFileSize {
		cacheBuf = make([]byte, 0, entry.Size)
	}

	// Never send more than the dictionary's size, even if the file on
	// disk grew after the dictionary was built.
	src := io.LimitReader(file, entry.Size)
	buf := make([]byte, wire.ChunkSize)
	var written int64
	for written < entry.Size {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return fmt.Errorf("stream %q: %w", relPath, werr)
			}
			if cacheBuf != nil {
				cacheBuf = append(cacheBuf, buf[:n]...)
			}
			written += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("stream %q: %w", relPath, err)
		}
	}
	if written != entry.Size {
		return fmt.Errorf("stream %q: short file (%d of %d bytes)", relPath, written, entry.Size)
	}

	if cacheBuf != nil {
		s.cache.Add(entry.Digest, cacheBuf)
	}

	log.Debug("served", "path", relPath, "size", humanize.Bytes(uint64(entry.Size)))
	return nil
}

func (s *Server) fileError(conn net.Conn, relPath, msg string) error {
	payload, err := wire.EncodeFileError(wire.FileError{Path: relPath, Message: msg})
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, wire.FrameFileError, payload)
}
