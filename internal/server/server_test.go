package server

import (
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laj3/laj3/internal/dict"
	"github.com/laj3/laj3/internal/wire"
)

func newFixtureProject(t *testing.T, name string, files map[string]string) *Project {
	t.Helper()
	root := t.TempDir()
	for path, content := range files {
		full := filepath.Join(root, filepath.FromSlash(path))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}

	d, err := dict.Build(root, dict.BuildOptions{Recursive: true})
	require.NoError(t, err)

	dictPath := filepath.Join(t.TempDir(), name+".dict")
	require.NoError(t, dict.Save(dictPath, d))

	project, err := LoadProject(name, root, dictPath)
	require.NoError(t, err)
	return project
}

func startServer(t *testing.T, config Config, projects ...*Project) string {
	t.Helper()
	registry, err := NewRegistry(projects...)
	require.NoError(t, err)

	if config.Addr == "" {
		config.Addr = "127.0.0.1:0"
	}
	srv, err := New(config, registry)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go srv.Start(ctx)

	require.Eventually(t, func() bool { return srv.Addr() != nil }, 2*time.Second, 10*time.Millisecond)
	return srv.Addr().String()
}

func dialAndHello(t *testing.T, addr, project string) net.Conn {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, wire.WriteFrame(conn, wire.FrameHello, []byte(project)))
	return conn
}

func TestServeSession(t *testing.T) {
	files := map[string]string{"a.txt": "alpha", "sub/b.txt": "beta"}
	project := newFixtureProject(t, "app", files)
	addr := startServer(t, Config{}, project)

	conn := dialAndHello(t, addr, "app")

	typ, payload, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wire.FrameDict, typ)

	ref, err := dict.Decode(bytes.NewReader(payload))
	require.NoError(t, err)
	assert.True(t, project.Dict.Equal(ref))

	request, err := wire.EncodePathList([]string{"a.txt", "missing.txt", "sub/b.txt"})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.FrameFileRequest, request))

	// Responses arrive in request order.
	typ, payload, err = wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wire.FrameFileBegin, typ)
	fb, err := wire.DecodeFileBegin(payload)
	require.NoError(t, err)
	assert.Equal(t, "a.txt", fb.Path)
	body := make([]byte, fb.Size)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	assert.Equal(t, "alpha", string(body))

	typ, payload, err = wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wire.FrameFileError, typ)
	fe, err := wire.DecodeFileError(payload)
	require.NoError(t, err)
	assert.Equal(t, "missing.txt", fe.Path)

	typ, payload, err = wire.ReadFrame(conn)
	require.NoError(t, err)
	require.Equal(t, wire.FrameFileBegin, typ)
	fb, err = wire.DecodeFileBegin(payload)
	require.NoError(t, err)
	assert.Equal(t, "sub/b.txt", fb.Path)
	body = make([]byte, fb.Size)
	_, err = io.ReadFull(conn, body)
	require.NoError(t, err)
	assert.Equal(t, "beta", string(body))

	require.NoError(t, wire.WriteFrame(conn, wire.FrameDone, nil))
}

func TestUnknownProject(t *testing.T) {
	project := newFixtureProject(t, "app", map[string]string{"a.txt": "alpha"})
	addr := startServer(t, Config{}, project)

	conn := dialAndHello(t, addr, "nope")

	typ, payload, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.FrameError, typ)
	assert.Contains(t, string(payload), "unknown project")

	// Server hangs up after the error.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = wire.ReadFrame(conn)
	assert.ErrorIs(t, err, io.EOF)
}

func TestRepeatedRequestServedFromCache(t *testing.T) {
	project := newFixtureProject(t, "app", map[string]string{"a.txt": "alpha"})
	addr := startServer(t, Config{}, project)

	conn := dialAndHello(t, addr, "app")
	_, _, err := wire.ReadFrame(conn) // dictionary
	require.NoError(t, err)

	request, err := wire.EncodePathList([]string{"a.txt", "a.txt"})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.FrameFileRequest, request))

	for range 2 {
		typ, payload, err := wire.ReadFrame(conn)
		require.NoError(t, err)
		require.Equal(t, wire.FrameFileBegin, typ)
		fb, err := wire.DecodeFileBegin(payload)
		require.NoError(t, err)
		body := make([]byte, fb.Size)
		_, err = io.ReadFull(conn, body)
		require.NoError(t, err)
		assert.Equal(t, "alpha", string(body))
	}

	require.NoError(t, wire.WriteFrame(conn, wire.FrameDone, nil))
}

func TestIdleTimeout(t *testing.T) {
	project := newFixtureProject(t, "app", map[string]string{"a.txt": "alpha"})
	addr := startServer(t, Config{IdleTimeout: 200 * time.Millisecond}, project)

	conn := dialAndHello(t, addr, "app")
	_, _, err := wire.ReadFrame(conn) // dictionary
	require.NoError(t, err)

	// Stay silent past the idle timeout; the server closes the session.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = wire.ReadFrame(conn)
	assert.ErrorIs(t, err, io.EOF)
}

func TestEscapingPathRejected(t *testing.T) {
	project := newFixtureProject(t, "app", map[string]string{"a.txt": "alpha"})
	addr := startServer(t, Config{}, project)

	conn := dialAndHello(t, addr, "app")
	_, _, err := wire.ReadFrame(conn) // dictionary
	require.NoError(t, err)

	request, err := wire.EncodePathList([]string{"../../etc/passwd"})
	require.NoError(t, err)
	require.NoError(t, wire.WriteFrame(conn, wire.FrameFileRequest, request))

	typ, payload, err := wire.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, wire.FrameFileError, typ)
	fe, err := wire.DecodeFileError(payload)
	require.NoError(t, err)
	assert.Equal(t, "../../etc/passwd", fe.Path)
}
