package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "empty path", input: "", wantError: true},
		{name: "relative path", input: "./test"},
		{name: "absolute path", input: "/tmp/test"},
		{name: "home prefix", input: "~/test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, filepath.IsAbs(result), "ResolvePath(%q) = %q, want absolute", tt.input, result)
		})
	}
}

func TestSafeJoin(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{name: "plain file", input: "a.txt"},
		{name: "nested file", input: "sub/deep/c.txt"},
		{name: "dot segment resolved inside", input: "sub/../a.txt"},
		{name: "parent escape", input: "../evil.txt", wantError: true},
		{name: "deep escape", input: "../../etc/passwd", wantError: true},
		{name: "escape after descent", input: "sub/../../evil.txt", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			full, err := SafeJoin(root, tt.input)
			if tt.wantError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(full, root), "SafeJoin(%q) = %q, want under %q", tt.input, full, root)
		})
	}
}

func TestEnsureParent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "c.txt")
	require.NoError(t, EnsureParent(path))
	assert.True(t, DirExists(filepath.Dir(path)))
}

func TestFileAndDirExists(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	assert.True(t, DirExists(dir))
	assert.False(t, DirExists(file))
	assert.True(t, FileExists(file))
	assert.False(t, FileExists(dir))
	assert.False(t, FileExists(filepath.Join(dir, "absent")))
}
