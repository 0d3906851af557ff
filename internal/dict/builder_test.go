package dict

import (
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixtureTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "debug.log"), []byte("noise"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub", "deep"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("beta"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "deep", "c.txt"), []byte("gamma"), 0o644))

	return root
}

func TestBuildRecursive(t *testing.T) {
	root := writeFixtureTree(t)

	d, err := Build(root, BuildOptions{Recursive: true})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "debug.log", "sub/b.txt", "sub/deep/c.txt"}, d.Paths())

	entry, ok := d.Get("sub/b.txt")
	require.True(t, ok)
	assert.Equal(t, int64(4), entry.Size)
	assert.Equal(t, Digest(sha256.Sum256([]byte("beta"))), entry.Digest)
	assert.False(t, entry.ModTime.IsZero())
}

func TestBuildSingleLevel(t *testing.T) {
	root := writeFixtureTree(t)

	d, err := Build(root, BuildOptions{Recursive: false})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "debug.log"}, d.Paths())
}

func TestBuildExclude(t *testing.T) {
	root := writeFixtureTree(t)

	d, err := Build(root, BuildOptions{Recursive: true, Exclude: []string{"**/*.log", "sub/deep/**"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"a.txt", "sub/b.txt"}, d.Paths())
}

func TestBuildEmptyFlag(t *testing.T) {
	root := writeFixtureTree(t)

	d, err := Build(root, BuildOptions{Empty: true})
	require.NoError(t, err)
	assert.Zero(t, d.Len())

	// The root must still exist even though its contents are ignored.
	_, err = Build(filepath.Join(root, "no-such-dir"), BuildOptions{Empty: true})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestBuildMissingRoot(t *testing.T) {
	_, err := Build(filepath.Join(t.TempDir(), "missing"), BuildOptions{Recursive: true})
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestBuildSingleFileRoot(t *testing.T) {
	root := writeFixtureTree(t)

	d, err := Build(filepath.Join(root, "a.txt"), BuildOptions{})
	require.NoError(t, err)

	require.Equal(t, 1, d.Len())
	entry, ok := d.Get("a.txt")
	require.True(t, ok)
	assert.Equal(t, Digest(sha256.Sum256([]byte("alpha"))), entry.Digest)
}
