package dict

import (
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustDict(t *testing.T, files map[string]string) *Dictionary {
	t.Helper()
	entries := make([]*FileEntry, 0, len(files))
	for path, content := range files {
		entries = append(entries, &FileEntry{
			Path:   path,
			Size:   int64(len(content)),
			Digest: sha256.Sum256([]byte(content)),
		})
	}
	d, err := FromEntries(entries)
	require.NoError(t, err)
	return d
}

func TestDiffReflexivity(t *testing.T) {
	d := mustDict(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	cs := Diff(d, d)
	assert.True(t, cs.Empty())
	assert.Empty(t, cs.Added)
	assert.Empty(t, cs.Modified)
	assert.Empty(t, cs.Removed)
	assert.Len(t, cs.Unchanged, 2)
}

func TestDiffEmptyLocal(t *testing.T) {
	ref := mustDict(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})

	cs := Diff(ref, Empty())
	assert.Equal(t, []string{"a.txt", "b.txt"}, cs.Added)
	assert.Empty(t, cs.Removed)
	assert.Equal(t, []string{"a.txt", "b.txt"}, cs.TransferList())
}

func TestDiffDisjoint(t *testing.T) {
	ref := mustDict(t, map[string]string{"x.txt": "x", "y.txt": "y"})
	local := mustDict(t, map[string]string{"p.txt": "p", "q.txt": "q"})

	cs := Diff(ref, local)
	assert.Equal(t, []string{"x.txt", "y.txt"}, cs.Added)
	assert.Equal(t, []string{"p.txt", "q.txt"}, cs.Removed)
	assert.Empty(t, cs.Modified)
	assert.Empty(t, cs.Unchanged)
}

func TestDiffModified(t *testing.T) {
	ref := mustDict(t, map[string]string{"a.txt": "new content"})
	local := mustDict(t, map[string]string{"a.txt": "old content"})

	cs := Diff(ref, local)
	assert.Equal(t, []string{"a.txt"}, cs.Modified)
	assert.False(t, cs.Empty())
}

// The concrete scenario: ref = {a, b}, local = {a, c} with identical a.
func TestDiffScenario(t *testing.T) {
	ref := mustDict(t, map[string]string{"a.txt": "alpha", "b.txt": "beta"})
	local := mustDict(t, map[string]string{"a.txt": "alpha", "c.txt": "gamma"})

	cs := Diff(ref, local)
	assert.Equal(t, []string{"b.txt"}, cs.Added)
	assert.Empty(t, cs.Modified)
	assert.Equal(t, []string{"c.txt"}, cs.Removed)
	assert.Equal(t, []string{"a.txt"}, cs.Unchanged)
}

func TestDiffDeterministic(t *testing.T) {
	ref := mustDict(t, map[string]string{"a": "1", "b": "2", "c": "3"})
	local := mustDict(t, map[string]string{"b": "2", "c": "changed", "d": "4"})

	first := Diff(ref, local)
	for range 10 {
		assert.Equal(t, first, Diff(ref, local))
	}
}
