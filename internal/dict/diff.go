package dict

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
)

// Changeset partitions the union of two Dictionaries' paths into exactly
// one of Added, Modified, Removed or Unchanged. Computed per sync and
// discarded after use.
type Changeset struct {
	Added     []string
	Modified  []string
	Removed   []string
	Unchanged []string
}

// Diff compares local against the authoritative reference:
//
//   - path only in reference        -> Added
//   - in both, digests differ       -> Modified
//   - in both, digests equal        -> Unchanged
//   - path only in local            -> Removed
//
// Pure and deterministic; Diff(d, d) is empty for any d. All slices are
// sorted.
func Diff(reference, local *Dictionary) *Changeset {
	refPaths := mapset.NewThreadUnsafeSet(reference.Paths()...)
	localPaths := mapset.NewThreadUnsafeSet(local.Paths()...)

	cs := &Changeset{}
	for path := range refPaths.Union(localPaths).Iter() {
		refEntry, inRef := reference.Get(path)
		localEntry, inLocal := local.Get(path)

		switch {
		case inRef && !inLocal:
			cs.Added = append(cs.Added, path)
		case !inRef && inLocal:
			cs.Removed = append(cs.Removed, path)
		case refEntry.Digest != localEntry.Digest:
			cs.Modified = append(cs.Modified, path)
		default:
			cs.Unchanged = append(cs.Unchanged, path)
		}
	}

	sort.Strings(cs.Added)
	sort.Strings(cs.Modified)
	sort.Strings(cs.Removed)
	sort.Strings(cs.Unchanged)
	return cs
}

// Empty reports whether the changeset requires no action at all.
func (c *Changeset) Empty() bool {
	return len(c.Added) == 0 && len(c.Modified) == 0 && len(c.Removed) == 0
}

// TransferList returns the paths whose bytes must be fetched from the
// reference side, in sorted order.
func (c *Changeset) TransferList() []string {
	list := make([]string, 0, len(c.Added)+len(c.Modified))
	list = append(list, c.Added...)
	list = append(list, c.Modified...)
	sort.Strings(list)
	return list
}
