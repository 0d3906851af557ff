package dict

import (
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
)

type jsonEntry struct {
	Size    int64  `json:"size"`
	Digest  string `json:"sha256"`
	ModTime string `json:"mtime,omitempty"`
}

// EncodeJSON writes d to w as a `{path: {size, sha256, mtime}}` document.
// Object keys are emitted sorted, so the output is deterministic. This is
// the human-facing form; the wire and on-disk form is the binary Store
// format.
func EncodeJSON(w io.Writer, d *Dictionary) error {
	doc := make(map[string]jsonEntry, d.Len())
	for _, entry := range d.Entries() {
		je := jsonEntry{
			Size:   entry.Size,
			Digest: entry.Digest.String(),
		}
		if !entry.ModTime.IsZero() {
			je.ModTime = entry.ModTime.UTC().Format(time.RFC3339)
		}
		doc[entry.Path] = je
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode dictionary json: %w", err)
	}
	return nil
}
