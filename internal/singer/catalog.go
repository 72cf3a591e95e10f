package singer

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"spreadtap/internal/schema"
)

// Catalog is the discovery output and the sync input.
type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

// CatalogEntry describes one stream.
type CatalogEntry struct {
	TapStreamID   string        `json:"tap_stream_id"`
	Stream        string        `json:"stream"`
	Schema        *schema.Table `json:"schema"`
	KeyProperties []string      `json:"key_properties"`
	Metadata      []Metadata    `json:"metadata"`
}

// Metadata is one breadcrumb-addressed metadata block. The empty breadcrumb
// addresses the stream itself.
type Metadata struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// IsSelected reports whether the stream should be synced: either the schema
// carries "selected": true or the stream-level metadata does.
func (e CatalogEntry) IsSelected() bool {
	if e.Schema != nil && e.Schema.Selected {
		return true
	}
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 0 {
			continue
		}
		if sel, ok := m.Metadata["selected"].(bool); ok && sel {
			return true
		}
	}
	return false
}

// Selected returns the selected streams in catalog order.
func (c *Catalog) Selected() []CatalogEntry {
	var out []CatalogEntry
	for _, e := range c.Streams {
		if e.IsSelected() {
			out = append(out, e)
		}
	}
	return out
}

// Stream returns the entry with the given tap_stream_id.
func (c *Catalog) Stream(id string) (CatalogEntry, bool) {
	for _, e := range c.Streams {
		if e.TapStreamID == id {
			return e, true
		}
	}
	return CatalogEntry{}, false
}

// Encode writes the catalog as indented JSON.
func (c *Catalog) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(c)
}

// DecodeCatalog reads a catalog. Entries without a stream name take their
// tap_stream_id.
func DecodeCatalog(r io.Reader) (*Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return nil, fmt.Errorf("singer: decode catalog: %w", err)
	}
	for i := range c.Streams {
		if c.Streams[i].Stream == "" {
			c.Streams[i].Stream = c.Streams[i].TapStreamID
		}
	}
	return &c, nil
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("singer: open catalog: %w", err)
	}
	defer f.Close()
	return DecodeCatalog(f)
}
