// Package singer writes Singer tap messages and models the catalog
// exchanged with Singer targets.
//
// Messages are newline-delimited JSON on a single writer (stdout in the
// CLI). Each message is flushed as soon as it is written so that a STATE
// message is never buffered behind records.
package singer

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"spreadtap/internal/schema"
	"spreadtap/pkg/records"
)

// Message types.
const (
	TypeSchema          = "SCHEMA"
	TypeRecord          = "RECORD"
	TypeState           = "STATE"
	TypeActivateVersion = "ACTIVATE_VERSION"
)

type SchemaMessage struct {
	Type          string        `json:"type"`
	Stream        string        `json:"stream"`
	Schema        *schema.Table `json:"schema"`
	KeyProperties []string      `json:"key_properties"`
}

type RecordMessage struct {
	Type          string          `json:"type"`
	Stream        string          `json:"stream"`
	Record        *records.Record `json:"record"`
	Version       *int64          `json:"version,omitempty"`
	TimeExtracted *time.Time      `json:"time_extracted,omitempty"`
}

type StateMessage struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type ActivateVersionMessage struct {
	Type    string `json:"type"`
	Stream  string `json:"stream"`
	Version int64  `json:"version"`
}

// Writer serialises messages to an underlying stream.
type Writer struct {
	mu  sync.Mutex
	bw  *bufio.Writer
	enc *json.Encoder
}

// NewWriter returns a Writer on w.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	enc.SetEscapeHTML(false)
	return &Writer{bw: bw, enc: enc}
}

func (w *Writer) write(m any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.enc.Encode(m); err != nil {
		return fmt.Errorf("singer: encode message: %w", err)
	}
	if err := w.bw.Flush(); err != nil {
		return fmt.Errorf("singer: flush: %w", err)
	}
	return nil
}

// Schema writes a SCHEMA message.
func (w *Writer) Schema(stream string, s *schema.Table, keyProperties []string) error {
	if keyProperties == nil {
		keyProperties = []string{}
	}
	return w.write(SchemaMessage{Type: TypeSchema, Stream: stream, Schema: s, KeyProperties: keyProperties})
}

// Record writes a RECORD message. A zero version is omitted.
func (w *Writer) Record(stream string, rec *records.Record, version int64, extracted time.Time) error {
	m := RecordMessage{Type: TypeRecord, Stream: stream, Record: rec}
	if version != 0 {
		m.Version = &version
	}
	if !extracted.IsZero() {
		ts := extracted.UTC()
		m.TimeExtracted = &ts
	}
	return w.write(m)
}

// State writes a STATE message carrying value.
func (w *Writer) State(value any) error {
	return w.write(StateMessage{Type: TypeState, Value: value})
}

// ActivateVersion writes an ACTIVATE_VERSION message.
func (w *Writer) ActivateVersion(stream string, version int64) error {
	return w.write(ActivateVersionMessage{Type: TypeActivateVersion, Stream: stream, Version: version})
}
