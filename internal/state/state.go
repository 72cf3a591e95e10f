// Package state holds per-table sync progress: the modification-time
// watermark and whether the table has completed its first sync.
//
// The JSON form is the Singer state value:
//
//	{"orders": {"modified_since": "2020-02-01T00:00:00Z", "initial_sync_complete": true}}
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"spreadtap/pkg/records"
)

// TableState is the persisted progress of one table.
type TableState struct {
	// ModifiedSince is the LastModified of the newest fully emitted file.
	ModifiedSince *time.Time

	// InitialSyncComplete is set once a full-replace table has finished its
	// first untruncated run.
	InitialSyncComplete bool
}

type tableStateJSON struct {
	ModifiedSince       string `json:"modified_since,omitempty"`
	InitialSyncComplete bool   `json:"initial_sync_complete,omitempty"`
}

func (t TableState) MarshalJSON() ([]byte, error) {
	var j tableStateJSON
	if t.ModifiedSince != nil {
		j.ModifiedSince = t.ModifiedSince.UTC().Format(time.RFC3339Nano)
	}
	j.InitialSyncComplete = t.InitialSyncComplete
	return json.Marshal(j)
}

// UnmarshalJSON accepts any timestamp layout records.ParseTimestamp does,
// so state written by other tools (e.g. "+00:00" offsets) loads too.
func (t *TableState) UnmarshalJSON(b []byte) error {
	var j tableStateJSON
	if err := json.Unmarshal(b, &j); err != nil {
		return err
	}
	out := TableState{InitialSyncComplete: j.InitialSyncComplete}
	if j.ModifiedSince != "" {
		ts, _, ok := records.ParseTimestamp(j.ModifiedSince)
		if !ok {
			return fmt.Errorf("state: invalid modified_since %q", j.ModifiedSince)
		}
		ts = ts.UTC()
		out.ModifiedSince = &ts
	}
	*t = out
	return nil
}

// State maps table name to progress. The zero value is not usable; use New
// or Decode.
type State map[string]TableState

func New() State { return make(State) }

// Watermark returns the table's modified_since, or start when none is
// recorded.
func (s State) Watermark(table string, start time.Time) time.Time {
	if ts := s[table].ModifiedSince; ts != nil {
		return *ts
	}
	return start
}

// Advance moves the table's watermark to t. The watermark never moves
// backwards; an older t is ignored and false is returned.
func (s State) Advance(table string, t time.Time) bool {
	ts := s[table]
	if ts.ModifiedSince != nil && !t.After(*ts.ModifiedSince) {
		return false
	}
	u := t.UTC()
	ts.ModifiedSince = &u
	s[table] = ts
	return true
}

// IsInitialSync reports whether the table has never synced: it has neither a
// watermark nor the completion marker.
func (s State) IsInitialSync(table string) bool {
	ts, ok := s[table]
	return !ok || (ts.ModifiedSince == nil && !ts.InitialSyncComplete)
}

// MarkInitialSyncComplete records that the table's first sync finished.
func (s State) MarkInitialSyncComplete(table string) {
	ts := s[table]
	ts.InitialSyncComplete = true
	s[table] = ts
}

// Tables returns the table names in sorted order.
func (s State) Tables() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (s State) Clone() State {
	out := make(State, len(s))
	for k, v := range s {
		if v.ModifiedSince != nil {
			ts := *v.ModifiedSince
			v.ModifiedSince = &ts
		}
		out[k] = v
	}
	return out
}

// Merge folds other into s, keeping the later watermark and either
// completion marker per table.
func (s State) Merge(other State) {
	for k, v := range other {
		if v.ModifiedSince != nil {
			s.Advance(k, *v.ModifiedSince)
		}
		if v.InitialSyncComplete {
			s.MarkInitialSyncComplete(k)
		}
		if _, ok := s[k]; !ok {
			s[k] = TableState{}
		}
	}
}

// Decode reads a state document. An empty document is an empty state. A
// document wrapped as a STATE message ({"type":"STATE","value":{...}}) is
// unwrapped.
func Decode(r io.Reader) (State, error) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return New(), nil
		}
		return nil, fmt.Errorf("state: decode: %w", err)
	}

	if v, ok := raw["value"]; ok && string(raw["type"]) == `"STATE"` {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(v, &inner); err != nil {
			return nil, fmt.Errorf("state: decode value: %w", err)
		}
		raw = inner
	}

	out := make(State, len(raw))
	for k, v := range raw {
		var ts TableState
		if err := json.Unmarshal(v, &ts); err != nil {
			return nil, fmt.Errorf("state: table %q: %w", k, err)
		}
		out[k] = ts
	}
	return out, nil
}

// LoadFile reads a state file. A missing path is an empty state.
func LoadFile(path string) (State, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	defer f.Close()
	return Decode(f)
}
