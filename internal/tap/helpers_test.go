package tap

import (
	"context"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"spreadtap/internal/config"
	"spreadtap/internal/schema"
	"spreadtap/internal/source"
	"spreadtap/internal/state"
	"spreadtap/pkg/records"
)

var (
	jan1 = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	feb1 = time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	mar1 = time.Date(2020, 3, 1, 0, 0, 0, 0, time.UTC)
)

type memFile struct {
	body string
	mod  time.Time
}

// memStore is an in-memory source.Store.
type memStore struct {
	root  string
	files map[string]memFile
	opens []string
}

func newMemStore(root string) *memStore {
	return &memStore{root: root, files: make(map[string]memFile)}
}

func (m *memStore) put(key, body string, mod time.Time) *memStore {
	m.files[key] = memFile{body: body, mod: mod}
	return m
}

func (m *memStore) Root() string { return m.root }

func (m *memStore) List(_ context.Context, prefix string) ([]source.Object, error) {
	var out []source.Object
	for k, f := range m.files {
		if strings.HasPrefix(k, prefix) {
			out = append(out, source.Object{Key: k, LastModified: f.mod, Size: int64(len(f.body))})
		}
	}
	return out, nil
}

func (m *memStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	m.opens = append(m.opens, key)
	f, ok := m.files[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", source.ErrNotFound, key)
	}
	return io.NopCloser(strings.NewReader(f.body)), nil
}

// message is one captured Singer message.
type message struct {
	Type    string
	Stream  string
	Schema  *schema.Table
	Keys    []string
	Record  *records.Record
	Version int64
	State   state.State
}

// recorder is an Emitter that keeps every message.
type recorder struct {
	msgs []message
	fail error
}

func (r *recorder) Schema(stream string, s *schema.Table, keys []string) error {
	r.msgs = append(r.msgs, message{Type: "SCHEMA", Stream: stream, Schema: s.Clone(), Keys: keys})
	return nil
}

func (r *recorder) Record(stream string, rec *records.Record, version int64, _ time.Time) error {
	if r.fail != nil {
		return r.fail
	}
	r.msgs = append(r.msgs, message{Type: "RECORD", Stream: stream, Record: rec.Clone(), Version: version})
	return nil
}

func (r *recorder) State(value any) error {
	r.msgs = append(r.msgs, message{Type: "STATE", State: value.(state.State).Clone()})
	return nil
}

func (r *recorder) ActivateVersion(stream string, version int64) error {
	r.msgs = append(r.msgs, message{Type: "ACTIVATE_VERSION", Stream: stream, Version: version})
	return nil
}

func (r *recorder) types() []string {
	out := make([]string, len(r.msgs))
	for i, m := range r.msgs {
		out[i] = m.Type
	}
	return out
}

func (r *recorder) records(stream string) []*records.Record {
	var out []*records.Record
	for _, m := range r.msgs {
		if m.Type == "RECORD" && m.Stream == stream {
			out = append(out, m.Record)
		}
	}
	return out
}

func (r *recorder) reset() { r.msgs = nil }

// memCheckpointer records every Save.
type memCheckpointer struct {
	saves []state.State
}

func (c *memCheckpointer) Save(_ context.Context, st state.State) error {
	c.saves = append(c.saves, st.Clone())
	return nil
}

// fixedClock always returns the same instant.
func fixedClock() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func newTestTap(t *testing.T, cfg *config.Config, stores []*memStore, em Emitter, ck Checkpointer, log *zap.Logger) *Tap {
	t.Helper()
	byRoot := make(map[string]*memStore, len(stores))
	for _, s := range stores {
		byRoot[s.root] = s
	}
	if log == nil {
		log = zap.NewNop()
	}
	tp, err := New(Options{
		Config:       cfg,
		Emitter:      em,
		Checkpointer: ck,
		Logger:       log,
		Now:          fixedClock,
		OpenStore: func(_ context.Context, root string) (source.Store, error) {
			s, ok := byRoot[root]
			if !ok {
				return nil, fmt.Errorf("%w: %s", source.ErrUnsupportedScheme, root)
			}
			return s, nil
		},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return tp
}

func csvRows(from, n int) string {
	var b strings.Builder
	b.WriteString("id,name\n")
	for i := from; i < from+n; i++ {
		fmt.Fprintf(&b, "%d,row%d\n", i, i)
	}
	return b.String()
}

func tableSpec(name, root, pattern string) config.TableSpec {
	return config.TableSpec{
		Path:          root,
		Name:          name,
		Pattern:       pattern,
		StartDate:     "2020-01-01T00:00:00Z",
		KeyProperties: []string{"id"},
		Format:        config.FormatCSV,
	}
}

func budget(n int) *int { return &n }

func ids(t *testing.T, recs []*records.Record) []int64 {
	t.Helper()
	out := make([]int64, 0, len(recs))
	for _, r := range recs {
		v, _ := r.Get("id")
		i, ok := v.Int()
		if !ok {
			t.Fatalf("id %v is not an integer", v)
		}
		out = append(out, i)
	}
	return out
}

func intField(t *testing.T, r *records.Record, name string) int64 {
	t.Helper()
	v, _ := r.Get(name)
	i, ok := v.Int()
	if !ok {
		t.Fatalf("%s=%v is not an integer", name, v)
	}
	return i
}

func textField(t *testing.T, r *records.Record, name string) string {
	t.Helper()
	v, _ := r.Get(name)
	s, ok := v.Text()
	if !ok {
		t.Fatalf("%s=%v is not text", name, v)
	}
	return s
}
