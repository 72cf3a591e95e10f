package storage

import (
	"context"
	"testing"
	"time"

	"spreadtap/internal/state"
)

type memStore struct{ st state.State }

func (m *memStore) Load(context.Context) (state.State, error) {
	return m.st.Clone(), nil
}

func (m *memStore) Save(_ context.Context, st state.State) error {
	m.st = st.Clone()
	return nil
}

func (m *memStore) Close() error {
	return nil
}

// TestRegister verifies lookup and the misuse panics.
func TestRegister(t *testing.T) {
	Register("test-mem", func(context.Context, Config) (Store, error) { return &memStore{st: state.New()}, nil })

	s, err := New(context.Background(), Config{Kind: "test-mem"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if _, err := New(context.Background(), Config{}); err == nil {
		t.Fatalf("New() with empty kind should fail")
	}
	if _, err := New(context.Background(), Config{Kind: "nope"}); err == nil {
		t.Fatalf("New() with unknown kind should fail")
	}

	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}
	mustPanic("empty kind", func() { Register("", func(context.Context, Config) (Store, error) { return nil, nil }) })
	mustPanic("nil factory", func() { Register("x", nil) })
	mustPanic("duplicate", func() {
		Register("test-mem", func(context.Context, Config) (Store, error) { return nil, nil })
	})
}

// TestRowsRoundTrip verifies the row form is sorted and lossless.
func TestRowsRoundTrip(t *testing.T) {
	t.Parallel()

	st := state.New()
	st.Advance("b", time.Date(2020, 2, 1, 0, 0, 0, 0, time.FixedZone("x", 7200)))
	st.MarkInitialSyncComplete("a")

	rows := Rows(st)
	if len(rows) != 2 || rows[0].Table != "a" || rows[1].Table != "b" {
		t.Fatalf("Rows() = %+v, want tables [a b]", rows)
	}
	if rows[0].ModifiedSince != nil || !rows[0].InitialSyncComplete {
		t.Fatalf("Rows()[0] = %+v", rows[0])
	}
	if rows[1].ModifiedSince.Location() != time.UTC {
		t.Fatalf("Rows() should normalise to UTC, got %v", rows[1].ModifiedSince.Location())
	}

	back := FromRows(rows)
	if !back["b"].ModifiedSince.Equal(*st["b"].ModifiedSince) || !back["a"].InitialSyncComplete {
		t.Fatalf("FromRows() = %+v", back)
	}
}

// TestWatermarkText verifies that the text form keeps every nanosecond.
func TestWatermarkText(t *testing.T) {
	at := time.Date(2024, 1, 1, 0, 0, 0, 123456789, time.FixedZone("X", 3600))

	s := FormatWatermark(at)
	if s != "2023-12-31T23:00:00.123456789Z" {
		t.Fatalf("FormatWatermark() = %q", s)
	}
	got, err := ParseWatermark(s)
	if err != nil {
		t.Fatalf("ParseWatermark() error = %v", err)
	}
	if !got.Equal(at) || got.Location() != time.UTC {
		t.Fatalf("ParseWatermark() = %v, want %v in UTC", got, at)
	}
	if _, err := ParseWatermark("not a time"); err == nil {
		t.Fatalf("ParseWatermark() should reject junk")
	}
}
