package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"spreadtap/internal/state"
	"spreadtap/internal/storage"
)

func TestParseSQLiteTime_TableDriven(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		wantUTC string
		wantErr bool
	}{
		{name: "rfc3339nano", in: "2026-01-27T12:17:08.123456789Z", wantUTC: "2026-01-27T12:17:08.123456789Z"},
		{name: "rfc3339", in: "2026-01-27T12:17:08Z", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "rfc3339_offset", in: "2026-01-27T13:17:08+01:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_space_tz", in: "2026-01-27 12:17:08+00:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_space_tz_nanos", in: "2026-01-27 12:17:08.000000000+00:00", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "sqlite_no_tz_assume_utc", in: "2026-01-27 12:17:08", wantUTC: "2026-01-27T12:17:08Z"},
		{name: "empty", in: "  ", wantErr: true},
		{name: "invalid", in: "not-a-time", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseSQLiteTime(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseSQLiteTime(%q) err=%v wantErr=%v", tt.in, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			want, err := time.Parse(time.RFC3339Nano, tt.wantUTC)
			if err != nil {
				t.Fatalf("bad fixture %q: %v", tt.wantUTC, err)
			}
			if !got.Equal(want) || got.Location() != time.UTC {
				t.Fatalf("got=%s want=%s", got.Format(time.RFC3339Nano), want.Format(time.RFC3339Nano))
			}
		})
	}
}

func TestFormatSQLiteTime_RoundTrip(t *testing.T) {
	t.Parallel()
	in := time.Date(2026, 1, 27, 12, 17, 8, 123, time.FixedZone("X", 3600))
	got, err := parseSQLiteTime(formatSQLiteTime(in))
	if err != nil {
		t.Fatalf("parseSQLiteTime(formatSQLiteTime()) err=%v", err)
	}
	if !got.Equal(in) {
		t.Fatalf("round trip mismatch: got=%s want=%s", got, in.UTC())
	}
}

// TestStoreSaveLoad runs against a real database file.
func TestStoreSaveLoad(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "state.db")

	s, err := storage.New(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)

	empty, err := s.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, empty)

	jan := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	feb := time.Date(2020, 2, 1, 12, 30, 0, 5000, time.UTC)

	st := state.New()
	st.Advance("orders", jan)
	st["pending"] = state.TableState{}
	require.NoError(t, s.Save(ctx, st))

	st.Advance("orders", feb)
	st.MarkInitialSyncComplete("orders")
	require.NoError(t, s.Save(ctx, st))
	require.NoError(t, s.Close())

	// Reopen to prove the write is durable.
	s, err = storage.New(ctx, storage.Config{Kind: "sqlite", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"orders", "pending"}, got.Tables())
	require.True(t, got["orders"].ModifiedSince.Equal(feb))
	require.True(t, got["orders"].InitialSyncComplete)
	require.Nil(t, got["pending"].ModifiedSince)
	require.False(t, got["pending"].InitialSyncComplete)
}
