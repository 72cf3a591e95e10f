package tap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"spreadtap/internal/config"
	"spreadtap/internal/schema"
	"spreadtap/internal/singer"
	"spreadtap/internal/state"
)

// catalogFor builds a selected catalog with an id/name schema for each spec.
func catalogFor(specs ...config.TableSpec) *singer.Catalog {
	cat := &singer.Catalog{}
	for _, s := range specs {
		tbl := schema.NewTable()
		tbl.Set("id", schema.Of(schema.TypeInteger))
		tbl.Set("name", schema.Nullable(schema.TypeString))
		cat.Streams = append(cat.Streams, singer.CatalogEntry{
			TapStreamID:   s.Name,
			Stream:        s.Name,
			Schema:        tbl,
			KeyProperties: s.KeyProperties,
			Metadata:      []singer.Metadata{},
		})
	}
	return cat
}

//
// budget and watermark
//

// TestSyncResumesAfterBudget runs two 10-record files against a budget of
// 15: the first run stops five records into file 2 with the watermark on
// file 1, the second run re-reads file 2 from its start.
func TestSyncResumesAfterBudget(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMemStore("mem://a").
		put("orders/1.csv", csvRows(1, 10), feb1).
		put("orders/2.csv", csvRows(11, 10), mar1)
	spec := tableSpec("orders", "mem://a", `orders/.*\.csv`)
	spec.MaxRecordsPerRun = budget(15)

	em, ck := &recorder{}, &memCheckpointer{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, ck, nil)

	cat, drep := tp.Discover(ctx)
	require.Zero(t, drep.Count(StatusSkipped))

	st := state.New()
	rep, err := tp.Sync(ctx, st, cat)
	require.NoError(t, err)

	o, ok := rep.Outcome("orders")
	require.True(t, ok)
	assert.Equal(t, StatusTruncated, o.Status)
	assert.Equal(t, 1, o.Files)
	assert.Equal(t, 15, o.Records)

	recs := em.records("orders")
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}, ids(t, recs))
	assert.Equal(t, "orders/2.csv", textField(t, recs[14], FieldSourceFile))
	assert.Equal(t, int64(5), intField(t, recs[14], FieldSourceLineno))
	assert.Equal(t, "mem://a", textField(t, recs[0], FieldSourceBucket))
	assert.Equal(t, int64(1), intField(t, recs[0], FieldSourceLineno))

	require.True(t, st["orders"].ModifiedSince.Equal(feb1))
	require.Len(t, ck.saves, 1)
	require.True(t, ck.saves[0]["orders"].ModifiedSince.Equal(feb1))

	em.reset()
	rep, err = tp.Sync(ctx, st, cat)
	require.NoError(t, err)
	o, _ = rep.Outcome("orders")
	assert.Equal(t, StatusOK, o.Status)

	recs = em.records("orders")
	require.Equal(t, []int64{11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, ids(t, recs))
	assert.Equal(t, int64(1), intField(t, recs[0], FieldSourceLineno))
	require.True(t, st["orders"].ModifiedSince.Equal(mar1))
}

// TestSyncExactBudget verifies that a file which exactly fills the budget
// counts as processed.
func TestSyncExactBudget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		budget    int
		status    Status
		files     int
		watermark time.Time
	}{
		{name: "fills_on_first_file", budget: 3, status: StatusTruncated, files: 1, watermark: feb1},
		{name: "fills_on_last_file", budget: 5, status: StatusOK, files: 2, watermark: mar1},
		{name: "mid_first_file", budget: 2, status: StatusTruncated, files: 0},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			store := newMemStore("mem://a").
				put("t/a.csv", csvRows(1, 3), feb1).
				put("t/b.csv", csvRows(4, 2), mar1)
			spec := tableSpec("t", "mem://a", `\.csv$`)
			spec.MaxRecordsPerRun = budget(tc.budget)

			em, ck := &recorder{}, &memCheckpointer{}
			tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, ck, nil)

			st := state.New()
			rep, err := tp.Sync(context.Background(), st, catalogFor(spec))
			require.NoError(t, err)

			o, _ := rep.Outcome("t")
			require.Equal(t, tc.status, o.Status)
			require.Equal(t, tc.files, o.Files)
			require.Equal(t, tc.budget, o.Records)
			require.Len(t, em.records("t"), tc.budget)
			require.Len(t, ck.saves, tc.files)

			if tc.watermark.IsZero() {
				require.Nil(t, st["t"].ModifiedSince)
				require.True(t, st.Watermark("t", spec.Start()).Equal(jan1))
				return
			}
			require.True(t, st["t"].ModifiedSince.Equal(tc.watermark))
		})
	}
}

// TestSyncSkipsFilesAtWatermark verifies that only files strictly newer than
// the stored watermark are read.
func TestSyncSkipsFilesAtWatermark(t *testing.T) {
	t.Parallel()

	store := newMemStore("mem://a").
		put("old.csv", csvRows(1, 1), feb1).
		put("new.csv", csvRows(2, 1), mar1)
	spec := tableSpec("t", "mem://a", `\.csv$`)
	em := &recorder{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, nil, nil)

	st := state.New()
	st.Advance("t", feb1)
	_, err := tp.Sync(context.Background(), st, catalogFor(spec))
	require.NoError(t, err)

	require.Equal(t, []int64{2}, ids(t, em.records("t")))
	require.Equal(t, []string{"new.csv"}, store.opens)
}

//
// full-table replace
//

// TestSyncFullReplaceEpoch covers the version lifecycle over two runs of
// an unchanged single file.
func TestSyncFullReplaceEpoch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMemStore("mem://a").put("sheet.csv", csvRows(1, 5), feb1)
	spec := tableSpec("sheet", "mem://a", `sheet`)
	spec.FullTableReplace = true

	em := &recorder{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, nil, nil)
	cat := catalogFor(spec)

	st := state.New()
	_, err := tp.Sync(ctx, st, cat)
	require.NoError(t, err)

	require.Equal(t, []string{
		"SCHEMA", "ACTIVATE_VERSION",
		"RECORD", "RECORD", "RECORD", "RECORD", "RECORD",
		"STATE", "ACTIVATE_VERSION", "STATE",
	}, em.types())

	v := em.msgs[1].Version
	require.Equal(t, fixedClock().UnixMilli(), v)
	for _, m := range em.msgs[1:] {
		if m.Type == "RECORD" || m.Type == "ACTIVATE_VERSION" {
			require.Equal(t, v, m.Version, "%s carries a different version", m.Type)
		}
	}
	require.True(t, st["sheet"].InitialSyncComplete)

	em.reset()
	_, err = tp.Sync(ctx, st, cat)
	require.NoError(t, err)
	require.Equal(t, []string{"SCHEMA"}, em.types())
}

// TestSyncFullReplaceEmptyFirstRun verifies the epoch opens exactly once
// even when the first run finds no files.
func TestSyncFullReplaceEmptyFirstRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := newMemStore("mem://a")
	spec := tableSpec("sheet", "mem://a", `sheet`)
	spec.FullTableReplace = true

	em, ck := &recorder{}, &memCheckpointer{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, ck, nil)

	st := state.New()
	_, err := tp.Sync(ctx, st, catalogFor(spec))
	require.NoError(t, err)
	require.Equal(t, []string{"SCHEMA", "ACTIVATE_VERSION", "ACTIVATE_VERSION", "STATE"}, em.types())
	require.Len(t, ck.saves, 1)
	require.True(t, ck.saves[0]["sheet"].InitialSyncComplete)

	em.reset()
	store.put("sheet.csv", csvRows(1, 2), feb1)
	_, err = tp.Sync(ctx, st, catalogFor(spec))
	require.NoError(t, err)
	require.Equal(t, []string{"SCHEMA", "RECORD", "RECORD", "STATE", "ACTIVATE_VERSION"}, em.types())
}

// TestSyncFullReplaceTruncated verifies no end-of-epoch signal is sent when
// the budget stops the run.
func TestSyncFullReplaceTruncated(t *testing.T) {
	t.Parallel()

	store := newMemStore("mem://a").
		put("a.csv", csvRows(1, 3), feb1).
		put("b.csv", csvRows(4, 3), mar1)
	spec := tableSpec("sheet", "mem://a", `\.csv$`)
	spec.FullTableReplace = true
	spec.MaxRecordsPerRun = budget(3)

	em := &recorder{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, nil, nil)

	st := state.New()
	rep, err := tp.Sync(context.Background(), st, catalogFor(spec))
	require.NoError(t, err)
	require.Equal(t, 1, rep.Count(StatusTruncated))
	require.Equal(t, []string{"SCHEMA", "ACTIVATE_VERSION", "RECORD", "RECORD", "RECORD", "STATE"}, em.types())
	require.False(t, st["sheet"].InitialSyncComplete)
}

// TestNextVersionStrictlyIncreases verifies versions never repeat under a
// frozen clock.
func TestNextVersionStrictlyIncreases(t *testing.T) {
	t.Parallel()

	tp := newTestTap(t, &config.Config{}, nil, &recorder{}, nil, nil)
	a, b, c := tp.nextVersion(), tp.nextVersion(), tp.nextVersion()
	require.Equal(t, fixedClock().UnixMilli(), a)
	require.Equal(t, a+1, b)
	require.Equal(t, b+1, c)
}

//
// invalid input and skips
//

func jsonStore() *memStore {
	return newMemStore("mem://j").
		put("ev/1.json", `[{"id":1},{"id":2}]`, feb1).
		put("ev/2.json", `[{"id":3},{"id":`, mar1).
		put("ev/3.json", `[{"id":4}]`, mar1.Add(24*time.Hour))
}

// TestSyncInvalidFormatFail verifies the failing table stops at its last
// good file while other tables still run.
func TestSyncInvalidFormatFail(t *testing.T) {
	t.Parallel()

	events := tableSpec("events", "mem://j", `\.json$`)
	events.Format = config.FormatJSON
	orders := tableSpec("orders", "mem://a", `\.csv$`)
	csvs := newMemStore("mem://a").put("o.csv", csvRows(1, 2), feb1)

	em, ck := &recorder{}, &memCheckpointer{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{events, orders}},
		[]*memStore{jsonStore(), csvs}, em, ck, nil)

	st := state.New()
	rep, err := tp.Sync(context.Background(), st, catalogFor(events, orders))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "table events")
	assert.Contains(t, err.Error(), "ev/2.json")

	o, _ := rep.Outcome("events")
	assert.Equal(t, StatusFailed, o.Status)
	assert.Equal(t, 1, o.Files)
	require.True(t, st["events"].ModifiedSince.Equal(feb1))
	assert.Equal(t, []int64{1, 2, 3}, ids(t, em.records("events")))

	o, _ = rep.Outcome("orders")
	assert.Equal(t, StatusOK, o.Status)
	assert.Equal(t, []int64{1, 2}, ids(t, em.records("orders")))
}

// TestSyncInvalidFormatIgnore verifies that ignored files still advance the
// watermark and that bad records are dropped from the line count.
func TestSyncInvalidFormatIgnore(t *testing.T) {
	t.Parallel()

	store := jsonStore().put("ev/4.json", `[{"id":5}, 7, {"id":6}]`, mar1.Add(48*time.Hour))
	events := tableSpec("events", "mem://j", `\.json$`)
	events.Format = config.FormatJSON
	events.InvalidFormatAction = config.ActionIgnore

	core, logs := observer.New(zap.WarnLevel)
	em := &recorder{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{events}}, []*memStore{store}, em, nil, zap.New(core))

	st := state.New()
	rep, err := tp.Sync(context.Background(), st, catalogFor(events))
	require.NoError(t, err)

	o, _ := rep.Outcome("events")
	require.Equal(t, StatusOK, o.Status)
	require.Equal(t, 4, o.Files)
	require.True(t, st["events"].ModifiedSince.Equal(mar1.Add(48*time.Hour)))

	recs := em.records("events")
	require.Equal(t, []int64{1, 2, 3, 4, 5, 6}, ids(t, recs))
	require.Equal(t, int64(2), intField(t, recs[5], FieldSourceLineno))

	require.Equal(t, 1, logs.FilterMessage("skipping rest of unreadable file").Len())
	require.Equal(t, 1, logs.FilterMessage("skipping unreadable record").Len())
}

// TestSyncEmitterFailure verifies a broken output fails the table even when
// format errors are ignored.
func TestSyncEmitterFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore("mem://a").put("a.csv", csvRows(1, 2), feb1)
	spec := tableSpec("t", "mem://a", `\.csv$`)
	spec.InvalidFormatAction = config.ActionIgnore

	em := &recorder{fail: errors.New("stdout closed")}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, nil, nil)

	st := state.New()
	rep, err := tp.Sync(context.Background(), st, catalogFor(spec))
	require.ErrorContains(t, err, "stdout closed")
	o, _ := rep.Outcome("t")
	require.Equal(t, StatusFailed, o.Status)
	require.Nil(t, st["t"].ModifiedSince)
}

type failingCheckpointer struct{}

func (failingCheckpointer) Save(context.Context, state.State) error { return errors.New("disk full") }

// TestSyncCheckpointFailure verifies a failed persist stops the table.
func TestSyncCheckpointFailure(t *testing.T) {
	t.Parallel()

	store := newMemStore("mem://a").
		put("a.csv", csvRows(1, 1), feb1).
		put("b.csv", csvRows(2, 1), mar1)
	spec := tableSpec("t", "mem://a", `\.csv$`)
	em := &recorder{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, failingCheckpointer{}, nil)

	rep, err := tp.Sync(context.Background(), state.New(), catalogFor(spec))
	require.ErrorContains(t, err, "disk full")
	o, _ := rep.Outcome("t")
	require.Equal(t, StatusFailed, o.Status)
	require.Equal(t, []string{"a.csv"}, store.opens)
}

// TestSyncStreamWithoutConfig verifies unknown streams are skipped with a
// warning and unselected streams are left alone.
func TestSyncStreamWithoutConfig(t *testing.T) {
	t.Parallel()

	store := newMemStore("mem://a").put("a.csv", csvRows(1, 1), feb1)
	spec := tableSpec("orders", "mem://a", `\.csv$`)
	ghost := tableSpec("ghost", "mem://a", `x`)
	off := tableSpec("off", "mem://a", `x`)

	cat := catalogFor(spec, ghost, off)
	cat.Streams[2].Schema.Selected = false

	core, logs := observer.New(zap.WarnLevel)
	em := &recorder{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec, off}}, []*memStore{store}, em, nil, zap.New(core))

	rep, err := tp.Sync(context.Background(), state.New(), cat)
	require.NoError(t, err)

	o, ok := rep.Outcome("ghost")
	require.True(t, ok)
	require.Equal(t, StatusSkipped, o.Status)
	require.Contains(t, o.Reason(), "no table config")
	_, ok = rep.Outcome("off")
	require.False(t, ok)

	entries := logs.FilterMessage("skipping stream without a config block").All()
	require.Len(t, entries, 1)
	require.Equal(t, "ghost", entries[0].ContextMap()["table"])
}

// TestSyncReappliesOverrides verifies config overrides edited after
// discovery reach both the SCHEMA message and the coerced records.
func TestSyncReappliesOverrides(t *testing.T) {
	t.Parallel()

	store := newMemStore("mem://a").put("a.csv", csvRows(7, 1), feb1)
	spec := tableSpec("t", "mem://a", `\.csv$`)
	cat := catalogFor(spec)

	spec.SchemaOverrides = map[string]schema.Override{"id": {Type: schema.Of(schema.TypeString)}}
	em := &recorder{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{spec}}, []*memStore{store}, em, nil, nil)

	_, err := tp.Sync(context.Background(), state.New(), cat)
	require.NoError(t, err)

	require.Equal(t, "SCHEMA", em.msgs[0].Type)
	f, _ := em.msgs[0].Schema.Field("id")
	require.True(t, f.Equal(schema.Of(schema.TypeString)), "id = %s", f)
	require.Equal(t, []string{"id"}, em.msgs[0].Keys)

	recs := em.records("t")
	require.Len(t, recs, 1)
	require.Equal(t, "7", textField(t, recs[0], "id"))
}

// TestSyncNilCatalogDiscovers verifies Sync discovers when no catalog is
// given and reports tables discovery skipped.
func TestSyncNilCatalogDiscovers(t *testing.T) {
	t.Parallel()

	store := newMemStore("mem://a").put("a.csv", csvRows(1, 2), feb1)
	good := tableSpec("good", "mem://a", `\.csv$`)
	bad := tableSpec("bad", "mem://nowhere", `\.csv$`)

	em := &recorder{}
	tp := newTestTap(t, &config.Config{Tables: []config.TableSpec{good, bad}}, []*memStore{store}, em, nil, nil)

	rep, err := tp.Sync(context.Background(), state.New(), nil)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, ids(t, em.records("good")))

	o, _ := rep.Outcome("bad")
	require.Equal(t, StatusSkipped, o.Status)
	o, _ = rep.Outcome("good")
	require.Equal(t, StatusOK, o.Status)
}
