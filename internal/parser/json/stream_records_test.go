package json

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"spreadtap/pkg/records"
)

// runStream collects every record and the positions reported to onErr.
func runStream(t *testing.T, input string, opt Options) ([]*records.Record, []int, error) {
	t.Helper()
	var (
		got   []*records.Record
		lines []int
	)
	err := StreamRecords(context.Background(), strings.NewReader(input), opt,
		func(r *records.Record) error {
			got = append(got, r)
			return nil
		},
		func(line int, _ error) error {
			lines = append(lines, line)
			return nil
		})
	return got, lines, err
}

func field(t *testing.T, r *records.Record, name string) records.Value {
	t.Helper()
	v, ok := r.Get(name)
	require.True(t, ok, "field %q missing in %v", name, r.Names())
	return v
}

// TestStreamRecordsLayouts covers every accepted document layout.
func TestStreamRecordsLayouts(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		ids   []int64
	}{
		{"root array", `[{"id":1},{"id":2}]`, []int64{1, 2}},
		{"root array then jsonl", `[{"id":1}] {"id":2}`, []int64{1, 2}},
		{"envelope", `{"meta":{"n":2},"data":[{"id":1},{"id":2}],"next":null}`, []int64{1, 2}},
		{"single object", `{"id":7}`, []int64{7}},
		{"jsonl", "{\"id\":1}\n{\"id\":2}\n{\"id\":3}\n", []int64{1, 2, 3}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, _, err := runStream(t, tt.input, Options{})
			require.NoError(t, err)
			var ids []int64
			for _, r := range got {
				id, ok := field(t, r, "id").Int()
				require.True(t, ok)
				ids = append(ids, id)
			}
			require.Equal(t, tt.ids, ids)
		})
	}
}

// TestStreamRecordsValues verifies scalar mapping, flattening and key order.
func TestStreamRecordsValues(t *testing.T) {
	t.Parallel()

	in := `[{"z":1,"a":1.5,"ok":true,"s":"x","n":null,"big":1e3,
	         "addr":{"city":"Brno","geo":{"lat":49}},"tags":["a","b"],"mixed":[1,"a"]}]`
	got, _, err := runStream(t, in, Options{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	r := got[0]

	require.Equal(t,
		[]string{"z", "a", "ok", "s", "n", "big", "addr.city", "addr.geo.lat", "tags", "mixed"},
		r.Names())

	require.Equal(t, records.KindInt, field(t, r, "z").Kind())
	require.Equal(t, records.KindFloat, field(t, r, "a").Kind())
	require.Equal(t, records.KindBool, field(t, r, "ok").Kind())
	require.True(t, field(t, r, "n").IsNull())

	// 1e3 is not a base-10 integer literal.
	f, ok := field(t, r, "big").Float()
	require.True(t, ok)
	require.Equal(t, 1000.0, f)

	city, _ := field(t, r, "addr.city").Text()
	require.Equal(t, "Brno", city)
	tags, _ := field(t, r, "tags").Text()
	require.Equal(t, "a,b", tags)
	mixed, _ := field(t, r, "mixed").Text()
	require.Equal(t, `[1,"a"]`, mixed)
}

// TestStreamRecordsArrayValueNotEnvelope verifies that a scalar array on a
// single root object stays a field.
func TestStreamRecordsArrayValueNotEnvelope(t *testing.T) {
	t.Parallel()

	got, lines, err := runStream(t, `{"id":1,"tags":["x","y"],"empty":[]}`, Options{ArrayJoin: "|"})
	require.NoError(t, err)
	require.Empty(t, lines)
	require.Len(t, got, 1)
	tags, _ := field(t, got[0], "tags").Text()
	require.Equal(t, "x|y", tags)
	require.True(t, field(t, got[0], "empty").IsNull())
}

// TestStreamRecordsJSONLinesWithNestedArrays verifies that a first line
// holding an array of objects is a record of its own, not an envelope.
func TestStreamRecordsJSONLinesWithNestedArrays(t *testing.T) {
	t.Parallel()

	input := "{\"id\":1,\"items\":[{\"sku\":\"a\"}]}\n{\"id\":2,\"items\":[{\"sku\":\"b\"}]}\n"
	got, _, err := runStream(t, input, Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	for i, want := range []struct {
		id    int64
		items string
	}{
		{1, `[{"sku":"a"}]`},
		{2, `[{"sku":"b"}]`},
	} {
		require.Equal(t, []string{"id", "items"}, got[i].Names())
		id, ok := field(t, got[i], "id").Int()
		require.True(t, ok)
		require.Equal(t, want.id, id)
		items, ok := field(t, got[i], "items").Text()
		require.True(t, ok)
		require.Equal(t, want.items, items)
	}
}

// TestStreamRecordsEnvelopeNeedsLoneObject verifies the envelope layout
// still applies when the object is the whole document.
func TestStreamRecordsEnvelopeNeedsLoneObject(t *testing.T) {
	t.Parallel()

	got, _, err := runStream(t, "  \n{\"id\":1,\"items\":[{\"sku\":\"a\"},{\"sku\":\"b\"}]}\n\n", Options{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, []string{"sku"}, got[0].Names())
}

// TestStreamRecordsNonObjectElement verifies that non-object elements are
// reported and skipped.
func TestStreamRecordsNonObjectElement(t *testing.T) {
	t.Parallel()

	got, lines, err := runStream(t, `[{"id":1}, 5, [1,2], {"id":2}]`, Options{})
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, lines)
	require.Len(t, got, 2)
}

// TestStreamRecordsSyntaxError verifies that malformed input is returned.
func TestStreamRecordsSyntaxError(t *testing.T) {
	t.Parallel()

	got, _, err := runStream(t, `[{"id":1},{"id":]`, Options{})
	require.Error(t, err)
	require.Len(t, got, 1)

	_, _, err = runStream(t, `"just a string"`, Options{})
	require.Error(t, err)
}

// TestStreamRecordsEmitError verifies that emit errors stop the stream.
func TestStreamRecordsEmitError(t *testing.T) {
	t.Parallel()

	stop := errors.New("stop")
	n := 0
	err := StreamRecords(context.Background(), strings.NewReader(`[{"a":1},{"a":2},{"a":3}]`), Options{},
		func(*records.Record) error {
			n++
			if n == 2 {
				return stop
			}
			return nil
		}, nil)
	require.ErrorIs(t, err, stop)
	require.Equal(t, 2, n)
}
