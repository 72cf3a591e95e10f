package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"spreadtap/pkg/records"
)

// TestOfCanonicalOrder verifies that unions compare equal regardless of the
// order members were declared in.
func TestOfCanonicalOrder(t *testing.T) {
	t.Parallel()

	a := Of(TypeInteger, TypeNull, TypeInteger)
	b := Of(TypeNull, TypeInteger)
	if !a.Equal(b) {
		t.Fatalf("Of() = %v, want %v", a, b)
	}
	if got := a.String(); got != "[null,integer]" {
		t.Fatalf("String() = %q", got)
	}
	if got := Of().String(); got != "string" {
		t.Fatalf("Of().String() = %q, want string", got)
	}
}

// TestFieldJSON verifies the JSON-Schema encoding and that decoding it
// yields the same field.
func TestFieldJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   Field
		want string
	}{
		{"bare integer", Of(TypeInteger), `{"type":"integer"}`},
		{"nullable number", Nullable(TypeNumber), `{"type":["null","number"]}`},
		{"nullable datetime", Nullable(TypeDateTime), `{"type":["null","string"],"format":"date-time"}`},
		{"datetime union", Of(TypeNull, TypeInteger, TypeDateTime),
			`{"anyOf":[{"type":"null"},{"type":"integer"},{"type":"string","format":"date-time"}]}`},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := json.Marshal(tt.in)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(b))

			var back Field
			require.NoError(t, json.Unmarshal(b, &back))
			assert.True(t, back.Equal(tt.in), "round trip %v -> %v", tt.in, back)
		})
	}
}

// TestFieldUnmarshalConfigForms verifies the spellings accepted in
// schema_overrides.
func TestFieldUnmarshalConfigForms(t *testing.T) {
	t.Parallel()

	var f Field
	require.NoError(t, json.Unmarshal([]byte(`"date-time"`), &f))
	assert.Equal(t, "date-time", f.String())

	require.NoError(t, json.Unmarshal([]byte(`["null","integer"]`), &f))
	assert.Equal(t, "[null,integer]", f.String())

	require.ErrorIs(t, json.Unmarshal([]byte(`"decimal"`), &f), ErrUnknownType)

	var ov map[string]Override
	require.NoError(t, yaml.Unmarshal([]byte("id:\n  type: integer\nts:\n  type: [\"null\", \"date-time\"]\n"), &ov))
	assert.Equal(t, "integer", ov["id"].Type.String())
	assert.Equal(t, "[null,date-time]", ov["ts"].Type.String())
}

// TestTableJSONKeepsOrder verifies properties are encoded and decoded in
// declaration order.
func TestTableJSONKeepsOrder(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	tbl.Set("zeta", Of(TypeString))
	tbl.Set("alpha", Nullable(TypeInteger))

	b, err := json.Marshal(tbl)
	require.NoError(t, err)
	assert.Equal(t,
		`{"type":"object","properties":{"zeta":{"type":"string"},"alpha":{"type":["null","integer"]}},"selected":true}`,
		string(b))

	var back Table
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []string{"zeta", "alpha"}, back.Names())
	assert.True(t, back.Selected)
}

// TestApplyOverrides verifies that an override always wins over any inferred
// type and that selected defaults to true.
func TestApplyOverrides(t *testing.T) {
	t.Parallel()

	inferredTypes := []Field{
		Of(TypeInteger), Of(TypeNumber), Of(TypeString), Nullable(TypeDateTime),
		Of(TypeBoolean), Nullable(TypeString),
	}
	for _, inf := range inferredTypes {
		inferred := NewTable()
		inferred.Set("id", inf)
		inferred.Set("name", Of(TypeString))

		got := ApplyOverrides(inferred, map[string]Override{
			"id":    {Type: Nullable(TypeNumber)},
			"added": {Type: Of(TypeBoolean)},
		}, nil)

		f, _ := got.Field("id")
		if !f.Equal(Nullable(TypeNumber)) {
			t.Fatalf("override over %v = %v, want [null,number]", inf, f)
		}
		if n, _ := got.Field("name"); !n.Equal(Of(TypeString)) {
			t.Fatalf("untouched field changed: %v", n)
		}
		if _, ok := got.Field("added"); !ok {
			t.Fatalf("override for absent field was not added")
		}
		if !got.Selected {
			t.Fatalf("Selected = false, want default true")
		}
		if f0, _ := inferred.Field("id"); !f0.Equal(inf) {
			t.Fatalf("ApplyOverrides mutated its input")
		}
	}

	off := false
	got := ApplyOverrides(NewTable(), nil, &off)
	if got.Selected {
		t.Fatalf("Selected = true, want false from config")
	}

	again := ApplyOverrides(got, nil, &off)
	assert.Equal(t, got.Names(), again.Names())
}

// TestCoerce verifies values are converted to declared types with a text
// fallback.
func TestCoerce(t *testing.T) {
	t.Parallel()

	tbl := NewTable()
	tbl.Set("i", Nullable(TypeInteger))
	tbl.Set("n", Of(TypeNumber))
	tbl.Set("b", Of(TypeBoolean))
	tbl.Set("ts", Nullable(TypeDateTime))
	tbl.Set("s", Of(TypeString))
	tbl.Set("bad", Of(TypeInteger))

	rec := records.New(7)
	rec.Set("i", records.Text("42"))
	rec.Set("n", records.Int(3))
	rec.Set("b", records.Text("yes"))
	rec.Set("ts", records.Text("2020-02-01"))
	rec.Set("s", records.Int(7))
	rec.Set("bad", records.Text("n/a"))
	rec.Set("extra", records.Text("kept"))

	out := tbl.Coerce(rec)

	get := func(n string) records.Value { v, _ := out.Get(n); return v }

	if i, ok := get("i").Int(); !ok || i != 42 {
		t.Fatalf("i = %v", get("i"))
	}
	if f, ok := get("n").Float(); !ok || f != 3 {
		t.Fatalf("n = %v", get("n"))
	}
	if b, ok := get("b").Bool(); !ok || !b {
		t.Fatalf("b = %v", get("b"))
	}
	if ts, ok := get("ts").Timestamp(); !ok || !ts.Equal(time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("ts = %v", get("ts"))
	}
	if s, ok := get("s").Text(); !ok || s != "7" {
		t.Fatalf("s = %v", get("s"))
	}
	if s, ok := get("bad").Text(); !ok || s != "n/a" {
		t.Fatalf("bad = %v", get("bad"))
	}
	if s, ok := get("extra").Text(); !ok || s != "kept" {
		t.Fatalf("extra = %v", get("extra"))
	}
	assert.Equal(t, rec.Names(), out.Names())
}
