package probe

import (
	"math"
	"strconv"
	"strings"

	"spreadtap/internal/schema"
	"spreadtap/pkg/records"
)

// Classify returns the narrowest type v fits, or TypeNull for null values.
//
// Text is tried as integer, then finite decimal, then boolean word, then
// timestamp, and is otherwise a string. Native floats with no fractional
// part count as integers unless preferNumber is set.
func Classify(v records.Value, preferNumber bool) schema.FieldType {
	switch v.Kind() {
	case records.KindNull:
		return schema.TypeNull
	case records.KindBool:
		return schema.TypeBoolean
	case records.KindInt:
		return schema.TypeInteger
	case records.KindTimestamp:
		return schema.TypeDateTime
	case records.KindFloat:
		f, _ := v.Float()
		if !preferNumber && f == math.Trunc(f) && !math.IsInf(f, 0) {
			return schema.TypeInteger
		}
		return schema.TypeNumber
	}

	s, _ := v.Text()
	s = strings.TrimSpace(s)
	if s == "" {
		return schema.TypeNull
	}
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		return schema.TypeInteger
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return schema.TypeNumber
	}
	if _, ok := records.ParseBool(s); ok {
		return schema.TypeBoolean
	}
	if _, _, ok := records.ParseTimestamp(s); ok {
		return schema.TypeDateTime
	}
	return schema.TypeString
}

// Widen returns the narrowest type that holds both a and b. An empty
// FieldType means "no constraint yet".
func Widen(a, b schema.FieldType) schema.FieldType {
	switch {
	case a == "" || a == schema.TypeNull:
		return b
	case b == "" || b == schema.TypeNull:
		return a
	case a == b:
		return a
	case numeric(a) && numeric(b):
		return schema.TypeNumber
	default:
		return schema.TypeString
	}
}

func numeric(t schema.FieldType) bool {
	return t == schema.TypeInteger || t == schema.TypeNumber
}

type fieldState struct {
	typ      schema.FieldType
	nullable bool
}

// Infer derives a table schema from sampled records.
//
// Fields appear in first-seen order. A field that is null, empty or absent
// in any record is nullable; a field never seen with a value is a nullable
// string. The result is selected.
func Infer(sample []*records.Record, preferNumber bool) *schema.Table {
	var order []string
	fields := make(map[string]*fieldState)

	for i, rec := range sample {
		for _, name := range rec.Names() {
			if _, ok := fields[name]; ok {
				continue
			}
			// Records before this one did not carry the field.
			fields[name] = &fieldState{nullable: i > 0}
			order = append(order, name)
		}

		for _, name := range order {
			st := fields[name]
			v, ok := rec.Get(name)
			if !ok {
				st.nullable = true
				continue
			}
			t := Classify(v, preferNumber)
			if t == schema.TypeNull {
				st.nullable = true
				continue
			}
			st.typ = Widen(st.typ, t)
		}
	}

	out := schema.NewTable()
	for _, name := range order {
		st := fields[name]
		switch {
		case st.typ == "":
			out.Set(name, schema.Nullable(schema.TypeString))
		case st.nullable:
			out.Set(name, schema.Nullable(st.typ))
		default:
			out.Set(name, schema.Of(st.typ))
		}
	}
	return out
}
