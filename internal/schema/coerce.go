package schema

import (
	"math"
	"strconv"
	"strings"

	"spreadtap/pkg/records"
)

// coercion preference when a field declares several non-null members.
var coerceOrder = []FieldType{TypeInteger, TypeNumber, TypeBoolean, TypeDateTime, TypeString}

// Coerce converts each value of rec to the declared type of its field and
// returns a new record. Nulls stay null. Fields the table does not declare
// pass through unchanged. A value that fits none of the declared members is
// emitted as text.
func (t *Table) Coerce(rec *records.Record) *records.Record {
	out := records.New(rec.Len())
	for _, name := range rec.Names() {
		v, _ := rec.Get(name)
		f, ok := t.Field(name)
		if !ok || v.IsNull() {
			out.Set(name, v)
			continue
		}
		out.Set(name, coerceValue(v, f))
	}
	return out
}

func coerceValue(v records.Value, f Field) records.Value {
	members := make(map[FieldType]bool, len(f.types))
	for _, t := range f.types {
		members[t] = true
	}
	for _, t := range coerceOrder {
		if !members[t] {
			continue
		}
		if cv, ok := convert(v, t); ok {
			return cv
		}
	}
	return records.Text(v.String())
}

func convert(v records.Value, t FieldType) (records.Value, bool) {
	switch t {
	case TypeInteger:
		switch v.Kind() {
		case records.KindInt:
			return v, true
		case records.KindFloat:
			f, _ := v.Float()
			if f == math.Trunc(f) && math.Abs(f) < 1<<63 {
				return records.Int(int64(f)), true
			}
		case records.KindText:
			s, _ := v.Text()
			s = strings.TrimSpace(s)
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return records.Int(i), true
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
				return records.Int(int64(f)), true
			}
		}

	case TypeNumber:
		switch v.Kind() {
		case records.KindInt:
			i, _ := v.Int()
			return records.Float(float64(i)), true
		case records.KindFloat:
			return v, true
		case records.KindText:
			s, _ := v.Text()
			if f, ok := parseFinite(s); ok {
				return records.Float(f), true
			}
		}

	case TypeBoolean:
		switch v.Kind() {
		case records.KindBool:
			return v, true
		case records.KindText:
			s, _ := v.Text()
			if b, ok := records.ParseBool(s); ok {
				return records.Bool(b), true
			}
		}

	case TypeDateTime:
		switch v.Kind() {
		case records.KindTimestamp:
			return v, true
		case records.KindText:
			s, _ := v.Text()
			if ts, _, ok := records.ParseTimestamp(s); ok {
				return records.Timestamp(ts), true
			}
		}

	case TypeString:
		return records.Text(v.String()), true
	}
	return records.Null(), false
}

// parseFinite parses a decimal and rejects NaN and infinities, which
// strconv accepts by name.
func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
