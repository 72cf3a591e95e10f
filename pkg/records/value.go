// Package records defines the scalar value model shared by the format
// decoders, schema inference and the sync emitter.
//
// Decoders never hand out untyped values. Every cell becomes a Value carrying
// exactly one of a closed set of kinds:
//
//   - Null      absent, explicit null, or empty text
//   - Bool      native boolean (JSON true/false)
//   - Int       native 64-bit integer
//   - Float     native 64-bit float
//   - Text      raw text, classified later by inference
//   - Timestamp native timestamp
//
// Record keeps field insertion order so inference and emission are
// deterministic for a given input file.
package records

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindText
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindText:
		return "text"
	case KindTimestamp:
		return "timestamp"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
}

func Null() Value                 { return Value{} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }

// Text returns a Text value, or Null for the empty string.
func Text(s string) Value {
	if s == "" {
		return Null()
	}
	return Value{kind: KindText, s: s}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Int() (int64, bool) {
	return v.i, v.kind == KindInt
}

func (v Value) Float() (float64, bool) {
	return v.f, v.kind == KindFloat
}

func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindText
}

func (v Value) Timestamp() (time.Time, bool) {
	return v.t, v.kind == KindTimestamp
}

// String renders the value in its canonical textual form. Null renders as "".
func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'f', -1, 64)
	case KindText:
		return v.s
	case KindTimestamp:
		return v.t.UTC().Format(time.RFC3339Nano)
	default:
		return ""
	}
}

// Equal reports whether two values hold the same kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindText:
		return v.s == o.s
	case KindTimestamp:
		return v.t.Equal(o.t)
	}
	return false
}

// MarshalJSON encodes the value as a JSON scalar. Non-finite floats encode
// as null since JSON has no representation for them.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindBool:
		return strconv.AppendBool(nil, v.b), nil
	case KindInt:
		return strconv.AppendInt(nil, v.i, 10), nil
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return []byte("null"), nil
		}
		return strconv.AppendFloat(nil, v.f, 'f', -1, 64), nil
	case KindText:
		return json.Marshal(v.s)
	case KindTimestamp:
		return json.Marshal(v.t.UTC().Format(time.RFC3339Nano))
	default:
		return []byte("null"), nil
	}
}

// Record is an ordered, flat field -> Value mapping.
type Record struct {
	names  []string
	values map[string]Value
}

// New returns an empty record with room for n fields.
func New(n int) *Record {
	return &Record{
		names:  make([]string, 0, n),
		values: make(map[string]Value, n),
	}
}

// Set stores v under name. Re-setting an existing field keeps its position.
func (r *Record) Set(name string, v Value) {
	if r.values == nil {
		r.values = make(map[string]Value)
	}
	if _, ok := r.values[name]; !ok {
		r.names = append(r.names, name)
	}
	r.values[name] = v
}

// Get returns the value for name. Missing fields report ok=false and Null.
func (r *Record) Get(name string) (Value, bool) {
	if r == nil {
		return Null(), false
	}
	v, ok := r.values[name]
	return v, ok
}

// Names returns field names in insertion order. The slice must not be mutated.
func (r *Record) Names() []string {
	if r == nil {
		return nil
	}
	return r.names
}

func (r *Record) Len() int {
	if r == nil {
		return 0
	}
	return len(r.names)
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	out := New(r.Len())
	for _, n := range r.Names() {
		out.Set(n, r.values[n])
	}
	return out
}

// MarshalJSON encodes the record as a JSON object preserving field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range r.Names() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		b, err := r.values[n].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(b)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
