// Package schema holds the published table schema: an ordered mapping of
// field name to declared type, plus the table-level selected flag.
//
// A Field is either a single FieldType or a union. Unions always list "null"
// first and the remaining types in canonical order, so two Fields with the
// same members compare equal regardless of how they were declared.
//
// The JSON encoding follows the JSON-Schema dialect Singer targets expect:
//
//	{"type": ["null", "integer"]}
//	{"type": ["null", "string"], "format": "date-time"}
//	{"anyOf": [{"type": "string", "format": "date-time"}, {"type": "integer"}]}
package schema

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// FieldType is one member of a field's declared type.
type FieldType string

const (
	TypeNull     FieldType = "null"
	TypeBoolean  FieldType = "boolean"
	TypeInteger  FieldType = "integer"
	TypeNumber   FieldType = "number"
	TypeString   FieldType = "string"
	TypeDateTime FieldType = "date-time"
)

// canonical order used when rendering unions.
var typeRank = map[FieldType]int{
	TypeNull:     0,
	TypeBoolean:  1,
	TypeInteger:  2,
	TypeNumber:   3,
	TypeDateTime: 4,
	TypeString:   5,
}

// ErrUnknownType is returned when a type name is not one of the supported
// FieldTypes.
var ErrUnknownType = errors.New("schema: unknown field type")

// ParseFieldType validates a type name as written in configuration.
func ParseFieldType(s string) (FieldType, error) {
	ft := FieldType(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := typeRank[ft]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
	return ft, nil
}

// Field is the declared type of a single property.
type Field struct {
	types []FieldType
}

// Of builds a Field from the given members. Duplicates are dropped and the
// members are put in canonical order. Of() with no members yields string.
func Of(types ...FieldType) Field {
	seen := make(map[FieldType]bool, len(types))
	out := make([]FieldType, 0, len(types))
	for _, t := range types {
		if seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	if len(out) == 0 {
		out = append(out, TypeString)
	}
	sort.SliceStable(out, func(i, j int) bool { return typeRank[out[i]] < typeRank[out[j]] })
	return Field{types: out}
}

// Nullable returns the union {null, t}.
func Nullable(t FieldType) Field {
	return Of(TypeNull, t)
}

// Types returns the members in canonical order.
func (f Field) Types() []FieldType {
	return append([]FieldType(nil), f.types...)
}

func (f Field) IsNullable() bool {
	for _, t := range f.types {
		if t == TypeNull {
			return true
		}
	}
	return false
}

// NonNull returns the members other than null.
func (f Field) NonNull() []FieldType {
	out := make([]FieldType, 0, len(f.types))
	for _, t := range f.types {
		if t != TypeNull {
			out = append(out, t)
		}
	}
	return out
}

// Equal reports whether both fields have the same members.
func (f Field) Equal(o Field) bool {
	if len(f.types) != len(o.types) {
		return false
	}
	for i := range f.types {
		if f.types[i] != o.types[i] {
			return false
		}
	}
	return true
}

func (f Field) String() string {
	ss := make([]string, len(f.types))
	for i, t := range f.types {
		ss[i] = string(t)
	}
	if len(ss) == 1 {
		return ss[0]
	}
	return "[" + strings.Join(ss, ",") + "]"
}

// Table is an ordered set of fields plus the selected flag.
type Table struct {
	names    []string
	fields   map[string]Field
	Selected bool
}

// NewTable returns an empty, selected table.
func NewTable() *Table {
	return &Table{fields: make(map[string]Field), Selected: true}
}

// Set declares (or replaces) a field. New fields are appended at the end.
func (t *Table) Set(name string, f Field) {
	if t.fields == nil {
		t.fields = make(map[string]Field)
	}
	if _, ok := t.fields[name]; !ok {
		t.names = append(t.names, name)
	}
	t.fields[name] = f
}

func (t *Table) Field(name string) (Field, bool) {
	if t == nil {
		return Field{}, false
	}
	f, ok := t.fields[name]
	return f, ok
}

// Names returns field names in declaration order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.names...)
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.names)
}

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := NewTable()
	if t == nil {
		return out
	}
	out.Selected = t.Selected
	for _, n := range t.names {
		out.Set(n, t.fields[n])
	}
	return out
}
