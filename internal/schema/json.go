package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// property is the JSON-Schema shape of one field.
type property struct {
	Type   any        `json:"type,omitempty" yaml:"type,omitempty"`
	Format string     `json:"format,omitempty" yaml:"format,omitempty"`
	AnyOf  []property `json:"anyOf,omitempty" yaml:"anyOf,omitempty"`
}

func jsonTypeName(t FieldType) string {
	if t == TypeDateTime {
		return string(TypeString)
	}
	return string(t)
}

func (f Field) toProperty() property {
	nonNull := f.NonNull()
	hasDT := false
	for _, t := range nonNull {
		if t == TypeDateTime {
			hasDT = true
		}
	}

	// date-time cannot share a "type" array with other non-null members
	// without losing the format, so such unions are spelled as anyOf.
	if hasDT && len(nonNull) > 1 {
		var p property
		if f.IsNullable() {
			p.AnyOf = append(p.AnyOf, property{Type: string(TypeNull)})
		}
		for _, t := range nonNull {
			sub := property{Type: jsonTypeName(t)}
			if t == TypeDateTime {
				sub.Format = "date-time"
			}
			p.AnyOf = append(p.AnyOf, sub)
		}
		return p
	}

	names := make([]string, 0, len(f.types))
	for _, t := range f.types {
		names = append(names, jsonTypeName(t))
	}
	p := property{}
	if len(names) == 1 {
		p.Type = names[0]
	} else {
		p.Type = names
	}
	if hasDT {
		p.Format = "date-time"
	}
	return p
}

func fieldFromProperty(p property) (Field, error) {
	var members []FieldType

	for _, sub := range p.AnyOf {
		f, err := fieldFromProperty(sub)
		if err != nil {
			return Field{}, err
		}
		members = append(members, f.types...)
	}

	var names []string
	switch tv := p.Type.(type) {
	case nil:
	case string:
		names = []string{tv}
	case []string:
		names = tv
	case []any:
		for _, it := range tv {
			s, ok := it.(string)
			if !ok {
				return Field{}, fmt.Errorf("schema: type list entry %v is not a string", it)
			}
			names = append(names, s)
		}
	default:
		return Field{}, fmt.Errorf("schema: unsupported type value %T", p.Type)
	}

	for _, n := range names {
		ft, err := ParseFieldType(n)
		if err != nil {
			return Field{}, err
		}
		if ft == TypeString && p.Format == "date-time" {
			ft = TypeDateTime
		}
		members = append(members, ft)
	}

	if len(members) == 0 {
		return Field{}, fmt.Errorf("schema: property declares no type")
	}
	return Of(members...), nil
}

// MarshalJSON encodes the field as a JSON-Schema property.
func (f Field) MarshalJSON() ([]byte, error) {
	if len(f.types) == 0 {
		f = Of()
	}
	return json.Marshal(f.toProperty())
}

// UnmarshalJSON accepts a bare type name ("integer"), a list of names
// (["null","integer"]) or a JSON-Schema property object.
func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("schema: empty field")
	}

	var p property
	switch b[0] {
	case '"', '[':
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		p.Type = v
	default:
		if err := json.Unmarshal(b, &p); err != nil {
			return err
		}
	}

	out, err := fieldFromProperty(p)
	if err != nil {
		return err
	}
	*f = out
	return nil
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML configuration files.
func (f *Field) UnmarshalYAML(node *yaml.Node) error {
	var p property
	switch node.Kind {
	case yaml.ScalarNode:
		p.Type = node.Value
	case yaml.SequenceNode:
		var names []string
		if err := node.Decode(&names); err != nil {
			return err
		}
		p.Type = names
	case yaml.MappingNode:
		var raw struct {
			Type   any    `yaml:"type"`
			Format string `yaml:"format"`
		}
		if err := node.Decode(&raw); err != nil {
			return err
		}
		p.Type = raw.Type
		p.Format = raw.Format
	default:
		return fmt.Errorf("schema: line %d: unsupported field type node", node.Line)
	}

	out, err := fieldFromProperty(p)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*f = out
	return nil
}

// MarshalJSON encodes the table as a JSON-Schema object with properties in
// declaration order.
func (t *Table) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"type":"object","properties":{`)
	for i, n := range t.Names() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(n)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := t.fields[n].MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteString(`},"selected":`)
	if t.Selected {
		buf.WriteString("true")
	} else {
		buf.WriteString("false")
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON-Schema object, keeping property order.
// A missing "selected" key decodes as false.
func (t *Table) UnmarshalJSON(b []byte) error {
	var raw struct {
		Properties json.RawMessage `json:"properties"`
		Selected   *bool           `json:"selected"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := NewTable()
	out.Selected = raw.Selected != nil && *raw.Selected

	props := bytes.TrimSpace(raw.Properties)
	if len(props) == 0 || bytes.Equal(props, []byte("null")) {
		*t = *out
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(props))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("schema: read properties: %w", err)
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("schema: properties must be an object, got %v", tok)
	}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return fmt.Errorf("schema: read property name: %w", err)
		}
		name, ok := kt.(string)
		if !ok {
			return fmt.Errorf("schema: property name not a string (got %T)", kt)
		}
		var f Field
		if err := dec.Decode(&f); err != nil {
			return fmt.Errorf("schema: property %q: %w", name, err)
		}
		out.Set(name, f)
	}

	*t = *out
	return nil
}
