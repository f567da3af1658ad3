package entities

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// MetadataKind identifies which variant a Metadata value holds
type MetadataKind int

const (
	MetadataNull MetadataKind = iota
	MetadataBool
	MetadataNumber
	MetadataString
	MetadataArray
	MetadataObject
)

// String returns the JSON type name of the kind
func (k MetadataKind) String() string {
	switch k {
	case MetadataNull:
		return "null"
	case MetadataBool:
		return "boolean"
	case MetadataNumber:
		return "number"
	case MetadataString:
		return "string"
	case MetadataArray:
		return "array"
	case MetadataObject:
		return "object"
	default:
		return fmt.Sprintf("MetadataKind(%d)", int(k))
	}
}

// Metadata is a schema-less JSON value attached to entities, activities and agents.
// The zero value is JSON null.
// Numbers keep their textual form so that stored metadata round-trips exactly.
type Metadata struct {
	kind   MetadataKind
	b      bool
	num    json.Number
	str    string
	items  []Metadata
	fields map[string]Metadata
}

// NullMetadata returns a JSON null value
func NullMetadata() Metadata { return Metadata{} }

// BoolMetadata wraps a boolean
func BoolMetadata(v bool) Metadata { return Metadata{kind: MetadataBool, b: v} }

// NumberMetadata wraps a number given in JSON text form (e.g. "42", "1.5e3")
func NumberMetadata(v json.Number) Metadata { return Metadata{kind: MetadataNumber, num: v} }

// StringMetadata wraps a string
func StringMetadata(v string) Metadata { return Metadata{kind: MetadataString, str: v} }

// ArrayMetadata wraps a list of values
func ArrayMetadata(items ...Metadata) Metadata {
	if items == nil {
		items = []Metadata{}
	}
	return Metadata{kind: MetadataArray, items: items}
}

// ObjectMetadata wraps a set of named values
func ObjectMetadata(fields map[string]Metadata) Metadata {
	if fields == nil {
		fields = map[string]Metadata{}
	}
	return Metadata{kind: MetadataObject, fields: fields}
}

// MetadataFromJSON parses raw JSON. Empty input yields null.
func MetadataFromJSON(raw []byte) (Metadata, error) {
	var m Metadata
	if len(bytes.TrimSpace(raw)) == 0 {
		return m, nil
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return Metadata{}, err
	}
	return m, nil
}

// MetadataFromInterface converts a decoded Go value (as produced by encoding/json or
// structpb.Struct.AsMap) into Metadata
func MetadataFromInterface(v interface{}) (Metadata, error) {
	switch val := v.(type) {
	case nil:
		return NullMetadata(), nil
	case Metadata:
		return val, nil
	case bool:
		return BoolMetadata(val), nil
	case json.Number:
		return NumberMetadata(val), nil
	case float64:
		return NumberMetadata(json.Number(strconv.FormatFloat(val, 'g', -1, 64))), nil
	case float32:
		return NumberMetadata(json.Number(strconv.FormatFloat(float64(val), 'g', -1, 32))), nil
	case int:
		return NumberMetadata(json.Number(strconv.Itoa(val))), nil
	case int64:
		return NumberMetadata(json.Number(strconv.FormatInt(val, 10))), nil
	case string:
		return StringMetadata(val), nil
	case []interface{}:
		items := make([]Metadata, len(val))
		for i, item := range val {
			m, err := MetadataFromInterface(item)
			if err != nil {
				return Metadata{}, fmt.Errorf("index %d: %w", i, err)
			}
			items[i] = m
		}
		return ArrayMetadata(items...), nil
	case map[string]interface{}:
		fields := make(map[string]Metadata, len(val))
		for k, item := range val {
			m, err := MetadataFromInterface(item)
			if err != nil {
				return Metadata{}, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = m
		}
		return ObjectMetadata(fields), nil
	default:
		return Metadata{}, fmt.Errorf("unsupported metadata value type: %T", v)
	}
}

// Kind returns the variant held by m
func (m Metadata) Kind() MetadataKind { return m.kind }

// IsNull reports whether m is JSON null
func (m Metadata) IsNull() bool { return m.kind == MetadataNull }

// Bool returns the boolean value and whether m holds one
func (m Metadata) Bool() (bool, bool) { return m.b, m.kind == MetadataBool }

// Number returns the number value and whether m holds one
func (m Metadata) Number() (json.Number, bool) { return m.num, m.kind == MetadataNumber }

// Str returns the string value and whether m holds one
func (m Metadata) Str() (string, bool) { return m.str, m.kind == MetadataString }

// Items returns the array elements and whether m holds an array
func (m Metadata) Items() ([]Metadata, bool) { return m.items, m.kind == MetadataArray }

// Fields returns the object members and whether m holds an object
func (m Metadata) Fields() (map[string]Metadata, bool) { return m.fields, m.kind == MetadataObject }

// Field returns a single object member
func (m Metadata) Field(name string) (Metadata, bool) {
	if m.kind != MetadataObject {
		return Metadata{}, false
	}
	v, ok := m.fields[name]
	return v, ok
}

// Interface converts m into plain Go values: nil, bool, float64, string,
// []interface{} and map[string]interface{}.
// Numbers that do not fit a float64 are returned as their JSON text.
func (m Metadata) Interface() interface{} {
	switch m.kind {
	case MetadataBool:
		return m.b
	case MetadataNumber:
		f, err := m.num.Float64()
		if err != nil {
			return m.num.String()
		}
		return f
	case MetadataString:
		return m.str
	case MetadataArray:
		out := make([]interface{}, len(m.items))
		for i, item := range m.items {
			out[i] = item.Interface()
		}
		return out
	case MetadataObject:
		out := make(map[string]interface{}, len(m.fields))
		for k, v := range m.fields {
			out[k] = v.Interface()
		}
		return out
	default:
		return nil
	}
}

// Equal reports whether two values are the same JSON value.
// Numbers compare by numeric value, objects ignore member order.
func (m Metadata) Equal(other Metadata) bool {
	if m.kind != other.kind {
		return false
	}
	switch m.kind {
	case MetadataNull:
		return true
	case MetadataBool:
		return m.b == other.b
	case MetadataNumber:
		if m.num == other.num {
			return true
		}
		a, errA := m.num.Float64()
		b, errB := other.num.Float64()
		return errA == nil && errB == nil && a == b
	case MetadataString:
		return m.str == other.str
	case MetadataArray:
		if len(m.items) != len(other.items) {
			return false
		}
		for i := range m.items {
			if !m.items[i].Equal(other.items[i]) {
				return false
			}
		}
		return true
	case MetadataObject:
		if len(m.fields) != len(other.fields) {
			return false
		}
		for k, v := range m.fields {
			ov, ok := other.fields[k]
			if !ok || !v.Equal(ov) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON implements json.Marshaler. Object members are written in key order.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m Metadata) writeJSON(buf *bytes.Buffer) error {
	switch m.kind {
	case MetadataNull:
		buf.WriteString("null")
	case MetadataBool:
		buf.WriteString(strconv.FormatBool(m.b))
	case MetadataNumber:
		if m.num == "" {
			buf.WriteString("0")
			return nil
		}
		if !json.Valid([]byte(m.num)) {
			return fmt.Errorf("invalid metadata number %q", string(m.num))
		}
		buf.WriteString(string(m.num))
	case MetadataString:
		b, err := json.Marshal(m.str)
		if err != nil {
			return err
		}
		buf.Write(b)
	case MetadataArray:
		buf.WriteByte('[')
		for i, item := range m.items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case MetadataObject:
		keys := make([]string, 0, len(m.fields))
		for k := range m.fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := m.fields[k].writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("unknown metadata kind %d", int(m.kind))
	}
	return nil
}

// UnmarshalJSON implements json.Unmarshaler
func (m *Metadata) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return fmt.Errorf("invalid metadata: %w", err)
	}
	parsed, err := MetadataFromInterface(v)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Scan implements sql.Scanner for jsonb columns. SQL NULL maps to JSON null.
func (m *Metadata) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		parsed, err := MetadataFromJSON(v)
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	case string:
		parsed, err := MetadataFromJSON([]byte(v))
		if err != nil {
			return err
		}
		*m = parsed
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Metadata", src)
	}
}

// Value implements driver.Valuer. JSON null is stored as SQL NULL.
func (m Metadata) Value() (driver.Value, error) {
	if m.kind == MetadataNull {
		return nil, nil
	}
	b, err := m.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
