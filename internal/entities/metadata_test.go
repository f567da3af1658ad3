package entities

import (
	"encoding/json"
	"testing"
)

func TestMetadata_JSONRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "null", in: `null`, want: `null`},
		{name: "bool", in: `true`, want: `true`},
		{name: "integer keeps text", in: `12345678901234567890`, want: `12345678901234567890`},
		{name: "float", in: `1.5e3`, want: `1.5e3`},
		{name: "string", in: `"a\"b"`, want: `"a\"b"`},
		{name: "array", in: `[1, "x", null]`, want: `[1,"x",null]`},
		{name: "object keys sorted", in: `{"b": 1, "a": {"c": [true]}}`, want: `{"a":{"c":[true]},"b":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := MetadataFromJSON([]byte(tt.in))
			if err != nil {
				t.Fatalf("MetadataFromJSON() error = %v", err)
			}
			got, err := json.Marshal(m)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMetadata_EmptyInputIsNull(t *testing.T) {
	m, err := MetadataFromJSON(nil)
	if err != nil {
		t.Fatalf("MetadataFromJSON() error = %v", err)
	}
	if !m.IsNull() {
		t.Errorf("expected null metadata, got kind %v", m.Kind())
	}
}

func TestMetadata_InvalidJSON(t *testing.T) {
	if _, err := MetadataFromJSON([]byte(`{"a":`)); err == nil {
		t.Error("expected error for truncated JSON")
	}
}

func TestMetadata_Equal(t *testing.T) {
	a, _ := MetadataFromJSON([]byte(`{"size": 10, "tags": ["x", "y"]}`))
	b, _ := MetadataFromJSON([]byte(`{"tags": ["x", "y"], "size": 10.0}`))
	c, _ := MetadataFromJSON([]byte(`{"tags": ["y", "x"], "size": 10}`))

	if !a.Equal(b) {
		t.Error("expected objects with reordered keys and equal numbers to be equal")
	}
	if a.Equal(c) {
		t.Error("expected arrays with different order to differ")
	}
	if NullMetadata().Equal(BoolMetadata(false)) {
		t.Error("null must not equal false")
	}
}

func TestMetadata_FromInterface(t *testing.T) {
	m, err := MetadataFromInterface(map[string]interface{}{
		"count": float64(3),
		"name":  "run",
		"ok":    true,
		"list":  []interface{}{int64(1), nil},
	})
	if err != nil {
		t.Fatalf("MetadataFromInterface() error = %v", err)
	}
	if m.Kind() != MetadataObject {
		t.Fatalf("kind = %v, want object", m.Kind())
	}
	name, _ := m.Field("name")
	if s, ok := name.Str(); !ok || s != "run" {
		t.Errorf("name = %v, want run", s)
	}
	count, _ := m.Field("count")
	if n, ok := count.Number(); !ok || n.String() != "3" {
		t.Errorf("count = %v, want 3", n)
	}

	if _, err := MetadataFromInterface(struct{}{}); err == nil {
		t.Error("expected error for unsupported type")
	}
}

func TestMetadata_Interface(t *testing.T) {
	m, _ := MetadataFromJSON([]byte(`{"n": 2, "s": "v", "a": [false]}`))
	got, ok := m.Interface().(map[string]interface{})
	if !ok {
		t.Fatalf("Interface() returned %T", m.Interface())
	}
	if got["n"] != float64(2) {
		t.Errorf("n = %v, want 2", got["n"])
	}
	if got["s"] != "v" {
		t.Errorf("s = %v, want v", got["s"])
	}
	if arr, ok := got["a"].([]interface{}); !ok || len(arr) != 1 || arr[0] != false {
		t.Errorf("a = %v, want [false]", got["a"])
	}
}

func TestMetadata_ScanValue(t *testing.T) {
	var m Metadata
	if err := m.Scan([]byte(`{"k":"v"}`)); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	v, err := m.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != `{"k":"v"}` {
		t.Errorf("Value() = %v, want {\"k\":\"v\"}", v)
	}

	if err := m.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error = %v", err)
	}
	if !m.IsNull() {
		t.Error("Scan(nil) should yield null")
	}
	v, err = m.Value()
	if err != nil || v != nil {
		t.Errorf("Value() of null = %v, %v; want nil, nil", v, err)
	}

	if err := m.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}
