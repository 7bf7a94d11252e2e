package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is an entity payload: a string, number, bool, list or object.
// The zero Value is empty.
type Value struct {
	v any
}

// StringValue wraps s.
func StringValue(s string) Value { return Value{v: s} }

// NewValue normalizes v into a Value. Integers become float64 so that
// values decoded from JSON and values built in code compare equal.
func NewValue(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, fmt.Errorf("%w: null value", ErrInvalidEntity)
	case Value:
		return x, nil
	case string, bool, float64:
		return Value{v: x}, nil
	case int:
		return Value{v: float64(x)}, nil
	case int64:
		return Value{v: float64(x)}, nil
	case float32:
		return Value{v: float64(x)}, nil
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
		}
		return Value{v: f}, nil
	default:
		// Containers and structs round-trip through JSON so nested
		// numbers are float64 as well.
		data, err := json.Marshal(x)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
		}
		var out Value
		if err := out.UnmarshalJSON(data); err != nil {
			return Value{}, err
		}
		return out, nil
	}
}

// Raw returns the underlying payload.
func (v Value) Raw() any { return v.v }

// IsEmpty reports a missing payload: nil, blank string, or empty container.
func (v Value) IsEmpty() bool {
	switch x := v.v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case map[string]any:
		return len(x) == 0
	case []any:
		return len(x) == 0
	}
	return false
}

// Map returns the payload as an object.
func (v Value) Map() (map[string]any, bool) {
	m, ok := v.v.(map[string]any)
	return m, ok
}

// Lookup returns field key of an object payload.
func (v Value) Lookup(key string) (any, bool) {
	m, ok := v.Map()
	if !ok {
		return nil, false
	}
	f, ok := m[key]
	return f, ok
}

// String is the canonical text form. Objects and lists render as JSON with
// sorted keys, so equal payloads always produce equal strings.
func (v Value) String() string {
	switch x := v.v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if err := enc.Encode(x); err != nil {
			return fmt.Sprint(x)
		}
		return strings.TrimRight(buf.String(), "\n")
	}
}

// Equal compares canonical forms.
func (v Value) Equal(o Value) bool { return v.String() == o.String() }

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.v)
}

func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	v.v = raw
	return nil
}
