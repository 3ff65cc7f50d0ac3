package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ScalarKind is the dynamic type held by a Scalar.
type ScalarKind uint8

const (
	KindString ScalarKind = iota + 1
	KindNumber
	KindBool
)

func (k ScalarKind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// Scalar is a metadata value: a string, a number or a boolean.
// Numbers keep their literal text so values survive storage unchanged.
// The zero Scalar is invalid. Scalars are comparable with ==.
type Scalar struct {
	kind ScalarKind
	text string
	b    bool
}

// String returns a string scalar.
func String(s string) Scalar { return Scalar{kind: KindString, text: s} }

// Bool returns a boolean scalar.
func Bool(b bool) Scalar { return Scalar{kind: KindBool, b: b} }

// Int returns a numeric scalar holding an integer.
func Int(n int64) Scalar { return Scalar{kind: KindNumber, text: strconv.FormatInt(n, 10)} }

// Float returns a numeric scalar holding a float.
func Float(f float64) Scalar {
	return Scalar{kind: KindNumber, text: strconv.FormatFloat(f, 'g', -1, 64)}
}

// Number returns a numeric scalar from its literal text.
func Number(lit string) (Scalar, error) {
	if !json.Valid([]byte(lit)) {
		return Scalar{}, fmt.Errorf("invalid number literal %q", lit)
	}
	if _, err := strconv.ParseFloat(lit, 64); err != nil {
		return Scalar{}, fmt.Errorf("invalid number literal %q", lit)
	}
	return Scalar{kind: KindNumber, text: lit}, nil
}

// ScalarOf converts a Go value to a Scalar.
func ScalarOf(v any) (Scalar, error) {
	switch x := v.(type) {
	case Scalar:
		if !x.Valid() {
			return Scalar{}, fmt.Errorf("invalid scalar")
		}
		return x, nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case int:
		return Int(int64(x)), nil
	case int32:
		return Int(int64(x)), nil
	case int64:
		return Int(x), nil
	case uint:
		return Number(strconv.FormatUint(uint64(x), 10))
	case uint32:
		return Int(int64(x)), nil
	case uint64:
		return Number(strconv.FormatUint(x, 10))
	case float32:
		return Float(float64(x)), nil
	case float64:
		return Float(x), nil
	case json.Number:
		return Number(x.String())
	default:
		return Scalar{}, fmt.Errorf("unsupported metadata value of type %T", v)
	}
}

// Kind returns the scalar's dynamic type.
func (s Scalar) Kind() ScalarKind { return s.kind }

// Valid reports whether the scalar holds a value.
func (s Scalar) Valid() bool { return s.kind != 0 }

// Str returns the string value and whether the scalar is a string.
func (s Scalar) Str() (string, bool) { return s.text, s.kind == KindString }

// BoolValue returns the boolean value and whether the scalar is a boolean.
func (s Scalar) BoolValue() (bool, bool) { return s.b, s.kind == KindBool }

// Int64 returns the integer value and whether the scalar is an integral number.
func (s Scalar) Int64() (int64, bool) {
	if s.kind != KindNumber {
		return 0, false
	}
	n, err := strconv.ParseInt(s.text, 10, 64)
	return n, err == nil
}

// Float64 returns the numeric value and whether the scalar is a number.
func (s Scalar) Float64() (float64, bool) {
	if s.kind != KindNumber {
		return 0, false
	}
	f, err := strconv.ParseFloat(s.text, 64)
	return f, err == nil
}

// Interface returns the value as a plain Go value suitable for policy input.
func (s Scalar) Interface() any {
	switch s.kind {
	case KindString:
		return s.text
	case KindBool:
		return s.b
	case KindNumber:
		return json.Number(s.text)
	default:
		return nil
	}
}

// String renders the value for display.
func (s Scalar) String() string {
	switch s.kind {
	case KindString, KindNumber:
		return s.text
	case KindBool:
		return strconv.FormatBool(s.b)
	default:
		return "<invalid>"
	}
}

// IsTruthy reports whether the scalar is true or the string "true".
func (s Scalar) IsTruthy() bool {
	switch s.kind {
	case KindBool:
		return s.b
	case KindString:
		v, err := strconv.ParseBool(s.text)
		return err == nil && v
	default:
		return false
	}
}

func (s Scalar) MarshalJSON() ([]byte, error) {
	switch s.kind {
	case KindString:
		return json.Marshal(s.text)
	case KindNumber:
		return []byte(s.text), nil
	case KindBool:
		return json.Marshal(s.b)
	default:
		return nil, fmt.Errorf("cannot marshal invalid scalar")
	}
}

func (s *Scalar) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}
	if v == nil {
		return fmt.Errorf("metadata values must be scalars, got null")
	}
	out, err := ScalarOf(v)
	if err != nil {
		return fmt.Errorf("metadata values must be scalars: %w", err)
	}
	*s = out
	return nil
}

func (s Scalar) MarshalYAML() (any, error) {
	switch s.kind {
	case KindString:
		return s.text, nil
	case KindNumber:
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: numberTag(s.text), Value: s.text}, nil
	case KindBool:
		return s.b, nil
	default:
		return nil, fmt.Errorf("cannot marshal invalid scalar")
	}
}

func (s *Scalar) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: metadata values must be scalars", node.Line)
	}
	switch node.ShortTag() {
	case "!!str":
		*s = String(node.Value)
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err != nil {
			return err
		}
		*s = Bool(b)
	case "!!int", "!!float":
		var f float64
		if err := node.Decode(&f); err != nil {
			return err
		}
		if n, err := Number(node.Value); err == nil {
			*s = n
		} else {
			*s = Float(f)
		}
	default:
		return fmt.Errorf("line %d: metadata values must be scalars, got %s", node.Line, node.ShortTag())
	}
	return nil
}

func numberTag(lit string) string {
	if _, err := strconv.ParseInt(lit, 10, 64); err == nil {
		return "!!int"
	}
	return "!!float"
}

// Metadata maps attribute names to scalar values.
type Metadata map[string]Scalar

// Clone returns a copy of the map. Nil clones to nil.
func (m Metadata) Clone() Metadata {
	return maps.Clone(m)
}

// Get returns the value for key.
func (m Metadata) Get(key string) (Scalar, bool) {
	v, ok := m[key]
	return v, ok
}

// AsMap converts metadata into plain Go values.
func (m Metadata) AsMap() map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Interface()
	}
	return out
}

// MetadataFrom builds metadata from plain Go values.
func MetadataFrom(values map[string]any) (Metadata, error) {
	out := make(Metadata, len(values))
	for k, v := range values {
		s, err := ScalarOf(v)
		if err != nil {
			return nil, fmt.Errorf("metadata %q: %w", k, err)
		}
		out[k] = s
	}
	return out, nil
}
