package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the payload types a record field can hold.
type Value interface {
	isValue()
}

// Null is an explicit JSON null. A field set to Null is still present.
type Null struct{}

func (Null) isValue() {}

// MarshalJSON implements json.Marshaler.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String is a string field value.
type String string

func (String) isValue() {}

// Int is an integer field value. Always int64.
type Int int64

func (Int) isValue() {}

// Bool is a boolean field value.
type Bool bool

func (Bool) isValue() {}

// Array is an ordered list of values.
type Array []Value

func (Array) isValue() {}

// Object maps field names to values. It is also the shape of every
// record payload.
type Object map[string]Value

func (Object) isValue() {}

// Kind names a Value type. Kinds appear in schemas and CUE declarations.
type Kind string

const (
	KindNull   Kind = "null"
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindBool   Kind = "bool"
	KindArray  Kind = "array"
	KindObject Kind = "object"
)

// KindOf reports the kind of v. A nil interface reports KindNull.
func KindOf(v Value) Kind {
	switch v.(type) {
	case nil, Null:
		return KindNull
	case String:
		return KindString
	case Int:
		return KindInt
	case Bool:
		return KindBool
	case Array:
		return KindArray
	case Object:
		return KindObject
	default:
		panic(fmt.Sprintf("value: unknown Value type %T", v))
	}
}

// ParseKind converts a schema type name into a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindString, KindInt, KindBool, KindArray, KindObject:
		return k, nil
	case "float", "number":
		return "", fmt.Errorf("kind %q not allowed: floats are not supported, use int", s)
	default:
		return "", fmt.Errorf("unknown kind %q", s)
	}
}

// SortedKeys returns the object's keys in UTF-16 code unit order, the
// order canonical JSON requires. Go's native string order compares UTF-8
// bytes and differs for characters outside the BMP.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	return len(ua) - len(ub)
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	out := make(Object, len(o))
	for k, v := range o {
		out[k] = Clone(v)
	}
	return out
}

// Clone returns a deep copy of v. Scalars are returned as is.
func Clone(v Value) Value {
	switch val := v.(type) {
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	case Object:
		return val.Clone()
	default:
		return v
	}
}

// Equal reports whether a and b are structurally equal. A nil Value
// equals Null.
func Equal(a, b Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch av := a.(type) {
	case nil, Null:
		return true
	case String:
		return av == b.(String)
	case Int:
		return av == b.(Int)
	case Bool:
		return av == b.(Bool)
	case Array:
		bv := b.(Array)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !Equal(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Object:
		bv := b.(Object)
		if len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			w, ok := bv[k]
			if !ok || !Equal(v, w) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON writes the object with sorted keys. It is not canonical
// JSON (HTML characters are escaped); use MarshalCanonical for hashing.
func (o Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.SortedKeys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := Marshal(o[k])
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// MarshalJSON implements json.Marshaler.
func (a Array) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, elem := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		b, err := Marshal(elem)
		if err != nil {
			return nil, fmt.Errorf("[%d]: %w", i, err)
		}
		buf.Write(b)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// Marshal encodes any Value as JSON.
func Marshal(v Value) ([]byte, error) {
	switch val := v.(type) {
	case nil, Null:
		return []byte("null"), nil
	case String:
		return json.Marshal(string(val))
	case Int:
		return json.Marshal(int64(val))
	case Bool:
		return json.Marshal(bool(val))
	case Array:
		return val.MarshalJSON()
	case Object:
		return val.MarshalJSON()
	default:
		return nil, fmt.Errorf("unknown Value type %T", v)
	}
}

// UnmarshalJSON implements json.Unmarshaler. Floats are rejected.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	obj, ok := v.(Object)
	if !ok {
		return fmt.Errorf("expected JSON object, got %s", KindOf(v))
	}
	*o = obj
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. Floats are rejected.
func (a *Array) UnmarshalJSON(data []byte) error {
	v, err := Parse(data)
	if err != nil {
		return err
	}
	arr, ok := v.(Array)
	if !ok {
		return fmt.Errorf("expected JSON array, got %s", KindOf(v))
	}
	*a = arr
	return nil
}

// Parse decodes a single JSON document into a Value.
func Parse(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// ParseObject decodes a JSON object.
func ParseObject(data []byte) (Object, error) {
	var obj Object
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return obj, nil
}

// FromAny converts decoded JSON or YAML data into a Value.
// Accepts json.Number, Go integer types, string, bool, nil, []any and
// map[string]any. Floats are rejected, even when integral, because
// yaml.v3 and encoding/json only produce them for non-integer input.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return val, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case int:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint32:
		return Int(val), nil
	case json.Number:
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number %s is not an int64: floats are not supported", val)
		}
		return Int(n), nil
	case float32, float64:
		return nil, fmt.Errorf("float %v not supported: use int", val)
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			arr[i] = ev
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			ev, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("%q: %w", k, err)
			}
			obj[k] = ev
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}

// ObjectFromMap converts a decoded map into an Object.
func ObjectFromMap(m map[string]any) (Object, error) {
	if m == nil {
		return Object{}, nil
	}
	v, err := FromAny(m)
	if err != nil {
		return nil, err
	}
	return v.(Object), nil
}

// ToAny converts v back to plain Go data: nil, string, int64, bool,
// []any and map[string]any.
func ToAny(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case String:
		return string(val)
	case Int:
		return int64(val)
	case Bool:
		return bool(val)
	case Array:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = ToAny(elem)
		}
		return out
	case Object:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = ToAny(elem)
		}
		return out
	default:
		return nil
	}
}
