package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type idKind uint8

const (
	idInvalid idKind = iota
	idInt
	idString
)

// ID identifies a record within its store. Ids are either integers or
// strings; IntID(7) and StringID("7") are different ids. The zero ID is
// invalid. ID is comparable and safe to use as a map key.
type ID struct {
	kind idKind
	num  int64
	str  string
}

// IntID returns an integer id.
func IntID(n int64) ID {
	return ID{kind: idInt, num: n}
}

// StringID returns a string id.
func StringID(s string) ID {
	return ID{kind: idString, str: s}
}

// IDFromValue converts an Int or String value into an ID.
func IDFromValue(v Value) (ID, error) {
	switch val := v.(type) {
	case Int:
		return IntID(int64(val)), nil
	case String:
		if val == "" {
			return ID{}, fmt.Errorf("empty string id")
		}
		return StringID(string(val)), nil
	default:
		return ID{}, fmt.Errorf("id must be int or string, got %s", KindOf(v))
	}
}

// Valid reports whether the id was constructed by IntID, StringID or
// IDFromValue.
func (id ID) Valid() bool {
	return id.kind != idInvalid
}

// IsPlaceholder reports whether the id is a negative integer. Negative
// ids are reserved for synthetic local records such as "no selection".
func (id ID) IsPlaceholder() bool {
	return id.kind == idInt && id.num < 0
}

// Int returns the integer id, if this is one.
func (id ID) Int() (int64, bool) {
	return id.num, id.kind == idInt
}

// Value returns the id as a field value.
func (id ID) Value() Value {
	switch id.kind {
	case idInt:
		return Int(id.num)
	case idString:
		return String(id.str)
	default:
		return Null{}
	}
}

// String renders integer ids as decimal and string ids verbatim.
func (id ID) String() string {
	switch id.kind {
	case idInt:
		return strconv.FormatInt(id.num, 10)
	case idString:
		return id.str
	default:
		return "<invalid>"
	}
}

// CompareIDs orders integer ids numerically before string ids, which are
// ordered lexically. Invalid ids sort first.
func CompareIDs(a, b ID) int {
	if a.kind != b.kind {
		return int(a.kind) - int(b.kind)
	}
	switch a.kind {
	case idInt:
		switch {
		case a.num < b.num:
			return -1
		case a.num > b.num:
			return 1
		}
		return 0
	case idString:
		return strings.Compare(a.str, b.str)
	}
	return 0
}

// MarshalJSON writes integer ids as numbers and string ids as strings.
func (id ID) MarshalJSON() ([]byte, error) {
	if !id.Valid() {
		return []byte("null"), nil
	}
	return Marshal(id.Value())
}

// UnmarshalJSON accepts a JSON number or string. null leaves the id invalid.
func (id *ID) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*id = ID{}
		return nil
	}
	var raw any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	v, err := FromAny(raw)
	if err != nil {
		return err
	}
	parsed, err := IDFromValue(v)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
