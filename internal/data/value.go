package data

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// Type is the logical type of a column.
type Type string

const (
	TypeInt       Type = "int"
	TypeFloat     Type = "float"
	TypeString    Type = "text"
	TypeBool      Type = "bool"
	TypeBytes     Type = "bytes"
	TypeTimestamp Type = "timestamp"
)

// ParseType maps a type name to a Type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeInt, TypeFloat, TypeString, TypeBool, TypeBytes, TypeTimestamp:
		return Type(s), nil
	case "string":
		return TypeString, nil
	case "int64", "integer":
		return TypeInt, nil
	default:
		return "", fmt.Errorf("unknown column type %q", s)
	}
}

// Column is a named, typed column.
type Column struct {
	Name string `json:"name" yaml:"name"`
	Type Type   `json:"type" yaml:"type"`
}

// Value is a sealed interface over the scalar values that flow through the
// pipeline. Only the types in this file implement it.
type Value interface {
	// Type returns the logical type; Null reports an empty Type.
	Type() Type
	value()
}

// Null is the SQL NULL.
type Null struct{}

func (Null) value()     {}
func (Null) Type() Type { return "" }

// Int is a 64-bit signed integer.
type Int int64

func (Int) value()     {}
func (Int) Type() Type { return TypeInt }

// Float is a 64-bit float. Floats are allowed in row data but rejected as
// key components.
type Float float64

func (Float) value()     {}
func (Float) Type() Type { return TypeFloat }

// String is a text value.
type String string

func (String) value()     {}
func (String) Type() Type { return TypeString }

// Bool is a boolean value.
type Bool bool

func (Bool) value()     {}
func (Bool) Type() Type { return TypeBool }

// Bytes is a binary value.
type Bytes []byte

func (Bytes) value()     {}
func (Bytes) Type() Type { return TypeBytes }

// Timestamp is a point in time, always normalised to UTC.
type Timestamp time.Time

func (Timestamp) value()     {}
func (Timestamp) Type() Type { return TypeTimestamp }

// IsNull reports whether v is nil or Null.
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// Equal reports whether two values are the same type and value.
// Null equals Null here; SQL three-valued logic is the store's business.
func Equal(a, b Value) bool {
	if IsNull(a) || IsNull(b) {
		return IsNull(a) && IsNull(b)
	}
	switch av := a.(type) {
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Float:
		bv, ok := b.(Float)
		return ok && av == bv
	case String:
		bv, ok := b.(String)
		return ok && av == bv
	case Bool:
		bv, ok := b.(Bool)
		return ok && av == bv
	case Bytes:
		bv, ok := b.(Bytes)
		return ok && bytes.Equal(av, bv)
	case Timestamp:
		bv, ok := b.(Timestamp)
		return ok && time.Time(av).Equal(time.Time(bv))
	default:
		return false
	}
}

// Format renders v for logs and diagnostics.
func Format(v Value) string {
	switch val := v.(type) {
	case nil, Null:
		return "NULL"
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Float:
		return strconv.FormatFloat(float64(val), 'g', -1, 64)
	case String:
		return strconv.Quote(string(val))
	case Bool:
		return strconv.FormatBool(bool(val))
	case Bytes:
		return "0x" + hex.EncodeToString(val)
	case Timestamp:
		return time.Time(val).UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// jsonScalar returns the JSON-compatible Go value used when a Value is
// shipped inside a StructList parameter.
func jsonScalar(v Value) any {
	switch val := v.(type) {
	case nil, Null:
		return nil
	case Int:
		return int64(val)
	case Float:
		return float64(val)
	case String:
		return string(val)
	case Bool:
		return bool(val)
	case Bytes:
		return hex.EncodeToString(val)
	case Timestamp:
		return time.Time(val).UTC().Format(time.RFC3339Nano)
	default:
		return nil
	}
}
