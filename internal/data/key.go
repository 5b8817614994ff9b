package data

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// KeyInfo describes the key columns of one table, in key order.
type KeyInfo struct {
	Table   string
	Columns []Column
}

// Names returns the key column names in order.
func (ki *KeyInfo) Names() []string {
	names := make([]string, len(ki.Columns))
	for i, c := range ki.Columns {
		names[i] = c.Name
	}
	return names
}

// SameShape reports whether two key infos have the same column types in
// the same order. Column names may differ.
func (ki *KeyInfo) SameShape(other *KeyInfo) bool {
	if len(ki.Columns) != len(other.Columns) {
		return false
	}
	for i := range ki.Columns {
		if ki.Columns[i].Type != other.Columns[i].Type {
			return false
		}
	}
	return true
}

// Key is an ordered tuple of values matching a table's key columns.
//
// Two keys are equal iff all component values are equal in the same order.
// Key values are immutable once built.
type Key struct {
	info   *KeyInfo
	values []Value
}

// NewKey builds a key, checking arity and component types.
// NULL and float components are rejected.
func NewKey(info *KeyInfo, values ...Value) (Key, error) {
	if info == nil {
		return Key{}, fmt.Errorf("key info is required")
	}
	if len(values) != len(info.Columns) {
		return Key{}, fmt.Errorf("key for %s: expected %d values, got %d", info.Table, len(info.Columns), len(values))
	}
	for i, v := range values {
		col := info.Columns[i]
		if IsNull(v) {
			return Key{}, fmt.Errorf("key for %s: column %s is NULL", info.Table, col.Name)
		}
		if v.Type() == TypeFloat {
			return Key{}, fmt.Errorf("key for %s: column %s: float key components are not supported", info.Table, col.Name)
		}
		if v.Type() != col.Type {
			return Key{}, fmt.Errorf("key for %s: column %s: expected %s, got %s", info.Table, col.Name, col.Type, v.Type())
		}
	}
	vals := make([]Value, len(values))
	copy(vals, values)
	return Key{info: info, values: vals}, nil
}

// MustKey is NewKey that panics on error. Intended for tests and literals.
func MustKey(info *KeyInfo, values ...Value) Key {
	k, err := NewKey(info, values...)
	if err != nil {
		panic(err)
	}
	return k
}

// Info returns the key's column description.
func (k Key) Info() *KeyInfo { return k.info }

// Len returns the number of components.
func (k Key) Len() int { return len(k.values) }

// Value returns the i-th component.
func (k Key) Value(i int) Value { return k.values[i] }

// Values returns a copy of the components.
func (k Key) Values() []Value {
	vals := make([]Value, len(k.values))
	copy(vals, k.values)
	return vals
}

// IsZero reports whether k was never built.
func (k Key) IsZero() bool { return k.info == nil }

// Equal compares component values in order. Key infos are not compared, so
// a main-table key equals the target key rebound from it.
func (k Key) Equal(other Key) bool {
	if len(k.values) != len(other.values) {
		return false
	}
	for i := range k.values {
		if !Equal(k.values[i], other.values[i]) {
			return false
		}
	}
	return true
}

// Hash returns a deterministic string such that k.Hash() == o.Hash() iff
// k.Equal(o). It is used as a map key for deduplication.
func (k Key) Hash() string {
	var b strings.Builder
	for i, v := range k.values {
		if i > 0 {
			b.WriteByte(0)
		}
		switch val := v.(type) {
		case Int:
			b.WriteByte('i')
			b.WriteString(strconv.FormatInt(int64(val), 10))
		case String:
			b.WriteByte('s')
			b.WriteString(strconv.Quote(string(val)))
		case Bool:
			b.WriteByte('b')
			b.WriteString(strconv.FormatBool(bool(val)))
		case Bytes:
			b.WriteByte('x')
			b.WriteString(Format(val))
		case Timestamp:
			b.WriteByte('t')
			b.WriteString(strconv.FormatInt(time.Time(val).UnixNano(), 10))
		default:
			b.WriteByte('?')
			b.WriteString(Format(v))
		}
	}
	return b.String()
}

// Rebind returns the same values labelled with another key info of the
// same shape.
func (k Key) Rebind(info *KeyInfo) (Key, error) {
	if k.info == nil || info == nil {
		return Key{}, fmt.Errorf("cannot rebind a zero key or onto a nil key info")
	}
	if !k.info.SameShape(info) {
		return Key{}, fmt.Errorf("cannot rebind key of %s to %s: shape mismatch", k.info.Table, info.Table)
	}
	return Key{info: info, values: k.values}, nil
}

// String renders the key for logs, e.g. orders(id=1).
func (k Key) String() string {
	if k.info == nil {
		return "<nil key>"
	}
	parts := make([]string, len(k.values))
	for i, v := range k.values {
		parts[i] = k.info.Columns[i].Name + "=" + Format(v)
	}
	return k.info.Table + "(" + strings.Join(parts, ", ") + ")"
}

// MarshalJSON encodes the key as a JSON object keyed by column name, the
// same document shape the change log stores.
func (k Key) MarshalJSON() ([]byte, error) {
	if k.info == nil {
		return []byte("null"), nil
	}
	return marshalObject(k.info.Columns, k.values)
}

// KeyFromJSON decodes a change-log key document ({"col": value, ...}) into
// a key of the given shape.
func KeyFromJSON(info *KeyInfo, raw []byte) (Key, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return Key{}, fmt.Errorf("decode key for %s: %w", info.Table, err)
	}
	values := make([]Value, len(info.Columns))
	for i, col := range info.Columns {
		raw, ok := doc[col.Name]
		if !ok {
			return Key{}, fmt.Errorf("decode key for %s: missing column %s", info.Table, col.Name)
		}
		v, err := fromJSON(raw, col.Type)
		if err != nil {
			return Key{}, fmt.Errorf("decode key for %s: column %s: %w", info.Table, col.Name, err)
		}
		values[i] = v
	}
	return NewKey(info, values...)
}
