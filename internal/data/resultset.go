package data

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// ResultSet is a fully materialised query result.
//
// Row order is whatever the store returned. Batched reads do not promise
// that it matches the order of the requested keys, so consumers re-key rows
// with Key.
type ResultSet struct {
	Columns []Column
	Rows    [][]Value
}

// Index returns the position of the named column, or -1.
func (rs *ResultSet) Index(name string) int {
	for i, c := range rs.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Key extracts the key described by info from one row, matching columns by
// name.
func (rs *ResultSet) Key(row []Value, info *KeyInfo) (Key, error) {
	values := make([]Value, len(info.Columns))
	for i, col := range info.Columns {
		idx := rs.Index(col.Name)
		if idx < 0 {
			return Key{}, fmt.Errorf("result set has no key column %s", col.Name)
		}
		values[i] = row[idx]
	}
	return NewKey(info, values...)
}

// KeyAs extracts a key reading the given result columns, in order, and
// labels it with info.
func (rs *ResultSet) KeyAs(row []Value, columns []string, info *KeyInfo) (Key, error) {
	if len(columns) != len(info.Columns) {
		return Key{}, fmt.Errorf("expected %d key columns, got %d", len(info.Columns), len(columns))
	}
	values := make([]Value, len(columns))
	for i, name := range columns {
		idx := rs.Index(name)
		if idx < 0 {
			return Key{}, fmt.Errorf("result set has no column %s", name)
		}
		values[i] = row[idx]
	}
	return NewKey(info, values...)
}

// Project returns a StructList with only the given fields, in that order.
func (rs *ResultSet) Project(fields []Column, rows [][]Value) (StructList, error) {
	idx := make([]int, len(fields))
	for i, f := range fields {
		idx[i] = rs.Index(f.Name)
		if idx[i] < 0 {
			return StructList{}, fmt.Errorf("result set has no column %s", f.Name)
		}
	}
	out := StructList{Fields: fields, Rows: make([][]Value, 0, len(rows))}
	for _, row := range rows {
		projected := make([]Value, len(idx))
		for i, j := range idx {
			projected[i] = row[j]
		}
		out.Rows = append(out.Rows, projected)
	}
	return out, nil
}

// FromDriver converts a value scanned by database/sql or pgx into a Value
// of the expected type. An empty t infers the type from the Go value.
func FromDriver(v any, t Type) (Value, error) {
	if v == nil {
		return Null{}, nil
	}
	switch t {
	case TypeInt:
		switch val := v.(type) {
		case int64:
			return Int(val), nil
		case int32:
			return Int(val), nil
		case int16:
			return Int(val), nil
		case int:
			return Int(val), nil
		case float64:
			return intFromFloat(val)
		case []byte:
			return parseInt(string(val))
		case string:
			return parseInt(val)
		}
	case TypeFloat:
		switch val := v.(type) {
		case float64:
			return Float(val), nil
		case float32:
			return Float(val), nil
		case int64:
			return Float(float64(val)), nil
		case []byte:
			return parseFloat(string(val))
		case string:
			return parseFloat(val)
		}
	case TypeString:
		switch val := v.(type) {
		case string:
			return String(val), nil
		case []byte:
			return String(string(val)), nil
		}
	case TypeBool:
		switch val := v.(type) {
		case bool:
			return Bool(val), nil
		case int64:
			return Bool(val != 0), nil
		case int32:
			return Bool(val != 0), nil
		}
	case TypeBytes:
		switch val := v.(type) {
		case []byte:
			b := make([]byte, len(val))
			copy(b, val)
			return Bytes(b), nil
		case string:
			return Bytes([]byte(val)), nil
		}
	case TypeTimestamp:
		switch val := v.(type) {
		case time.Time:
			return Timestamp(val.UTC()), nil
		case string:
			return parseTimestamp(val)
		case []byte:
			return parseTimestamp(string(val))
		}
	case "":
		return inferValue(v)
	default:
		return nil, fmt.Errorf("unsupported column type %q", t)
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, t)
}

func inferValue(v any) (Value, error) {
	switch val := v.(type) {
	case int64:
		return Int(val), nil
	case int32:
		return Int(val), nil
	case int:
		return Int(val), nil
	case float64:
		return Float(val), nil
	case string:
		return String(val), nil
	case []byte:
		return Bytes(val), nil
	case bool:
		return Bool(val), nil
	case time.Time:
		return Timestamp(val.UTC()), nil
	default:
		return nil, fmt.Errorf("cannot infer value type for %T", v)
	}
}

func parseInt(s string) (Value, error) {
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse int: %w", err)
	}
	return Int(i), nil
}

// intFromFloat accepts only integral floats inside the int64 range.
func intFromFloat(f float64) (Value, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return nil, fmt.Errorf("float %v is not an int64", f)
	}
	return Int(int64(f)), nil
}

func parseFloat(s string) (Value, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("parse float: %w", err)
	}
	return Float(f), nil
}

func parseTimestamp(s string) (Value, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return Timestamp(ts.UTC()), nil
		}
	}
	return nil, fmt.Errorf("parse timestamp %q", s)
}
