package data

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StructList is a list-of-struct parameter: every row carries one value per
// field, in field order. It is bound to a statement as a single parameter
// and expanded by the store (json_each, jsonb_to_recordset) into a relation.
type StructList struct {
	Fields []Column
	Rows   [][]Value
}

// Len returns the number of rows.
func (l StructList) Len() int { return len(l.Rows) }

// Slice returns rows [from, to) sharing the same fields.
func (l StructList) Slice(from, to int) StructList {
	return StructList{Fields: l.Fields, Rows: l.Rows[from:to]}
}

// Append adds one row. The row length must match the fields.
func (l *StructList) Append(row []Value) error {
	if len(row) != len(l.Fields) {
		return fmt.Errorf("struct list: expected %d values, got %d", len(l.Fields), len(row))
	}
	l.Rows = append(l.Rows, row)
	return nil
}

// MarshalJSON encodes the list as a JSON array of objects. Row order is
// preserved; object members follow field order.
func (l StructList) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, row := range l.Rows {
		if i > 0 {
			buf.WriteByte(',')
		}
		obj, err := marshalObject(l.Fields, row)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		buf.Write(obj)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

// String renders the list for debug logs.
func (l StructList) String() string {
	rows := make([]string, len(l.Rows))
	for i, row := range l.Rows {
		parts := make([]string, len(row))
		for j, v := range row {
			parts[j] = l.Fields[j].Name + "=" + Format(v)
		}
		rows[i] = "{" + strings.Join(parts, ", ") + "}"
	}
	return "[" + strings.Join(rows, ", ") + "]"
}

// KeysToParam converts keys into a single list parameter for a batched
// lookup. Input order is preserved. All keys must have the same shape; the
// field names are taken from the first key.
func KeysToParam(keys []Key) (StructList, error) {
	if len(keys) == 0 {
		return StructList{}, nil
	}
	info := keys[0].info
	if info == nil {
		return StructList{}, fmt.Errorf("keys to param: key 0 is not initialised")
	}
	list := StructList{Fields: info.Columns, Rows: make([][]Value, 0, len(keys))}
	for i, k := range keys {
		if k.info == nil || !k.info.SameShape(info) {
			return StructList{}, fmt.Errorf("keys to param: key %d does not match the shape of %s", i, info.Table)
		}
		list.Rows = append(list.Rows, k.values)
	}
	return list, nil
}

// ParamWithFields relabels a list with different field names of the same
// shape, e.g. target key names for main-table keys.
func ParamWithFields(l StructList, fields []Column) (StructList, error) {
	if len(fields) != len(l.Fields) {
		return StructList{}, fmt.Errorf("relabel struct list: expected %d fields, got %d", len(l.Fields), len(fields))
	}
	return StructList{Fields: fields, Rows: l.Rows}, nil
}

func marshalObject(fields []Column, values []Value) ([]byte, error) {
	if len(fields) != len(values) {
		return nil, fmt.Errorf("expected %d values, got %d", len(fields), len(values))
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		name, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		buf.Write(name)
		buf.WriteByte(':')
		val, err := json.Marshal(jsonScalar(values[i]))
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", f.Name, err)
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// fromJSON converts a decoded JSON scalar (decoded with UseNumber) into a
// Value of type t.
func fromJSON(raw any, t Type) (Value, error) {
	if raw == nil {
		return Null{}, nil
	}
	switch t {
	case TypeInt:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		i, err := n.Int64()
		if err != nil {
			return nil, err
		}
		return Int(i), nil
	case TypeFloat:
		n, ok := raw.(json.Number)
		if !ok {
			return nil, fmt.Errorf("expected number, got %T", raw)
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return Float(f), nil
	case TypeString:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", raw)
		}
		return String(s), nil
	case TypeBool:
		b, ok := raw.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %T", raw)
		}
		return Bool(b), nil
	case TypeBytes:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected hex string, got %T", raw)
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, err
		}
		return Bytes(b), nil
	case TypeTimestamp:
		s, ok := raw.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp string, got %T", raw)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, err
		}
		return Timestamp(ts.UTC()), nil
	default:
		return nil, fmt.Errorf("unsupported type %q", t)
	}
}
