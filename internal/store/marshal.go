package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// bindParam converts a statement's list parameter into named arguments.
// The list is shipped as JSON TEXT; its field list must match the shape
// the statement declares.
func bindParam(st sqlgen.Statement, param data.StructList) (map[string]any, error) {
	if st.Param == "" {
		return nil, nil
	}
	if len(param.Fields) != len(st.ParamFields) {
		return nil, fmt.Errorf("bind %s: expected %d fields, got %d", st.Param, len(st.ParamFields), len(param.Fields))
	}
	for i, f := range st.ParamFields {
		if param.Fields[i].Name != f.Name {
			return nil, fmt.Errorf("bind %s: field %d is %q, expected %q", st.Param, i, param.Fields[i].Name, f.Name)
		}
	}
	raw, err := json.Marshal(param)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", st.Param, err)
	}
	return map[string]any{st.Param: string(raw)}, nil
}

// marshalKey converts a key to the JSON TEXT stored in the system tables.
func marshalKey(k data.Key) (string, error) {
	raw, err := json.Marshal(k)
	if err != nil {
		return "", fmt.Errorf("marshal key: %w", err)
	}
	return string(raw), nil
}

// unmarshalKey decodes a stored key of the given shape. NULL decodes to
// the zero key.
func unmarshalKey(info *data.KeyInfo, v any) (data.Key, error) {
	var raw []byte
	switch val := v.(type) {
	case nil:
		return data.Key{}, nil
	case string:
		raw = []byte(val)
	case []byte:
		raw = val
	default:
		return data.Key{}, fmt.Errorf("unmarshal key: unexpected %T", v)
	}
	return data.KeyFromJSON(info, raw)
}
