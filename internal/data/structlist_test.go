package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeysToParam_PreservesOrder(t *testing.T) {
	keys := []Key{
		MustKey(ordersKey, String("us"), Int(3)),
		MustKey(ordersKey, String("eu"), Int(1)),
		MustKey(ordersKey, String("eu"), Int(2)),
	}

	param, err := KeysToParam(keys)
	require.NoError(t, err)
	assert.Equal(t, 3, param.Len())
	assert.Equal(t, ordersKey.Columns, param.Fields)

	raw, err := param.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `[{"region":"us","id":3},{"region":"eu","id":1},{"region":"eu","id":2}]`, string(raw))
}

func TestKeysToParam_Empty(t *testing.T) {
	param, err := KeysToParam(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, param.Len())
}

func TestKeysToParam_ShapeMismatch(t *testing.T) {
	other := &KeyInfo{Table: "customers", Columns: []Column{{Name: "id", Type: TypeInt}}}
	_, err := KeysToParam([]Key{
		MustKey(ordersKey, String("us"), Int(3)),
		MustKey(other, Int(1)),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "key 1")
}

func TestStructList_EncodesAllTypes(t *testing.T) {
	ts := time.Date(2024, 5, 6, 7, 8, 9, 123, time.UTC)
	list := StructList{
		Fields: []Column{
			{Name: "i", Type: TypeInt},
			{Name: "f", Type: TypeFloat},
			{Name: "s", Type: TypeString},
			{Name: "b", Type: TypeBool},
			{Name: "x", Type: TypeBytes},
			{Name: "t", Type: TypeTimestamp},
			{Name: "n", Type: TypeString},
		},
	}
	require.NoError(t, list.Append([]Value{Int(1), Float(2.5), String(`a"b`), Bool(true), Bytes{0xca, 0xfe}, Timestamp(ts), Null{}}))
	require.Error(t, list.Append([]Value{Int(1)}))

	raw, err := list.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `[{"i":1,"f":2.5,"s":"a\"b","b":true,"x":"cafe","t":"2024-05-06T07:08:09.000000123Z","n":null}]`, string(raw))
}

func TestParamWithFields(t *testing.T) {
	param, err := KeysToParam([]Key{MustKey(ordersKey, String("us"), Int(3))})
	require.NoError(t, err)

	relabelled, err := ParamWithFields(param, []Column{{Name: "r", Type: TypeString}, {Name: "n", Type: TypeInt}})
	require.NoError(t, err)
	raw, err := relabelled.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `[{"r":"us","n":3}]`, string(raw))

	_, err = ParamWithFields(param, []Column{{Name: "r", Type: TypeString}})
	require.Error(t, err)
}
