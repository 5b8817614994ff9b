package data

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromDriver(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	testCases := []struct {
		name string
		in   any
		typ  Type
		want Value
	}{
		{"nil", nil, TypeInt, Null{}},
		{"int64", int64(5), TypeInt, Int(5)},
		{"int32", int32(5), TypeInt, Int(5)},
		{"int from text", []byte("12"), TypeInt, Int(12)},
		{"integral float", float64(42), TypeInt, Int(42)},
		{"float", float64(1.25), TypeFloat, Float(1.25)},
		{"string", "abc", TypeString, String("abc")},
		{"string from bytes", []byte("abc"), TypeString, String("abc")},
		{"bool", true, TypeBool, Bool(true)},
		{"sqlite bool", int64(0), TypeBool, Bool(false)},
		{"bytes", []byte{1, 2}, TypeBytes, Bytes{1, 2}},
		{"time", ts, TypeTimestamp, Timestamp(ts)},
		{"time text", "2024-01-01T00:00:00Z", TypeTimestamp, Timestamp(ts)},
		{"infer int", int64(3), "", Int(3)},
		{"infer string", "x", "", String("x")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := FromDriver(tc.in, tc.typ)
			require.NoError(t, err)
			assert.True(t, Equal(tc.want, got), "want %s, got %s", Format(tc.want), Format(got))
		})
	}
}

func TestFromDriver_Mismatch(t *testing.T) {
	_, err := FromDriver(true, TypeInt)
	require.Error(t, err)
	_, err = FromDriver("nope", TypeTimestamp)
	require.Error(t, err)
}

func TestFromDriver_RejectsLossyFloats(t *testing.T) {
	for _, f := range []float64{1.5, -0.25, math.Inf(1), math.NaN(), 1e19, -1e19} {
		_, err := FromDriver(f, TypeInt)
		assert.Error(t, err, "%v", f)
	}
}

func TestResultSet_KeyRekeysByName(t *testing.T) {
	rs := &ResultSet{
		Columns: []Column{{Name: "id", Type: TypeInt}, {Name: "note", Type: TypeString}, {Name: "region", Type: TypeString}},
		Rows: [][]Value{
			{Int(2), String("b"), String("eu")},
			{Int(1), String("a"), String("us")},
		},
	}

	k, err := rs.Key(rs.Rows[1], ordersKey)
	require.NoError(t, err)
	assert.True(t, k.Equal(MustKey(ordersKey, String("us"), Int(1))))

	_, err = rs.Key(rs.Rows[0], &KeyInfo{Table: "x", Columns: []Column{{Name: "missing", Type: TypeInt}}})
	require.Error(t, err)
}

func TestResultSet_Project(t *testing.T) {
	rs := &ResultSet{
		Columns: []Column{{Name: "a", Type: TypeInt}, {Name: "b", Type: TypeString}},
		Rows:    [][]Value{{Int(1), String("x")}},
	}
	list, err := rs.Project([]Column{{Name: "b", Type: TypeString}, {Name: "a", Type: TypeInt}}, rs.Rows)
	require.NoError(t, err)
	require.Len(t, list.Rows, 1)
	assert.Equal(t, []Value{String("x"), Int(1)}, list.Rows[0])
}
