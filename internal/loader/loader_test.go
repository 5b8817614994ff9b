package loader

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/testutil"
)

var salesDir = filepath.Join("..", "..", "testdata", "views")

// stripPos zeroes every position so definitions can be compared by content.
func stripPos(def model.Definition) model.Definition {
	for i := range def.Tables {
		def.Tables[i].Pos = model.Pos{}
	}
	for i := range def.Handlers {
		h := &def.Handlers[i]
		h.Pos = model.Pos{}
		for j := range h.Targets {
			t := &h.Targets[j]
			t.Pos = model.Pos{}
			for k := range t.Sources {
				s := &t.Sources[k]
				s.Pos = model.Pos{}
				for c := range s.Conditions {
					s.Conditions[c].Pos = model.Pos{}
				}
			}
			for k := range t.Columns {
				t.Columns[k].Pos = model.Pos{}
			}
		}
	}
	return def
}

func TestLoadDirSales(t *testing.T) {
	def, err := LoadDir(salesDir)
	require.NoError(t, err)

	assert.Equal(t, testutil.SalesDefinition(), stripPos(def))

	meta := model.Build(def)
	assert.Empty(t, meta.Issues)
	assert.NotNil(t, meta.Target(testutil.SalesHandler, "line_view"))
}

func TestLoadRecordsPositions(t *testing.T) {
	def, err := LoadFile(filepath.Join(salesDir, "sales.cue"))
	require.NoError(t, err)

	orders := def.Tables[1]
	assert.Equal(t, "orders", orders.Name)
	assert.Equal(t, filepath.Join(salesDir, "sales.cue"), orders.Pos.File)
	assert.Equal(t, 8, orders.Pos.Line)

	cond := def.Handlers[0].Targets[0].Sources[1].Conditions[0]
	assert.Equal(t, 22, cond.Pos.Line)
}

func TestLoadStringIssuesCarryPositions(t *testing.T) {
	src := `
table: orders: {
	key: ["id"]
	columns: {id: "int", status: "text"}
}
handler: h: target: bad: {
	key: ["id"]
	sources: [
		{table: "orders", alias: "o"},
		{table: "orders", alias: "p", on: [
			{first: {ref: "p.id", value: 1}, second: {ref: "o.id"}},
		]},
	]
	columns: [{from: "o.id"}]
}
`
	def, err := LoadString("views.cue", src)
	require.NoError(t, err)

	meta := model.Build(def)
	require.Len(t, meta.Issues, 1)
	issue := meta.Issues[0]
	assert.Equal(t, model.ErrSideBothSet, issue.Code)
	assert.Equal(t, "views.cue", issue.Pos.File)
	assert.Equal(t, 11, issue.Pos.Line)
	assert.True(t, meta.IsExcluded("h", "bad"))
}

func TestLoadStringLiterals(t *testing.T) {
	src := `
handler: h: target: t: sources: [{table: "x", on: [
	{first: {ref: "a"}, second: {value: 7}},
	{first: {ref: "b"}, second: {value: 1.5}},
	{first: {ref: "c"}, second: {value: true}},
	{first: {ref: "d"}, second: {value: null}},
	{first: {ref: "e"}, second: {value: "2024-05-01T10:00:00Z", type: "timestamp"}},
	{first: {ref: "f"}, second: {value: "beef", type: "bytes"}},
	{first: {ref: "g"}},
]}]
`
	def, err := LoadString("lit.cue", src)
	require.NoError(t, err)

	conds := def.Handlers[0].Targets[0].Sources[0].Conditions
	require.Len(t, conds, 7)
	want := []data.Value{
		data.Int(7),
		data.Float(1.5),
		data.Bool(true),
		data.Null{},
		data.Timestamp(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
		data.Bytes{0xbe, 0xef},
	}
	for i, w := range want {
		assert.Equal(t, w, conds[i].Second.Literal, "condition %d", i)
	}
	assert.Equal(t, model.SideDef{}, conds[6].Second, "missing side is passed through")
}

func TestLoadStringCollectsErrors(t *testing.T) {
	src := `
table: orders: {
	key: "id"
	columns: {id: "decimal"}
}
handler: h: target: t: {
	sources: [{table: "orders"}]
	columns: [{name: "x"}]
}
`
	_, err := LoadString("bad.cue", src)
	require.Error(t, err)

	errs := Errors(err)
	codes := make([]string, len(errs))
	for i, e := range errs {
		codes[i] = e.Code
	}
	assert.Equal(t, []string{ErrCodeInvalidField, ErrCodeInvalidField, ErrCodeMissingField, ErrCodeMissingField}, codes)
	assert.Equal(t, "bad.cue", errs[0].Pos.File)
	assert.Contains(t, errs[1].Error(), "decimal")
}

func TestLoadStringSyntaxError(t *testing.T) {
	_, err := LoadString("broken.cue", "table: {")
	require.Error(t, err)

	errs := Errors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, ErrCodeBuildFailed, errs[0].Code)
}

func TestLoadStringIncomplete(t *testing.T) {
	_, err := LoadString("open.cue", `table: t: {key: ["id"], columns: {id: string}}`)
	require.Error(t, err)
	assert.Equal(t, ErrCodeBuildFailed, Errors(err)[0].Code)
}

func TestLoadStringEmpty(t *testing.T) {
	_, err := LoadString("empty.cue", `other: 1`)
	require.Error(t, err)
	assert.Equal(t, ErrCodeGeneric, Errors(err)[0].Code)
}

func TestLoadDirErrors(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	assert.Equal(t, ErrCodeNotFound, Errors(err)[0].Code)

	empty := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(empty, "README"), []byte("x"), 0o644))
	_, err = LoadDir(empty)
	assert.Equal(t, ErrCodeNoFiles, Errors(err)[0].Code)
}
