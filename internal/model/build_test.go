package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvsync/internal/data"
)

func salesTables() []TableDef {
	return []TableDef{
		{
			Name: "customers",
			Columns: []data.Column{
				{Name: "id", Type: data.TypeInt},
				{Name: "name", Type: data.TypeString},
			},
			Key: []string{"id"},
		},
		{
			Name: "orders",
			Columns: []data.Column{
				{Name: "id", Type: data.TypeInt},
				{Name: "customer_id", Type: data.TypeInt},
				{Name: "status", Type: data.TypeString},
			},
			Key: []string{"id"},
		},
	}
}

func ref(alias, column string) SideDef { return SideDef{Alias: alias, Column: column} }

func orderView() TargetDef {
	return TargetDef{
		Name: "order_view",
		Sources: []SourceDef{
			{Table: "orders", Alias: "o"},
			{Table: "customers", Alias: "c", Conditions: []ConditionDef{
				{First: ref("c", "id"), Second: ref("o", "customer_id"), Pos: Pos{File: "views.cue", Line: 12, Column: 5}},
			}},
		},
		Columns: []ColumnDef{
			{Name: "id", Alias: "o", Column: "id"},
			{Name: "customer_name", Alias: "c", Column: "name"},
		},
		Key: []string{"id"},
	}
}

func build(targets ...TargetDef) *Metadata {
	return Build(Definition{
		Tables:   salesTables(),
		Handlers: []HandlerDef{{Name: "sales", Targets: targets}},
	})
}

func codes(issues []Issue) []string {
	out := make([]string, len(issues))
	for i, is := range issues {
		out[i] = is.Code
	}
	return out
}

func TestBuildValidTarget(t *testing.T) {
	meta := build(orderView())
	require.Empty(t, meta.Issues)

	target := meta.Target("sales", "order_view")
	require.NotNil(t, target)
	assert.Equal(t, "o", target.Main().Alias)
	assert.Equal(t, JoinMain, target.Main().Mode)
	assert.Equal(t, JoinInner, target.Sources[1].Mode)
	assert.Equal(t, []string{"orders", "customers"}, target.Tables())
	assert.Equal(t, []string{"id"}, target.KeyColumns)
	assert.Equal(t, "order_view", target.KeyInfo().Table)

	cond := target.Sources[1].Conditions[0]
	first, ok := cond.First.(ColumnRef)
	require.True(t, ok)
	assert.Equal(t, "c.id", first.String())
	assert.Same(t, target.Sources[1], first.Source)
}

func TestBuildConditionSideBothSet(t *testing.T) {
	bad := orderView()
	bad.Sources[1].Conditions[0].First = SideDef{Literal: data.Int(1), Alias: "c", Column: "id"}

	meta := build(bad)

	require.Len(t, meta.Issues, 1)
	issue := meta.Issues[0]
	assert.Equal(t, ErrSideBothSet, issue.Code)
	assert.Equal(t, SeverityError, issue.Severity)
	assert.Equal(t, Pos{File: "views.cue", Line: 12, Column: 5}, issue.Pos)
	assert.Equal(t, "sales", issue.Handler)
	assert.Equal(t, "order_view", issue.Target)

	assert.Nil(t, meta.Target("sales", "order_view"), "target must not be generated")
	assert.True(t, meta.IsExcluded("sales", "order_view"))
}

func TestBuildConditionSideNeitherSet(t *testing.T) {
	bad := orderView()
	bad.Sources[1].Conditions[0].Second = SideDef{}

	meta := build(bad)

	assert.Equal(t, []string{ErrSideNeitherSet}, codes(meta.Issues))
	assert.True(t, meta.IsExcluded("sales", "order_view"))
}

func TestBuildExcludesOnlyInvalidTarget(t *testing.T) {
	bad := orderView()
	bad.Name = "broken"
	bad.Sources[1].Conditions[0].First = SideDef{}

	meta := build(orderView(), bad)

	assert.NotNil(t, meta.Target("sales", "order_view"))
	assert.Nil(t, meta.Target("sales", "broken"))
	require.Len(t, meta.Handler("sales").Targets, 1)
}

func TestBuildDanglingReferences(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*TargetDef)
		code   string
	}{
		{
			name:   "unknown alias",
			mutate: func(td *TargetDef) { td.Sources[1].Conditions[0].Second = ref("x", "customer_id") },
			code:   ErrDanglingAlias,
		},
		{
			name: "alias declared later",
			mutate: func(td *TargetDef) {
				td.Sources[0].Conditions = []ConditionDef{{First: ref("o", "customer_id"), Second: ref("c", "id")}}
			},
			code: ErrDanglingAlias,
		},
		{
			name:   "unknown column",
			mutate: func(td *TargetDef) { td.Sources[1].Conditions[0].Second = ref("o", "nope") },
			code:   ErrDanglingColumn,
		},
		{
			name:   "unknown table",
			mutate: func(td *TargetDef) { td.Sources[1].Table = "suppliers" },
			code:   ErrUnknownTable,
		},
		{
			name:   "reserved alias",
			mutate: func(td *TargetDef) { td.Sources[0].Alias = "sys_keys" },
			code:   ErrInvalidIdentifier,
		},
		{
			name:   "duplicate alias",
			mutate: func(td *TargetDef) { td.Sources[1].Alias = "o" },
			code:   ErrDuplicateName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := orderView()
			tt.mutate(&td)

			meta := build(td)

			assert.Contains(t, codes(meta.Issues), tt.code)
			assert.True(t, meta.IsExcluded("sales", "order_view"))
		})
	}
}

func TestBuildCrossJoin(t *testing.T) {
	td := orderView()
	// Condition only on the main source, nothing ties customers in.
	td.Sources[1].Conditions = []ConditionDef{{First: ref("o", "status"), Second: SideDef{Literal: data.String("open")}}}

	meta := build(td)

	assert.Equal(t, []string{ErrCrossJoin}, codes(meta.Issues))
}

func TestBuildJoinModes(t *testing.T) {
	td := orderView()
	td.Sources[1].Mode = JoinMain
	meta := build(td)
	assert.Equal(t, []string{ErrInvalidStructure}, codes(meta.Issues))

	td = orderView()
	td.Sources[0].Mode = JoinLeft
	meta = build(td)
	assert.Equal(t, []string{ErrInvalidStructure}, codes(meta.Issues))

	td = orderView()
	td.Sources[1].Mode = JoinLeft
	meta = build(td)
	require.Empty(t, meta.Issues)
	assert.Equal(t, JoinLeft, meta.Target("sales", "order_view").Sources[1].Mode)
}

func TestBuildTargetKey(t *testing.T) {
	tests := []struct {
		name string
		key  []string
	}{
		{name: "empty", key: nil},
		{name: "not a column", key: []string{"missing"}},
		{name: "not the main key", key: []string{"customer_name"}},
		{name: "wrong arity", key: []string{"id", "customer_name"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			td := orderView()
			td.Key = tt.key
			meta := build(td)
			assert.Equal(t, []string{ErrInvalidTargetKey}, codes(meta.Issues))
		})
	}
}

func TestBuildNullLiteralWarns(t *testing.T) {
	td := orderView()
	td.Sources[1].Conditions = append(td.Sources[1].Conditions,
		ConditionDef{First: ref("c", "name"), Second: SideDef{Literal: data.Null{}}})

	meta := build(td)

	require.Equal(t, []string{WarnNullLiteral}, codes(meta.Issues))
	assert.False(t, HasErrors(meta.Issues))
	target := meta.Target("sales", "order_view")
	require.NotNil(t, target, "warnings do not exclude a target")
	assert.Len(t, target.Literals(), 1)
}

func TestBuildNormalizesIdentifiers(t *testing.T) {
	tables := salesTables()
	// Declared decomposed, referenced precomposed.
	tables[1].Columns = append(tables[1].Columns, data.Column{Name: "cafe\u0301", Type: data.TypeString})
	td := orderView()
	td.Columns = append(td.Columns, ColumnDef{Alias: "o", Column: "caf\u00e9"})

	meta := Build(Definition{Tables: tables, Handlers: []HandlerDef{{Name: "sales", Targets: []TargetDef{td}}}})

	require.Empty(t, meta.Issues)
	assert.Equal(t, "caf\u00e9", meta.Target("sales", "order_view").Columns[2].Name)
}

func TestBuildDuplicates(t *testing.T) {
	meta := Build(Definition{
		Tables: append(salesTables(), salesTables()[0]),
		Handlers: []HandlerDef{
			{Name: "sales", Targets: []TargetDef{orderView(), orderView()}},
			{Name: "sales"},
		},
	})

	assert.Equal(t, []string{ErrDuplicateName, ErrDuplicateName, ErrDuplicateName}, codes(meta.Issues))
	assert.NotNil(t, meta.Target("sales", "order_view"))
	assert.Len(t, meta.Handlers, 1)
}

func TestBuildTableErrors(t *testing.T) {
	tables := salesTables()
	tables[1].Key = []string{"missing"}

	meta := Build(Definition{Tables: tables, Handlers: []HandlerDef{{Name: "sales", Targets: []TargetDef{orderView()}}}})

	assert.Nil(t, meta.Table("orders"))
	assert.Contains(t, codes(meta.Issues), ErrDanglingColumn)
	assert.Contains(t, codes(meta.Issues), ErrUnknownTable)
	assert.True(t, meta.IsExcluded("sales", "order_view"))
}

func TestTargetKeyRebindsMainKey(t *testing.T) {
	meta := build(orderView())
	target := meta.Target("sales", "order_view")

	mainKey := data.MustKey(meta.Table("orders").KeyInfo(), data.Int(7))
	tk, err := target.TargetKey(mainKey)
	require.NoError(t, err)
	assert.Equal(t, "order_view(id=7)", tk.String())
	assert.True(t, tk.Equal(mainKey))
}

func TestIssueString(t *testing.T) {
	is := Issue{Code: ErrCrossJoin, Severity: SeverityError, Pos: Pos{File: "a.cue", Line: 3, Column: 1},
		Handler: "h", Target: "t", Message: "boom"}
	assert.Equal(t, "a.cue:3:1: error E209 [h/t]: boom", is.String())
}
