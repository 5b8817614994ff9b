package model

import "github.com/roach88/mvsync/internal/data"

// Definition is the raw, possibly malformed, description of tables and
// handlers. Build turns it into Metadata.
type Definition struct {
	Tables   []TableDef
	Handlers []HandlerDef
}

// TableDef declares a source table.
type TableDef struct {
	Name    string
	Columns []data.Column
	Key     []string
	Pos     Pos
}

// HandlerDef declares a handler and its targets.
type HandlerDef struct {
	Name    string
	Targets []TargetDef
	Pos     Pos
}

// TargetDef declares one materialized table.
// Sources[0] is the main source.
type TargetDef struct {
	Name    string
	Sources []SourceDef
	Columns []ColumnDef
	Key     []string
	Pos     Pos
}

// SourceDef declares a join source. An empty Alias defaults to the table
// name; an empty Mode means main for the first source and inner otherwise.
type SourceDef struct {
	Table      string
	Alias      string
	Mode       JoinMode
	Conditions []ConditionDef
	Pos        Pos
}

// ConditionDef declares First = Second.
type ConditionDef struct {
	First  SideDef
	Second SideDef
	Pos    Pos
}

// SideDef is one side of a condition as written: a literal (Literal != nil)
// or a column reference (Alias and/or Column set). An empty Alias with a
// Column refers to the source owning the condition.
type SideDef struct {
	Literal data.Value
	Alias   string
	Column  string
}

// ColumnDef declares a target column: Name = Alias.Column.
type ColumnDef struct {
	Name   string
	Alias  string
	Column string
	Pos    Pos
}
