package model

import (
	"fmt"

	"github.com/roach88/mvsync/internal/data"
)

// Pos is a source position of a definition element.
type Pos struct {
	File   string `json:"file,omitempty"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// IsValid reports whether the position carries a line.
func (p Pos) IsValid() bool { return p.Line > 0 }

func (p Pos) String() string {
	switch {
	case !p.IsValid() && p.File == "":
		return "-"
	case !p.IsValid():
		return p.File
	case p.File == "":
		return fmt.Sprintf("%d:%d", p.Line, p.Column)
	default:
		return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
	}
}

// Literal is a constant appearing in a join condition.
type Literal struct {
	Value data.Value
}

// Operand is one side of a join condition.
//
// This is a sealed interface: exactly one of LiteralOperand or ColumnRef.
// Build is the only producer, so a side that is both a literal and a
// reference, or neither, cannot be represented.
type Operand interface {
	operand()
}

// LiteralOperand is a constant side of a condition.
type LiteralOperand struct {
	Literal Literal
}

func (LiteralOperand) operand() {}

// ColumnRef references a column of one of the target's join sources.
type ColumnRef struct {
	Source *JoinSource
	Alias  string
	Column string
}

func (ColumnRef) operand() {}

func (r ColumnRef) String() string { return r.Alias + "." + r.Column }

// JoinCondition is one edge of a target's join graph: First = Second.
type JoinCondition struct {
	First  Operand
	Second Operand
	Pos    Pos
}

// References reports whether either side references the given alias.
func (c *JoinCondition) References(alias string) bool {
	for _, op := range []Operand{c.First, c.Second} {
		if ref, ok := op.(ColumnRef); ok && ref.Alias == alias {
			return true
		}
	}
	return false
}

// JoinMode is how a source participates in the join graph.
type JoinMode string

const (
	JoinMain  JoinMode = "main"
	JoinInner JoinMode = "inner"
	JoinLeft  JoinMode = "left"
)

// Table describes a source table's schema.
type Table struct {
	Name    string
	Columns []data.Column
	Key     []string
	Pos     Pos

	keyInfo *data.KeyInfo
}

// Column looks up a column by name.
func (t *Table) Column(name string) (data.Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return data.Column{}, false
}

// KeyInfo returns the primary key description.
func (t *Table) KeyInfo() *data.KeyInfo { return t.keyInfo }

// JoinSource is a named table alias participating in a target's join graph.
type JoinSource struct {
	Table      *Table
	Alias      string
	Mode       JoinMode
	Conditions []*JoinCondition
	Pos        Pos
}

// OutputColumn is one column of the target table.
type OutputColumn struct {
	Name string
	Type data.Type
	Ref  ColumnRef
	Pos  Pos
}

// Target is one materialized table and its join graph.
// Sources[0] is the main source; target rows are keyed by its primary key.
type Target struct {
	Name       string
	Handler    string
	Sources    []*JoinSource
	Columns    []*OutputColumn
	KeyColumns []string
	Pos        Pos

	keyInfo *data.KeyInfo
}

// Main returns the main source.
func (t *Target) Main() *JoinSource { return t.Sources[0] }

// Source looks up a source by alias.
func (t *Target) Source(alias string) *JoinSource {
	for _, s := range t.Sources {
		if s.Alias == alias {
			return s
		}
	}
	return nil
}

// SourcesOf returns the non-main sources reading the given table.
func (t *Target) SourcesOf(table string) []*JoinSource {
	var out []*JoinSource
	for _, s := range t.Sources[1:] {
		if s.Table.Name == table {
			out = append(out, s)
		}
	}
	return out
}

// Tables returns the distinct table names the target reads, main first.
func (t *Target) Tables() []string {
	seen := make(map[string]bool, len(t.Sources))
	var names []string
	for _, s := range t.Sources {
		if !seen[s.Table.Name] {
			seen[s.Table.Name] = true
			names = append(names, s.Table.Name)
		}
	}
	return names
}

// OutputColumns returns the target columns as data columns.
func (t *Target) OutputColumns() []data.Column {
	cols := make([]data.Column, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = data.Column{Name: c.Name, Type: c.Type}
	}
	return cols
}

// KeyInfo describes the target table's key.
func (t *Target) KeyInfo() *data.KeyInfo { return t.keyInfo }

// TargetKey maps a main-table key onto the target key.
func (t *Target) TargetKey(mainKey data.Key) (data.Key, error) {
	return mainKey.Rebind(t.keyInfo)
}

// Literals returns the constants used by the target's conditions.
func (t *Target) Literals() []Literal {
	var out []Literal
	for _, s := range t.Sources {
		for _, c := range s.Conditions {
			for _, op := range []Operand{c.First, c.Second} {
				if lit, ok := op.(LiteralOperand); ok {
					out = append(out, lit.Literal)
				}
			}
		}
	}
	return out
}

// Handler owns a set of targets maintained together.
type Handler struct {
	Name    string
	Targets []*Target
	Pos     Pos
}

// Target looks up a valid target by name.
func (h *Handler) Target(name string) *Target {
	for _, t := range h.Targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Tables returns the distinct tables read by the handler's targets.
func (h *Handler) Tables() []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range h.Targets {
		for _, name := range t.Tables() {
			if !seen[name] {
				seen[name] = true
				names = append(names, name)
			}
		}
	}
	return names
}

// ExcludedTarget records a target dropped by validation.
type ExcludedTarget struct {
	Handler string
	Name    string
	Pos     Pos
}

// Metadata is the immutable result of Build: every handler with its valid
// targets, plus the issues found while building.
type Metadata struct {
	Tables   []*Table
	Handlers []*Handler
	Excluded []ExcludedTarget
	Issues   []Issue
}

// Table looks up a table by name.
func (m *Metadata) Table(name string) *Table {
	for _, t := range m.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Handler looks up a handler by name.
func (m *Metadata) Handler(name string) *Handler {
	for _, h := range m.Handlers {
		if h.Name == name {
			return h
		}
	}
	return nil
}

// Target looks up a valid target of a handler.
func (m *Metadata) Target(handler, target string) *Target {
	h := m.Handler(handler)
	if h == nil {
		return nil
	}
	return h.Target(target)
}

// IsExcluded reports whether a target was dropped by validation.
func (m *Metadata) IsExcluded(handler, target string) bool {
	for _, e := range m.Excluded {
		if e.Handler == handler && e.Name == target {
			return true
		}
	}
	return false
}
