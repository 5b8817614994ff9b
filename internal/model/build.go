package model

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/mvsync/internal/data"
)

// reservedAliases are the relation names used by generated statements.
var reservedAliases = map[string]bool{
	"sys_keys":  true,
	"sys_rows":  true,
	"sys_after": true,
}

// normalizeName trims and NFC-normalises an identifier so that visually
// identical names written with different code point sequences resolve.
func normalizeName(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Build validates a definition and builds the join model.
//
// Validation never fails the whole build. Every defect becomes a positioned
// Issue; a target with at least one error-severity issue is left out of its
// handler and listed in Metadata.Excluded, while the handler's other targets
// stay usable.
//
// Build is a pure function; the returned Metadata is not modified afterwards.
func Build(def Definition) *Metadata {
	b := &builder{meta: &Metadata{}}
	b.buildTables(def.Tables)

	seen := make(map[string]bool)
	for _, hd := range def.Handlers {
		name := normalizeName(hd.Name)
		if name == "" {
			b.add(Issue{Code: ErrInvalidIdentifier, Severity: SeverityError, Pos: hd.Pos, Message: "handler name is empty"})
			continue
		}
		if seen[name] {
			b.add(Issue{Code: ErrDuplicateName, Severity: SeverityError, Pos: hd.Pos, Handler: name,
				Message: fmt.Sprintf("duplicate handler %q", name)})
			continue
		}
		seen[name] = true
		b.meta.Handlers = append(b.meta.Handlers, b.buildHandler(name, hd))
	}

	return b.meta
}

type builder struct {
	meta *Metadata
}

func (b *builder) add(issues ...Issue) {
	b.meta.Issues = append(b.meta.Issues, issues...)
}

func (b *builder) buildTables(defs []TableDef) {
	for _, td := range defs {
		name := normalizeName(td.Name)
		if name == "" {
			b.add(Issue{Code: ErrInvalidIdentifier, Severity: SeverityError, Pos: td.Pos, Message: "table name is empty"})
			continue
		}
		if b.meta.Table(name) != nil {
			b.add(Issue{Code: ErrDuplicateName, Severity: SeverityError, Pos: td.Pos,
				Message: fmt.Sprintf("duplicate table %q", name)})
			continue
		}

		t := &Table{Name: name, Pos: td.Pos}
		ok := true
		for _, c := range td.Columns {
			col := data.Column{Name: normalizeName(c.Name), Type: c.Type}
			switch {
			case col.Name == "":
				b.add(Issue{Code: ErrInvalidIdentifier, Severity: SeverityError, Pos: td.Pos,
					Message: fmt.Sprintf("table %q has a column without a name", name)})
				ok = false
			case col.Type == "":
				b.add(Issue{Code: ErrInvalidStructure, Severity: SeverityError, Pos: td.Pos,
					Message: fmt.Sprintf("column %s.%s has no type", name, col.Name)})
				ok = false
			default:
				if _, dup := t.Column(col.Name); dup {
					b.add(Issue{Code: ErrDuplicateName, Severity: SeverityError, Pos: td.Pos,
						Message: fmt.Sprintf("duplicate column %s.%s", name, col.Name)})
					ok = false
					continue
				}
				t.Columns = append(t.Columns, col)
			}
		}

		if len(td.Key) == 0 {
			b.add(Issue{Code: ErrInvalidTargetKey, Severity: SeverityError, Pos: td.Pos,
				Message: fmt.Sprintf("table %q has no primary key", name)})
			ok = false
		}
		info := &data.KeyInfo{Table: name}
		for _, k := range td.Key {
			kn := normalizeName(k)
			col, found := t.Column(kn)
			if !found {
				b.add(Issue{Code: ErrDanglingColumn, Severity: SeverityError, Pos: td.Pos,
					Message: fmt.Sprintf("primary key column %q is not a column of table %q", kn, name)})
				ok = false
				continue
			}
			if col.Type == data.TypeFloat {
				b.add(Issue{Code: ErrInvalidTargetKey, Severity: SeverityError, Pos: td.Pos,
					Message: fmt.Sprintf("primary key column %s.%s cannot be a float", name, kn)})
				ok = false
				continue
			}
			t.Key = append(t.Key, kn)
			info.Columns = append(info.Columns, col)
		}

		// Invalid tables are not registered; targets reading them report
		// ErrUnknownTable.
		if !ok {
			continue
		}
		t.keyInfo = info
		b.meta.Tables = append(b.meta.Tables, t)
	}
}

func (b *builder) buildHandler(name string, hd HandlerDef) *Handler {
	h := &Handler{Name: name, Pos: hd.Pos}
	seen := make(map[string]bool)
	for _, td := range hd.Targets {
		tname := normalizeName(td.Name)
		if tname == "" {
			b.add(Issue{Code: ErrInvalidIdentifier, Severity: SeverityError, Pos: td.Pos, Handler: name,
				Message: "target name is empty"})
			continue
		}
		if seen[tname] {
			b.add(Issue{Code: ErrDuplicateName, Severity: SeverityError, Pos: td.Pos, Handler: name, Target: tname,
				Message: fmt.Sprintf("duplicate target %q", tname)})
			b.meta.Excluded = append(b.meta.Excluded, ExcludedTarget{Handler: name, Name: tname, Pos: td.Pos})
			continue
		}
		seen[tname] = true

		tb := &targetBuilder{meta: b.meta, target: &Target{Name: tname, Handler: name, Pos: td.Pos}}
		tb.build(td)
		b.add(tb.issues...)
		if HasErrors(tb.issues) {
			b.meta.Excluded = append(b.meta.Excluded, ExcludedTarget{Handler: name, Name: tname, Pos: td.Pos})
			continue
		}
		h.Targets = append(h.Targets, tb.target)
	}
	return h
}

// targetBuilder validates one target definition.
type targetBuilder struct {
	meta   *Metadata
	target *Target
	issues []Issue
}

func (tb *targetBuilder) errorf(code string, pos Pos, format string, args ...any) {
	tb.issues = append(tb.issues, Issue{
		Code:     code,
		Severity: SeverityError,
		Pos:      pos,
		Handler:  tb.target.Handler,
		Target:   tb.target.Name,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (tb *targetBuilder) warnf(code string, pos Pos, format string, args ...any) {
	tb.issues = append(tb.issues, Issue{
		Code:     code,
		Severity: SeverityWarning,
		Pos:      pos,
		Handler:  tb.target.Handler,
		Target:   tb.target.Name,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (tb *targetBuilder) build(td TargetDef) {
	t := tb.target
	if len(td.Sources) == 0 {
		tb.errorf(ErrInvalidStructure, td.Pos, "target has no sources")
		return
	}

	// Sources are registered first so that a reference to a later alias can
	// be told apart from an unknown one.
	for i, sd := range td.Sources {
		t.Sources = append(t.Sources, tb.buildSource(i, sd))
	}
	for i, sd := range td.Sources {
		tb.buildConditions(i, sd)
	}

	tb.buildColumns(td)
	tb.buildKey(td)
}

func (tb *targetBuilder) buildSource(i int, sd SourceDef) *JoinSource {
	tableName := normalizeName(sd.Table)
	table := tb.meta.Table(tableName)
	if table == nil {
		tb.errorf(ErrUnknownTable, sd.Pos, "source table %q is not declared or is invalid", tableName)
	}

	alias := normalizeName(sd.Alias)
	if alias == "" {
		alias = tableName
	}
	switch {
	case alias == "":
		tb.errorf(ErrInvalidIdentifier, sd.Pos, "source %d has neither table nor alias", i)
	case reservedAliases[alias]:
		tb.errorf(ErrInvalidIdentifier, sd.Pos, "alias %q is reserved", alias)
	default:
		for _, prev := range tb.target.Sources {
			if prev.Alias == alias {
				tb.errorf(ErrDuplicateName, sd.Pos, "duplicate alias %q", alias)
				break
			}
		}
	}

	mode := sd.Mode
	switch {
	case mode == "" && i == 0:
		mode = JoinMain
	case mode == "":
		mode = JoinInner
	case mode == JoinMain && i != 0:
		tb.errorf(ErrInvalidStructure, sd.Pos, "only the first source can be the main source, %q is not first", alias)
	case (mode == JoinInner || mode == JoinLeft) && i == 0:
		tb.errorf(ErrInvalidStructure, sd.Pos, "first source %q must be the main source, got %s join", alias, mode)
	case mode != JoinMain && mode != JoinInner && mode != JoinLeft:
		tb.errorf(ErrInvalidStructure, sd.Pos, "unknown join mode %q for source %q", mode, alias)
	}

	return &JoinSource{Table: table, Alias: alias, Mode: mode, Pos: sd.Pos}
}

func (tb *targetBuilder) buildConditions(i int, sd SourceDef) {
	src := tb.target.Sources[i]
	failed := false
	for _, cd := range sd.Conditions {
		first, ok1 := tb.operand(i, cd.First, cd.Pos, "first")
		second, ok2 := tb.operand(i, cd.Second, cd.Pos, "second")
		if !ok1 || !ok2 {
			failed = true
			continue
		}
		src.Conditions = append(src.Conditions, &JoinCondition{First: first, Second: second, Pos: cd.Pos})
	}

	if i == 0 || failed || src.Table == nil {
		return
	}
	for _, c := range src.Conditions {
		if c.References(src.Alias) {
			return
		}
	}
	tb.errorf(ErrCrossJoin, src.Pos, "source %q has no join condition on its own columns", src.Alias)
}

// operand converts one written side into the sealed Operand, reporting
// sides that are both or neither literal and reference.
func (tb *targetBuilder) operand(i int, side SideDef, pos Pos, which string) (Operand, bool) {
	hasLit := side.Literal != nil
	hasRef := strings.TrimSpace(side.Alias) != "" || strings.TrimSpace(side.Column) != ""

	switch {
	case hasLit && hasRef:
		tb.errorf(ErrSideBothSet, pos, "%s side of condition is both a literal and a column reference", which)
		return nil, false
	case !hasLit && !hasRef:
		tb.errorf(ErrSideNeitherSet, pos, "%s side of condition is neither a literal nor a column reference", which)
		return nil, false
	case hasLit:
		if data.IsNull(side.Literal) {
			tb.warnf(WarnNullLiteral, pos, "%s side of condition is NULL and never matches", which)
		}
		return LiteralOperand{Literal: Literal{Value: side.Literal}}, true
	}

	ref, ok := tb.resolve(i, side.Alias, side.Column, pos)
	if !ok {
		return nil, false
	}
	return ref, true
}

// resolve resolves alias.column against sources[0..limit]. An empty alias
// means sources[limit].
func (tb *targetBuilder) resolve(limit int, alias, column string, pos Pos) (ColumnRef, bool) {
	sources := tb.target.Sources
	alias = normalizeName(alias)
	if alias == "" {
		alias = sources[limit].Alias
	}

	idx := -1
	for j, s := range sources {
		if s.Alias == alias {
			idx = j
			break
		}
	}
	switch {
	case idx < 0:
		tb.errorf(ErrDanglingAlias, pos, "alias %q is not a source of target %q", alias, tb.target.Name)
		return ColumnRef{}, false
	case idx > limit:
		tb.errorf(ErrDanglingAlias, pos, "alias %q is declared after source %q", alias, sources[limit].Alias)
		return ColumnRef{}, false
	}

	src := sources[idx]
	if src.Table == nil {
		// Already reported as ErrUnknownTable.
		return ColumnRef{}, false
	}
	column = normalizeName(column)
	if column == "" {
		tb.errorf(ErrDanglingColumn, pos, "reference to %q has no column", alias)
		return ColumnRef{}, false
	}
	if _, found := src.Table.Column(column); !found {
		tb.errorf(ErrDanglingColumn, pos, "column %q is not a column of %q (table %s)", column, alias, src.Table.Name)
		return ColumnRef{}, false
	}
	return ColumnRef{Source: src, Alias: alias, Column: column}, true
}

func (tb *targetBuilder) buildColumns(td TargetDef) {
	t := tb.target
	if len(td.Columns) == 0 {
		tb.errorf(ErrInvalidStructure, td.Pos, "target has no columns")
		return
	}
	last := len(t.Sources) - 1
	for _, cd := range td.Columns {
		alias := cd.Alias
		if normalizeName(alias) == "" {
			alias = t.Main().Alias
		}
		ref, ok := tb.resolve(last, alias, cd.Column, cd.Pos)
		if !ok {
			continue
		}
		name := normalizeName(cd.Name)
		if name == "" {
			name = ref.Column
		}
		if reservedAliases[name] {
			tb.errorf(ErrInvalidIdentifier, cd.Pos, "column name %q is reserved", name)
			continue
		}
		dup := false
		for _, c := range t.Columns {
			if c.Name == name {
				dup = true
				break
			}
		}
		if dup {
			tb.errorf(ErrDuplicateName, cd.Pos, "duplicate target column %q", name)
			continue
		}
		col, _ := ref.Source.Table.Column(ref.Column)
		t.Columns = append(t.Columns, &OutputColumn{Name: name, Type: col.Type, Ref: ref, Pos: cd.Pos})
	}
}

// buildKey checks that the target key maps, in order, onto the main
// source's primary key. Target rows are keyed by the main row they come
// from; that is what lets a main-table delete become a target delete.
func (tb *targetBuilder) buildKey(td TargetDef) {
	t := tb.target
	main := t.Main()
	if main.Table == nil {
		return
	}
	if len(td.Key) == 0 {
		tb.errorf(ErrInvalidTargetKey, td.Pos, "target has no key columns")
		return
	}
	if len(td.Key) != len(main.Table.Key) {
		tb.errorf(ErrInvalidTargetKey, td.Pos, "target key has %d columns, primary key of %s has %d",
			len(td.Key), main.Table.Name, len(main.Table.Key))
		return
	}

	info := &data.KeyInfo{Table: t.Name}
	for j, k := range td.Key {
		name := normalizeName(k)
		var col *OutputColumn
		for _, c := range t.Columns {
			if c.Name == name {
				col = c
				break
			}
		}
		if col == nil {
			tb.errorf(ErrInvalidTargetKey, td.Pos, "key column %q is not a target column", name)
			return
		}
		if col.Ref.Alias != main.Alias || col.Ref.Column != main.Table.Key[j] {
			tb.errorf(ErrInvalidTargetKey, col.Pos, "key column %q must map to %s.%s", name, main.Alias, main.Table.Key[j])
			return
		}
		t.KeyColumns = append(t.KeyColumns, name)
		info.Columns = append(info.Columns, data.Column{Name: name, Type: col.Type})
	}
	t.keyInfo = info
}
