package sqlgen

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/model"
)

// Fixed bind-variable names.
const (
	KeysVar  = "sys_keys"
	RowsVar  = "sys_rows"
	AfterVar = "sys_after"

	// SourceKeyPrefix prefixes the dependent key columns returned by a
	// main-keys statement.
	SourceKeyPrefix = "sys_src_"
)

// ErrUnsupportedOperation is returned when a read statement is requested
// for an operation that has none.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// Kind names what a statement does.
type Kind string

const (
	KindSelectByKeys Kind = "select_by_keys"
	KindMainKeys     Kind = "main_keys"
	KindUpsert       Kind = "upsert"
	KindDelete       Kind = "delete"
	KindScanPage     Kind = "scan_page"
	KindCreateTable  Kind = "create_table"
)

// Statement is a generated statement and the shape of its parameter.
//
// Param is the bind-variable name, empty when the statement binds nothing.
// ParamFields is the field list the bound StructList must carry. Columns
// describes the result of a read.
type Statement struct {
	Kind        Kind
	Target      string
	Source      string
	Text        string
	Param       string
	ParamFields []data.Column
	Columns     []data.Column
}

// IsRead reports whether the statement returns rows.
func (s Statement) IsRead() bool {
	return s.Kind == KindSelectByKeys || s.Kind == KindMainKeys || s.Kind == KindScanPage
}

// Generator compiles targets into statements for one dialect. It holds no
// mutable state and is safe for concurrent use.
type Generator struct {
	dialect Dialect
}

// New returns a generator for the dialect.
func New(d Dialect) *Generator {
	return &Generator{dialect: d}
}

// Dialect returns the generator's dialect.
func (g *Generator) Dialect() Dialect { return g.dialect }

func (g *Generator) col(alias, column string) string {
	return g.dialect.Quote(alias) + "." + g.dialect.Quote(column)
}

func (g *Generator) relation(param string, fields []data.Column) string {
	return "(" + g.dialect.Relation(param, fields) + ") AS " + g.dialect.Quote(param)
}

func (g *Generator) tableRef(s *model.JoinSource) string {
	return g.dialect.Quote(s.Table.Name) + " AS " + g.dialect.Quote(s.Alias)
}

func (g *Generator) operand(op model.Operand) (string, error) {
	switch o := op.(type) {
	case model.ColumnRef:
		return g.col(o.Alias, o.Column), nil
	case model.LiteralOperand:
		return g.dialect.Literal(o.Literal.Value)
	default:
		return "", fmt.Errorf("unknown operand %T", op)
	}
}

func (g *Generator) conditions(conds []*model.JoinCondition) ([]string, error) {
	out := make([]string, 0, len(conds))
	for _, c := range conds {
		first, err := g.operand(c.First)
		if err != nil {
			return nil, err
		}
		second, err := g.operand(c.Second)
		if err != nil {
			return nil, err
		}
		out = append(out, first+" = "+second)
	}
	return out, nil
}

func (g *Generator) joins(b *strings.Builder, sources []*model.JoinSource) error {
	for _, s := range sources {
		conds, err := g.conditions(s.Conditions)
		if err != nil {
			return fmt.Errorf("source %s: %w", s.Alias, err)
		}
		join := "INNER JOIN"
		if s.Mode == model.JoinLeft {
			join = "LEFT JOIN"
		}
		fmt.Fprintf(b, "\n%s %s ON %s", join, g.tableRef(s), strings.Join(conds, " AND "))
	}
	return nil
}

// tuple renders a column list, parenthesised when it has more than one
// element so that it works as a row value.
func (g *Generator) tuple(alias string, columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		if alias == "" {
			parts[i] = g.dialect.Quote(c)
		} else {
			parts[i] = g.col(alias, c)
		}
	}
	if len(parts) == 1 {
		return parts[0]
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func (g *Generator) names(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = g.dialect.Quote(c)
	}
	return strings.Join(parts, ", ")
}

func columnNames(cols []data.Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func checkTarget(t *model.Target) error {
	if t == nil || len(t.Sources) == 0 || t.Main().Table == nil || t.KeyInfo() == nil {
		return fmt.Errorf("target is not a validated target")
	}
	return nil
}

// SelectByKeys returns the refresh read of a target: the current target
// rows for a batch of main-table keys bound to sys_keys. Keys without a
// matching row produce no result row.
func (g *Generator) SelectByKeys(t *model.Target) (Statement, error) {
	if err := checkTarget(t); err != nil {
		return Statement{}, err
	}
	main := t.Main()
	keyFields := main.Table.KeyInfo().Columns

	outputs := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		outputs[i] = g.col(c.Ref.Alias, c.Ref.Column) + " AS " + g.dialect.Quote(c.Name)
	}

	on := make([]string, 0, len(main.Table.Key)+len(main.Conditions))
	for _, k := range main.Table.Key {
		on = append(on, g.col(main.Alias, k)+" = "+g.col(KeysVar, k))
	}
	conds, err := g.conditions(main.Conditions)
	if err != nil {
		return Statement{}, fmt.Errorf("target %s: %w", t.Name, err)
	}
	on = append(on, conds...)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s\nFROM %s\nINNER JOIN %s ON %s",
		strings.Join(outputs, ", "), g.relation(KeysVar, keyFields), g.tableRef(main), strings.Join(on, " AND "))
	if err := g.joins(&b, t.Sources[1:]); err != nil {
		return Statement{}, fmt.Errorf("target %s: %w", t.Name, err)
	}

	return Statement{
		Kind:        KindSelectByKeys,
		Target:      t.Name,
		Text:        b.String(),
		Param:       KeysVar,
		ParamFields: keyFields,
		Columns:     t.OutputColumns(),
	}, nil
}

// SelectMainKeys returns the statement mapping keys of the dependent source
// alias, bound to sys_keys, onto the main-table keys whose target rows read
// them. Each result row carries the main key columns followed by the
// dependent key columns prefixed with SourceKeyPrefix.
func (g *Generator) SelectMainKeys(t *model.Target, alias string) (Statement, error) {
	if err := checkTarget(t); err != nil {
		return Statement{}, err
	}
	src := t.Source(alias)
	if src == nil || src == t.Main() {
		return Statement{}, fmt.Errorf("target %s: %q is not a dependent source", t.Name, alias)
	}
	main := t.Main()
	srcKey := src.Table.KeyInfo().Columns

	var outputs []string
	var columns []data.Column
	for _, c := range main.Table.KeyInfo().Columns {
		outputs = append(outputs, g.col(main.Alias, c.Name)+" AS "+g.dialect.Quote(c.Name))
		columns = append(columns, c)
	}
	for _, c := range srcKey {
		name := SourceKeyPrefix + c.Name
		outputs = append(outputs, g.col(src.Alias, c.Name)+" AS "+g.dialect.Quote(name))
		columns = append(columns, data.Column{Name: name, Type: c.Type})
	}

	where := []string{
		g.tuple(src.Alias, src.Table.Key) + " IN (SELECT " + g.names(src.Table.Key) + " FROM " + g.relation(KeysVar, srcKey) + ")",
	}
	conds, err := g.conditions(main.Conditions)
	if err != nil {
		return Statement{}, fmt.Errorf("target %s: %w", t.Name, err)
	}
	where = append(where, conds...)

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT DISTINCT %s\nFROM %s", strings.Join(outputs, ", "), g.tableRef(main))
	if err := g.joins(&b, t.Sources[1:]); err != nil {
		return Statement{}, fmt.Errorf("target %s: %w", t.Name, err)
	}
	fmt.Fprintf(&b, "\nWHERE %s", strings.Join(where, " AND "))

	return Statement{
		Kind:        KindMainKeys,
		Target:      t.Name,
		Source:      src.Alias,
		Text:        b.String(),
		Param:       KeysVar,
		ParamFields: srcKey,
		Columns:     columns,
	}, nil
}

// Upsert returns the write inserting or replacing target rows bound to
// sys_rows.
func (g *Generator) Upsert(t *model.Target) (Statement, error) {
	if err := checkTarget(t); err != nil {
		return Statement{}, err
	}
	fields := t.OutputColumns()
	all := columnNames(fields)

	isKey := make(map[string]bool, len(t.KeyColumns))
	for _, k := range t.KeyColumns {
		isKey[k] = true
	}
	var sets []string
	for _, c := range all {
		if !isKey[c] {
			q := g.dialect.Quote(c)
			sets = append(sets, q+" = excluded."+q)
		}
	}
	action := "DO NOTHING"
	if len(sets) > 0 {
		action = "DO UPDATE SET " + strings.Join(sets, ", ")
	}

	text := fmt.Sprintf("INSERT INTO %s (%s)\nSELECT %s FROM %s WHERE TRUE\nON CONFLICT (%s) %s",
		g.dialect.Quote(t.Name), g.names(all), g.names(all), g.relation(RowsVar, fields), g.names(t.KeyColumns), action)

	return Statement{
		Kind:        KindUpsert,
		Target:      t.Name,
		Text:        text,
		Param:       RowsVar,
		ParamFields: fields,
	}, nil
}

// Delete returns the write removing target rows whose keys are bound to
// sys_keys.
func (g *Generator) Delete(t *model.Target) (Statement, error) {
	if err := checkTarget(t); err != nil {
		return Statement{}, err
	}
	fields := t.KeyInfo().Columns
	text := fmt.Sprintf("DELETE FROM %s\nWHERE %s IN (SELECT %s FROM %s)",
		g.dialect.Quote(t.Name), g.tuple("", t.KeyColumns), g.names(t.KeyColumns), g.relation(KeysVar, fields))

	return Statement{
		Kind:        KindDelete,
		Target:      t.Name,
		Text:        text,
		Param:       KeysVar,
		ParamFields: fields,
	}, nil
}

// ScanPage returns one page of a keyset scan over a table's primary key.
// The first page binds nothing; later pages bind the previous page's last
// key to sys_after.
func (g *Generator) ScanPage(table *model.Table, first bool, limit int) (Statement, error) {
	if table == nil || table.KeyInfo() == nil {
		return Statement{}, fmt.Errorf("scan page: table is not a validated table")
	}
	if limit < 1 {
		limit = 1
	}
	keyFields := table.KeyInfo().Columns

	st := Statement{
		Kind:    KindScanPage,
		Source:  table.Name,
		Columns: keyFields,
	}
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", g.names(table.Key), g.dialect.Quote(table.Name))
	if !first {
		fmt.Fprintf(&b, "\nWHERE %s > (SELECT %s FROM %s)",
			g.tuple("", table.Key), g.names(table.Key), g.relation(AfterVar, keyFields))
		st.Param = AfterVar
		st.ParamFields = keyFields
	}
	fmt.Fprintf(&b, "\nORDER BY %s\n%s", g.names(table.Key), g.dialect.Limit(limit))
	st.Text = b.String()
	return st, nil
}

// CreateTable returns DDL creating a table if it does not exist.
func (g *Generator) CreateTable(name string, columns []data.Column, key []string) (Statement, error) {
	defs := make([]string, 0, len(columns)+1)
	isKey := make(map[string]bool, len(key))
	for _, k := range key {
		isKey[k] = true
	}
	for _, c := range columns {
		typ, err := g.dialect.ColumnType(c.Type)
		if err != nil {
			return Statement{}, fmt.Errorf("table %s: column %s: %w", name, c.Name, err)
		}
		def := g.dialect.Quote(c.Name) + " " + typ
		if isKey[c.Name] {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	defs = append(defs, "PRIMARY KEY ("+g.names(key)+")")

	return Statement{
		Kind:   KindCreateTable,
		Target: name,
		Text:   fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  %s\n)", g.dialect.Quote(name), strings.Join(defs, ",\n  ")),
	}, nil
}

// CreateTarget returns the DDL of a target table.
func (g *Generator) CreateTarget(t *model.Target) (Statement, error) {
	if err := checkTarget(t); err != nil {
		return Statement{}, err
	}
	return g.CreateTable(t.Name, t.OutputColumns(), t.KeyColumns)
}

// Statements returns every statement generated for a target: the refresh
// read, one main-keys read per dependent source, the upsert and the delete.
func (g *Generator) Statements(t *model.Target) ([]Statement, error) {
	sel, err := g.SelectByKeys(t)
	if err != nil {
		return nil, err
	}
	out := []Statement{sel}
	for _, s := range t.Sources[1:] {
		st, err := g.SelectMainKeys(t, s.Alias)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	up, err := g.Upsert(t)
	if err != nil {
		return nil, err
	}
	del, err := g.Delete(t)
	if err != nil {
		return nil, err
	}
	return append(out, up, del), nil
}

// WriteStatements prints statements as an annotated SQL script.
func WriteStatements(w io.Writer, stmts []Statement) error {
	for _, st := range stmts {
		header := "-- " + string(st.Kind)
		if st.Target != "" {
			header += " " + st.Target
		}
		if st.Source != "" {
			header += " (" + st.Source + ")"
		}
		if _, err := fmt.Fprintf(w, "%s\n%s;\n\n", header, st.Text); err != nil {
			return err
		}
	}
	return nil
}
