package harness

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/mvsync/internal/data"
)

// AssertionError is returned when an assertion fails.
// It includes the steps that ran to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Executed steps for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nSteps:\n")
		for _, event := range e.Trace {
			fmt.Fprintf(&buf, "  %s\n", event)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertRowCount:
			err = assertRowCount(result, a)
		case AssertRow:
			err = assertRow(result, a)
		case AssertAbsent:
			err = assertAbsent(result, a)
		case AssertOffset:
			err = assertOffset(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			failures = append(failures, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return failures
}

func lookupTable(result *Result, a Assertion) (*Table, error) {
	tbl, ok := result.State[a.Table]
	if !ok {
		return nil, &AssertionError{
			Type:     a.Type,
			Expected: fmt.Sprintf("table %s in the snapshot", a.Table),
			Actual:   "table not read by the handler",
		}
	}
	return tbl, nil
}

// assertRowCount checks the number of rows of a table.
func assertRowCount(result *Result, a Assertion) error {
	tbl, err := lookupTable(result, a)
	if err != nil {
		return err
	}
	if len(tbl.Rows) != a.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d row(s) in %s", a.Count, a.Table),
			Actual:   fmt.Sprintf("%d row(s)", len(tbl.Rows)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertRow checks that exactly one row matches Where and that it carries
// the Expect values.
func assertRow(result *Result, a Assertion) error {
	tbl, err := lookupTable(result, a)
	if err != nil {
		return err
	}
	rows, err := matchRows(tbl, a.Where)
	if err != nil {
		return err
	}
	if len(rows) != 1 {
		return &AssertionError{
			Type:     AssertRow,
			Expected: fmt.Sprintf("one row in %s where %s", a.Table, formatFields(a.Where)),
			Actual:   fmt.Sprintf("%d matching row(s)", len(rows)),
			Trace:    result.Trace,
		}
	}

	row := rows[0]
	for _, name := range sortedKeys(a.Expect) {
		idx := tbl.Index(name)
		if idx < 0 {
			return fmt.Errorf("%s has no column %s", a.Table, name)
		}
		want, err := toValue(a.Expect[name], tbl.Columns[idx].Type)
		if err != nil {
			return fmt.Errorf("expect %s: %w", name, err)
		}
		if !data.Equal(row[idx], want) {
			return &AssertionError{
				Type:     AssertRow,
				Expected: fmt.Sprintf("%s.%s = %s where %s", a.Table, name, data.Format(want), formatFields(a.Where)),
				Actual:   data.Format(row[idx]),
				Trace:    result.Trace,
			}
		}
	}
	return nil
}

// assertAbsent checks that no row matches Where.
func assertAbsent(result *Result, a Assertion) error {
	tbl, err := lookupTable(result, a)
	if err != nil {
		return err
	}
	rows, err := matchRows(tbl, a.Where)
	if err != nil {
		return err
	}
	if len(rows) > 0 {
		return &AssertionError{
			Type:     AssertAbsent,
			Expected: fmt.Sprintf("no row in %s where %s", a.Table, formatFields(a.Where)),
			Actual:   fmt.Sprintf("%d matching row(s)", len(rows)),
			Trace:    result.Trace,
		}
	}
	return nil
}

// assertOffset checks the handler's saved offset for a table.
func assertOffset(result *Result, a Assertion) error {
	if got := result.Offset(a.Table); got != a.Seq {
		return &AssertionError{
			Type:     AssertOffset,
			Expected: fmt.Sprintf("offset %d for %s", a.Seq, a.Table),
			Actual:   fmt.Sprintf("offset %d", got),
			Trace:    result.Trace,
		}
	}
	return nil
}

// matchRows returns the rows whose columns equal every where value.
func matchRows(tbl *Table, where map[string]any) ([][]data.Value, error) {
	type cond struct {
		idx  int
		want data.Value
	}
	conds := make([]cond, 0, len(where))
	for _, name := range sortedKeys(where) {
		idx := tbl.Index(name)
		if idx < 0 {
			return nil, fmt.Errorf("%s has no column %s", tbl.Name, name)
		}
		want, err := toValue(where[name], tbl.Columns[idx].Type)
		if err != nil {
			return nil, fmt.Errorf("where %s: %w", name, err)
		}
		conds = append(conds, cond{idx: idx, want: want})
	}

	var out [][]data.Value
	for _, row := range tbl.Rows {
		match := true
		for _, c := range conds {
			if !data.Equal(row[c.idx], c.want) {
				match = false
				break
			}
		}
		if match {
			out = append(out, row)
		}
	}
	return out, nil
}

// formatFields renders a field map for error messages with sorted keys.
func formatFields(fields map[string]any) string {
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
