package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/mvsync/internal/data"
)

// Render formats a result as the text stored in golden files: the issues,
// the executed steps, the saved offsets and every target table ordered by
// key.
func Render(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)

	b.WriteString("\nissues:\n")
	if len(result.Issues) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, issue := range result.Issues {
		fmt.Fprintf(&b, "  %s\n", issue)
	}

	b.WriteString("\nsteps:\n")
	for _, event := range result.Trace {
		fmt.Fprintf(&b, "  %s\n", event)
	}

	b.WriteString("\noffsets:\n")
	for _, o := range result.Offsets {
		fmt.Fprintf(&b, "  %s %d\n", o.Table, o.Seq)
	}

	for _, target := range result.Targets {
		tbl := result.State[target]
		cols := make([]string, len(tbl.Columns))
		for i, c := range tbl.Columns {
			cols[i] = c.Name
		}
		fmt.Fprintf(&b, "\ntarget %s (%s):\n", target, strings.Join(cols, ", "))
		if len(tbl.Rows) == 0 {
			b.WriteString("  (empty)\n")
		}
		for _, row := range tbl.Rows {
			vals := make([]string, len(row))
			for i, v := range row {
				vals[i] = data.Format(v)
			}
			fmt.Fprintf(&b, "  %s\n", strings.Join(vals, " | "))
		}
	}
	return []byte(b.String())
}

// RunWithGolden runs a scenario, fails the test on any assertion failure
// and compares the rendered result with testdata/golden/<name>.golden.
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the output doesn't match the golden
// file.
func RunWithGolden(t *testing.T, scenario *Scenario) error {
	t.Helper()

	result, err := RunInDir(scenario, t.TempDir())
	if err != nil {
		return err
	}
	for _, msg := range result.Errors {
		t.Error(msg)
	}
	AssertGolden(t, scenario.Name, result)
	return nil
}

// AssertGolden compares an already computed result with its golden file.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
