package harness

import (
	"fmt"

	"github.com/roach88/mvsync/internal/data"
)

// Step kinds recorded in the trace.
const (
	StepSQL    = "sql"
	StepChange = "change"
	StepPoll   = "poll"
	StepScan   = "scan"
)

// TraceEvent records one executed step and what it did.
type TraceEvent struct {
	Step   int    `json:"step"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

func (e TraceEvent) String() string {
	return fmt.Sprintf("[%d] %s %s", e.Step, e.Kind, e.Detail)
}

// Table is a snapshot of one table ordered by its key.
type Table struct {
	Name    string
	Columns []data.Column
	Key     []string
	Rows    [][]data.Value
}

// Index returns the position of a column, or -1.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c.Name == name {
			return i
		}
	}
	return -1
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Issues lists the definition issues found while building, rendered
	// one per line.
	Issues []string `json:"issues,omitempty"`

	// Trace contains the executed steps in order.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Targets lists the handler's target names in declaration order.
	Targets []string `json:"targets"`

	// State holds the final snapshot of every target and source table the
	// handler reads, by table name.
	State map[string]*Table `json:"-"`

	// Offsets holds the handler's saved change-log offset per source
	// table, in the order the handler reads them.
	Offsets []Offset `json:"offsets"`
}

// Offset is a saved change-log position.
type Offset struct {
	Table string `json:"table"`
	Seq   int64  `json:"seq"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:  true,
		Trace: []TraceEvent{},
		State: make(map[string]*Table),
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddTrace appends a step to the trace.
func (r *Result) AddTrace(kind, detail string) {
	r.Trace = append(r.Trace, TraceEvent{Step: len(r.Trace) + 1, Kind: kind, Detail: detail})
}

// Offset returns the saved offset of a table, or 0.
func (r *Result) Offset(table string) int64 {
	for _, o := range r.Offsets {
		if o.Table == table {
			return o.Seq
		}
	}
	return 0
}
