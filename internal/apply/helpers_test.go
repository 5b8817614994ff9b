package apply

import (
	"context"
	"sync"
	"testing"

	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// fakeExecutor answers statements with respond and records every call.
type fakeExecutor struct {
	mu      sync.Mutex
	calls   []fakeCall
	respond func(st sqlgen.Statement, param data.StructList) (*data.ResultSet, error)
}

type fakeCall struct {
	Kind  sqlgen.Kind
	Param data.StructList
}

func (f *fakeExecutor) Query(_ context.Context, st sqlgen.Statement, param data.StructList) (*data.ResultSet, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{Kind: st.Kind, Param: param})
	f.mu.Unlock()
	if f.respond == nil {
		return &data.ResultSet{Columns: st.Columns}, nil
	}
	return f.respond(st, param)
}

func (f *fakeExecutor) Calls() []fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]fakeCall, len(f.calls))
	copy(out, f.calls)
	return out
}

// recordingCommit records writes, reservations and failures.
type recordingCommit struct {
	name string

	mu       sync.Mutex
	writes   []*Write
	acked    int
	reserved int
	failures []error
	err      error
}

func newCommit(name string) *recordingCommit { return &recordingCommit{name: name} }

func (c *recordingCommit) Commit(_ context.Context, w *Write) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.writes = append(c.writes, w)
	c.acked += len(w.Tasks)
	return nil
}

func (c *recordingCommit) Reserve(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserved += n
}

func (c *recordingCommit) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = append(c.failures, err)
}

func (c *recordingCommit) Writes() []*Write {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Write(nil), c.writes...)
}

func (c *recordingCommit) Acked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.acked
}

func (c *recordingCommit) Failures() []error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]error(nil), c.failures...)
}

func testContext(exec Executor, read, write int) *Context {
	return &Context{
		Handler:   "sales",
		Settings:  config.HandlerSettings{SelectBatchSize: read, UpsertBatchSize: write, Threads: 2},
		Executor:  exec,
		Generator: sqlgen.New(sqlgen.SQLite{}),
	}
}

var orderKeyInfo = &data.KeyInfo{Table: "orders", Columns: []data.Column{{Name: "id", Type: data.TypeInt}}}

var customerKeyInfo = &data.KeyInfo{Table: "customers", Columns: []data.Column{{Name: "id", Type: data.TypeInt}}}

func orderTask(id int64, h CommitHandler) Task {
	return Task{
		Change: Change{Table: "orders", Kind: ChangeUpsert, Key: data.MustKey(orderKeyInfo, data.Int(id))},
		Commit: h,
	}
}

func customerTask(id int64, h CommitHandler) Task {
	return Task{
		Change: Change{Table: "customers", Kind: ChangeUpsert, Key: data.MustKey(customerKeyInfo, data.Int(id))},
		Commit: h,
	}
}

// orderViewRows answers order_view refresh reads for the given existing
// order ids.
func orderViewRows(existing ...int64) func(sqlgen.Statement, data.StructList) (*data.ResultSet, error) {
	have := make(map[int64]bool)
	for _, id := range existing {
		have[id] = true
	}
	return func(st sqlgen.Statement, param data.StructList) (*data.ResultSet, error) {
		rs := &data.ResultSet{Columns: st.Columns}
		// Answer in reverse order: callers must not rely on it.
		for i := len(param.Rows) - 1; i >= 0; i-- {
			id := param.Rows[i][0].(data.Int)
			if have[int64(id)] {
				rs.Rows = append(rs.Rows, []data.Value{id, data.Int(100), data.String("open"), data.String("ann")})
			}
		}
		return rs, nil
	}
}

func ids(t *testing.T, keys []data.Key) []int64 {
	t.Helper()
	out := make([]int64, len(keys))
	for i, k := range keys {
		out[i] = int64(k.Value(0).(data.Int))
	}
	return out
}
