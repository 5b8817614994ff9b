package apply

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/metrics"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/retry"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// Executor runs a statement with its list parameter and returns the
// materialised result. Statements that return no rows yield an empty
// result set.
type Executor interface {
	Query(ctx context.Context, st sqlgen.Statement, param data.StructList) (*data.ResultSet, error)
}

// Context is shared read-only by every action of one handler.
type Context struct {
	Handler   string
	Settings  config.HandlerSettings
	Executor  Executor
	Generator *sqlgen.Generator
	Retry     retry.Policy
	Logger    *slog.Logger
	Metrics   *metrics.Metrics
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *Context) retry() retry.Policy {
	if c.Retry == nil {
		return retry.None{}
	}
	return c.Retry
}

// ActionID identifies an action instance for identity-keyed collections.
// It says nothing about the data the action carries.
type ActionID uint64

var lastActionID atomic.Uint64

func nextActionID() ActionID {
	return ActionID(lastActionID.Add(1))
}

// Action processes task lists for one target.
type Action interface {
	ID() ActionID
	Name() string
	Target() *model.Target
	// SelectStatement returns the read the action issues.
	SelectStatement() (sqlgen.Statement, error)
	// Apply processes tasks and commits the results through their commit
	// handlers. diag belongs to the calling worker.
	Apply(ctx context.Context, diag *Diagnostics, tasks []Task) error
}

// base holds what every action needs.
type base struct {
	id     ActionID
	kind   string
	target *model.Target
	ctx    *Context
}

func newBase(kind string, target *model.Target, c *Context) base {
	return base{id: nextActionID(), kind: kind, target: target, ctx: c}
}

func (b *base) ID() ActionID { return b.id }

func (b *base) Name() string { return b.kind + " " + b.target.Name }

func (b *base) Target() *model.Target { return b.target }

// ReadBatchSize is the number of distinct keys per read, at least 1.
func (b *base) ReadBatchSize() int {
	return b.ctx.Settings.EffectiveSelectBatchSize()
}

// WriteBatchSize is the number of rows per write statement, never above
// ReadBatchSize.
func (b *base) WriteBatchSize() int {
	return b.ctx.Settings.EffectiveUpsertBatchSize()
}

func (b *base) fail(code ErrorCode, st string, err error) *Error {
	return &Error{Code: code, Action: b.Name(), Statement: st, Err: err}
}

// readRows runs st for keys, in chunks of ReadBatchSize, and concatenates
// the results. Each chunk is one round trip through the retry policy and
// blocks until it resolves. The caller must pass distinct keys.
func (b *base) readRows(ctx context.Context, diag *Diagnostics, st sqlgen.Statement, keys []data.Key) (*data.ResultSet, error) {
	out := &data.ResultSet{Columns: st.Columns}
	size := b.ReadBatchSize()
	log := b.ctx.logger()

	for from := 0; from < len(keys); from += size {
		to := min(from+size, len(keys))
		param, err := data.KeysToParam(keys[from:to])
		if err == nil {
			param, err = data.ParamWithFields(param, st.ParamFields)
		}
		if err != nil {
			return nil, b.fail(ErrCodeReadFailed, st.Text, fmt.Errorf("bind keys: %w", err))
		}

		diag.begin(st.Text, param)
		if log.Enabled(ctx, slog.LevelDebug) {
			log.DebugContext(ctx, "batched read",
				"handler", b.ctx.Handler,
				"action", b.Name(),
				"keys", param.Len(),
				"statement", st.Text,
				st.Param, param.String(),
			)
		}

		var rs *data.ResultSet
		attempt := 0
		started := time.Now()
		err = b.ctx.retry().Do(ctx, func(ctx context.Context) error {
			if attempt > 0 {
				b.ctx.Metrics.Retried(b.ctx.Handler)
			}
			attempt++
			var qerr error
			rs, qerr = b.ctx.Executor.Query(ctx, st, param)
			return qerr
		})
		b.ctx.Metrics.ObserveRead(b.ctx.Handler, string(st.Kind), time.Since(started))
		if err != nil {
			// The statement stays in diag for the caller's error log.
			code := ErrCodeReadFailed
			if retry.IsExhausted(err) {
				code = ErrCodeRetriesExhausted
			}
			return nil, b.fail(code, st.Text, err)
		}
		diag.clear()

		b.ctx.Metrics.Requested(b.ctx.Handler, b.target.Name, param.Len())
		if rs != nil {
			out.Rows = append(out.Rows, rs.Rows...)
		}
	}
	return out, nil
}

// DistinctKeys returns the distinct keys of tasks in first-seen order.
func DistinctKeys(tasks []Task) []data.Key {
	seen := make(map[string]struct{}, len(tasks))
	keys := make([]data.Key, 0, len(tasks))
	for _, t := range tasks {
		h := t.Change.Key.Hash()
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		keys = append(keys, t.Change.Key)
	}
	return keys
}

// PerCommit is a partition of tasks by commit handler. Every task belongs
// to exactly one group; groups keep first-seen order, and tasks keep their
// order within a group.
type PerCommit struct {
	order  []CommitHandler
	groups map[CommitHandler][]Task
}

// GroupByCommit partitions tasks by their commit handler.
func GroupByCommit(tasks []Task) *PerCommit {
	pc := &PerCommit{groups: make(map[CommitHandler][]Task)}
	for _, t := range tasks {
		if _, ok := pc.groups[t.Commit]; !ok {
			pc.order = append(pc.order, t.Commit)
		}
		pc.groups[t.Commit] = append(pc.groups[t.Commit], t)
	}
	return pc
}

// Len returns the number of groups.
func (pc *PerCommit) Len() int { return len(pc.order) }

// Handlers returns the commit handlers in first-seen order.
func (pc *PerCommit) Handlers() []CommitHandler {
	out := make([]CommitHandler, len(pc.order))
	copy(out, pc.order)
	return out
}

// Tasks returns the group of h.
func (pc *PerCommit) Tasks(h CommitHandler) []Task { return pc.groups[h] }

// Apply calls fn once per group, stopping at the first error.
func (pc *PerCommit) Apply(fn func(h CommitHandler, tasks []Task) error) error {
	for _, h := range pc.order {
		if err := fn(h, pc.groups[h]); err != nil {
			return err
		}
	}
	return nil
}

// Diagnostics is the per-worker record of the statement being read.
//
// The statement is set when a read starts and cleared when it succeeds, so
// after a failure it names the statement that failed. A Diagnostics value
// belongs to one worker and must not be shared. A nil *Diagnostics records
// nothing.
type Diagnostics struct {
	statement string
	param     data.StructList
}

// LastStatement returns the statement in flight or the one that failed.
func (d *Diagnostics) LastStatement() string {
	if d == nil {
		return ""
	}
	return d.statement
}

// LastParam returns the parameter bound to LastStatement.
func (d *Diagnostics) LastParam() string {
	if d == nil {
		return ""
	}
	if d.param.Len() == 0 {
		return ""
	}
	return d.param.String()
}

func (d *Diagnostics) begin(statement string, param data.StructList) {
	if d == nil {
		return
	}
	d.statement = statement
	d.param = param
}

func (d *Diagnostics) clear() {
	if d == nil {
		return
	}
	d.statement = ""
	d.param = data.StructList{}
}
