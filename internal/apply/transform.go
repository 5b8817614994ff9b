package apply

import (
	"context"
	"fmt"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// KeysTransform handles changes of a joined source. Task keys are keys of
// the source's table; they are mapped onto the main-table keys of the
// target rows that join them, and those keys are refreshed by Sync.
//
// Changed rows are mapped through the current state of the source tables,
// so a deleted joined row maps onto nothing and the target rows that read
// it are left for the next change of their main row or a scan.
type KeysTransform struct {
	base
	source   *model.JoinSource
	sync     *Sync
	stmt     sqlgen.Statement
	mainCols []string
	srcCols  []string
}

// NewKeysTransform creates the transform of one joined source of a target.
// Mapped keys are forwarded to sync.
func NewKeysTransform(target *model.Target, alias string, sync *Sync, c *Context) (*KeysTransform, error) {
	st, err := c.Generator.SelectMainKeys(target, alias)
	if err != nil {
		return nil, fmt.Errorf("keys transform %s.%s: %w", target.Name, alias, err)
	}
	source := target.Source(alias)
	a := &KeysTransform{
		base:     newBase("transform", target, c),
		source:   source,
		sync:     sync,
		stmt:     st,
		mainCols: target.Main().Table.Key,
	}
	for _, k := range source.Table.Key {
		a.srcCols = append(a.srcCols, sqlgen.SourceKeyPrefix+k)
	}
	return a, nil
}

func (a *KeysTransform) Name() string { return a.kind + " " + a.target.Name + "." + a.source.Alias }

// Source returns the joined source the action maps from.
func (a *KeysTransform) Source() *model.JoinSource { return a.source }

func (a *KeysTransform) SelectStatement() (sqlgen.Statement, error) { return a.stmt, nil }

func (a *KeysTransform) Apply(ctx context.Context, diag *Diagnostics, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	keys := DistinctKeys(tasks)
	rs, err := a.readRows(ctx, diag, a.stmt, keys)
	if err != nil {
		return err
	}

	mainInfo := a.target.Main().Table.KeyInfo()
	srcInfo := a.source.Table.KeyInfo()
	mapped := make(map[string][]data.Key, len(keys))
	for _, row := range rs.Rows {
		sk, err := rs.KeyAs(row, a.srcCols, srcInfo)
		if err != nil {
			return a.fail(ErrCodeReadFailed, a.stmt.Text, fmt.Errorf("re-key source columns: %w", err))
		}
		mk, err := rs.KeyAs(row, a.mainCols, mainInfo)
		if err != nil {
			return a.fail(ErrCodeReadFailed, a.stmt.Text, fmt.Errorf("re-key main columns: %w", err))
		}
		mapped[sk.Hash()] = append(mapped[sk.Hash()], mk)
	}

	var forward []Task
	err = GroupByCommit(tasks).Apply(func(h CommitHandler, group []Task) error {
		seen := make(map[string]bool)
		var out []Task
		for _, t := range group {
			for _, mk := range mapped[t.Change.Key.Hash()] {
				if seen[mk.Hash()] {
					continue
				}
				seen[mk.Hash()] = true
				out = append(out, Task{
					Change: Change{Table: mainInfo.Table, Kind: ChangeUpsert, Key: mk, Seq: t.Change.Seq},
					Commit: h,
				})
			}
		}
		// Announce the forwarded tasks before acknowledging the inputs so
		// the handler cannot complete in between.
		h.Reserve(len(out))
		if err := h.Commit(ctx, &Write{Target: a.target, Tasks: group, BatchSize: a.WriteBatchSize()}); err != nil {
			return a.fail(ErrCodeWriteFailed, "", err)
		}
		forward = append(forward, out...)
		return nil
	})
	if err != nil {
		return err
	}
	a.ctx.Metrics.Applied(a.ctx.Handler, a.Name(), len(tasks))

	a.ctx.logger().DebugContext(ctx, "keys transformed",
		"handler", a.ctx.Handler, "action", a.Name(), "keys", len(keys), "main_keys", len(forward))
	return a.sync.Apply(ctx, diag, forward)
}
