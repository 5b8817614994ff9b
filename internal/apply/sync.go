package apply

import (
	"context"
	"fmt"
	"hash/maphash"
	"slices"
	"sync"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// Sync refreshes target rows from the current state of the source tables.
// Task keys are main-table keys. A key with a joined row becomes an upsert,
// a key without one becomes a delete, so upserts and deletes of the main
// table both land here.
//
// Applies touching the same key hold its lock from the read to the last
// commit. A refresh therefore never commits a read older than one already
// committed for that key, whichever worker or transform runs it.
type Sync struct {
	base
	stmt  sqlgen.Statement
	locks *keyLocks
}

const keyLockStripes = 64

// keyLocks is a fixed set of mutexes striped by key hash.
type keyLocks struct {
	seed    maphash.Seed
	stripes [keyLockStripes]sync.Mutex
}

func newKeyLocks() *keyLocks { return &keyLocks{seed: maphash.MakeSeed()} }

// lock takes the stripes of keys in ascending order and returns the
// matching unlock.
func (l *keyLocks) lock(keys []data.Key) func() {
	idx := make([]int, 0, len(keys))
	for _, k := range keys {
		idx = append(idx, int(maphash.String(l.seed, k.Hash())%keyLockStripes))
	}
	slices.Sort(idx)
	idx = slices.Compact(idx)
	for _, i := range idx {
		l.stripes[i].Lock()
	}
	return func() {
		for i := len(idx) - 1; i >= 0; i-- {
			l.stripes[idx[i]].Unlock()
		}
	}
}

// NewSync creates the sync action of a target.
func NewSync(target *model.Target, c *Context) (*Sync, error) {
	st, err := c.Generator.SelectByKeys(target)
	if err != nil {
		return nil, fmt.Errorf("sync %s: %w", target.Name, err)
	}
	return &Sync{base: newBase("sync", target, c), stmt: st, locks: newKeyLocks()}, nil
}

func (a *Sync) SelectStatement() (sqlgen.Statement, error) { return a.stmt, nil }

func (a *Sync) Apply(ctx context.Context, diag *Diagnostics, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	keys := DistinctKeys(tasks)
	unlock := a.locks.lock(keys)
	defer unlock()

	rs, err := a.readRows(ctx, diag, a.stmt, keys)
	if err != nil {
		return err
	}

	// Result order is not request order: re-key every row.
	rows := make(map[string][]data.Value, len(rs.Rows))
	info := a.target.KeyInfo()
	for _, row := range rs.Rows {
		k, err := rs.Key(row, info)
		if err != nil {
			return a.fail(ErrCodeReadFailed, a.stmt.Text, fmt.Errorf("re-key result row: %w", err))
		}
		rows[k.Hash()] = row
	}

	err = GroupByCommit(tasks).Apply(func(h CommitHandler, group []Task) error {
		w := &Write{
			Target:    a.target,
			Upserts:   data.StructList{Fields: a.stmt.Columns},
			Tasks:     group,
			BatchSize: a.WriteBatchSize(),
		}
		seen := make(map[string]bool, len(group))
		for _, t := range group {
			tk, err := a.target.TargetKey(t.Change.Key)
			if err != nil {
				return a.fail(ErrCodeWriteFailed, "", err)
			}
			hash := tk.Hash()
			if seen[hash] {
				continue
			}
			seen[hash] = true
			if row, ok := rows[hash]; ok {
				w.Upserts.Rows = append(w.Upserts.Rows, row)
			} else {
				w.Deletes = append(w.Deletes, tk)
			}
		}
		if err := h.Commit(ctx, w); err != nil {
			return a.fail(ErrCodeWriteFailed, "", err)
		}
		a.ctx.Metrics.Written(a.ctx.Handler, a.target.Name, "upsert", w.Upserts.Len())
		a.ctx.Metrics.Written(a.ctx.Handler, a.target.Name, "delete", len(w.Deletes))
		return nil
	})
	if err != nil {
		return err
	}
	a.ctx.Metrics.Applied(a.ctx.Handler, a.Name(), len(tasks))
	return nil
}
