package apply

import (
	"context"

	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/sqlgen"
)

// Delete removes target rows by main key without reading the sources.
//
// The dispatcher does not route change-log deletes here: a blind delete
// can land after a refresh that saw the row re-inserted. Use it only when
// the main row is known to be gone for good and no refresh of the same
// key can run concurrently.
type Delete struct {
	base
}

// NewDelete creates the delete action of a target.
func NewDelete(target *model.Target, c *Context) *Delete {
	return &Delete{base: newBase("delete", target, c)}
}

// SelectStatement always fails: Delete issues no read.
func (a *Delete) SelectStatement() (sqlgen.Statement, error) {
	return sqlgen.Statement{}, a.fail(ErrCodeUnsupportedOperation, "", ErrUnsupportedOperation)
}

func (a *Delete) Apply(ctx context.Context, _ *Diagnostics, tasks []Task) error {
	if len(tasks) == 0 {
		return nil
	}
	err := GroupByCommit(tasks).Apply(func(h CommitHandler, group []Task) error {
		w := &Write{Target: a.target, Tasks: group, BatchSize: a.WriteBatchSize()}
		seen := make(map[string]bool, len(group))
		for _, t := range group {
			tk, err := a.target.TargetKey(t.Change.Key)
			if err != nil {
				return a.fail(ErrCodeWriteFailed, "", err)
			}
			if !seen[tk.Hash()] {
				seen[tk.Hash()] = true
				w.Deletes = append(w.Deletes, tk)
			}
		}
		if err := h.Commit(ctx, w); err != nil {
			return a.fail(ErrCodeWriteFailed, "", err)
		}
		a.ctx.Metrics.Written(a.ctx.Handler, a.target.Name, "delete", len(w.Deletes))
		return nil
	})
	if err != nil {
		return err
	}
	a.ctx.Metrics.Applied(a.ctx.Handler, a.Name(), len(tasks))
	return nil
}
