package apply

import (
	"context"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/model"
)

// ChangeKind is the kind of row change.
type ChangeKind string

const (
	ChangeUpsert ChangeKind = "upsert"
	ChangeDelete ChangeKind = "delete"
)

// Change is one changed row of a source table.
// Seq is the change-source position, zero for scans.
type Change struct {
	Table string
	Kind  ChangeKind
	Key   data.Key
	Seq   int64
}

// Task is one unit of pending materialization work.
type Task struct {
	Change Change
	Commit CommitHandler
}

// CommitHandler performs the atomic write-back for a group of tasks.
//
// Implementations must be comparable: tasks are grouped by handler
// identity, so use pointer types.
type CommitHandler interface {
	// Commit writes w atomically and acknowledges w.Tasks.
	Commit(ctx context.Context, w *Write) error
	// Reserve announces n more tasks that will be acknowledged on behalf
	// of tasks already handed to this handler.
	Reserve(n int)
	// Fail reports that a batch carrying this handler's tasks failed
	// before it could be committed.
	Fail(err error)
}

// Write is the write-set of one commit group.
//
// Upserts carries complete target rows in the target's column order.
// Tasks are the tasks this write acknowledges; a write may carry tasks and
// no rows. BatchSize bounds the rows sent per statement.
type Write struct {
	Target    *model.Target
	Upserts   data.StructList
	Deletes   []data.Key
	Tasks     []Task
	BatchSize int
}

// Empty reports whether the write changes no rows.
func (w *Write) Empty() bool {
	return w.Upserts.Len() == 0 && len(w.Deletes) == 0
}
