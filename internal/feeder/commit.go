package feeder

import (
	"context"
	"sync"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/store"
)

// BatchCommit is the commit handler of one poll of the change log.
//
// It expects len(tasks) acknowledgements plus whatever is reserved while
// the batch is applied. Writes are serialised; the write bringing the
// outstanding count to zero also saves the offset, in the same
// transaction. A failed batch saves nothing, so the next poll reads it
// again.
type BatchCommit struct {
	store   *store.Store
	handler string
	table   string
	lastSeq int64

	mu      sync.Mutex
	pending int
	err     error
	done    chan struct{}
}

func newBatchCommit(s *store.Store, handler, table string, lastSeq int64, tasks int) *BatchCommit {
	return &BatchCommit{
		store:   s,
		handler: handler,
		table:   table,
		lastSeq: lastSeq,
		pending: tasks,
		done:    make(chan struct{}),
	}
}

// Reserve announces n more acknowledgements.
func (b *BatchCommit) Reserve(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending += n
}

// Commit writes w and acknowledges its tasks.
func (b *BatchCommit) Commit(ctx context.Context, w *apply.Write) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.isDone() {
		// The batch already failed and will be re-read.
		return nil
	}
	last := b.pending-len(w.Tasks) <= 0
	err := b.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.WriteTarget(ctx, w); err != nil {
			return err
		}
		if last {
			return tx.SaveOffset(ctx, b.handler, b.table, b.lastSeq)
		}
		return nil
	})
	if err != nil {
		return err
	}
	b.pending -= len(w.Tasks)
	if last {
		close(b.done)
	}
	return nil
}

// Fail marks the batch failed. Only the first error is kept.
func (b *BatchCommit) Fail(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isDone() {
		return
	}
	b.err = err
	close(b.done)
}

// Done is closed when the batch is fully acknowledged or failed.
func (b *BatchCommit) Done() <-chan struct{} { return b.done }

// Err returns the failure of the batch, nil while pending or on success.
func (b *BatchCommit) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// LastSeq is the offset saved when the batch completes.
func (b *BatchCommit) LastSeq() int64 { return b.lastSeq }

func (b *BatchCommit) isDone() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}
