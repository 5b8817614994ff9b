package feeder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "commit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ack(n int) *apply.Write { return &apply.Write{Tasks: make([]apply.Task, n)} }

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func TestBatchCommitSavesOffsetWithLastAck(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	b := newBatchCommit(s, "sales", "orders", 42, 3)

	// One task fans out to two more actions.
	b.Reserve(2)
	require.NoError(t, b.Commit(ctx, ack(3)))
	assert.False(t, isClosed(b.Done()))
	offset, err := s.LoadOffset(ctx, "sales", "orders")
	require.NoError(t, err)
	assert.Zero(t, offset, "offset moves only with the last acknowledgement")

	require.NoError(t, b.Commit(ctx, ack(2)))
	assert.True(t, isClosed(b.Done()))
	assert.NoError(t, b.Err())
	offset, err = s.LoadOffset(ctx, "sales", "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(42), offset)
}

func TestBatchCommitFail(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	b := newBatchCommit(s, "sales", "orders", 42, 2)
	boom := errors.New("boom")

	b.Fail(boom)
	b.Fail(errors.New("second"))
	require.NoError(t, b.Commit(ctx, ack(2)), "late acknowledgements are ignored")

	assert.True(t, isClosed(b.Done()))
	assert.ErrorIs(t, b.Err(), boom)
	offset, err := s.LoadOffset(ctx, "sales", "orders")
	require.NoError(t, err)
	assert.Zero(t, offset)
}
