package apply

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/retry"
	"github.com/roach88/mvsync/internal/sqlgen"
	"github.com/roach88/mvsync/internal/testutil"
)

func TestDistinctKeysFirstSeenOrder(t *testing.T) {
	h := newCommit("A")
	tasks := []Task{orderTask(3, h), orderTask(1, h), orderTask(3, h), orderTask(2, h), orderTask(1, h)}

	keys := DistinctKeys(tasks)

	assert.Equal(t, []int64{3, 1, 2}, ids(t, keys))
}

func TestSyncRequestsEachKeyOnce(t *testing.T) {
	exec := &fakeExecutor{respond: orderViewRows(1, 2, 3)}
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), testContext(exec, 100, 100))
	require.NoError(t, err)
	h := newCommit("A")

	// 5 tasks, 3 distinct keys, two of them duplicated once.
	tasks := []Task{orderTask(1, h), orderTask(2, h), orderTask(1, h), orderTask(3, h), orderTask(2, h)}
	require.NoError(t, a.Apply(context.Background(), &Diagnostics{}, tasks))

	calls := exec.Calls()
	require.Len(t, calls, 1, "one round trip per batch")
	assert.Equal(t, sqlgen.KindSelectByKeys, calls[0].Kind)
	assert.Equal(t, 3, calls[0].Param.Len())
	assert.Equal(t, "id", calls[0].Param.Fields[0].Name)

	writes := h.Writes()
	require.Len(t, writes, 1)
	assert.Equal(t, 3, writes[0].Upserts.Len())
	assert.Empty(t, writes[0].Deletes)
	assert.Len(t, writes[0].Tasks, 5, "every task is acknowledged")
}

func TestSyncDeletesMissingRows(t *testing.T) {
	exec := &fakeExecutor{respond: orderViewRows(2)}
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), testContext(exec, 100, 100))
	require.NoError(t, err)
	h := newCommit("A")

	require.NoError(t, a.Apply(context.Background(), nil, []Task{orderTask(1, h), orderTask(2, h)}))

	w := h.Writes()[0]
	require.Equal(t, 1, w.Upserts.Len())
	assert.Equal(t, data.Int(2), w.Upserts.Rows[0][0])
	require.Len(t, w.Deletes, 1)
	assert.Equal(t, "order_view(id=1)", w.Deletes[0].String())
	assert.Equal(t, 100, w.BatchSize)
}

func TestSyncReadsInChunks(t *testing.T) {
	exec := &fakeExecutor{respond: orderViewRows(1, 2, 3, 4, 5)}
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), testContext(exec, 2, 10))
	require.NoError(t, err)
	h := newCommit("A")

	var tasks []Task
	for id := int64(1); id <= 5; id++ {
		tasks = append(tasks, orderTask(id, h), orderTask(id, h))
	}
	require.NoError(t, a.Apply(context.Background(), nil, tasks))

	calls := exec.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, []int{2, 2, 1}, []int{calls[0].Param.Len(), calls[1].Param.Len(), calls[2].Param.Len()})
	assert.Equal(t, 5, h.Writes()[0].Upserts.Len())
	assert.Equal(t, 2, h.Writes()[0].BatchSize, "write batch is clamped to the read batch")
}

func TestSyncOneWritePerCommitHandler(t *testing.T) {
	exec := &fakeExecutor{respond: orderViewRows(1, 2, 3)}
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), testContext(exec, 100, 100))
	require.NoError(t, err)
	ha, hb := newCommit("A"), newCommit("B")

	tasks := []Task{orderTask(1, ha), orderTask(2, hb), orderTask(3, ha), orderTask(2, ha)}
	require.NoError(t, a.Apply(context.Background(), nil, tasks))

	require.Len(t, exec.Calls(), 1, "grouping happens after one shared read")
	require.Len(t, ha.Writes(), 1)
	require.Len(t, hb.Writes(), 1)
	assert.Equal(t, 3, ha.Writes()[0].Upserts.Len())
	assert.Equal(t, 1, hb.Writes()[0].Upserts.Len())
}

func TestGroupByCommitScenario(t *testing.T) {
	a, b, c := newCommit("A"), newCommit("B"), newCommit("C")
	handlers := []CommitHandler{a, a, b, a, c, b, a, c, b, a}
	tasks := make([]Task, len(handlers))
	for i, h := range handlers {
		tasks[i] = orderTask(int64(i), h)
	}

	pc := GroupByCommit(tasks)

	require.Equal(t, 3, pc.Len())
	var sizes []int
	var order []string
	total := 0
	require.NoError(t, pc.Apply(func(h CommitHandler, group []Task) error {
		sizes = append(sizes, len(group))
		order = append(order, h.(*recordingCommit).name)
		total += len(group)
		return nil
	}))
	assert.Equal(t, []int{5, 3, 2}, sizes)
	assert.Equal(t, []string{"A", "B", "C"}, order)
	assert.Equal(t, 10, total)
}

func TestGroupByCommitIsPartition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	pool := []*recordingCommit{newCommit("A"), newCommit("B"), newCommit("C"), newCommit("D")}

	for round := 0; round < 50; round++ {
		n := rng.Intn(40)
		tasks := make([]Task, n)
		for i := range tasks {
			tasks[i] = orderTask(int64(rng.Intn(10)), pool[rng.Intn(len(pool))])
		}

		pc := GroupByCommit(tasks)

		byIndex := make(map[string]int)
		require.NoError(t, pc.Apply(func(h CommitHandler, group []Task) error {
			for _, task := range group {
				require.Same(t, h, task.Commit, "task in the wrong group")
				byIndex[fmt.Sprintf("%p/%s", task.Commit, task.Change.Key.Hash())]++
			}
			return nil
		}))
		for _, task := range tasks {
			byIndex[fmt.Sprintf("%p/%s", task.Commit, task.Change.Key.Hash())]--
		}
		for k, v := range byIndex {
			require.Zero(t, v, "round %d: multiset differs at %s", round, k)
		}
	}
}

func TestPerCommitApplyStopsAtFirstError(t *testing.T) {
	a, b := newCommit("A"), newCommit("B")
	pc := GroupByCommit([]Task{orderTask(1, a), orderTask(2, b)})
	boom := errors.New("boom")

	calls := 0
	err := pc.Apply(func(CommitHandler, []Task) error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
}

func TestBatchSizeClamping(t *testing.T) {
	target := testutil.SalesTarget(t, "order_view")

	a, err := NewSync(target, testContext(nil, 50, 200))
	require.NoError(t, err)
	assert.Equal(t, 50, a.ReadBatchSize())
	assert.Equal(t, 50, a.WriteBatchSize())

	for _, read := range []int{0, -1, -100} {
		a, err := NewSync(target, testContext(nil, read, 10))
		require.NoError(t, err)
		assert.Equal(t, 1, a.ReadBatchSize())
		assert.Equal(t, 1, a.WriteBatchSize())
	}
}

func TestDeleteHasNoSelectStatement(t *testing.T) {
	a := NewDelete(testutil.SalesTarget(t, "order_view"), testContext(nil, 10, 10))

	_, err := a.SelectStatement()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnsupportedOperation)
	assert.Equal(t, ErrCodeUnsupportedOperation, CodeOf(err))
	assert.True(t, IsUnsupportedOperation(err))
}

func TestDeleteWritesTargetKeys(t *testing.T) {
	exec := &fakeExecutor{}
	a := NewDelete(testutil.SalesTarget(t, "order_view"), testContext(exec, 10, 10))
	h := newCommit("A")

	tasks := []Task{orderTask(4, h), orderTask(4, h), orderTask(5, h)}
	for i := range tasks {
		tasks[i].Change.Kind = ChangeDelete
	}
	require.NoError(t, a.Apply(context.Background(), nil, tasks))

	assert.Empty(t, exec.Calls(), "deletes issue no read")
	w := h.Writes()[0]
	assert.Equal(t, []int64{4, 5}, ids(t, w.Deletes))
	assert.Equal(t, "order_view", w.Deletes[0].Info().Table)
	assert.Len(t, w.Tasks, 3)
}

func TestDiagnosticsClearedOnSuccessRetainedOnFailure(t *testing.T) {
	boom := errors.New("no such table")
	fail := true
	exec := &fakeExecutor{respond: func(st sqlgen.Statement, param data.StructList) (*data.ResultSet, error) {
		if fail {
			return nil, boom
		}
		return orderViewRows()(st, param)
	}}
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), testContext(exec, 10, 10))
	require.NoError(t, err)
	h := newCommit("A")
	diag := &Diagnostics{}

	err = a.Apply(context.Background(), diag, []Task{orderTask(1, h)})
	require.Error(t, err)
	st, _ := a.SelectStatement()
	assert.Equal(t, st.Text, diag.LastStatement())
	assert.Equal(t, "[{id=1}]", diag.LastParam())
	assert.Empty(t, h.Writes(), "a failed read aborts the batch")

	fail = false
	require.NoError(t, a.Apply(context.Background(), diag, []Task{orderTask(1, h)}))
	assert.Empty(t, diag.LastStatement())
	assert.Empty(t, diag.LastParam())
}

func TestDiagnosticsPerWorker(t *testing.T) {
	exec := &fakeExecutor{respond: func(st sqlgen.Statement, _ data.StructList) (*data.ResultSet, error) {
		if st.Kind == sqlgen.KindMainKeys {
			return nil, errors.New("transform read failed")
		}
		return &data.ResultSet{Columns: st.Columns}, nil
	}}
	c := testContext(exec, 10, 10)
	target := testutil.SalesTarget(t, "order_view")
	sync, err := NewSync(target, c)
	require.NoError(t, err)
	tr, err := NewKeysTransform(target, "c", sync, c)
	require.NoError(t, err)
	h := newCommit("A")

	d1, d2 := &Diagnostics{}, &Diagnostics{}
	require.Error(t, tr.Apply(context.Background(), d1, []Task{customerTask(1, h)}))
	require.NoError(t, sync.Apply(context.Background(), d2, []Task{orderTask(1, h)}))

	trSt, _ := tr.SelectStatement()
	assert.Equal(t, trSt.Text, d1.LastStatement())
	assert.Empty(t, d2.LastStatement())
}

func TestReadErrorsPropagate(t *testing.T) {
	boom := errors.New("syntax error")
	exec := &fakeExecutor{respond: func(sqlgen.Statement, data.StructList) (*data.ResultSet, error) { return nil, boom }}
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), testContext(exec, 10, 10))
	require.NoError(t, err)

	err = a.Apply(context.Background(), nil, []Task{orderTask(1, newCommit("A"))})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ErrCodeReadFailed, CodeOf(err))
}

func TestTransientReadErrorsAreRetried(t *testing.T) {
	busy := errors.New("database is locked")
	attempts := 0
	exec := &fakeExecutor{respond: func(st sqlgen.Statement, param data.StructList) (*data.ResultSet, error) {
		attempts++
		if attempts < 3 {
			return nil, busy
		}
		return orderViewRows(1)(st, param)
	}}
	c := testContext(exec, 10, 10)
	c.Retry = retry.PolicyFunc(func(ctx context.Context, op func(context.Context) error) error {
		var err error
		for i := 0; i < 5; i++ {
			if err = op(ctx); !errors.Is(err, busy) {
				return err
			}
		}
		return &retry.ExhaustedError{Attempts: 5, Err: err}
	})
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), c)
	require.NoError(t, err)
	h := newCommit("A")

	require.NoError(t, a.Apply(context.Background(), nil, []Task{orderTask(1, h)}))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, 1, h.Writes()[0].Upserts.Len())
}

func TestRetriesExhausted(t *testing.T) {
	busy := errors.New("database is locked")
	exec := &fakeExecutor{respond: func(sqlgen.Statement, data.StructList) (*data.ResultSet, error) { return nil, busy }}
	c := testContext(exec, 10, 10)
	c.Retry = retry.PolicyFunc(func(ctx context.Context, op func(context.Context) error) error {
		return &retry.ExhaustedError{Attempts: 1, Err: op(ctx)}
	})
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), c)
	require.NoError(t, err)

	err = a.Apply(context.Background(), nil, []Task{orderTask(1, newCommit("A"))})

	assert.Equal(t, ErrCodeRetriesExhausted, CodeOf(err))
	assert.ErrorIs(t, err, busy)
}

func TestSyncSerialisesRefreshesOfOneKey(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	reads := 0
	exec := &fakeExecutor{respond: func(st sqlgen.Statement, param data.StructList) (*data.ResultSet, error) {
		mu.Lock()
		reads++
		n := reads
		mu.Unlock()
		if n == 1 {
			// The first refresh reads while the order is deleted and stalls.
			close(started)
			<-release
			return orderViewRows()(st, param)
		}
		return orderViewRows(1)(st, param)
	}}
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), testContext(exec, 10, 10))
	require.NoError(t, err)
	h := newCommit("A")

	deleted := orderTask(1, h)
	deleted.Change.Kind = ChangeDelete
	errs := make(chan error, 2)
	go func() { errs <- a.Apply(context.Background(), &Diagnostics{}, []Task{deleted}) }()
	<-started
	go func() { errs <- a.Apply(context.Background(), &Diagnostics{}, []Task{orderTask(1, h)}) }()

	time.Sleep(50 * time.Millisecond)
	assert.Len(t, exec.Calls(), 1, "the second refresh of the key waits for the first")
	close(release)
	require.NoError(t, <-errs)
	require.NoError(t, <-errs)

	writes := h.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []int64{1}, ids(t, writes[0].Deletes))
	assert.Equal(t, 1, writes[1].Upserts.Len(), "the newest read commits last")
}

func TestKeyLocksTakeEachStripeOnce(t *testing.T) {
	locks := newKeyLocks()
	var keys []data.Key
	for id := int64(0); id < 3*keyLockStripes; id++ {
		k := data.MustKey(orderKeyInfo, data.Int(id%100))
		keys = append(keys, k, k)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		locks.lock(keys)()
		locks.lock(keys)()
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("locking keys that share stripes deadlocked")
	}
}

func TestCommitErrorsPropagate(t *testing.T) {
	exec := &fakeExecutor{respond: orderViewRows(1)}
	a, err := NewSync(testutil.SalesTarget(t, "order_view"), testContext(exec, 10, 10))
	require.NoError(t, err)
	h := newCommit("A")
	h.err = errors.New("constraint failed")

	err = a.Apply(context.Background(), nil, []Task{orderTask(1, h)})

	assert.Equal(t, ErrCodeWriteFailed, CodeOf(err))
}

func TestActionIDsAreUnique(t *testing.T) {
	target := testutil.SalesTarget(t, "order_view")
	c := testContext(nil, 10, 10)

	seen := make(map[ActionID]bool)
	for i := 0; i < 100; i++ {
		a, err := NewSync(target, c)
		require.NoError(t, err)
		d := NewDelete(target, c)
		require.False(t, seen[a.ID()])
		require.False(t, seen[d.ID()])
		seen[a.ID()] = true
		seen[d.ID()] = true
	}

	// Same target and settings, still different identities.
	a1, _ := NewSync(target, c)
	a2, _ := NewSync(target, c)
	assert.NotEqual(t, a1.ID(), a2.ID())
	set := map[Action]bool{a1: true, a2: true}
	assert.Len(t, set, 2)
}

func TestKeysTransformForwardsMainKeys(t *testing.T) {
	exec := &fakeExecutor{respond: func(st sqlgen.Statement, param data.StructList) (*data.ResultSet, error) {
		if st.Kind != sqlgen.KindMainKeys {
			return orderViewRows(10, 11, 12)(st, param)
		}
		mapping := map[data.Int][]data.Int{1: {10, 11}, 2: {12}}
		rs := &data.ResultSet{Columns: st.Columns}
		for _, row := range param.Rows {
			cust := row[0].(data.Int)
			for _, order := range mapping[cust] {
				rs.Rows = append(rs.Rows, []data.Value{order, cust})
			}
		}
		return rs, nil
	}}
	c := testContext(exec, 100, 100)
	target := testutil.SalesTarget(t, "order_view")
	sync, err := NewSync(target, c)
	require.NoError(t, err)
	tr, err := NewKeysTransform(target, "c", sync, c)
	require.NoError(t, err)
	h := newCommit("A")

	tasks := []Task{customerTask(1, h), customerTask(2, h), customerTask(1, h), customerTask(3, h)}
	require.NoError(t, tr.Apply(context.Background(), nil, tasks))

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, sqlgen.KindMainKeys, calls[0].Kind)
	assert.Equal(t, 3, calls[0].Param.Len())
	assert.Equal(t, sqlgen.KindSelectByKeys, calls[1].Kind)
	assert.Equal(t, 3, calls[1].Param.Len())

	assert.Equal(t, 3, h.reserved)
	writes := h.Writes()
	require.Len(t, writes, 2)
	assert.True(t, writes[0].Empty(), "inputs are acknowledged without rows")
	assert.Len(t, writes[0].Tasks, 4)
	assert.Equal(t, 3, writes[1].Upserts.Len())
	assert.Equal(t, 4+3, h.Acked(), "inputs plus reserved tasks")
}

func TestKeysTransformWithNoMatches(t *testing.T) {
	exec := &fakeExecutor{}
	c := testContext(exec, 100, 100)
	target := testutil.SalesTarget(t, "order_view")
	sync, err := NewSync(target, c)
	require.NoError(t, err)
	tr, err := NewKeysTransform(target, "c", sync, c)
	require.NoError(t, err)
	h := newCommit("A")

	require.NoError(t, tr.Apply(context.Background(), nil, []Task{customerTask(9, h)}))

	assert.Len(t, exec.Calls(), 1)
	assert.Equal(t, 0, h.reserved)
	assert.Equal(t, 1, h.Acked())
}
