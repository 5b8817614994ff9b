package apply

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/mvsync/internal/model"
)

// ErrDispatcherClosed is returned by Submit after Close.
var ErrDispatcherClosed = errors.New("dispatcher closed")

type routeKey struct {
	table string
	kind  ChangeKind
}

// lane is one action and the queue its workers drain.
type lane struct {
	action Action
	queue  *Queue
}

// Dispatcher routes the tasks of one handler to its actions and runs the
// action workers.
//
// Routing is by (table, change kind): any change of a target's main table
// goes to its Sync, which reads the row back and writes whatever the
// source holds, and any change of a joined table goes to the KeysTransform
// of that source. A task routed to k actions is
// acknowledged k times; Submit reserves the extra acknowledgements. A task
// no action reads is acknowledged at once with an empty Write.
type Dispatcher struct {
	handler *model.Handler
	ctx     *Context

	lanes  []*lane
	routes map[routeKey][]*lane
	syncs  map[string]*Sync

	mu     sync.Mutex
	closed bool
}

// NewDispatcher builds the actions of every target of handler.
func NewDispatcher(handler *model.Handler, c *Context) (*Dispatcher, error) {
	d := &Dispatcher{
		handler: handler,
		ctx:     c,
		routes:  make(map[routeKey][]*lane),
		syncs:   make(map[string]*Sync),
	}
	for _, t := range handler.Targets {
		main := t.Main().Table.Name

		refresh, err := NewSync(t, c)
		if err != nil {
			return nil, err
		}
		d.syncs[t.Name] = refresh
		d.add(refresh, routeKey{main, ChangeUpsert}, routeKey{main, ChangeDelete})

		for _, s := range t.Sources[1:] {
			tr, err := NewKeysTransform(t, s.Alias, refresh, c)
			if err != nil {
				return nil, err
			}
			d.add(tr, routeKey{s.Table.Name, ChangeUpsert}, routeKey{s.Table.Name, ChangeDelete})
		}
	}
	return d, nil
}

func (d *Dispatcher) add(a Action, keys ...routeKey) {
	l := &lane{action: a, queue: NewQueue()}
	d.lanes = append(d.lanes, l)
	for _, k := range keys {
		d.routes[k] = append(d.routes[k], l)
	}
}

// Actions returns the dispatcher's actions in creation order.
func (d *Dispatcher) Actions() []Action {
	out := make([]Action, len(d.lanes))
	for i, l := range d.lanes {
		out[i] = l.action
	}
	return out
}

// Sync returns the sync action of a target, or nil.
func (d *Dispatcher) Sync(target string) *Sync { return d.syncs[target] }

// Routes returns the number of actions a change of table with kind is
// routed to.
func (d *Dispatcher) Routes(table string, kind ChangeKind) int {
	return len(d.routes[routeKey{table, kind}])
}

// Submit routes tasks to the action queues. It does not wait for them to
// be applied; completion is reported through the tasks' commit handlers.
// Either every routed task is queued or, after Close, none is.
func (d *Dispatcher) Submit(ctx context.Context, tasks []Task) error {
	perLane := make(map[*lane][]Task)
	var unrouted []Task
	for _, t := range tasks {
		lanes := d.routes[routeKey{t.Change.Table, t.Change.Kind}]
		if len(lanes) == 0 {
			unrouted = append(unrouted, t)
			continue
		}
		for _, l := range lanes {
			perLane[l] = append(perLane[l], t)
		}
	}

	if err := d.enqueue(tasks, perLane); err != nil {
		return err
	}

	return GroupByCommit(unrouted).Apply(func(h CommitHandler, group []Task) error {
		if err := h.Commit(ctx, &Write{Tasks: group}); err != nil {
			return &Error{Code: ErrCodeWriteFailed, Action: "acknowledge", Err: err}
		}
		return nil
	})
}

// enqueue reserves the fan-out acknowledgements and queues every lane's
// batch while holding mu, so Close cannot close a queue half way through.
func (d *Dispatcher) enqueue(tasks []Task, perLane map[*lane][]Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	for _, t := range tasks {
		if n := len(d.routes[routeKey{t.Change.Table, t.Change.Kind}]); n > 1 {
			t.Commit.Reserve(n - 1)
		}
	}
	for _, l := range d.lanes {
		if batch, ok := perLane[l]; ok {
			// Queues are closed only by Close, which needs mu.
			l.queue.Enqueue(batch...)
		}
	}
	return nil
}

// Run starts the workers of every action and blocks until they exit:
// after Close once the queues are drained, or when ctx is cancelled. Tasks
// left when ctx is cancelled are failed with the context error.
func (d *Dispatcher) Run(ctx context.Context) error {
	var g errgroup.Group
	threads := d.ctx.Settings.EffectiveThreads()
	for _, l := range d.lanes {
		for range threads {
			g.Go(func() error {
				d.work(ctx, l)
				return nil
			})
		}
	}
	return g.Wait()
}

// Close stops accepting tasks. Workers finish the queued ones and exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	for _, l := range d.lanes {
		l.queue.Close()
	}
}

func (d *Dispatcher) work(ctx context.Context, l *lane) {
	diag := &Diagnostics{}
	batch := d.ctx.Settings.EffectiveSelectBatchSize()
	for {
		tasks, open := l.queue.Take(batch)
		if len(tasks) > 0 {
			if err := ctx.Err(); err != nil {
				d.fail(ctx, l, diag, tasks, err)
				continue
			}
			if err := l.action.Apply(ctx, diag, tasks); err != nil {
				d.fail(ctx, l, diag, tasks, err)
			}
			continue
		}
		if !open {
			return
		}
		select {
		case <-ctx.Done():
			for tasks := l.queue.DrainUpTo(batch); len(tasks) > 0; tasks = l.queue.DrainUpTo(batch) {
				d.fail(ctx, l, diag, tasks, ctx.Err())
			}
			return
		case <-l.queue.Wait():
		}
	}
}

// fail reports a failed batch to every commit handler it involved.
func (d *Dispatcher) fail(ctx context.Context, l *lane, diag *Diagnostics, tasks []Task, err error) {
	d.ctx.logger().ErrorContext(ctx, "apply failed",
		"handler", d.ctx.Handler,
		"action", l.action.Name(),
		"tasks", len(tasks),
		"statement", diag.LastStatement(),
		"error", err,
	)
	d.ctx.Metrics.Failed(d.ctx.Handler, l.action.Name(), len(tasks))
	cause := fmt.Errorf("%s: %w", l.action.Name(), err)
	for _, h := range GroupByCommit(tasks).Handlers() {
		h.Fail(cause)
	}
	diag.clear()
}
