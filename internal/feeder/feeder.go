// Package feeder turns the change log into apply tasks.
//
// A Feeder polls mv_changes for every table its handler reads, one
// sequential poll/acknowledge loop per table. Each poll becomes one batch
// with one BatchCommit; the next poll starts only once the batch is fully
// acknowledged or failed. The offset moves with the last acknowledgement,
// so a failed or interrupted batch is read again.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/store"
)

// Submitter accepts apply tasks; it is implemented by apply.Dispatcher.
type Submitter interface {
	Submit(ctx context.Context, tasks []apply.Task) error
}

// Options configures a Feeder.
type Options struct {
	Handler    config.HandlerSettings
	Dictionary config.DictionarySettings
	Logger     *slog.Logger
}

// Feeder polls the change log for one handler.
type Feeder struct {
	handler *model.Handler
	meta    *model.Metadata
	store   *store.Store
	submit  Submitter
	opts    Options
	logger  *slog.Logger
}

// New creates the feeder of handler.
func New(meta *model.Metadata, handler *model.Handler, s *store.Store, submit Submitter, opts Options) *Feeder {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeder{handler: handler, meta: meta, store: s, submit: submit, opts: opts, logger: logger}
}

// source is one polled table.
type source struct {
	table      *model.Table
	dictionary bool
	limit      int
	interval   time.Duration
}

// sources returns the polled tables with their poll limits. Tables the
// handler reads only as joined sources are dictionary tables and follow
// the dictionary settings.
func (f *Feeder) sources() ([]source, error) {
	mains := make(map[string]bool)
	for _, t := range f.handler.Targets {
		mains[t.Main().Table.Name] = true
	}
	var out []source
	for _, name := range f.handler.Tables() {
		table := f.meta.Table(name)
		if table == nil {
			return nil, fmt.Errorf("feeder %s: unknown table %s", f.handler.Name, name)
		}
		src := source{
			table:    table,
			limit:    f.opts.Handler.EffectiveSelectBatchSize(),
			interval: f.opts.Handler.PollInterval,
		}
		if !mains[name] {
			src.dictionary = true
			src.limit = max(f.opts.Dictionary.MaxChangesPerPoll, 1)
			src.interval = f.opts.Dictionary.PollInterval
		}
		if src.interval <= 0 {
			src.interval = config.DefaultHandlerSettings().PollInterval
		}
		out = append(out, src)
	}
	return out, nil
}

// Run polls every table until ctx is cancelled. A batch in flight when ctx
// is cancelled is left to the dispatcher; its offset is saved if it
// completes.
func (f *Feeder) Run(ctx context.Context) error {
	sources, err := f.sources()
	if err != nil {
		return err
	}
	g, ctx := errgroup.WithContext(ctx)
	for _, src := range sources {
		g.Go(func() error { return f.loop(ctx, src) })
	}
	return g.Wait()
}

func (f *Feeder) loop(ctx context.Context, src source) error {
	log := f.logger.With("handler", f.handler.Name, "table", src.table.Name)
	offset, err := f.store.LoadOffset(ctx, f.handler.Name, src.table.Name)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	log.InfoContext(ctx, "feeder started", "offset", offset, "dictionary", src.dictionary)

	for {
		n, next, err := f.poll(ctx, src, offset)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, apply.ErrDispatcherClosed):
			return nil
		case err != nil:
			log.WarnContext(ctx, "poll failed", "offset", offset, "error", err)
		default:
			offset = next
		}
		if err == nil && n >= src.limit {
			// A full page: more changes are likely waiting.
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(src.interval):
		}
	}
}

// poll reads one batch after offset, submits it and waits for its
// acknowledgement. It returns the number of changes read and the new
// offset.
func (f *Feeder) poll(ctx context.Context, src source, offset int64) (int, int64, error) {
	changes, err := f.store.ReadChanges(ctx, src.table.KeyInfo(), offset, src.limit)
	if err != nil || len(changes) == 0 {
		return 0, offset, err
	}
	batch := newBatchCommit(f.store, f.handler.Name, src.table.Name, changes[len(changes)-1].Seq, len(changes))
	tasks := make([]apply.Task, len(changes))
	for i, c := range changes {
		tasks[i] = apply.Task{Change: c, Commit: batch}
	}
	if err := f.submit.Submit(ctx, tasks); err != nil {
		return 0, offset, err
	}

	select {
	case <-batch.Done():
	case <-ctx.Done():
		return 0, offset, ctx.Err()
	}
	if err := batch.Err(); err != nil {
		return 0, offset, err
	}
	f.logger.DebugContext(ctx, "batch acknowledged",
		"handler", f.handler.Name, "table", src.table.Name, "changes", len(changes), "offset", batch.LastSeq())
	return len(changes), batch.LastSeq(), nil
}

// PollOnce runs one poll of table and returns the number of changes
// applied.
func (f *Feeder) PollOnce(ctx context.Context, table string) (int, error) {
	sources, err := f.sources()
	if err != nil {
		return 0, err
	}
	for _, src := range sources {
		if src.table.Name != table {
			continue
		}
		offset, err := f.store.LoadOffset(ctx, f.handler.Name, table)
		if err != nil {
			return 0, err
		}
		n, _, err := f.poll(ctx, src, offset)
		return n, err
	}
	return 0, fmt.Errorf("feeder %s: handler does not read table %s", f.handler.Name, table)
}
