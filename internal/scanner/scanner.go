// Package scanner backfills a target by a keyset scan of its main table.
//
// Each page of main-table keys is refreshed through the target's Sync
// action, split across ScanSettings.Threads concurrent chunks. The page's
// last key is saved with the last acknowledgement of the page, so an
// interrupted scan resumes after the last completed page.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/metrics"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/retry"
	"github.com/roach88/mvsync/internal/store"
)

// Options configures a Scanner.
type Options struct {
	Settings config.ScanSettings
	// RunID identifies this scan run in mv_scans and logs.
	RunID   string
	Retry   retry.Policy
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Scanner scans one target of one handler.
type Scanner struct {
	handler string
	target  *model.Target
	store   *store.Store
	sync    *apply.Sync
	opts    Options
	logger  *slog.Logger
}

// New creates the scanner of target. refresh is the target's Sync action.
func New(handler string, target *model.Target, s *store.Store, refresh *apply.Sync, opts Options) *Scanner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retry == nil {
		opts.Retry = retry.None{}
	}
	return &Scanner{
		handler: handler,
		target:  target,
		store:   s,
		sync:    refresh,
		opts:    opts,
		logger:  logger.With("handler", handler, "target", target.Name, "run_id", opts.RunID),
	}
}

// Result summarises a scan run.
type Result struct {
	Pages     int
	Rows      int
	Resumed   bool
	Completed bool
}

// Run scans until the main table is exhausted or ctx is cancelled. A
// completed scan starts over; an interrupted one resumes after its last
// saved key.
func (s *Scanner) Run(ctx context.Context) (Result, error) {
	var res Result
	main := s.target.Main().Table
	info := main.KeyInfo()

	pos, found, err := s.store.LoadScanPosition(ctx, s.handler, s.target.Name, info)
	if err != nil {
		return res, err
	}
	last := data.Key{}
	if found && !pos.Completed && !pos.LastKey.IsZero() {
		last = pos.LastKey
		res.Resumed = true
		s.logger.InfoContext(ctx, "scan resumed", "after", last.String(), "previous_run", pos.RunID)
	} else {
		s.logger.InfoContext(ctx, "scan started")
	}

	pageSize := s.opts.Settings.EffectivePageSize()
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		keys, err := s.page(ctx, main, last, pageSize)
		if err != nil {
			return res, err
		}
		if len(keys) == 0 {
			break
		}
		commit := newScanCommit(s.store, s.handler, s.target.Name, s.opts.RunID, keys[len(keys)-1], len(keys))
		if err := s.apply(ctx, keys, commit); err != nil {
			return res, err
		}
		res.Pages++
		res.Rows += len(keys)
		s.opts.Metrics.Scanned(s.handler, s.target.Name, len(keys))
		last = keys[len(keys)-1]
		if len(keys) < pageSize {
			break
		}
	}

	done := store.ScanPosition{RunID: s.opts.RunID, LastKey: last, Completed: true}
	if err := s.store.SaveScanPosition(ctx, s.handler, s.target.Name, done); err != nil {
		return res, err
	}
	res.Completed = true
	s.logger.InfoContext(ctx, "scan completed", "pages", res.Pages, "rows", res.Rows)
	return res, nil
}

// page reads the next page of main-table keys after last.
func (s *Scanner) page(ctx context.Context, main *model.Table, last data.Key, size int) ([]data.Key, error) {
	st, err := s.store.Generator().ScanPage(main, last.IsZero(), size)
	if err != nil {
		return nil, err
	}
	var param data.StructList
	if !last.IsZero() {
		if param, err = data.KeysToParam([]data.Key{last}); err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.target.Name, err)
		}
	}

	var rs *data.ResultSet
	err = s.opts.Retry.Do(ctx, func(ctx context.Context) error {
		var qerr error
		rs, qerr = s.store.Query(ctx, st, param)
		return qerr
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.target.Name, err)
	}
	keys := make([]data.Key, 0, len(rs.Rows))
	for _, row := range rs.Rows {
		k, err := rs.Key(row, main.KeyInfo())
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", s.target.Name, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// apply refreshes keys in up to Threads concurrent chunks.
func (s *Scanner) apply(ctx context.Context, keys []data.Key, commit *ScanCommit) error {
	table := s.target.Main().Table.Name
	tasks := make([]apply.Task, len(keys))
	for i, k := range keys {
		tasks[i] = apply.Task{Change: apply.Change{Table: table, Kind: apply.ChangeUpsert, Key: k}, Commit: commit}
	}

	threads := s.opts.Settings.EffectiveThreads()
	chunk := (len(tasks) + threads - 1) / threads
	g, gctx := errgroup.WithContext(ctx)
	for from := 0; from < len(tasks); from += chunk {
		part := tasks[from:min(from+chunk, len(tasks))]
		g.Go(func() error {
			diag := &apply.Diagnostics{}
			if err := s.sync.Apply(gctx, diag, part); err != nil {
				s.logger.ErrorContext(gctx, "scan chunk failed",
					"keys", len(part), "statement", diag.LastStatement(), "error", err)
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// ScanCommit is the commit handler of one scan page. The write bringing
// the outstanding count to zero also saves the page's last key.
type ScanCommit struct {
	store   *store.Store
	handler string
	target  string
	runID   string
	last    data.Key

	mu      sync.Mutex
	pending int
	err     error
}

func newScanCommit(s *store.Store, handler, target, runID string, last data.Key, tasks int) *ScanCommit {
	return &ScanCommit{store: s, handler: handler, target: target, runID: runID, last: last, pending: tasks}
}

// Reserve announces n more acknowledgements.
func (c *ScanCommit) Reserve(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending += n
}

// Commit writes w and acknowledges its tasks.
func (c *ScanCommit) Commit(ctx context.Context, w *apply.Write) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	last := c.pending-len(w.Tasks) <= 0
	err := c.store.InTx(ctx, func(tx *store.Tx) error {
		if err := tx.WriteTarget(ctx, w); err != nil {
			return err
		}
		if last {
			return tx.SaveScanPosition(ctx, c.handler, c.target, store.ScanPosition{RunID: c.runID, LastKey: c.last})
		}
		return nil
	})
	if err != nil {
		return err
	}
	c.pending -= len(w.Tasks)
	return nil
}

// Fail records the first failure of the page.
func (c *ScanCommit) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		c.err = err
	}
}
