package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/data"
	"github.com/roach88/mvsync/internal/feeder"
	"github.com/roach88/mvsync/internal/loader"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/scanner"
	"github.com/roach88/mvsync/internal/sqlgen"
	"github.com/roach88/mvsync/internal/store"
	"github.com/roach88/mvsync/internal/testutil"
)

// Harness is the scenario execution engine for one scenario run.
type Harness struct {
	store    *store.Store
	meta     *model.Metadata
	handler  *model.Handler
	applyCtx *apply.Context
	feed     *feeder.Feeder
	scan     config.ScanSettings
	runIDs   *testutil.SequentialRunIDs
	logger   *slog.Logger
}

// Run executes a scenario in a scratch SQLite database and returns the
// result.
//
// Execution flow:
// 1. Load the definitions and build the join model
// 2. Create a fresh database with the source, target and bookkeeping tables
// 3. Start the handler's dispatcher
// 4. Execute the steps in order
// 5. Snapshot the tables and offsets, then evaluate the assertions
func Run(scenario *Scenario) (*Result, error) {
	return RunInDir(scenario, "")
}

// RunInDir is Run with the database created under dir. An empty dir uses
// a temporary directory removed when the run ends.
func RunInDir(scenario *Scenario, dir string) (*Result, error) {
	ctx := context.Background()

	def, err := loader.LoadDir(scenario.Definitions)
	if err != nil {
		return nil, fmt.Errorf("load definitions: %w", err)
	}
	meta := model.Build(def)
	handler := meta.Handler(scenario.Handler)
	if handler == nil {
		return nil, fmt.Errorf("unknown handler %q", scenario.Handler)
	}

	s, cleanup, err := openStore(dir)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	if err := s.CreateTables(ctx, meta); err != nil {
		return nil, fmt.Errorf("create tables: %w", err)
	}

	h := &Harness{
		store:   s,
		meta:    meta,
		handler: handler,
		scan:    config.DefaultScanSettings(),
		runIDs:  testutil.NewSequentialRunIDs("run"),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	settings := config.DefaultHandlerSettings()
	if scenario.Settings != nil {
		settings = *scenario.Settings
	}
	if scenario.Scan != nil {
		h.scan = *scenario.Scan
	}
	h.applyCtx = &apply.Context{
		Handler:   handler.Name,
		Settings:  settings,
		Executor:  s,
		Generator: s.Generator(),
		Logger:    h.logger,
	}

	d, err := apply.NewDispatcher(handler, h.applyCtx)
	if err != nil {
		return nil, fmt.Errorf("create dispatcher: %w", err)
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = d.Run(runCtx)
	}()
	defer func() {
		d.Close()
		cancel()
		<-done
	}()
	h.feed = feeder.New(meta, handler, s, d, feeder.Options{
		Handler:    settings,
		Dictionary: config.DefaultDictionarySettings(),
		Logger:     h.logger,
	})

	result := NewResult()
	for _, issue := range meta.Issues {
		if issue.Pos.File != "" {
			issue.Pos.File = filepath.Base(issue.Pos.File)
		}
		result.Issues = append(result.Issues, issue.String())
	}

	for i, step := range scenario.Steps {
		if err := h.executeStep(ctx, step, result); err != nil {
			return nil, fmt.Errorf("steps[%d]: %w", i, err)
		}
	}

	if err := h.snapshot(ctx, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func openStore(dir string) (*store.Store, func(), error) {
	if dir == "" {
		tmp, err := os.MkdirTemp("", "mvsync-scenario-*")
		if err != nil {
			return nil, nil, fmt.Errorf("create scratch dir: %w", err)
		}
		s, err := store.OpenSQLite(filepath.Join(tmp, "scenario.db"))
		if err != nil {
			os.RemoveAll(tmp)
			return nil, nil, fmt.Errorf("open store: %w", err)
		}
		return s, func() { s.Close(); os.RemoveAll(tmp) }, nil
	}
	s, err := store.OpenSQLite(filepath.Join(dir, "scenario.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return s, func() { s.Close() }, nil
}

func (h *Harness) executeStep(ctx context.Context, step Step, result *Result) error {
	switch {
	case step.SQL != "":
		if _, err := h.store.Exec(ctx, sqlgen.Statement{Text: step.SQL}, data.StructList{}); err != nil {
			return fmt.Errorf("sql: %w", err)
		}
		result.AddTrace(StepSQL, strings.Join(strings.Fields(step.SQL), " "))

	case step.Change != nil:
		key, err := h.changeKey(step.Change)
		if err != nil {
			return err
		}
		seq, err := h.store.AppendChange(ctx, step.Change.Kind(), key)
		if err != nil {
			return err
		}
		result.AddTrace(StepChange, fmt.Sprintf("%s %s seq=%d", step.Change.Op, key, seq))

	case step.Poll != "":
		n, err := h.feed.PollOnce(ctx, step.Poll)
		if err != nil {
			return fmt.Errorf("poll %s: %w", step.Poll, err)
		}
		result.AddTrace(StepPoll, fmt.Sprintf("%s: %d change(s)", step.Poll, n))

	case step.Scan != "":
		target := h.handler.Target(step.Scan)
		if target == nil {
			return fmt.Errorf("scan: unknown target %s/%s", h.handler.Name, step.Scan)
		}
		refresh, err := apply.NewSync(target, h.applyCtx)
		if err != nil {
			return err
		}
		res, err := scanner.New(h.handler.Name, target, h.store, refresh, scanner.Options{
			Settings: h.scan,
			RunID:    h.runIDs.NewRunID(),
			Logger:   h.logger,
		}).Run(ctx)
		if err != nil {
			return fmt.Errorf("scan %s: %w", step.Scan, err)
		}
		result.AddTrace(StepScan, fmt.Sprintf("%s: %d row(s) in %d page(s)", step.Scan, res.Rows, res.Pages))
	}
	return nil
}

func (h *Harness) changeKey(c *ChangeStep) (data.Key, error) {
	table := h.meta.Table(c.Table)
	if table == nil {
		return data.Key{}, fmt.Errorf("change: unknown table %s", c.Table)
	}
	info := table.KeyInfo()
	if len(c.Key) != len(info.Columns) {
		return data.Key{}, fmt.Errorf("change: %s key has %d column(s), got %d value(s)", c.Table, len(info.Columns), len(c.Key))
	}
	values := make([]data.Value, len(c.Key))
	for i, raw := range c.Key {
		v, err := toValue(raw, info.Columns[i].Type)
		if err != nil {
			return data.Key{}, fmt.Errorf("change: %s.%s: %w", c.Table, info.Columns[i].Name, err)
		}
		values[i] = v
	}
	return data.NewKey(info, values...)
}

// snapshot reads every target and source table of the handler, and its
// offsets, into result.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	for _, t := range h.handler.Targets {
		result.Targets = append(result.Targets, t.Name)
		tbl, err := h.readTable(ctx, t.Name, t.OutputColumns(), t.KeyColumns)
		if err != nil {
			return err
		}
		result.State[t.Name] = tbl
	}
	for _, name := range h.handler.Tables() {
		src := h.meta.Table(name)
		tbl, err := h.readTable(ctx, name, src.Columns, src.Key)
		if err != nil {
			return err
		}
		result.State[name] = tbl

		seq, err := h.store.LoadOffset(ctx, h.handler.Name, name)
		if err != nil {
			return fmt.Errorf("load offset %s: %w", name, err)
		}
		result.Offsets = append(result.Offsets, Offset{Table: name, Seq: seq})
	}
	return nil
}

func (h *Harness) readTable(ctx context.Context, name string, cols []data.Column, key []string) (*Table, error) {
	q := h.store.Dialect().Quote
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = q(c.Name)
	}
	order := make([]string, len(key))
	for i, k := range key {
		order[i] = q(k)
	}
	st := sqlgen.Statement{
		Target:  name,
		Text:    fmt.Sprintf("SELECT %s FROM %s ORDER BY %s", strings.Join(names, ", "), q(name), strings.Join(order, ", ")),
		Columns: cols,
	}
	rs, err := h.store.Query(ctx, st, data.StructList{})
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", name, err)
	}
	return &Table{Name: name, Columns: cols, Key: key, Rows: rs.Rows}, nil
}

// toValue converts a YAML scalar to a value of the column type.
func toValue(raw any, t data.Type) (data.Value, error) {
	switch v := raw.(type) {
	case int:
		raw = int64(v)
	case uint64:
		raw = int64(v)
	}
	return data.FromDriver(raw, t)
}
