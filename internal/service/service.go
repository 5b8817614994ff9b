// Package service controls the handlers and scans of one store.
//
// A running handler is a feeder polling the change log and a dispatcher
// applying the resulting tasks. A running scan backfills one target. The
// service owns the default settings; each handler or scan copies them when
// it starts.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/mvsync/internal/apply"
	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/feeder"
	"github.com/roach88/mvsync/internal/metrics"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/retry"
	"github.com/roach88/mvsync/internal/scanner"
	"github.com/roach88/mvsync/internal/store"
)

// ErrUnknownName is returned for handlers and targets the metadata does
// not define.
var ErrUnknownName = errors.New("unknown name")

// RunIDGenerator generates identifiers for handler and scan runs.
// Implemented by UUIDv7RunIDs (production) and testutil.SequentialRunIDs
// (tests).
type RunIDGenerator interface {
	NewRunID() string
}

// UUIDv7RunIDs generates time-sortable UUIDv7 run identifiers.
//
// Thread-safety: UUIDv7RunIDs is stateless and safe for concurrent use.
type UUIDv7RunIDs struct{}

// NewRunID panics if UUID generation fails (should never happen in practice).
func (UUIDv7RunIDs) NewRunID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// Options configures a Service.
type Options struct {
	Config  config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	RunIDs  RunIDGenerator
	// Retry overrides the policy built from Config.Retry.
	Retry retry.Policy
}

type scanKey struct {
	handler string
	target  string
}

type handlerRun struct {
	id         string
	mode       config.StopMode
	stopFeed   context.CancelFunc
	stopApply  context.CancelFunc
	dispatcher *apply.Dispatcher
	done       chan struct{}
	err        error
}

type scanRun struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
	res    scanner.Result
	err    error
}

// Service is the control surface of the materializer.
type Service struct {
	meta    *model.Metadata
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	runIDs  RunIDGenerator
	retry   retry.Policy

	mu              sync.Mutex
	handler         config.HandlerSettings
	dictionary      config.DictionarySettings
	scan            config.ScanSettings
	defaultHandlers []string
	handlers        map[string]*handlerRun
	scans           map[scanKey]*scanRun
	finished        map[scanKey]*scanRun

	stopped  chan struct{}
	stopOnce sync.Once
}

// New creates a service over meta and s. Nothing runs until a handler or
// scan is started.
func New(meta *model.Metadata, s *store.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runIDs := opts.RunIDs
	if runIDs == nil {
		runIDs = UUIDv7RunIDs{}
	}
	policy := opts.Retry
	if policy == nil {
		policy = RetryPolicy(opts.Config.Retry, logger)
	}
	return &Service{
		meta:            meta,
		store:           s,
		logger:          logger,
		metrics:         opts.Metrics,
		runIDs:          runIDs,
		retry:           policy,
		handler:         opts.Config.Handler,
		dictionary:      opts.Config.Dictionary,
		scan:            opts.Config.Scan,
		defaultHandlers: append([]string(nil), opts.Config.DefaultHandlers...),
		handlers:        make(map[string]*handlerRun),
		scans:           make(map[scanKey]*scanRun),
		finished:        make(map[scanKey]*scanRun),
		stopped:         make(chan struct{}),
	}
}

// RetryPolicy builds the store retry policy: exponential backoff over
// transient store errors, or no retries when MaxAttempts is below 2.
func RetryPolicy(rs config.RetrySettings, logger *slog.Logger) retry.Policy {
	if rs.MaxAttempts < 2 {
		return retry.None{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return retry.Backoff{
		New:       retry.Exponential(rs.InitialInterval, rs.MaxInterval, rs.MaxAttempts),
		Transient: store.IsTransient,
		Notify: func(err error, wait time.Duration) {
			logger.Warn("transient store error, retrying", "wait", wait, "error", err)
		},
	}
}

// Metadata returns the metadata the service runs.
func (s *Service) Metadata() *model.Metadata { return s.meta }

// HandlerSettings returns a copy of the default handler settings.
func (s *Service) HandlerSettings() config.HandlerSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handler
}

// SetHandlerSettings replaces the default handler settings. Running
// handlers keep the settings they started with.
func (s *Service) SetHandlerSettings(v config.HandlerSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = v
}

// DictionarySettings returns a copy of the dictionary settings.
func (s *Service) DictionarySettings() config.DictionarySettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dictionary
}

// SetDictionarySettings replaces the dictionary settings.
func (s *Service) SetDictionarySettings(v config.DictionarySettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dictionary = v
}

// ScanSettings returns a copy of the scan settings.
func (s *Service) ScanSettings() config.ScanSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scan
}

// SetScanSettings replaces the scan settings.
func (s *Service) SetScanSettings(v config.ScanSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scan = v
}

// IsRunning reports whether at least one handler is running.
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers) > 0
}

// RunningHandlers returns the names of the running handlers, sorted.
func (s *Service) RunningHandlers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ScanRunning reports whether the scan of a target is running.
func (s *Service) ScanRunning(handler, target string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.scans[scanKey{handler, target}]
	return ok
}

func (s *Service) applyContext(handler string, settings config.HandlerSettings) *apply.Context {
	return &apply.Context{
		Handler:   handler,
		Settings:  settings,
		Executor:  s.store,
		Generator: s.store.Generator(),
		Retry:     s.retry,
		Logger:    s.logger,
		Metrics:   s.metrics,
	}
}

// StartHandler starts the named handler. It returns false if the handler
// is already running.
func (s *Service) StartHandler(name string) (bool, error) {
	h := s.meta.Handler(name)
	if h == nil {
		return false, fmt.Errorf("start handler %q: %w", name, ErrUnknownName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[name]; ok {
		return false, nil
	}
	settings := s.handler
	d, err := apply.NewDispatcher(h, s.applyContext(name, settings))
	if err != nil {
		return false, fmt.Errorf("start handler %q: %w", name, err)
	}
	feed := feeder.New(s.meta, h, s.store, d, feeder.Options{
		Handler:    settings,
		Dictionary: s.dictionary,
		Logger:     s.logger,
	})

	feedCtx, stopFeed := context.WithCancel(context.Background())
	applyCtx, stopApply := context.WithCancel(context.Background())
	run := &handlerRun{
		id:         s.runIDs.NewRunID(),
		mode:       settings.EffectiveStopMode(),
		stopFeed:   stopFeed,
		stopApply:  stopApply,
		dispatcher: d,
		done:       make(chan struct{}),
	}
	s.handlers[name] = run
	s.logger.Info("handler started", "handler", name, "run_id", run.id, "targets", len(h.Targets))

	go s.runHandler(name, run, feed, feedCtx, applyCtx)
	return true, nil
}

func (s *Service) runHandler(name string, run *handlerRun, feed *feeder.Feeder, feedCtx, applyCtx context.Context) {
	defer close(run.done)

	applied := make(chan error, 1)
	go func() { applied <- run.dispatcher.Run(applyCtx) }()

	err := feed.Run(feedCtx)
	if err != nil {
		s.logger.Error("feeder stopped", "handler", name, "run_id", run.id, "error", err)
	}
	run.dispatcher.Close()
	if aerr := <-applied; aerr != nil && err == nil {
		err = aerr
	}
	run.err = err

	s.mu.Lock()
	if s.handlers[name] == run {
		delete(s.handlers, name)
	}
	s.mu.Unlock()
	s.logger.Info("handler stopped", "handler", name, "run_id", run.id)
}

// StopHandler stops the named handler and waits for it. In drain mode the
// batch in flight is applied first; in abort mode it is cancelled and
// read again on the next start. It returns false if the handler was not
// running.
func (s *Service) StopHandler(name string) bool {
	s.mu.Lock()
	run, ok := s.handlers[name]
	if ok {
		delete(s.handlers, name)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}

	run.stopFeed()
	if run.mode == config.StopAbort {
		run.stopApply()
	}
	<-run.done
	run.stopApply()
	return true
}

// StartScan starts the full scan of a target. It returns false if the
// scan is already running.
func (s *Service) StartScan(handler, target string) (bool, error) {
	t := s.meta.Target(handler, target)
	if t == nil {
		return false, fmt.Errorf("start scan %s/%s: %w", handler, target, ErrUnknownName)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := scanKey{handler, target}
	if _, ok := s.scans[key]; ok {
		return false, nil
	}
	refresh, err := apply.NewSync(t, s.applyContext(handler, s.handler))
	if err != nil {
		return false, fmt.Errorf("start scan %s/%s: %w", handler, target, err)
	}
	run := &scanRun{id: s.runIDs.NewRunID(), done: make(chan struct{})}
	sc := scanner.New(handler, t, s.store, refresh, scanner.Options{
		Settings: s.scan,
		RunID:    run.id,
		Retry:    s.retry,
		Logger:   s.logger,
		Metrics:  s.metrics,
	})
	ctx, cancel := context.WithCancel(context.Background())
	run.cancel = cancel
	s.scans[key] = run

	go func() {
		defer close(run.done)
		run.res, run.err = sc.Run(ctx)
		if run.err != nil && !errors.Is(run.err, context.Canceled) {
			s.logger.Error("scan failed", "handler", handler, "target", target, "run_id", run.id, "error", run.err)
		}
		s.mu.Lock()
		if s.scans[key] == run {
			delete(s.scans, key)
		}
		s.finished[key] = run
		s.mu.Unlock()
		cancel()
	}()
	return true, nil
}

// StopScan cancels the scan of a target and waits for it. The scan
// resumes after its last completed page when started again. It returns
// false if the scan was not running.
func (s *Service) StopScan(handler, target string) bool {
	key := scanKey{handler, target}
	s.mu.Lock()
	run, ok := s.scans[key]
	if ok {
		delete(s.scans, key)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	<-run.done
	return true
}

// WaitScan blocks until the scan of a target finishes or ctx is done and
// returns its result. When the scan is not running it returns the result
// of the last finished run, if any.
func (s *Service) WaitScan(ctx context.Context, handler, target string) (scanner.Result, error) {
	key := scanKey{handler, target}
	s.mu.Lock()
	run, ok := s.scans[key]
	if !ok {
		run, ok = s.finished[key]
	}
	s.mu.Unlock()
	if !ok {
		return scanner.Result{}, nil
	}
	select {
	case <-run.done:
		return run.res, run.err
	case <-ctx.Done():
		return scanner.Result{}, ctx.Err()
	}
}

// StartDefaultHandlers starts the handlers listed in the configuration.
func (s *Service) StartDefaultHandlers() error {
	s.mu.Lock()
	names := append([]string(nil), s.defaultHandlers...)
	s.mu.Unlock()

	var errs []error
	for _, name := range names {
		if _, err := s.StartHandler(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run starts the default handlers and blocks until ctx is done or
// Shutdown is called, then stops everything.
func (s *Service) Run(ctx context.Context) error {
	if err := s.StartDefaultHandlers(); err != nil {
		s.Shutdown()
		return err
	}
	select {
	case <-ctx.Done():
	case <-s.stopped:
	}
	s.Shutdown()
	return nil
}

// Shutdown stops every running handler and scan.
func (s *Service) Shutdown() {
	s.stopOnce.Do(func() { close(s.stopped) })

	s.mu.Lock()
	handlers := make([]string, 0, len(s.handlers))
	for name := range s.handlers {
		handlers = append(handlers, name)
	}
	scans := make([]scanKey, 0, len(s.scans))
	for key := range s.scans {
		scans = append(scans, key)
	}
	s.mu.Unlock()

	for _, key := range scans {
		s.StopScan(key.handler, key.target)
	}
	for _, name := range handlers {
		s.StopHandler(name)
	}
}
