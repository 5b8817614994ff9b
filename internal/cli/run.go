package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/metrics"
	"github.com/roach88/mvsync/internal/model"
	"github.com/roach88/mvsync/internal/service"
	"github.com/roach88/mvsync/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	storeFlags
	CreateTables bool

	// RunIDs allows overriding the run identifier generator (for testing).
	// If nil, defaults to service.UUIDv7RunIDs.
	RunIDs service.RunIDGenerator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <definitions>",
		Short: "Run handlers against a store",
		Long: `Run the configured handlers: each polls the change log of its source
tables and applies the changes to its targets until interrupted.

Handlers default to every handler in the definitions. Prometheus metrics
are served on /metrics when a metrics address is set.

Example:
  mvsync run ./views --config mvsync.yaml
  mvsync run ./views --dsn ./shop.db --handler sales --metrics-addr :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHandlers(opts, args[0], cmd)
		},
	}

	opts.storeFlags.bind(cmd)
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "address to serve /metrics on")
	cmd.Flags().StringSliceVar(&opts.Handlers, "handler", nil, "handler to run (repeatable, default all)")
	cmd.Flags().BoolVar(&opts.CreateTables, "create-tables", true, "create missing source and target tables")

	return cmd
}

// signalContext derives a context cancelled on SIGINT/SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// openStore opens the configured store and, if asked, creates the tables
// the metadata declares.
func openStore(ctx context.Context, cfg config.Config, meta *model.Metadata, create bool) (*store.Store, error) {
	s, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	if create {
		if err := s.CreateTables(ctx, meta); err != nil {
			s.Close()
			return nil, WrapExitError(ExitCommandError, "failed to create tables", err)
		}
	}
	return s, nil
}

func runHandlers(opts *RunOptions, path string, cmd *cobra.Command) error {
	log := opts.logger()

	cfg, err := opts.storeFlags.config(cmd)
	if err != nil {
		return err
	}
	meta, err := buildMetadata(path)
	if err != nil {
		return err
	}
	for _, is := range meta.Issues {
		log.Warn("definition issue", "issue", is.String())
	}
	if len(cfg.DefaultHandlers) == 0 {
		for _, h := range meta.Handlers {
			cfg.DefaultHandlers = append(cfg.DefaultHandlers, h.Name)
		}
	}
	if len(cfg.DefaultHandlers) == 0 {
		return NewExitError(ExitCommandError, "no handlers to run")
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	log.Info("opening store", "driver", cfg.Store.Driver)
	s, err := openStore(ctx, cfg, meta, opts.CreateTables)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	if cfg.MetricsAddr != "" {
		stop, err := serveMetrics(cfg.MetricsAddr, reg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to serve metrics", err)
		}
		defer stop()
		log.Info("serving metrics", "addr", cfg.MetricsAddr)
	}

	svc := service.New(meta, s, service.Options{
		Config:  cfg,
		Logger:  log,
		Metrics: m,
		RunIDs:  opts.RunIDs,
	})

	fmt.Fprintf(cmd.OutOrStdout(), "Running handlers: %s\n", strings.Join(cfg.DefaultHandlers, ", "))
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	if err := svc.Run(ctx); err != nil {
		return WrapExitError(ExitFailure, "failed to start handlers", err)
	}
	log.Info("handlers stopped")
	return nil
}

// serveMetrics serves reg on addr/metrics and returns a function that
// shuts the server down.
func serveMetrics(addr string, reg *prometheus.Registry) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
