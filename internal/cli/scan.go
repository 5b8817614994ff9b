package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/mvsync/internal/service"
)

// ScanOptions holds flags for the scan command.
type ScanOptions struct {
	*RootOptions
	storeFlags
	PageSize     int
	Threads      int
	CreateTables bool

	// RunIDs allows overriding the run identifier generator (for testing).
	RunIDs service.RunIDGenerator
}

// ScanResult is the output of a finished scan.
type ScanResult struct {
	Handler   string `json:"handler"`
	Target    string `json:"target"`
	Pages     int    `json:"pages"`
	Rows      int    `json:"rows"`
	Resumed   bool   `json:"resumed"`
	Completed bool   `json:"completed"`
}

func (r ScanResult) String() string {
	resumed := ""
	if r.Resumed {
		resumed = " (resumed)"
	}
	return fmt.Sprintf("✓ Scanned %s/%s: %d row(s) in %d page(s)%s", r.Handler, r.Target, r.Rows, r.Pages, resumed)
}

// NewScanCommand creates the scan command.
func NewScanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scan <definitions> <handler> <target>",
		Short: "Backfill one target with a full scan",
		Long: `Scan the main table of a target in key order and refresh every target row.

An interrupted scan resumes after its last completed page when run again;
a completed scan starts over.`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(opts, args[0], args[1], args[2], cmd)
		},
	}

	opts.storeFlags.bind(cmd)
	cmd.Flags().IntVar(&opts.PageSize, "page-size", 0, "main keys per page (default from config)")
	cmd.Flags().IntVar(&opts.Threads, "threads", 0, "parallel chunks per page (default from config)")
	cmd.Flags().BoolVar(&opts.CreateTables, "create-tables", true, "create missing source and target tables")

	return cmd
}

func runScan(opts *ScanOptions, path, handler, target string, cmd *cobra.Command) error {
	printer := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	log := opts.logger()

	cfg, err := opts.storeFlags.config(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("page-size") {
		cfg.Scan.PageSize = opts.PageSize
	}
	if cmd.Flags().Changed("threads") {
		cfg.Scan.Threads = opts.Threads
	}
	meta, err := buildMetadata(path)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(cmd)
	defer cancel()

	s, err := openStore(ctx, cfg, meta, opts.CreateTables)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := s.Close(); closeErr != nil {
			log.Error("error closing store", "error", closeErr)
		}
	}()

	svc := service.New(meta, s, service.Options{Config: cfg, Logger: log, RunIDs: opts.RunIDs})
	if _, err := svc.StartScan(handler, target); err != nil {
		if errors.Is(err, service.ErrUnknownName) && meta.IsExcluded(handler, target) {
			return WrapExitError(ExitCommandError, "target excluded by definition issues", err)
		}
		return WrapExitError(ExitCommandError, "failed to start scan", err)
	}

	res, err := svc.WaitScan(ctx, handler, target)
	if err != nil {
		svc.StopScan(handler, target)
		return WrapExitError(ExitFailure, "scan failed", err)
	}
	return printer.Success(ScanResult{
		Handler:   handler,
		Target:    target,
		Pages:     res.Pages,
		Rows:      res.Rows,
		Resumed:   res.Resumed,
		Completed: res.Completed,
	})
}
