package cli

import (
	"github.com/spf13/cobra"

	"github.com/roach88/mvsync/internal/config"
	"github.com/roach88/mvsync/internal/loader"
	"github.com/roach88/mvsync/internal/model"
)

// buildMetadata loads the definitions at path (a directory or a file)
// and builds them. Targets with issues are excluded, not fatal.
func buildMetadata(path string) (*model.Metadata, error) {
	def, err := loader.LoadDir(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load definitions", err)
	}
	return model.Build(def), nil
}

// storeFlags are the configuration flags shared by commands that open a
// store. Flags override the config file and environment.
type storeFlags struct {
	ConfigPath  string
	Driver      string
	DSN         string
	MetricsAddr string
	Handlers    []string
}

func (f *storeFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.Flags().StringVar(&f.Driver, "driver", "", "store driver (sqlite|postgres)")
	cmd.Flags().StringVar(&f.DSN, "dsn", "", "store DSN (SQLite path or Postgres URL)")
}

func (f *storeFlags) config(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(f.ConfigPath)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Store.Driver = f.Driver
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN = f.DSN
	}
	if flags.Changed("metrics-addr") {
		cfg.MetricsAddr = f.MetricsAddr
	}
	if flags.Changed("handler") {
		cfg.DefaultHandlers = f.Handlers
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "invalid config", err)
	}
	return cfg, nil
}
