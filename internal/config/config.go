// Package config holds the settings of handlers, dictionary polling, scans,
// retries and the store, with their defaults.
//
// Settings are plain values. They are copied whenever they cross the
// service boundary, so a caller holding a copy never observes later
// changes.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MVSYNC_"

// StopMode selects what stopping a handler does to an in-flight batch.
type StopMode string

const (
	// StopDrain lets the in-flight batch finish and commit.
	StopDrain StopMode = "drain"
	// StopAbort cancels the in-flight batch; its changes are re-read on
	// the next start because the offset was not advanced.
	StopAbort StopMode = "abort"
)

// HandlerSettings controls one handler's apply pipeline.
type HandlerSettings struct {
	SelectBatchSize int           `yaml:"select_batch_size" env:"SELECT_BATCH_SIZE"`
	UpsertBatchSize int           `yaml:"upsert_batch_size" env:"UPSERT_BATCH_SIZE"`
	Threads         int           `yaml:"threads"           env:"THREADS"`
	PollInterval    time.Duration `yaml:"poll_interval"     env:"POLL_INTERVAL"`
	StopMode        StopMode      `yaml:"stop_mode"         env:"STOP_MODE"`
}

// DefaultHandlerSettings returns the handler defaults.
func DefaultHandlerSettings() HandlerSettings {
	return HandlerSettings{
		SelectBatchSize: 1000,
		UpsertBatchSize: 500,
		Threads:         4,
		PollInterval:    500 * time.Millisecond,
		StopMode:        StopDrain,
	}
}

// EffectiveSelectBatchSize is the read batch size, at least 1.
func (s HandlerSettings) EffectiveSelectBatchSize() int {
	if s.SelectBatchSize < 1 {
		return 1
	}
	return s.SelectBatchSize
}

// EffectiveUpsertBatchSize is the write batch size, at least 1 and at most
// the read batch size.
func (s HandlerSettings) EffectiveUpsertBatchSize() int {
	read := s.EffectiveSelectBatchSize()
	switch {
	case s.UpsertBatchSize < 1:
		return 1
	case s.UpsertBatchSize > read:
		return read
	default:
		return s.UpsertBatchSize
	}
}

// EffectiveThreads is the worker count per action, at least 1.
func (s HandlerSettings) EffectiveThreads() int {
	if s.Threads < 1 {
		return 1
	}
	return s.Threads
}

// EffectiveStopMode defaults an unset mode to StopDrain.
func (s HandlerSettings) EffectiveStopMode() StopMode {
	if s.StopMode == StopAbort {
		return StopAbort
	}
	return StopDrain
}

// DictionarySettings controls how changes of dictionary tables are
// consumed. A dictionary table is read by a handler only as a joined
// source, never as the main source of one of its targets.
type DictionarySettings struct {
	PollInterval      time.Duration `yaml:"poll_interval"        env:"POLL_INTERVAL"`
	MaxChangesPerPoll int           `yaml:"max_changes_per_poll" env:"MAX_CHANGES_PER_POLL"`
}

// DefaultDictionarySettings returns the dictionary defaults.
func DefaultDictionarySettings() DictionarySettings {
	return DictionarySettings{
		PollInterval:      5 * time.Second,
		MaxChangesPerPoll: 10000,
	}
}

// ScanSettings controls full scans.
type ScanSettings struct {
	PageSize int `yaml:"page_size" env:"PAGE_SIZE"`
	Threads  int `yaml:"threads"   env:"THREADS"`
}

// DefaultScanSettings returns the scan defaults.
func DefaultScanSettings() ScanSettings {
	return ScanSettings{PageSize: 1000, Threads: 2}
}

// EffectivePageSize is the scan page size, at least 1.
func (s ScanSettings) EffectivePageSize() int {
	if s.PageSize < 1 {
		return 1
	}
	return s.PageSize
}

// EffectiveThreads is the scan parallelism, at least 1.
func (s ScanSettings) EffectiveThreads() int {
	if s.Threads < 1 {
		return 1
	}
	return s.Threads
}

// RetrySettings configures the retry policy of store round trips.
// MaxAttempts below 2 disables retries.
type RetrySettings struct {
	MaxAttempts     int           `yaml:"max_attempts"     env:"MAX_ATTEMPTS"`
	InitialInterval time.Duration `yaml:"initial_interval" env:"INITIAL_INTERVAL"`
	MaxInterval     time.Duration `yaml:"max_interval"     env:"MAX_INTERVAL"`
}

// StoreConfig selects and locates the store.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn"    env:"DSN"`
}

// Config is the process configuration.
type Config struct {
	Store           StoreConfig        `yaml:"store"            envPrefix:"STORE_"`
	Handler         HandlerSettings    `yaml:"handler"          envPrefix:"HANDLER_"`
	Dictionary      DictionarySettings `yaml:"dictionary"       envPrefix:"DICTIONARY_"`
	Scan            ScanSettings       `yaml:"scan"             envPrefix:"SCAN_"`
	Retry           RetrySettings      `yaml:"retry"            envPrefix:"RETRY_"`
	DefaultHandlers []string           `yaml:"default_handlers" env:"DEFAULT_HANDLERS" envSeparator:","`
	MetricsAddr     string             `yaml:"metrics_addr"     env:"METRICS_ADDR"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store:      StoreConfig{Driver: "sqlite", DSN: "mvsync.db"},
		Handler:    DefaultHandlerSettings(),
		Dictionary: DefaultDictionarySettings(),
		Scan:       DefaultScanSettings(),
	}
}

// Load reads path (if not empty) over the defaults, then applies
// MVSYNC_* environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no clamping can fix.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store.driver: unknown driver %q (expected sqlite or postgres)", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("store.dsn is required")
	}
	switch c.Handler.StopMode {
	case "", StopDrain, StopAbort:
	default:
		return fmt.Errorf("handler.stop_mode: unknown mode %q (expected drain or abort)", c.Handler.StopMode)
	}
	return nil
}
