// Package cli contains the Cobra command tree for the flume binary.
package cli

import (
	"fmt"

	"github.com/rzbill/flume"
	"github.com/rzbill/flume/internal/config"
	logpkg "github.com/rzbill/flume/pkg/log"
	"github.com/spf13/cobra"
)

// NewRoot constructs the root command and registers all subcommands.
func NewRoot() *cobra.Command {
	root := &cobra.Command{
		Use:   "flume",
		Short: "flume durable append-only log CLI",
		Long:  "flume manages a durable, paged append-only log: append, scan, tail, truncate, inspect.",
	}
	root.PersistentFlags().String("config", "", "Path to JSON config file")
	root.PersistentFlags().String("data", "", "Base path for log segment files (overrides config)")
	root.PersistentFlags().String("log-level", "", "Log level: debug|info|warn|error")

	root.AddCommand(
		newAppendCommand(),
		newScanCommand(),
		newInfoCommand(),
		newTruncateCommand(),
		newBenchCommand(),
	)
	return root
}

// loadOptions merges the config file and persistent flags into log options.
func loadOptions(cmd *cobra.Command) (flume.Options, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return flume.Options{}, fmt.Errorf("load config: %w", err)
	}
	if v, _ := cmd.Flags().GetString("data"); v != "" {
		cfg.DataPath = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.LogLevel = v
	}
	if cfg.DataPath == "" {
		return flume.Options{}, fmt.Errorf("no data path; pass --data or set dataPath in config")
	}

	backend := flume.CommitBackendFile
	switch cfg.CommitBackend {
	case "", "file":
	case "pebble":
		backend = flume.CommitBackendPebble
	default:
		return flume.Options{}, fmt.Errorf("invalid commitBackend %q; use file|pebble", cfg.CommitBackend)
	}

	logger := logpkg.NewLogger(logpkg.WithLevel(logpkg.ParseLevel(cfg.LogLevel)))
	return flume.Options{
		DataPath:        cfg.DataPath,
		CommitPath:      cfg.CommitPath,
		CommitBackend:   backend,
		MemorySizeBits:  cfg.MemorySizeBits,
		PageSizeBits:    cfg.PageSizeBits,
		SegmentSizeBits: cfg.SegmentSizeBits,
		MutableFraction: cfg.MutableFraction,
		Logger:          logger,
	}, nil
}

func openLog(cmd *cobra.Command) (*flume.Log, error) {
	opts, err := loadOptions(cmd)
	if err != nil {
		return nil, err
	}
	l, err := flume.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	return l, nil
}
