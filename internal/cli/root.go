// Package cli implements the framestore command line.
package cli

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/freeeve/framestore/internal/config"
	"github.com/freeeve/framestore/internal/logx"
	"github.com/freeeve/framestore/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	StorePath  string
	LogLevel   string
	LogJSON    bool
	NoProgress bool
	CacheSize  string
	FlushSize  string
}

// NewRootCommand creates the root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "framestore",
		Short: "Frame-indexed feature store and streaming particle linker",
		Long: `framestore keeps per-frame particle feature tables on disk and links
features across frames into trajectories without loading the whole
experiment into memory.`,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "YAML config file")
	cmd.PersistentFlags().StringVarP(&opts.StorePath, "store", "s", "", "store path (overrides store.path)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (overrides log.level)")
	cmd.PersistentFlags().BoolVar(&opts.LogJSON, "log-json", false, "log as JSON")
	cmd.PersistentFlags().BoolVar(&opts.NoProgress, "no-progress", false, "hide progress bars")
	cmd.PersistentFlags().StringVar(&opts.CacheSize, "cache", "", "frame cache size, e.g. 32m (-1 disables)")
	cmd.PersistentFlags().StringVar(&opts.FlushSize, "flush-threshold", "", "pending bytes before a flush, e.g. 64m")

	// Add subcommands
	cmd.AddCommand(NewIngestCommand(opts))
	cmd.AddCommand(NewLinkCommand(opts))
	cmd.AddCommand(NewDumpCommand(opts))
	cmd.AddCommand(NewInfoCommand(opts))
	cmd.AddCommand(NewCompactCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewBackupCommand(opts))
	cmd.AddCommand(NewRestoreCommand(opts))
	cmd.AddCommand(NewArchivesCommand(opts))

	return cmd
}

// env is what every command starts from: the merged config and a logger
// writing to the command's stderr.
type env struct {
	cfg config.Config
	log zerolog.Logger
}

func setup(opts *RootOptions, cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.StorePath != "" {
		cfg.Store.Path = opts.StorePath
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.LogJSON {
		cfg.Log.JSON = true
	}
	if opts.CacheSize != "" {
		if cfg.Store.CacheBytes, err = parseSize(opts.CacheSize); err != nil {
			return nil, fmt.Errorf("--cache: %w", err)
		}
	}
	if opts.FlushSize != "" {
		if cfg.Store.FlushThreshold, err = parseSize(opts.FlushSize); err != nil {
			return nil, fmt.Errorf("--flush-threshold: %w", err)
		}
	}
	log, err := logx.NewLogger(logx.Options{
		Out:   cmd.ErrOrStderr(),
		Level: cfg.Log.Level,
		JSON:  cfg.Log.JSON,
	})
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log}, nil
}

// openStore opens the configured store. Commands that read or write frames
// need a persistent store, so the memory backend is refused.
func (e *env) openStore() (store.FramewiseStore, error) {
	sc := e.cfg.StoreOptions(e.log.With().Str("component", "store").Logger())
	if store.BackendFor(sc) == store.BackendMemory {
		return nil, fmt.Errorf("no store path: set --store or store.path")
	}
	return store.Open(sc)
}

func progressOut(opts *RootOptions, w io.Writer) io.Writer {
	if opts.NoProgress {
		return io.Discard
	}
	return w
}
