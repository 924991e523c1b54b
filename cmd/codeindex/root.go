package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/dshills/codeindex/internal/config"
	"github.com/dshills/codeindex/internal/indexer"
	"github.com/dshills/codeindex/internal/logging"
	"github.com/dshills/codeindex/internal/storage"
	"github.com/dshills/codeindex/internal/workspace"
)

// app carries the state shared by every command
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

// flagKeys maps persistent flags to config keys
var flagKeys = map[string]string{
	"root":       "root",
	"log-level":  "log.level",
	"log-format": "log.format",
	"backend":    "storage.backend",
	"provider":   "embedder.provider",
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "codeindex",
		Short:         "Local semantic code index served over MCP",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load(cmd)
		},
	}
	root.SetVersionTemplate(fmt.Sprintf(
		"codeindex {{.Version}}\nBuild Time: %s\nBuild Mode: %s\nSQLite Driver: %s\n",
		buildTime, storage.BuildMode, storage.DriverName))

	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default <root>/.codeindex.yaml)")
	pf.String("root", ".", "workspace root directory")
	pf.String("log-level", "info", "log level: debug, info, warn, error")
	pf.String("log-format", logging.FormatText, "log format: text or json")
	pf.String("backend", string(storage.BackendJSON), "snapshot backend: json or sqlite")
	pf.String("provider", "", "embedding provider: openai, jina, ollama, local (default auto-detect)")

	root.AddCommand(
		newServeCmd(a),
		newWatchCmd(a),
		newIndexCmd(a),
		newSyncCmd(a),
		newSearchCmd(a),
		newStatusCmd(a),
		newEmbedCmd(a),
	)
	return root
}

// load merges defaults, config file, environment and flags (flags > env > file > defaults)
func (a *app) load(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{
		ConfigFile: a.cfgFile,
		Bind: func(v *viper.Viper) error {
			for name, key := range flagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
					return fmt.Errorf("bind --%s: %w", name, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.LoggingConfig())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	if cfg.File != "" {
		logger.Debug("config loaded", "file", cfg.File)
	}
	return nil
}

// open builds the workspace for the loaded config
func (a *app) open(ctx context.Context) (*workspace.Workspace, error) {
	return workspace.Open(ctx, a.cfg, workspace.WithLogger(a.logger))
}

// printStats writes the outcome of a multi-file operation
func printStats(w io.Writer, action string, stats *indexer.Statistics) {
	fmt.Fprintf(w, "%s: %d indexed, %d skipped, %d failed, %d removed, %d chunks in %s\n",
		action, stats.FilesIndexed, stats.FilesSkipped, stats.FilesFailed, stats.FilesRemoved,
		stats.ChunksCreated, stats.Duration.Round(time.Millisecond))
	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(w, "  %s\n", msg)
	}
}
