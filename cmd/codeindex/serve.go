package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/mcp"
)

func newServeCmd(a *app) *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Sync the index, watch the root and serve MCP tools on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ws, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			stats, err := ws.Sync(ctx)
			if err != nil {
				return err
			}
			a.logger.Info("index synced",
				"indexed", stats.FilesIndexed,
				"removed", stats.FilesRemoved,
				"failed", stats.FilesFailed)

			server, err := mcp.NewServer(ws, version)
			if err != nil {
				return err
			}

			watchCtx, cancelWatch := context.WithCancel(ctx)
			watchDone := make(chan error, 1)
			if noWatch {
				watchDone <- nil
			} else {
				go func() { watchDone <- ws.Watch(watchCtx) }()
			}

			a.logger.Info("MCP server ready, listening on stdio", "version", version)
			serveErr := server.Serve(ctx)

			cancelWatch()
			if err := <-watchDone; err != nil {
				a.logger.Error("watch stopped", "error", err)
			}
			a.logger.Info("server stopped")
			return serveErr
		},
	}
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch the root for changes")
	return cmd
}

func newWatchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Sync the index and keep it current until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ws, err := a.open(ctx)
			if err != nil {
				return err
			}
			defer ws.Close()

			stats, err := ws.Sync(ctx)
			if err != nil {
				return err
			}
			printStats(cmd.ErrOrStderr(), "sync", stats)

			return ws.Watch(ctx)
		},
	}
}
