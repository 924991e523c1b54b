package main

import (
	"github.com/spf13/cobra"
)

func newIndexCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Rebuild the whole index from disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			stats, err := ws.Reindex(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), "index", stats)
			return nil
		},
	}
}

func newSyncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Index changed files and drop deleted ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			stats, err := ws.Sync(cmd.Context())
			if err != nil {
				return err
			}
			printStats(cmd.OutOrStdout(), "sync", stats)
			return nil
		},
	}
}
