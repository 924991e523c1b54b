package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatusCmd(a *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show what the persisted index contains",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			status := ws.Indexer.Stats()
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}

			fmt.Fprintf(out, "root:      %s\n", a.cfg.Root)
			fmt.Fprintf(out, "snapshot:  %s\n", status.Location)
			fmt.Fprintf(out, "files:     %d\n", status.Files)
			fmt.Fprintf(out, "chunks:    %d (%d embedded)\n", status.Chunks, status.Embedded)
			fmt.Fprintf(out, "embedder:  %s %s (%d dims)\n", status.Provider, status.Model, status.Dimension)
			if !status.LastIndexedAt.IsZero() {
				fmt.Fprintf(out, "indexed:   %s\n", status.LastIndexedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}
