package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/embedder"
)

// embedPreview is the number of vector components printed
const embedPreview = 8

func newEmbedCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "embed <text>",
		Short: "Embed text with the configured provider to check it works",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emb, err := embedder.New(a.cfg.EmbedderConfig())
			if err != nil {
				return fmt.Errorf("failed to initialize embedder: %w", err)
			}
			defer emb.Close()

			vector, err := embedder.Vector(cmd.Context(), emb, strings.Join(args, " "))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "provider:  %s\n", emb.Provider())
			fmt.Fprintf(out, "model:     %s\n", emb.Model())
			fmt.Fprintf(out, "dimension: %d\n", len(vector))
			fmt.Fprintf(out, "vector:    %v", vector[:min(embedPreview, len(vector))])
			if len(vector) > embedPreview {
				fmt.Fprint(out, " ...")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}
