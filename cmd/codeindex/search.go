package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dshills/codeindex/internal/searcher"
)

// previewLines bounds the content printed per result
const previewLines = 8

var (
	pathColor  = color.New(color.FgCyan, color.Bold).SprintFunc()
	scoreColor = color.New(color.FgGreen).SprintFunc()
	metaColor  = color.New(color.FgHiBlack).SprintFunc()
)

func newSearchCmd(a *app) *cobra.Command {
	var (
		topK     int
		mode     string
		minScore float64
		glob     string
		full     bool
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			defer ws.Close()

			if topK == 0 {
				topK = a.cfg.Search.DefaultLimit
			}
			resp, err := ws.Searcher.Search(cmd.Context(), searcher.Request{
				Query:    strings.Join(args, " "),
				Limit:    topK,
				Mode:     searcher.SearchMode(mode),
				MinScore: minScore,
				PathGlob: glob,
			})
			if err != nil {
				return err
			}
			printResults(cmd.OutOrStdout(), resp, full)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results (default from config)")
	cmd.Flags().StringVarP(&mode, "mode", "m", string(searcher.SearchModeVector), "vector, keyword or hybrid")
	cmd.Flags().Float64Var(&minScore, "min-score", 0, "drop results scoring below this value")
	cmd.Flags().StringVarP(&glob, "glob", "g", "", "gitignore-style path pattern")
	cmd.Flags().BoolVar(&full, "full", false, "print whole chunks")
	return cmd
}

func printResults(w io.Writer, resp *searcher.Response, full bool) {
	if len(resp.Results) == 0 {
		fmt.Fprintln(w, "no results")
		return
	}

	for _, r := range resp.Results {
		c := r.Chunk
		header := fmt.Sprintf("%s:%d-%d", c.FilePath, c.StartLine, c.EndLine)
		meta := c.Level.String()
		if c.SymbolName != "" {
			meta += " " + c.SymbolName
		}
		fmt.Fprintf(w, "%2d. %s %s %s\n", r.Rank, pathColor(header), scoreColor(fmt.Sprintf("%.3f", r.Score)), metaColor(meta))

		lines := strings.Split(strings.TrimRight(c.Content, "\n"), "\n")
		if !full && len(lines) > previewLines {
			lines = append(lines[:previewLines], "...")
		}
		for _, line := range lines {
			fmt.Fprintf(w, "    %s\n", line)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, metaColor(fmt.Sprintf("%d of %d matches, %s mode, %s", len(resp.Results), resp.TotalMatches, resp.Mode, resp.Duration.Round(time.Microsecond))))
}
