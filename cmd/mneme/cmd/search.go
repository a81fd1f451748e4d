package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/mneme/internal/cli"
	"github.com/hyperjump/mneme/internal/models"
)

var (
	searchTopK      int
	searchThreshold float64
	searchScores    bool
)

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Query stored memories by similarity",
	Long: `Return the stored texts closest to the query, best first.

Examples:
  mneme search "what did I say about the deploy key"
  mneme search --top-k 10 --threshold 0.8 --scores deploy key`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "Number of results (0 = server default)")
	searchCmd.Flags().Float64Var(&searchThreshold, "threshold", 0, "Drop hits whose squared distance exceeds this value")
	searchCmd.Flags().BoolVar(&searchScores, "scores", false, "Include ids, distances and relevance")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	client, format, err := newClient()
	if err != nil {
		return err
	}
	query := &models.SearchQuery{
		Query:         strings.Join(args, " "),
		TopK:          searchTopK,
		IncludeScores: searchScores,
	}
	if cmd.Flags().Changed("threshold") {
		t := searchThreshold
		query.Threshold = &t
	}
	resp, err := client.Search(cmd.Context(), query)
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}
	return cli.WriteSearchResults(cmd.OutOrStdout(), resp, format)
}
