package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hyperjump/mneme/internal/cli"
)

var addCmd = &cobra.Command{
	Use:   "add <text...>",
	Short: "Store a memory",
	Long: `Store a text on a running server. Multiple arguments are joined with spaces.

Examples:
  mneme add "buy oat milk"
  mneme add the standup moved to 9:30`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAdd,
}

func init() {
	rootCmd.AddCommand(addCmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	client, format, err := newClient()
	if err != nil {
		return err
	}
	resp, err := client.Add(cmd.Context(), strings.Join(args, " "))
	if err != nil {
		return fmt.Errorf("add failed: %w", err)
	}
	return cli.WriteAdded(cmd.OutOrStdout(), resp, format)
}
