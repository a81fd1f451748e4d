package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hyperjump/mneme/internal/cli"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long: `Show engine state, record count, disk usage and effective configuration
of a running server.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	client, format, err := newClient()
	if err != nil {
		return err
	}
	status, err := client.Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("status failed: %w", err)
	}
	return cli.WriteStatus(cmd.OutOrStdout(), status, format)
}
