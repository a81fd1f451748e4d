package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hyperjump/mneme/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [path]",
	Short: "Write a config file with default settings",
	Long: `Write a config file populated with the default settings. The path defaults
to the --config value. An existing file is kept unless --force is given.

Examples:
  mneme init ./config.yaml
  mneme init --force`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path := configPath
	if len(args) > 0 {
		path = args[0]
	}
	if _, err := os.Stat(path); err == nil && !initForce {
		return fmt.Errorf("config %s already exists (use --force to overwrite)", path)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(path, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	return nil
}
