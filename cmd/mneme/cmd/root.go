// Package cmd implements the mneme command tree.
package cmd

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperjump/mneme/internal/cli"
	"github.com/hyperjump/mneme/internal/config"
)

// version is set at build time with -ldflags "-X github.com/hyperjump/mneme/cmd/mneme/cmd.version=...".
var version = "dev"

const (
	defaultConfigPath = "/usr/local/etc/mneme/config.yaml"
	defaultServerURL  = "http://localhost:5000"
	clientTimeout     = 60 * time.Second
)

var (
	// configPath is the config file used by serve
	configPath string
	// serverURL is the API base URL used by the client commands
	serverURL string
	// outputFormat is the output format (text, json)
	outputFormat string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mneme",
	Short: "Semantic memory store",
	Long: `mneme stores short texts together with their embeddings and answers
similarity queries over everything stored so far.

Examples:
  # Run the server (replays stored memories, then serves the API)
  mneme serve --config ./config.yaml

  # Store a memory
  mneme add "the deploy key rotates every 90 days"

  # Query memories, with relevance scores
  mneme search --top-k 3 --scores "when does the key rotate"

  # Show server status
  mneme status -o json`,
	Version:      version,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to config file")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL, "Server URL for client commands")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")
}

// loadConfig loads config from path. When path is the default, config.yaml in the
// current directory takes precedence if it exists, so that running from a project
// directory picks up the project's config. Returns the path actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// newClient returns an API client and the parsed output format.
func newClient() (*cli.Client, cli.OutputFormat, error) {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, "", err
	}
	return cli.NewClient(serverURL, clientTimeout), format, nil
}
