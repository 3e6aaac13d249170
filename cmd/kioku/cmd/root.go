// Package cmd implements the kioku command tree.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/client"
	"github.com/hyperjump/kioku/internal/config"
)

// version is set at build time with -ldflags "-X github.com/hyperjump/kioku/cmd/kioku/cmd.version=...".
var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// rootOptions holds the global flags shared by every subcommand.
type rootOptions struct {
	configPath   string
	serverURL    string
	outputFormat string
}

func (o *rootOptions) client() *client.Client {
	return client.New(o.serverURL)
}

func (o *rootOptions) format() (cli.OutputFormat, error) {
	return cli.ParseFormat(o.outputFormat)
}

// Execute builds the command tree and runs it against os.Args.
func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "kioku",
		Short: "Notes you can talk to",
		Long: `Kioku stores free-text notes, embeds them into a vector index and answers
questions with the most relevant notes as context.

Examples:
  # Start the server
  kioku server

  # Add a note and wait until it is searchable
  kioku add --wait "The sky is blue."

  # Ask a question
  kioku ask "What color is the sky?"

  # Chat in the terminal
  kioku talk`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// API keys usually live in .env next to the config.
			_ = godotenv.Load()
		},
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().StringVar(&opts.serverURL, "server", envOr("KIOKU_SERVER", client.DefaultURL), "server URL")
	root.PersistentFlags().StringVarP(&opts.outputFormat, "output", "o", "text", "output format: text or json")

	root.AddCommand(
		newServerCmd(opts),
		newAddCmd(opts),
		newAskCmd(opts),
		newNotesCmd(opts),
		newSearchCmd(opts),
		newDeleteCmd(opts),
		newRunCmd(opts),
		newStatusCmd(opts),
		newTalkCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig loads config from path. When path is the default and config.yaml exists in the
// current directory, that file is used instead so "kioku server" works from a project dir.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				path = fallback
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// joinArgs joins positional args with spaces so multi-word input works with or without quotes.
func joinArgs(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func requireArg(args []string, what string) (string, error) {
	s := joinArgs(args)
	if s == "" {
		return "", fmt.Errorf("missing %s", what)
	}
	return s, nil
}
