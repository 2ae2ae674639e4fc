package cli

import (
	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Config  string
}

// NewRootCommand creates the root command for the fedifaves CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fedifaves",
		Short: "fedifaves - a link list from your Mastodon favorites and bookmarks",
		Long: `fedifaves serves a personal dashboard that authorizes against a
Mastodon instance and renders the articles linked from your favorites
and bookmarks, newest first.`,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "fedifaves.yaml", "path to YAML config file")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewKeygenCommand())

	return cmd
}
