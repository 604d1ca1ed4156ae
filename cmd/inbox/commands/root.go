// Package commands implements the inbox command line.
package commands

import (
	"fmt"

	"inbox/cmd/internal/app"

	"github.com/spf13/cobra"
)

// opts collects the persistent flags shared by every subcommand.
var opts app.Options

// Swapped in tests.
var (
	serveFunc   = app.Serve
	migrateFunc = app.Migrate
)

var rootCmd = &cobra.Command{
	Use:   "inbox",
	Short: "Inbox - chat webhook ingestion with realtime fan-out",
	Long: `Inbox receives chat messages from a messaging webhook, stores them with a
per-contact conversation summary and pushes every new message to connected
viewers over WebSocket.

Running inbox without a subcommand is the same as "inbox serve".
Configuration comes from INBOX_* environment variables and an optional YAML file.`,
	Version: "dev",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveFunc(opts)
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. It is called once by main.main.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version reported by --version.
func SetVersionInfo(v, c, d string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (overrides INBOX_CONFIG_FILE)")
	rootCmd.PersistentFlags().StringVar(&opts.Store, "store", "", "store backend: memory, postgres, sqlite or mongo (overrides INBOX_STORE)")
}
