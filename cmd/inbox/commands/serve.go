package commands

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket server",
	Long: `Run the webhook intake, the inbox read API and the viewer WebSocket.

The server stops gracefully on SIGINT or SIGTERM.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serveFunc(opts)
	},
}

func init() {
	serveCmd.Flags().StringVar(&opts.HTTPAddr, "addr", "", "listen address (overrides INBOX_HTTP_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
