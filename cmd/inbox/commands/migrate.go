package commands

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create tables or indexes for the configured store",
	Long: `Apply the schema of the configured store backend and exit.

Postgres and SQLite get their tables and indexes; MongoDB gets its indexes,
including the unique index on the conversation contact. Running it again is safe.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return migrateFunc(opts)
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
