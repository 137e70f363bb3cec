package cli

import (
	"github.com/spf13/cobra"

	"fed-liquidity/internal/app"
)

var migrateStatus bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Migrate(cmd.Context(), app.MigrateOptions{StatusOnly: migrateStatus})
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "List applied and pending migrations without applying")
}
