package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fed-liquidity/internal/app"
)

var (
	ingestDays   int
	ingestDryRun bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch recent balance-sheet data once and store it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if ingestDays < 0 {
			return fmt.Errorf("--days cannot be negative")
		}
		return getApp().Ingest(cmd.Context(), app.IngestOptions{
			Days:   ingestDays,
			DryRun: ingestDryRun,
		})
	},
}

func init() {
	ingestCmd.Flags().IntVar(&ingestDays, "days", 0, "Days to look back (defaults to ingest.lookback_days)")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "Fetch and merge without writing to storage")
}
