package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fed-liquidity/internal/app"
	"fed-liquidity/internal/liquidity"
)

var (
	backfillFrom      string
	backfillTo        string
	backfillChunkDays int
	backfillDryRun    bool
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Backfill historical observations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if backfillFrom == "" {
			return fmt.Errorf("--from must be provided")
		}

		from, err := liquidity.ParseDate(backfillFrom)
		if err != nil {
			return fmt.Errorf("invalid --from value: %w", err)
		}

		opts := app.BackfillOptions{
			From:      from,
			ChunkDays: backfillChunkDays,
			DryRun:    backfillDryRun,
		}

		if backfillTo != "" {
			opts.To, err = liquidity.ParseDate(backfillTo)
			if err != nil {
				return fmt.Errorf("invalid --to value: %w", err)
			}
			if from.After(opts.To) {
				return fmt.Errorf("--from must not be after --to")
			}
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillFrom, "from", "", "Start date (YYYY-MM-DD, inclusive)")
	backfillCmd.Flags().StringVar(&backfillTo, "to", "", "End date (YYYY-MM-DD, inclusive, defaults to today)")
	backfillCmd.Flags().IntVar(&backfillChunkDays, "chunk-days", 0, "Days per ingestion chunk (defaults to ingest.chunk_days)")
	backfillCmd.Flags().BoolVar(&backfillDryRun, "dry-run", false, "Run without writing to storage")
}
