package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fed-liquidity/internal/app"
)

var (
	repoDays    int
	repoDryRun  bool
	repoVerbose bool
)

var repoRatesCmd = &cobra.Command{
	Use:   "repo-rates",
	Short: "Fetch recent SOFR, EFFR, SRF and ON RRP data once and store it",
	RunE: func(cmd *cobra.Command, args []string) error {
		if repoDays < 0 {
			return fmt.Errorf("--days cannot be negative")
		}
		return getApp().RepoRates(cmd.Context(), app.RepoRatesOptions{
			Days:    repoDays,
			DryRun:  repoDryRun,
			Verbose: repoVerbose,
		})
	},
}

func init() {
	repoRatesCmd.Flags().IntVar(&repoDays, "days", 0, "Days to look back (defaults to ingest.repo_lookback_days)")
	repoRatesCmd.Flags().BoolVar(&repoDryRun, "dry-run", false, "Fetch without writing to storage")
	repoRatesCmd.Flags().BoolVar(&repoVerbose, "verbose", false, "Print every stored row")
}
