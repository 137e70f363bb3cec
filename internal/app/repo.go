package app

import (
	"context"
	"fmt"
	"text/tabwriter"

	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/service"
	"fed-liquidity/internal/storage"
)

// RepoRatesOptions configure a one-shot repo-market collection.
type RepoRatesOptions struct {
	Days    int
	DryRun  bool
	Verbose bool
}

func (a *App) newRepoService(store *storage.Store) *service.RepoService {
	_, nyfed := a.newFetchers()
	var repoStore storage.RepoRateStore
	if store != nil {
		repoStore = store
	}
	return service.NewRepoService(nyfed, repoStore, a.Config.Ingest.RepoLookbackDays, a.Config.Server.QueryTimeout, a.Logger)
}

// RepoRates fetches SOFR, EFFR, SRF and ON RRP for the trailing window once
// and stores them with their month-end and quarter-end flags.
func (a *App) RepoRates(ctx context.Context, opts RepoRatesOptions) error {
	days := opts.Days
	if days <= 0 {
		days = a.Config.Ingest.RepoLookbackDays
	}
	if days <= 0 {
		days = 7
	}
	end := a.today()
	window := liquidity.Range{Start: end.AddDays(-days), End: end}

	var store *storage.Store
	if !opts.DryRun {
		var closeStore func()
		var err error
		store, closeStore, err = a.openStore(ctx, true)
		if err != nil {
			return err
		}
		defer closeStore()
	}

	res, err := a.newRepoService(store).Collect(ctx, window, opts.DryRun)
	if err != nil {
		return err
	}

	mode := "stored"
	if res.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(a.Out, "%s %s: %d days of repo rates (%d inserted, %d updated)\n",
		mode, res.Window, len(res.Rates), res.Inserted, res.Updated)
	if !opts.Verbose && !opts.DryRun {
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tSOFR\tEFFR\tSRF\tON RRP\tFlag")
	for _, r := range res.Rates {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Date,
			formatNullDecimal(r.SOFR, 2),
			formatNullDecimal(r.EFFR, 2),
			formatNullDecimal(r.SRFUsage, 2),
			formatNullDecimal(r.ReverseRepo, 2),
			r.Flag(),
		)
	}
	return writer.Flush()
}
