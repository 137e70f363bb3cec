package app

import (
	"context"
	"fmt"

	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/storage"
)

// Ingest fetches the trailing window once and stores it.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	days := opts.Days
	if days <= 0 {
		days = a.Config.Ingest.LookbackDays
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

	ingestor := a.newIngestor(store, a.newNotifier())
	res, err := ingestor.Ingest(ctx, window, opts.DryRun)
	if err != nil {
		return err
	}

	mode := "stored"
	if res.DryRun {
		mode = "dry-run"
	}
	fmt.Fprintf(a.Out, "%s %s: %d observations (%d inserted, %d updated, %d skipped)\n",
		mode, res.Window, len(res.Observations), res.Inserted, res.Updated, len(res.Skipped))
	for _, skip := range res.Skipped {
		fmt.Fprintf(a.Out, "  skipped %s: %s\n", skip.Date, skip.Reason)
	}
	if res.Alerted {
		fmt.Fprintln(a.Out, "net liquidity alert sent")
	}
	return nil
}
