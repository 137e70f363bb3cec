package app

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/service"
	"fed-liquidity/internal/storage"
)

// Show prints the most recent observations, oldest first.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}

	store, closeStore, err := a.openStore(ctx, true)
	if err != nil {
		return err
	}
	defer closeStore()

	query := service.NewQueryService(store, a.Config.Server.QueryTimeout, a.Logger)
	// one extra row so the first printed line still has a change figure
	rows, err := query.Latest(ctx, opts.Limit+1)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		fmt.Fprintln(a.Out, "no observations found")
		return nil
	}

	points := liquidity.Derive(rows)
	if len(points) > opts.Limit {
		points = points[len(points)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Date\tTotal Assets\tTGA\tRRP\tReserves\tNet Liquidity\tChange%")
	for _, p := range points {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			p.Date,
			formatDecimal(p.TotalAssets, 2),
			formatDecimal(p.TGA, 2),
			formatDecimal(p.ReverseRepo, 2),
			formatNullDecimal(p.ReserveBalances, 2),
			formatDecimal(p.NetLiquidity, 2),
			formatNullDecimal(p.NetLiquidityChangePct, 3),
		)
	}

	if err := writer.Flush(); err != nil {
		return err
	}
	return a.printStoreFooter(ctx, store)
}

// printStoreFooter reports the row count, the last ingest run and recent alerts.
func (a *App) printStoreFooter(ctx context.Context, store *storage.Store) error {
	count, err := store.CountObservations(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "\n%d observations stored\n", count)

	runs, err := store.ListIngestRuns(ctx, 1)
	if err != nil {
		return err
	}
	if len(runs) > 0 {
		run := runs[0]
		fmt.Fprintf(a.Out, "last ingest %s via %s: window %s..%s, %d inserted, %d updated, %d skipped\n",
			run.FinishedAt.UTC().Format(time.RFC3339), run.Source, run.WindowStart, run.WindowEnd,
			run.Inserted, run.Updated, run.Skipped)
	}

	alerts, err := store.ListRecentAlerts(ctx, 5)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		fmt.Fprintf(a.Out, "alert %s: %s %s%% (threshold %s%%)\n",
			alert.ObservationDate, alert.Direction, alert.ChangePct.StringFixed(2), alert.ThresholdPct.StringFixed(2))
	}
	return nil
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}

func formatNullDecimal(d decimal.NullDecimal, places int32) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(places)
}
