package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fed-liquidity/internal/alerting"
	"fed-liquidity/internal/config"
	"fed-liquidity/internal/fetcher"
	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/storage"
)

const ingestSource = "fred+nyfed"

// Skip records a balance-sheet date that could not become an observation.
type Skip struct {
	Date   liquidity.Date
	Reason string
}

// IngestResult summarises one ingestion run.
type IngestResult struct {
	RunID        string
	Window       liquidity.Range
	Observations []liquidity.Observation
	Skipped      []Skip
	Inserted     int
	Updated      int
	DryRun       bool
	Alerted      bool
}

// Ingestor orchestrates fetching, merging, persistence, and alerting.
type Ingestor struct {
	balance    fetcher.BalanceSheetFetcher
	repo       fetcher.ReverseRepoFetcher
	writer     storage.ObservationWriter
	reader     storage.ObservationReader
	alertStore storage.AlertStore
	notifier   alerting.Notifier
	logger     zerolog.Logger

	lookbackDays int
	maxCarry     int
	threshold    decimal.Decimal
	channels     []string
	alertsOn     bool

	now   func() time.Time
	newID func() string
}

// NewIngestor constructs the ingestion service. writer, reader, alertStore
// and notifier may be nil; a nil writer limits the ingestor to dry runs.
func NewIngestor(cfg *config.Config, balance fetcher.BalanceSheetFetcher, repo fetcher.ReverseRepoFetcher, writer storage.ObservationWriter, reader storage.ObservationReader, alertStore storage.AlertStore, notifier alerting.Notifier, logger zerolog.Logger) *Ingestor {
	threshold := decimal.Zero
	if cfg.Alerting.Enabled && cfg.Alerting.ThresholdPct > 0 {
		threshold = decimal.NewFromFloat(cfg.Alerting.ThresholdPct)
	}

	return &Ingestor{
		balance:      balance,
		repo:         repo,
		writer:       writer,
		reader:       reader,
		alertStore:   alertStore,
		notifier:     notifier,
		logger:       logger.With().Str("component", "ingestor").Logger(),
		lookbackDays: cfg.Ingest.LookbackDays,
		maxCarry:     cfg.Ingest.MaxCarryForward,
		threshold:    threshold,
		channels:     cfg.Alerting.Channels,
		alertsOn:     cfg.Alerting.Enabled,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.NewString() },
	}
}

// Ingest fetches every upstream series for window, merges them by balance
// sheet date and upserts the result in one transaction.
func (i *Ingestor) Ingest(ctx context.Context, window liquidity.Range, dryRun bool) (IngestResult, error) {
	if window.Start.IsZero() || window.End.IsZero() || window.Inverted() {
		return IngestResult{}, fmt.Errorf("invalid ingest window %s", window)
	}
	if !dryRun && i.writer == nil {
		return IngestResult{}, storage.ErrNotConfigured
	}

	started := i.now()
	result := IngestResult{RunID: i.newID(), Window: window, DryRun: dryRun}

	// reverse repo is fetched with extra history so the first balance sheet
	// date in the window can still carry a value forward
	repoWindow := liquidity.Range{Start: window.Start.AddDays(-i.maxCarry), End: window.End}

	var (
		sheet fetcher.BalanceSheet
		repo  fetcher.Series
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sheet, err = i.balance.FetchBalanceSheet(gctx, window)
		return err
	})
	g.Go(func() error {
		var err error
		repo, err = i.repo.FetchReverseRepo(gctx, repoWindow)
		return err
	})
	if err := g.Wait(); err != nil {
		return IngestResult{}, fmt.Errorf("fetch upstream: %w", err)
	}

	result.Observations, result.Skipped = Merge(sheet, repo, i.maxCarry)
	for _, skip := range result.Skipped {
		i.logger.Warn().Str("date", skip.Date.String()).Str("reason", skip.Reason).Msg("skipping incomplete date")
	}

	if dryRun {
		i.logger.Info().
			Str("run_id", result.RunID).
			Str("window", window.String()).
			Int("observations", len(result.Observations)).
			Int("skipped", len(result.Skipped)).
			Msg("dry-run: nothing written")
		return result, nil
	}

	run := &storage.IngestRun{
		ID:          result.RunID,
		Source:      ingestSource,
		WindowStart: window.Start,
		WindowEnd:   window.End,
		Skipped:     len(result.Skipped),
		StartedAt:   started,
		FinishedAt:  i.now(),
	}
	upserted, err := i.writer.UpsertObservations(ctx, result.Observations, run)
	if err != nil {
		return IngestResult{}, fmt.Errorf("persist observations: %w", err)
	}
	result.Inserted = upserted.Inserted
	result.Updated = upserted.Updated

	i.logger.Info().
		Str("run_id", result.RunID).
		Str("window", window.String()).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Int("skipped", len(result.Skipped)).
		Msg("ingest complete")

	if len(result.Observations) > 0 {
		result.Alerted = i.checkAlert(ctx)
	}
	return result, nil
}

// Collect ingests the trailing lookback window ending at slot. It matches
// scheduler.TickFunc.
func (i *Ingestor) Collect(ctx context.Context, slot time.Time) error {
	end := liquidity.DateOf(slot.UTC())
	window := liquidity.Range{Start: end.AddDays(-i.lookbackDays), End: end}
	_, err := i.Ingest(ctx, window, false)
	return err
}

// BackfillResult summarises a chunked backfill.
type BackfillResult struct {
	Chunks   int
	Failed   int
	Inserted int
	Updated  int
	Skipped  int
}

// ErrBackfillIncomplete is returned when at least one chunk failed.
var ErrBackfillIncomplete = errors.New("backfill incomplete: some chunks failed")

// Backfill walks [from, to] in chunks of chunkDays, one transaction per chunk.
// Failed chunks are logged and counted; the walk continues. Cancelling ctx
// stops the walk and returns the context error as is.
func (i *Ingestor) Backfill(ctx context.Context, from, to liquidity.Date, chunkDays int, dryRun bool) (BackfillResult, error) {
	if chunkDays <= 0 {
		return BackfillResult{}, fmt.Errorf("chunk days must be positive, got %d", chunkDays)
	}
	if from.IsZero() || to.IsZero() || from.After(to) {
		return BackfillResult{}, fmt.Errorf("invalid backfill window %s", liquidity.Range{Start: from, End: to})
	}

	var res BackfillResult
	for start := from; !start.After(to); start = start.AddDays(chunkDays) {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		end := start.AddDays(chunkDays - 1)
		if end.After(to) {
			end = to
		}
		chunk := liquidity.Range{Start: start, End: end}
		res.Chunks++

		out, err := i.Ingest(ctx, chunk, dryRun)
		if err != nil && ctx.Err() != nil {
			// cancelled, not a failed chunk
			return res, ctx.Err()
		}
		if err != nil {
			res.Failed++
			i.logger.Error().Err(err).Str("chunk", chunk.String()).Msg("回填失败")
			continue
		}
		res.Inserted += out.Inserted
		res.Updated += out.Updated
		res.Skipped += len(out.Skipped)
	}

	i.logger.Info().
		Int("chunks", res.Chunks).
		Int("failed", res.Failed).
		Int("inserted", res.Inserted).
		Int("updated", res.Updated).
		Msg("回填完成")
	if res.Failed > 0 {
		return res, ErrBackfillIncomplete
	}
	return res, nil
}

// Merge joins weekly balance-sheet series with daily reverse repo usage.
// Reverse repo is taken on the balance-sheet date or, failing that, from the
// closest earlier day at most maxCarry days back. Dates lacking total assets,
// TGA or reverse repo are returned as skips.
func Merge(sheet fetcher.BalanceSheet, repo fetcher.Series, maxCarry int) ([]liquidity.Observation, []Skip) {
	observations := make([]liquidity.Observation, 0, len(sheet.TotalAssets))
	var skips []Skip

	for _, date := range sheet.TotalAssets.Dates() {
		tga, ok := sheet.TGA[date]
		if !ok {
			skips = append(skips, Skip{Date: date, Reason: "missing tga"})
			continue
		}
		rrp, ok := carryForward(repo, date, maxCarry)
		if !ok {
			skips = append(skips, Skip{Date: date, Reason: "missing reverse repo"})
			continue
		}

		obs := liquidity.Observation{
			Date:        date,
			TotalAssets: sheet.TotalAssets[date],
			TGA:         tga,
			ReverseRepo: rrp,
		}
		if v, ok := sheet.ReserveBalances[date]; ok {
			obs.ReserveBalances = decimal.NewNullDecimal(v)
		}
		if v, ok := sheet.DiscountWindow[date]; ok {
			obs.DiscountWindow = decimal.NewNullDecimal(v)
		}
		observations = append(observations, obs.WithNetLiquidity())
	}

	for _, date := range sheet.TGA.Dates() {
		if _, ok := sheet.TotalAssets[date]; !ok {
			skips = append(skips, Skip{Date: date, Reason: "missing total assets"})
		}
	}
	return observations, skips
}

func carryForward(series fetcher.Series, date liquidity.Date, maxCarry int) (decimal.Decimal, bool) {
	for back := 0; back <= maxCarry; back++ {
		if v, ok := series[date.AddDays(-back)]; ok {
			return v, true
		}
	}
	return decimal.Decimal{}, false
}

func (i *Ingestor) checkAlert(ctx context.Context) bool {
	if !i.alertsOn || i.threshold.IsZero() || i.reader == nil {
		return false
	}

	recent, err := i.reader.ListRecentObservations(ctx, 2)
	if err != nil {
		i.logger.Error().Err(err).Msg("failed to load observations for alert check")
		return false
	}
	if len(recent) < 2 {
		return false
	}

	note, fire := alerting.Evaluate(recent[0], recent[1], i.threshold)
	if !fire {
		return false
	}
	note.Channels = i.channels

	if i.alertStore != nil {
		record := storage.AlertRecord{
			ObservationDate: note.Date,
			NetLiquidity:    note.NetLiquidity,
			ChangePct:       note.ChangePct,
			ThresholdPct:    note.ThresholdPct,
			Direction:       note.Direction,
			Channels:        note.Channels,
		}
		_, inserted, err := i.alertStore.InsertAlert(ctx, record)
		if err != nil {
			i.logger.Error().Err(err).Str("date", note.Date.String()).Msg("failed to persist alert record")
		} else if !inserted {
			i.logger.Debug().Str("date", note.Date.String()).Msg("alert already sent for date")
			return false
		}
	}

	if i.notifier != nil {
		if err := i.notifier.Notify(ctx, note); err != nil {
			i.logger.Error().Err(err).Str("date", note.Date.String()).Msg("failed to dispatch alert")
		}
	}
	i.logger.Warn().
		Str("date", note.Date.String()).
		Str("direction", note.Direction).
		Str("change_pct", note.ChangePct.StringFixed(2)).
		Msg("net liquidity threshold crossed")
	return true
}
