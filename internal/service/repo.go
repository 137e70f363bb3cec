package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"fed-liquidity/internal/fetcher"
	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/storage"
)

// RepoResult summarises one repo-market collection.
type RepoResult struct {
	Window   liquidity.Range
	Rates    []liquidity.RepoRate
	Inserted int
	Updated  int
	DryRun   bool
}

// RepoService collects and reads the daily repo-market table.
type RepoService struct {
	fetcher      fetcher.RepoMarketFetcher
	store        storage.RepoRateStore
	lookbackDays int
	timeout      time.Duration
	logger       zerolog.Logger
}

// NewRepoService wires the NY Fed fetcher and the repo_rates store. Either may
// be nil: without a fetcher only reads work, without a store only dry runs.
func NewRepoService(f fetcher.RepoMarketFetcher, store storage.RepoRateStore, lookbackDays int, timeout time.Duration, logger zerolog.Logger) *RepoService {
	return &RepoService{
		fetcher:      f,
		store:        store,
		lookbackDays: lookbackDays,
		timeout:      timeout,
		logger:       logger.With().Str("component", "repo_rates").Logger(),
	}
}

// Collect fetches repo-market data for window and upserts it unless dryRun.
func (s *RepoService) Collect(ctx context.Context, window liquidity.Range, dryRun bool) (RepoResult, error) {
	if window.Start.IsZero() || window.End.IsZero() || window.Inverted() {
		return RepoResult{}, fmt.Errorf("invalid repo window %s", window)
	}
	if s.fetcher == nil {
		return RepoResult{}, fmt.Errorf("repo rates: no fetcher configured")
	}
	if !dryRun && s.store == nil {
		return RepoResult{}, storage.ErrNotConfigured
	}

	rates, err := s.fetcher.FetchRepoRates(ctx, window)
	if err != nil {
		return RepoResult{}, fmt.Errorf("fetch repo rates: %w", err)
	}
	result := RepoResult{Window: window, Rates: rates, DryRun: dryRun}
	if dryRun {
		s.logger.Info().Str("window", window.String()).Int("days", len(rates)).Msg("dry-run: nothing written")
		return result, nil
	}

	upserted, err := s.store.UpsertRepoRates(ctx, rates)
	if err != nil {
		return RepoResult{}, fmt.Errorf("persist repo rates: %w", err)
	}
	result.Inserted = upserted.Inserted
	result.Updated = upserted.Updated

	s.logger.Info().
		Str("window", window.String()).
		Int("inserted", result.Inserted).
		Int("updated", result.Updated).
		Msg("repo rates stored")
	return result, nil
}

// Tick collects the trailing repo lookback window ending at slot. A zero
// lookback disables it. It matches scheduler.TickFunc.
func (s *RepoService) Tick(ctx context.Context, slot time.Time) error {
	if s.lookbackDays <= 0 {
		return nil
	}
	end := liquidity.DateOf(slot.UTC())
	_, err := s.Collect(ctx, liquidity.Range{Start: end.AddDays(-s.lookbackDays), End: end}, false)
	return err
}

// List returns stored repo-market rows inside r. An inverted range is empty.
func (s *RepoService) List(ctx context.Context, r liquidity.Range) ([]liquidity.RepoRate, error) {
	if r.Inverted() {
		return []liquidity.RepoRate{}, nil
	}
	if s.store == nil {
		return nil, asUnavailable(storage.ErrNotConfigured)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	rates, err := s.store.ListRepoRates(ctx, r)
	if err != nil {
		return nil, asUnavailable(err)
	}
	return rates, nil
}
