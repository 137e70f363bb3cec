package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fed-liquidity/internal/alerting"
	"fed-liquidity/internal/config"
	"fed-liquidity/internal/fetcher"
	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/storage"
)

func d(s string) liquidity.Date { return liquidity.MustParseDate(s) }

func num(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func obs(date string, total, tga, rrp int64) liquidity.Observation {
	return liquidity.Observation{
		Date:        d(date),
		TotalAssets: decimal.NewFromInt(total),
		TGA:         decimal.NewFromInt(tga),
		ReverseRepo: decimal.NewFromInt(rrp),
	}
}

// memStore is an in-memory stand-in for storage.Store.
type memStore struct {
	mu      sync.Mutex
	rows    map[liquidity.Date]liquidity.Observation
	runs    []storage.IngestRun
	alerts  map[liquidity.Date]storage.AlertRecord
	calls   int
	failErr error
}

func newMemStore(seed ...liquidity.Observation) *memStore {
	m := &memStore{rows: map[liquidity.Date]liquidity.Observation{}, alerts: map[liquidity.Date]storage.AlertRecord{}}
	for _, o := range seed {
		m.rows[o.Date] = o
	}
	return m
}

func (m *memStore) sorted() []liquidity.Observation {
	series := fetcher.Series{}
	for date := range m.rows {
		series[date] = decimal.Zero
	}
	out := make([]liquidity.Observation, 0, len(m.rows))
	for _, date := range series.Dates() {
		out = append(out, m.rows[date])
	}
	return out
}

func (m *memStore) ListObservations(_ context.Context, r liquidity.Range) ([]liquidity.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failErr != nil {
		return nil, m.failErr
	}
	out := make([]liquidity.Observation, 0)
	for _, o := range m.sorted() {
		if r.Contains(o.Date) {
			// stored net liquidity is never trusted
			o.NetLiquidity = decimal.NewFromInt(-1)
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memStore) ListRecentObservations(_ context.Context, limit int) ([]liquidity.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.failErr != nil {
		return nil, m.failErr
	}
	all := m.sorted()
	out := make([]liquidity.Observation, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, nil
}

func (m *memStore) UpsertObservations(_ context.Context, observations []liquidity.Observation, run *storage.IngestRun) (storage.UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return storage.UpsertResult{}, m.failErr
	}
	var res storage.UpsertResult
	for _, o := range observations {
		if _, ok := m.rows[o.Date]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		m.rows[o.Date] = o
	}
	if run != nil {
		run.Inserted, run.Updated = res.Inserted, res.Updated
		m.runs = append(m.runs, *run)
	}
	return res, nil
}

func (m *memStore) InsertAlert(_ context.Context, alert storage.AlertRecord) (storage.AlertRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.alerts[alert.ObservationDate]; ok {
		return storage.AlertRecord{}, false, nil
	}
	m.alerts[alert.ObservationDate] = alert
	return alert, true, nil
}

func (m *memStore) ListRecentAlerts(context.Context, int) ([]storage.AlertRecord, error) {
	return nil, nil
}

type stubBalance struct {
	sheet fetcher.BalanceSheet
	err   error
	seen  []liquidity.Range
	mu    sync.Mutex
}

func (s *stubBalance) FetchBalanceSheet(_ context.Context, window liquidity.Range) (fetcher.BalanceSheet, error) {
	s.mu.Lock()
	s.seen = append(s.seen, window)
	s.mu.Unlock()
	return s.sheet, s.err
}

type stubRepo struct {
	series fetcher.Series
	err    error
	window liquidity.Range
}

func (s *stubRepo) FetchReverseRepo(_ context.Context, window liquidity.Range) (fetcher.Series, error) {
	s.window = window
	return s.series, s.err
}

type recordingNotifier struct {
	notes []alerting.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	r.notes = append(r.notes, note)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Ingest:   config.IngestConfig{LookbackDays: 28, ChunkDays: 365, MaxCarryForward: 4},
		Alerting: config.AlertingConfig{Enabled: true, ThresholdPct: 2, Channels: []string{"telegram"}},
	}
}

func TestQueryObservationsRecomputesNetLiquidity(t *testing.T) {
	store := newMemStore(obs("2024-01-01", 7000, 700, 450), obs("2024-01-02", 7010, 720, 440), obs("2024-01-03", 7005, 690, 460))
	q := NewQueryService(store, time.Second, zerolog.Nop())

	got, err := q.Observations(context.Background(), liquidity.Range{Start: d("2024-01-02"), End: d("2024-01-03")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "2024-01-02", got[0].Date.String())
	require.True(t, got[0].NetLiquidity.Equal(decimal.NewFromInt(5850)))
	require.True(t, got[1].NetLiquidity.Equal(decimal.NewFromInt(5855)))
}

func TestQueryInvertedRangeSkipsStorage(t *testing.T) {
	store := newMemStore(obs("2024-01-01", 7000, 700, 450))
	q := NewQueryService(store, 0, zerolog.Nop())

	got, err := q.Observations(context.Background(), liquidity.Range{Start: d("2024-02-01"), End: d("2024-01-01")})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)
	require.Zero(t, store.calls)
}

func TestQueryMapsFailuresToUnavailable(t *testing.T) {
	store := newMemStore()
	store.failErr = context.DeadlineExceeded
	q := NewQueryService(store, 0, zerolog.Nop())

	_, err := q.Observations(context.Background(), liquidity.Range{})
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = NewQueryService(nil, 0, zerolog.Nop()).Observations(context.Background(), liquidity.Range{})
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)
}

func TestQueryLatestAndSummary(t *testing.T) {
	store := newMemStore(obs("2024-01-01", 7000, 700, 450), obs("2024-01-02", 7010, 720, 440), obs("2024-01-03", 7005, 690, 460))
	q := NewQueryService(store, 0, zerolog.Nop())

	latest, err := q.Latest(context.Background(), 2)
	require.NoError(t, err)
	require.Equal(t, "2024-01-02", latest[0].Date.String())
	require.Equal(t, "2024-01-03", latest[1].Date.String())

	summary, err := q.Summary(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2024-01-03", summary.Latest.Date.String())
	require.NotNil(t, summary.Previous)
	require.True(t, summary.NetLiquidityChange.Decimal.Equal(decimal.NewFromInt(5)))

	_, err = NewQueryService(newMemStore(), 0, zerolog.Nop()).Summary(context.Background())
	require.ErrorIs(t, err, ErrNoData)
}

func TestMergeCarriesReverseRepoForward(t *testing.T) {
	sheet := fetcher.BalanceSheet{
		TotalAssets:     fetcher.Series{d("2024-12-04"): num("6873.2"), d("2024-12-11"): num("6860"), d("2024-12-18"): num("6850")},
		TGA:             fetcher.Series{d("2024-12-04"): num("800"), d("2024-12-11"): num("810"), d("2024-12-18"): num("820"), d("2024-12-25"): num("830")},
		ReserveBalances: fetcher.Series{d("2024-12-04"): num("3200")},
	}
	repo := fetcher.Series{
		d("2024-12-04"): num("150"),
		d("2024-12-09"): num("140"),
		d("2024-12-12"): num("130"),
	}

	got, skips := Merge(sheet, repo, 4)
	require.Len(t, got, 2)
	require.Equal(t, "2024-12-04", got[0].Date.String())
	require.True(t, got[0].ReverseRepo.Equal(num("150")))
	require.True(t, got[0].ReserveBalances.Valid)
	require.True(t, got[0].NetLiquidity.Equal(num("5923.2")))
	require.False(t, got[0].DiscountWindow.Valid)

	// 12-11 carries 12-09 forward, two days back
	require.True(t, got[1].ReverseRepo.Equal(num("140")))
	require.False(t, got[1].ReserveBalances.Valid)

	require.Len(t, skips, 2)
	require.Equal(t, Skip{Date: d("2024-12-18"), Reason: "missing reverse repo"}, skips[0])
	require.Equal(t, Skip{Date: d("2024-12-25"), Reason: "missing total assets"}, skips[1])
}

func TestIngestWritesRunAndAlerts(t *testing.T) {
	store := newMemStore(obs("2024-01-03", 7005, 690, 460))
	balance := &stubBalance{sheet: fetcher.BalanceSheet{
		TotalAssets: fetcher.Series{d("2024-01-10"): num("7000")},
		TGA:         fetcher.Series{d("2024-01-10"): num("900")},
	}}
	repo := &stubRepo{series: fetcher.Series{d("2024-01-10"): num("450")}}
	notifier := &recordingNotifier{}

	ing := NewIngestor(testConfig(), balance, repo, store, store, store, notifier, zerolog.Nop())
	ing.newID = func() string { return "run-1" }

	window := liquidity.Range{Start: d("2024-01-04"), End: d("2024-01-10")}
	res, err := ing.Ingest(context.Background(), window, false)
	require.NoError(t, err)
	require.Equal(t, "run-1", res.RunID)
	require.Equal(t, 1, res.Inserted)
	require.True(t, res.Alerted)

	require.Equal(t, "2023-12-31", repo.window.Start.String(), "reverse repo window must reach back by the carry limit")
	require.Len(t, store.runs, 1)
	require.Equal(t, "fred+nyfed", store.runs[0].Source)
	require.Len(t, notifier.notes, 1)
	require.Equal(t, "down", notifier.notes[0].Direction)
	require.Equal(t, []string{"telegram"}, notifier.notes[0].Channels)

	// same data again: row updated, alert not repeated
	res, err = ing.Ingest(context.Background(), window, false)
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.False(t, res.Alerted)
	require.Len(t, notifier.notes, 1)
}

func TestIngestDryRunWritesNothing(t *testing.T) {
	store := newMemStore()
	balance := &stubBalance{sheet: fetcher.BalanceSheet{
		TotalAssets: fetcher.Series{d("2024-01-10"): num("7000")},
		TGA:         fetcher.Series{d("2024-01-10"): num("900")},
	}}
	repo := &stubRepo{series: fetcher.Series{d("2024-01-10"): num("450")}}

	ing := NewIngestor(testConfig(), balance, repo, nil, nil, nil, nil, zerolog.Nop())
	res, err := ing.Ingest(context.Background(), liquidity.Range{Start: d("2024-01-04"), End: d("2024-01-10")}, true)
	require.NoError(t, err)
	require.True(t, res.DryRun)
	require.Len(t, res.Observations, 1)
	require.Empty(t, store.rows)

	_, err = ing.Ingest(context.Background(), liquidity.Range{Start: d("2024-01-04"), End: d("2024-01-10")}, false)
	require.ErrorIs(t, err, storage.ErrNotConfigured)
}

func TestIngestFetchFailure(t *testing.T) {
	store := newMemStore()
	balance := &stubBalance{err: errors.New("fred down")}
	repo := &stubRepo{series: fetcher.Series{}}

	ing := NewIngestor(testConfig(), balance, repo, store, store, store, nil, zerolog.Nop())
	_, err := ing.Ingest(context.Background(), liquidity.Range{Start: d("2024-01-04"), End: d("2024-01-10")}, false)
	require.ErrorContains(t, err, "fred down")
	require.Empty(t, store.runs)
}

func TestBackfillChunks(t *testing.T) {
	store := newMemStore()
	balance := &stubBalance{sheet: fetcher.BalanceSheet{}}
	repo := &stubRepo{series: fetcher.Series{}}

	ing := NewIngestor(testConfig(), balance, repo, store, store, store, nil, zerolog.Nop())
	res, err := ing.Backfill(context.Background(), d("2024-01-01"), d("2024-01-25"), 10, false)
	require.NoError(t, err)
	require.Equal(t, 3, res.Chunks)

	require.Equal(t, []liquidity.Range{
		{Start: d("2024-01-01"), End: d("2024-01-10")},
		{Start: d("2024-01-11"), End: d("2024-01-20")},
		{Start: d("2024-01-21"), End: d("2024-01-25")},
	}, balance.seen)
	require.Len(t, store.runs, 3)
}

func TestBackfillReportsFailedChunks(t *testing.T) {
	store := newMemStore()
	balance := &stubBalance{err: errors.New("rate limited")}
	repo := &stubRepo{series: fetcher.Series{}}

	ing := NewIngestor(testConfig(), balance, repo, store, store, store, nil, zerolog.Nop())
	res, err := ing.Backfill(context.Background(), d("2024-01-01"), d("2024-01-05"), 2, false)
	require.ErrorIs(t, err, ErrBackfillIncomplete)
	require.Equal(t, 3, res.Failed)

	_, err = ing.Backfill(context.Background(), d("2024-02-01"), d("2024-01-01"), 2, false)
	require.Error(t, err)
}

// cancellingBalance cancels the run from inside the first fetch.
type cancellingBalance struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancellingBalance) FetchBalanceSheet(ctx context.Context, _ liquidity.Range) (fetcher.BalanceSheet, error) {
	c.calls++
	c.cancel()
	<-ctx.Done()
	return fetcher.BalanceSheet{}, ctx.Err()
}

func TestBackfillCancelledIsNotAChunkFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemStore()
	balance := &cancellingBalance{cancel: cancel}
	repo := &stubRepo{series: fetcher.Series{}}

	ing := NewIngestor(testConfig(), balance, repo, store, store, store, nil, zerolog.Nop())
	res, err := ing.Backfill(ctx, d("2024-01-01"), d("2024-01-30"), 10, false)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, ErrBackfillIncomplete)
	require.Equal(t, 1, balance.calls)
	require.Equal(t, 1, res.Chunks)
	require.Zero(t, res.Failed)
}

func TestCollectUsesLookbackWindow(t *testing.T) {
	store := newMemStore()
	balance := &stubBalance{}
	repo := &stubRepo{series: fetcher.Series{}}

	ing := NewIngestor(testConfig(), balance, repo, store, store, store, nil, zerolog.Nop())
	require.NoError(t, ing.Collect(context.Background(), time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
	require.Len(t, balance.seen, 1)
	require.Equal(t, "2024-02-02", balance.seen[0].Start.String())
	require.Equal(t, "2024-03-01", balance.seen[0].End.String())
}

type stubRepoMarket struct {
	rates []liquidity.RepoRate
	err   error
	seen  []liquidity.Range
}

func (s *stubRepoMarket) FetchRepoRates(_ context.Context, window liquidity.Range) ([]liquidity.RepoRate, error) {
	s.seen = append(s.seen, window)
	return s.rates, s.err
}

type memRepoStore struct {
	rows map[liquidity.Date]liquidity.RepoRate
}

func (m *memRepoStore) UpsertRepoRates(_ context.Context, rates []liquidity.RepoRate) (storage.UpsertResult, error) {
	var res storage.UpsertResult
	for _, r := range rates {
		if _, ok := m.rows[r.Date]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		m.rows[r.Date] = r
	}
	return res, nil
}

func (m *memRepoStore) ListRepoRates(_ context.Context, r liquidity.Range) ([]liquidity.RepoRate, error) {
	out := make([]liquidity.RepoRate, 0)
	for date, rate := range m.rows {
		if r.Contains(date) {
			out = append(out, rate)
		}
	}
	return out, nil
}

func TestRepoServiceCollect(t *testing.T) {
	market := &stubRepoMarket{rates: []liquidity.RepoRate{
		{Date: d("2024-03-28"), SOFR: decimal.NewNullDecimal(num("5.32"))},
		liquidity.RepoRate{Date: d("2024-03-31"), SOFR: decimal.NewNullDecimal(num("5.34"))}.WithCalendarFlags(),
	}}
	store := &memRepoStore{rows: map[liquidity.Date]liquidity.RepoRate{}}
	svc := NewRepoService(market, store, 7, time.Second, zerolog.Nop())

	window := liquidity.Range{Start: d("2024-03-25"), End: d("2024-04-01")}
	res, err := svc.Collect(context.Background(), window, true)
	require.NoError(t, err)
	require.Len(t, res.Rates, 2)
	require.Empty(t, store.rows, "dry run writes nothing")

	res, err = svc.Collect(context.Background(), window, false)
	require.NoError(t, err)
	require.Equal(t, 2, res.Inserted)

	res, err = svc.Collect(context.Background(), window, false)
	require.NoError(t, err)
	require.Equal(t, 2, res.Updated)

	rates, err := svc.List(context.Background(), liquidity.Range{Start: d("2024-03-30")})
	require.NoError(t, err)
	require.Len(t, rates, 1)
	require.True(t, rates[0].IsQuarterEnd)

	rates, err = svc.List(context.Background(), liquidity.Range{Start: d("2024-04-01"), End: d("2024-03-01")})
	require.NoError(t, err)
	require.Empty(t, rates)

	_, err = svc.Collect(context.Background(), liquidity.Range{Start: d("2024-04-01"), End: d("2024-03-01")}, false)
	require.Error(t, err)
}

func TestRepoServiceTick(t *testing.T) {
	market := &stubRepoMarket{}
	store := &memRepoStore{rows: map[liquidity.Date]liquidity.RepoRate{}}

	svc := NewRepoService(market, store, 7, 0, zerolog.Nop())
	require.NoError(t, svc.Tick(context.Background(), time.Date(2024, 3, 8, 10, 0, 0, 0, time.UTC)))
	require.Equal(t, []liquidity.Range{{Start: d("2024-03-01"), End: d("2024-03-08")}}, market.seen)

	disabled := NewRepoService(market, store, 0, 0, zerolog.Nop())
	require.NoError(t, disabled.Tick(context.Background(), time.Now()))
	require.Len(t, market.seen, 1)

	market.err = errors.New("upstream down")
	require.Error(t, svc.Tick(context.Background(), time.Now()))
}

func TestRepoServiceWithoutStore(t *testing.T) {
	svc := NewRepoService(&stubRepoMarket{}, nil, 7, 0, zerolog.Nop())
	_, err := svc.Collect(context.Background(), liquidity.Range{Start: d("2024-03-01"), End: d("2024-03-08")}, false)
	require.ErrorIs(t, err, storage.ErrNotConfigured)

	_, err = svc.List(context.Background(), liquidity.Range{})
	require.ErrorIs(t, err, storage.ErrStorageUnavailable)
}
