package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/storage"
)

// QueryService answers date-range reads over stored observations.
type QueryService struct {
	store   storage.ObservationReader
	timeout time.Duration
	logger  zerolog.Logger
}

// NewQueryService wires a reader into the query service. A positive timeout
// bounds every storage round trip.
func NewQueryService(store storage.ObservationReader, timeout time.Duration, logger zerolog.Logger) *QueryService {
	return &QueryService{
		store:   store,
		timeout: timeout,
		logger:  logger.With().Str("component", "query").Logger(),
	}
}

// Observations returns the observations whose date falls inside r, inclusive
// on both ends, in ascending date order with net liquidity recomputed.
// An inverted range yields an empty result without touching storage.
func (q *QueryService) Observations(ctx context.Context, r liquidity.Range) ([]liquidity.Observation, error) {
	if r.Inverted() {
		q.logger.Debug().Str("range", r.String()).Msg("inverted range, returning empty result")
		return []liquidity.Observation{}, nil
	}
	if q.store == nil {
		return nil, asUnavailable(storage.ErrNotConfigured)
	}

	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rows, err := q.store.ListObservations(ctx, r)
	if err != nil {
		return nil, asUnavailable(err)
	}

	out := make([]liquidity.Observation, len(rows))
	for i, row := range rows {
		out[i] = row.WithNetLiquidity()
	}
	return out, nil
}

// Points is Observations enriched with period-over-period net liquidity change.
func (q *QueryService) Points(ctx context.Context, r liquidity.Range) ([]liquidity.Point, error) {
	rows, err := q.Observations(ctx, r)
	if err != nil {
		return nil, err
	}
	return liquidity.Derive(rows), nil
}

// Latest returns the n most recent observations in ascending date order.
func (q *QueryService) Latest(ctx context.Context, n int) ([]liquidity.Observation, error) {
	if n <= 0 {
		return []liquidity.Observation{}, nil
	}
	if q.store == nil {
		return nil, asUnavailable(storage.ErrNotConfigured)
	}

	ctx, cancel := q.withTimeout(ctx)
	defer cancel()

	rows, err := q.store.ListRecentObservations(ctx, n)
	if err != nil {
		return nil, asUnavailable(err)
	}
	slices.Reverse(rows)
	for i := range rows {
		rows[i] = rows[i].WithNetLiquidity()
	}
	return rows, nil
}

// ErrNoData is returned by Summary when nothing has been ingested yet.
var ErrNoData = errors.New("no observations stored")

// Summary reports the latest observation and its change against the one before.
func (q *QueryService) Summary(ctx context.Context) (liquidity.Summary, error) {
	rows, err := q.Latest(ctx, 2)
	if err != nil {
		return liquidity.Summary{}, err
	}
	switch len(rows) {
	case 0:
		return liquidity.Summary{}, ErrNoData
	case 1:
		return liquidity.Summarize(rows[0], nil), nil
	default:
		return liquidity.Summarize(rows[1], &rows[0]), nil
	}
}

func (q *QueryService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if q.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, q.timeout)
}

// asUnavailable folds every read failure, including deadlines, into
// ErrStorageUnavailable while keeping the cause in the chain.
func asUnavailable(err error) error {
	if errors.Is(err, storage.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", storage.ErrStorageUnavailable, err)
}
