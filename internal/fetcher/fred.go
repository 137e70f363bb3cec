package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"fed-liquidity/internal/liquidity"
)

// FRED series backing the balance sheet.
const (
	SeriesTotalAssets     = "WALCL"
	SeriesTGA             = "WTREGEN"
	SeriesReserveBalances = "WRESBAL"
	SeriesDiscountWindow  = "WLCFLPCL"

	fredObservationsPath = "/series/observations"
)

// seriesDivisor converts each series' published unit into billions of USD.
// WALCL and WLCFLPCL are published in millions; WTREGEN and WRESBAL in billions.
var seriesDivisor = map[string]decimal.Decimal{
	SeriesTotalAssets:     decimal.NewFromInt(1000),
	SeriesTGA:             decimal.NewFromInt(1),
	SeriesReserveBalances: decimal.NewFromInt(1),
	SeriesDiscountWindow:  decimal.NewFromInt(1000),
}

// toBillions scales a raw value of seriesID; unknown series are taken as billions.
func toBillions(seriesID string, value decimal.Decimal) decimal.Decimal {
	divisor, ok := seriesDivisor[seriesID]
	if !ok || divisor.Equal(decimal.NewFromInt(1)) {
		return value
	}
	return value.Div(divisor)
}

// ErrMissingAPIKey is returned when FRED is queried without a key.
var ErrMissingAPIKey = errors.New("fred api key required (set fred.api_key or FRED_API_KEY)")

// FREDOptions parameterise the FRED client.
type FREDOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// FRED fetches weekly series from the St. Louis Fed.
type FRED struct {
	opts    FREDOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewFRED constructs a FRED client.
func NewFRED(opts FREDOptions, logger zerolog.Logger) *FRED {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.stlouisfed.org/fred"
	}

	return &FRED{
		opts:    opts,
		logger:  logger.With().Str("component", "fred_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchSeries returns one series converted to billions of USD.
// Missing observations are skipped.
func (f *FRED) FetchSeries(ctx context.Context, seriesID string, window liquidity.Range) (Series, error) {
	if strings.TrimSpace(f.opts.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	query := url.Values{}
	query.Set("series_id", seriesID)
	query.Set("api_key", f.opts.APIKey)
	query.Set("file_type", "json")
	if !window.Start.IsZero() {
		query.Set("observation_start", window.Start.String())
	}
	if !window.End.IsZero() {
		query.Set("observation_end", window.End.String())
	}

	var payload fredObservationsResponse
	if err := getJSON(ctx, f.client, f.baseURL+fredObservationsPath, query, f.opts.UserAgent, &payload, parseFREDError); err != nil {
		return nil, fmt.Errorf("fetch %s: %w", seriesID, err)
	}

	series := make(Series, len(payload.Observations))
	skipped := 0
	for _, obs := range payload.Observations {
		date, err := liquidity.ParseDate(obs.Date)
		if err != nil {
			skipped++
			continue
		}
		value, ok := parseAmount(obs.Value)
		if !ok {
			skipped++
			continue
		}
		series[date] = toBillions(seriesID, value)
	}

	f.logger.Debug().
		Str("series", seriesID).
		Str("window", window.String()).
		Int("observations", len(series)).
		Int("skipped", skipped).
		Msg("series fetched")
	return series, nil
}

// FetchBalanceSheet pulls the four balance-sheet series concurrently.
func (f *FRED) FetchBalanceSheet(ctx context.Context, window liquidity.Range) (BalanceSheet, error) {
	var sheet BalanceSheet
	targets := []struct {
		id  string
		dst *Series
	}{
		{SeriesTotalAssets, &sheet.TotalAssets},
		{SeriesTGA, &sheet.TGA},
		{SeriesReserveBalances, &sheet.ReserveBalances},
		{SeriesDiscountWindow, &sheet.DiscountWindow},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, target := range targets {
		g.Go(func() error {
			series, err := f.FetchSeries(gctx, target.id, window)
			if err != nil {
				return err
			}
			*target.dst = series
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BalanceSheet{}, err
	}
	return sheet, nil
}

type fredObservationsResponse struct {
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

type fredErrorResponse struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

func parseFREDError(status int, payload []byte) error {
	var apiErr fredErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil && apiErr.ErrorMessage != "" {
		return fmt.Errorf("fred api error (%d): %s", status, apiErr.ErrorMessage)
	}
	if len(payload) > 0 {
		return fmt.Errorf("fred api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("fred api error (%d)", status)
}

var _ BalanceSheetFetcher = (*FRED)(nil)
