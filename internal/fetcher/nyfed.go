package fetcher

import (
	"context"
	"encoding/json"
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

const (
	reverseRepoPath = "/rp/reverserepo/propositions/search.json"
	sofrPath        = "/rates/secured/sofr/search.json"
	effrPath        = "/rates/unsecured/effr/search.json"
	srfPath         = "/srf/all/search.json"
)

var (
	billion  = decimal.NewFromInt(1_000_000_000)
	thousand = decimal.NewFromInt(1000)
)

// NYFedOptions parameterise the New York Fed markets client.
type NYFedOptions struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
}

// NYFed fetches operation results from the New York Fed markets API.
type NYFed struct {
	opts    NYFedOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewNYFed constructs a NY Fed client.
func NewNYFed(opts NYFedOptions, logger zerolog.Logger) *NYFed {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://markets.newyorkfed.org/api"
	}

	return &NYFed{
		opts:    opts,
		logger:  logger.With().Str("component", "nyfed_fetcher").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchReverseRepo returns accepted ON RRP amounts per operation date, in billions.
// Several operations on one day are summed.
func (n *NYFed) FetchReverseRepo(ctx context.Context, window liquidity.Range) (Series, error) {
	var payload reverseRepoResponse
	if err := n.get(ctx, reverseRepoPath, window, &payload); err != nil {
		return nil, fmt.Errorf("fetch reverse repo: %w", err)
	}

	series := make(Series, len(payload.Repo.Operations))
	for _, op := range payload.Repo.Operations {
		date, err := liquidity.ParseDate(op.OperationDate)
		if err != nil {
			continue
		}
		amount, ok := parseAmount(op.TotalAmtAccepted.String())
		if !ok {
			continue
		}
		series[date] = series[date].Add(amount.Div(billion))
	}

	n.logger.Debug().
		Str("window", window.String()).
		Int("operations", len(payload.Repo.Operations)).
		Int("days", len(series)).
		Msg("reverse repo fetched")
	return series, nil
}

// FetchRate returns the reference rate published at path (SOFR or EFFR) per
// effective date, in percent.
func (n *NYFed) FetchRate(ctx context.Context, path string, window liquidity.Range) (Series, error) {
	var payload refRatesResponse
	if err := n.get(ctx, path, window, &payload); err != nil {
		return nil, fmt.Errorf("fetch rate %s: %w", path, err)
	}

	series := make(Series, len(payload.RefRates))
	for _, rate := range payload.RefRates {
		date, err := liquidity.ParseDate(rate.EffectiveDate)
		if err != nil {
			continue
		}
		value, ok := parseAmount(rate.PercentRate.String())
		if !ok {
			continue
		}
		series[date] = value
	}
	return series, nil
}

// FetchSRF returns Standing Repo Facility usage per operation date, in billions.
// The facility only exists from July 2021; earlier windows come back empty.
func (n *NYFed) FetchSRF(ctx context.Context, window liquidity.Range) (Series, error) {
	var payload srfResponse
	if err := n.get(ctx, srfPath, window, &payload); err != nil {
		return nil, fmt.Errorf("fetch srf: %w", err)
	}

	series := make(Series, len(payload.SRF.Operations))
	for _, op := range payload.SRF.Operations {
		date, err := liquidity.ParseDate(op.OpDate)
		if err != nil {
			continue
		}
		amount, ok := parseAmount(op.TotalAmtAccepted.String())
		if !ok {
			continue
		}
		series[date] = series[date].Add(amount.Div(thousand))
	}
	return series, nil
}

// FetchRepoRates pulls SOFR, EFFR, SRF and ON RRP concurrently and merges
// them into one row per date that any of them reported, in ascending order.
func (n *NYFed) FetchRepoRates(ctx context.Context, window liquidity.Range) ([]liquidity.RepoRate, error) {
	var sofr, effr, srf, rrp Series
	sources := []struct {
		dst   *Series
		fetch func(context.Context) (Series, error)
	}{
		{&sofr, func(ctx context.Context) (Series, error) { return n.FetchRate(ctx, sofrPath, window) }},
		{&effr, func(ctx context.Context) (Series, error) { return n.FetchRate(ctx, effrPath, window) }},
		{&srf, func(ctx context.Context) (Series, error) { return n.FetchSRF(ctx, window) }},
		{&rrp, func(ctx context.Context) (Series, error) { return n.FetchReverseRepo(ctx, window) }},
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, source := range sources {
		g.Go(func() error {
			series, err := source.fetch(gctx)
			if err != nil {
				return err
			}
			*source.dst = series
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	all := make(Series)
	for _, s := range []Series{sofr, effr, srf, rrp} {
		for d := range s {
			all[d] = decimal.Zero
		}
	}

	rates := make([]liquidity.RepoRate, 0, len(all))
	for _, d := range all.Dates() {
		rates = append(rates, liquidity.RepoRate{
			Date:        d,
			SOFR:        sofr.Get(d),
			EFFR:        effr.Get(d),
			SRFUsage:    srf.Get(d),
			ReverseRepo: rrp.Get(d),
		}.WithCalendarFlags())
	}

	n.logger.Debug().
		Str("window", window.String()).
		Int("sofr", len(sofr)).
		Int("effr", len(effr)).
		Int("srf", len(srf)).
		Int("onrrp", len(rrp)).
		Int("days", len(rates)).
		Msg("repo rates fetched")
	return rates, nil
}

func (n *NYFed) get(ctx context.Context, path string, window liquidity.Range, out any) error {
	query := url.Values{}
	query.Set("format", "json")
	if !window.Start.IsZero() {
		query.Set("startDate", window.Start.String())
	}
	if !window.End.IsZero() {
		query.Set("endDate", window.End.String())
	}
	return getJSON(ctx, n.client, n.baseURL+path, query, n.opts.UserAgent, out, parseNYFedError)
}

type refRatesResponse struct {
	RefRates []struct {
		EffectiveDate string      `json:"effectiveDate"`
		Type          string      `json:"type"`
		PercentRate   json.Number `json:"percentRate"`
	} `json:"refRates"`
}

type srfResponse struct {
	SRF struct {
		Operations []struct {
			OpDate           string      `json:"opDate"`
			TotalAmtAccepted json.Number `json:"totalAmtAccepted"`
		} `json:"operations"`
	} `json:"srf"`
}

type reverseRepoResponse struct {
	Repo struct {
		Operations []struct {
			OperationDate    string      `json:"operationDate"`
			OperationType    string      `json:"operationType"`
			TotalAmtAccepted json.Number `json:"totalAmtAccepted"`
		} `json:"operations"`
	} `json:"repo"`
}

type nyfedErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseNYFedError(status int, payload []byte) error {
	var apiErr nyfedErrorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("nyfed api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("nyfed api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("nyfed api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("nyfed api error (%d)", status)
}

var (
	_ ReverseRepoFetcher = (*NYFed)(nil)
	_ RepoMarketFetcher  = (*NYFed)(nil)
)
