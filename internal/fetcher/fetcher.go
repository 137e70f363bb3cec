package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"fed-liquidity/internal/liquidity"
)

const defaultUserAgent = "Fed-Liquidity-Tracker/1.0"

// Series maps observation dates to values, billions of USD for amounts and
// percent for rates.
type Series map[liquidity.Date]decimal.Decimal

// Get returns the value on d, invalid when the series has no entry for it.
func (s Series) Get(d liquidity.Date) decimal.NullDecimal {
	v, ok := s[d]
	if !ok {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(v)
}

// Dates returns the series dates in ascending order.
func (s Series) Dates() []liquidity.Date {
	out := make([]liquidity.Date, 0, len(s))
	for d := range s {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// BalanceSheet holds the weekly H.4.1 series the net liquidity figure is built from.
type BalanceSheet struct {
	TotalAssets     Series
	TGA             Series
	ReserveBalances Series
	DiscountWindow  Series
}

// BalanceSheetFetcher retrieves weekly Fed balance-sheet series.
type BalanceSheetFetcher interface {
	FetchBalanceSheet(ctx context.Context, window liquidity.Range) (BalanceSheet, error)
}

// ReverseRepoFetcher retrieves daily overnight reverse repo usage.
type ReverseRepoFetcher interface {
	FetchReverseRepo(ctx context.Context, window liquidity.Range) (Series, error)
}

// RepoMarketFetcher retrieves daily repo-market rates and facility usage.
type RepoMarketFetcher interface {
	FetchRepoRates(ctx context.Context, window liquidity.Range) ([]liquidity.RepoRate, error)
}

// getJSON performs a GET and decodes a 200 response into out. Non-200
// responses are turned into errors by onError.
func getJSON(ctx context.Context, client *http.Client, endpoint string, query url.Values, userAgent string, out any, onError func(int, []byte) error) error {
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(userAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	} else {
		req.Header.Set("User-Agent", defaultUserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return scrubURLError(err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return onError(resp.StatusCode, payload)
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// scrubURLError drops the query string from transport errors so API keys
// never reach logs.
func scrubURLError(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if u, parseErr := url.Parse(urlErr.URL); parseErr == nil {
			u.RawQuery = ""
			urlErr.URL = u.String()
		}
	}
	return err
}

// parseAmount reads an upstream value. FRED reports gaps as ".".
func parseAmount(raw string) (decimal.Decimal, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || s == "." {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
