package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"fed-liquidity/internal/api"
	"fed-liquidity/internal/config"
	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/service"
	"fed-liquidity/internal/storage"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func seededRouter(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	ctx := context.Background()

	dsn := "sqlite3://" + filepath.Join(t.TempDir(), "api.db")
	store, err := storage.Open(ctx, config.DatabaseConfig{DSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	migrator, err := storage.NewMigrator(store, zerolog.Nop())
	if err != nil {
		t.Fatalf("migrator: %v", err)
	}
	if _, err := migrator.ApplyPending(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	seed := []liquidity.Observation{
		{Date: liquidity.MustParseDate("2024-01-01"), TotalAssets: decimal.NewFromInt(7000), TGA: decimal.NewFromInt(700), ReverseRepo: decimal.NewFromInt(450)},
		{Date: liquidity.MustParseDate("2024-01-02"), TotalAssets: decimal.NewFromInt(7010), TGA: decimal.NewFromInt(720), ReverseRepo: decimal.NewFromInt(440),
			ReserveBalances: decimal.NewNullDecimal(decimal.RequireFromString("3400.5"))},
		{Date: liquidity.MustParseDate("2024-01-03"), TotalAssets: decimal.NewFromInt(7005), TGA: decimal.NewFromInt(690), ReverseRepo: decimal.NewFromInt(460)},
	}
	if _, err := store.UpsertObservations(ctx, seed, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}

	rates := []liquidity.RepoRate{
		{Date: liquidity.MustParseDate("2023-12-29"), SOFR: decimal.NewNullDecimal(decimal.RequireFromString("5.38"))},
		{Date: liquidity.MustParseDate("2024-01-02"), SOFR: decimal.NewNullDecimal(decimal.RequireFromString("5.40")),
			ReverseRepo: decimal.NewNullDecimal(decimal.RequireFromString("720.5"))},
	}
	if _, err := store.UpsertRepoRates(ctx, rates); err != nil {
		t.Fatalf("seed repo rates: %v", err)
	}

	router := api.SetupRouter(api.RouterDeps{
		Query:  service.NewQueryService(store, 0, zerolog.Nop()),
		Repo:   service.NewRepoService(nil, store, 0, 0, zerolog.Nop()),
		Store:  store,
		Logger: zerolog.Nop(),
	})
	return router, store
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeList(t *testing.T, rr *httptest.ResponseRecorder) []api.ObservationDTO {
	t.Helper()
	var out []api.ObservationDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not a json array: %v (%s)", err, rr.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	h, _ := seededRouter(t)
	rr := do(t, h, http.MethodGet, "/health")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
}

func TestHealthReportsClosedStore(t *testing.T) {
	h, store := seededRouter(t)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	rr := do(t, h, http.MethodGet, "/health")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestListRange(t *testing.T) {
	h, _ := seededRouter(t)

	rr := do(t, h, http.MethodGet, "/api/liquidity?startDate=2024-01-02&endDate=2024-01-03")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("missing CORS header, got %q", got)
	}

	rows := decodeList(t, rr)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Date.String() != "2024-01-02" || rows[1].Date.String() != "2024-01-03" {
		t.Fatalf("unexpected order: %s, %s", rows[0].Date, rows[1].Date)
	}
	if rows[0].NetLiquidity != 5850 {
		t.Fatalf("expected net liquidity 5850, got %v", rows[0].NetLiquidity)
	}
	if rows[0].ReserveBalances == nil || *rows[0].ReserveBalances != 3400.5 {
		t.Fatalf("unexpected reserve balances %v", rows[0].ReserveBalances)
	}
	if rows[1].ReserveBalances != nil || rows[1].DiscountWindow != nil {
		t.Fatal("source gaps must serialise as null")
	}
	if rows[0].ID == 0 {
		t.Fatal("id must be populated")
	}
}

func TestListRawShape(t *testing.T) {
	h, _ := seededRouter(t)
	rr := do(t, h, http.MethodGet, "/api/liquidity?startDate=2024-01-03")

	var raw []map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &raw); err != nil {
		t.Fatal(err)
	}
	if len(raw) != 1 {
		t.Fatalf("expected one row, got %d", len(raw))
	}
	for _, key := range []string{"id", "date", "total_assets", "reverse_repo", "tga", "reserve_balances", "discount_window", "net_liquidity"} {
		if _, ok := raw[0][key]; !ok {
			t.Fatalf("field %q missing from %v", key, raw[0])
		}
	}
	if raw[0]["date"] != "2024-01-03" {
		t.Fatalf("date must be YYYY-MM-DD, got %v", raw[0]["date"])
	}
}

func TestListEdgeCases(t *testing.T) {
	h, _ := seededRouter(t)

	cases := []struct {
		path string
		want int
	}{
		{"/api/liquidity", 3},
		{"/api/liquidity?startDate=2024-01-02&endDate=2024-01-02", 1},
		{"/api/liquidity?startDate=2024-02-01&endDate=2024-01-01", 0},
		{"/api/liquidity?startDate=not-a-date", 3},
		{"/api/liquidity?endDate=2024-13-45", 3},
		{"/api/liquidity?startDate=2030-01-01", 0},
		{"/api/liquidity?endDate=0001-01-01", 0},
		{"/api/liquidity?startDate=2024-01-03&endDate=0001-01-01", 0},
		{"/api/liquidity?startDate=0001-01-01", 3},
	}
	for _, tc := range cases {
		rr := do(t, h, http.MethodGet, tc.path)
		if rr.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.path, rr.Code)
		}
		if got := decodeList(t, rr); len(got) != tc.want {
			t.Fatalf("%s: expected %d rows, got %d", tc.path, tc.want, len(got))
		}
		if strings.TrimSpace(rr.Body.String()) == "null" {
			t.Fatalf("%s: empty result must be [] not null", tc.path)
		}
	}
}

func TestRepoRates(t *testing.T) {
	h, _ := seededRouter(t)

	rr := do(t, h, http.MethodGet, "/api/repo-rates?startDate=2024-01-01")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rates []api.RepoRateDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &rates); err != nil {
		t.Fatal(err)
	}
	if len(rates) != 1 || rates[0].Date.String() != "2024-01-02" {
		t.Fatalf("unexpected rates %+v", rates)
	}
	if rates[0].ONRRP == nil || *rates[0].ONRRP != 720.5 || rates[0].EFFR != nil {
		t.Fatalf("unexpected values %+v", rates[0])
	}

	rr = do(t, h, http.MethodGet, "/api/repo-rates?endDate=0001-01-01")
	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty list, got %s", rr.Body.String())
	}
}

func TestRepoRatesNotMountedWithoutService(t *testing.T) {
	router := api.SetupRouter(api.RouterDeps{
		Query:  service.NewQueryService(emptyReader{}, 0, zerolog.Nop()),
		Logger: zerolog.Nop(),
	})
	if rr := do(t, router, http.MethodGet, "/api/repo-rates"); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	h, _ := seededRouter(t)
	rr := do(t, h, http.MethodOptions, "/api/liquidity")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Methods"); got != "GET, OPTIONS" {
		t.Fatalf("unexpected methods %q", got)
	}
}

func TestStorageErrorIs500(t *testing.T) {
	h, store := seededRouter(t)
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	rr := do(t, h, http.MethodGet, "/api/liquidity")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["error"] == "" || body["details"] == "" {
		t.Fatalf("expected error envelope, got %v", body)
	}
	if strings.Contains(body["details"], "api.db") {
		t.Fatalf("details leak file path: %s", body["details"])
	}
}

func TestSummary(t *testing.T) {
	h, _ := seededRouter(t)
	rr := do(t, h, http.MethodGet, "/api/liquidity/summary")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var dto api.SummaryDTO
	if err := json.Unmarshal(rr.Body.Bytes(), &dto); err != nil {
		t.Fatal(err)
	}
	if dto.Latest.Date.String() != "2024-01-03" || dto.Previous == nil {
		t.Fatalf("unexpected summary %+v", dto)
	}
	if dto.NetLiquidityChange == nil || *dto.NetLiquidityChange != 5 {
		t.Fatalf("expected change of 5, got %v", dto.NetLiquidityChange)
	}
}

func TestSummaryEmpty(t *testing.T) {
	router := api.SetupRouter(api.RouterDeps{
		Query:  service.NewQueryService(emptyReader{}, 0, zerolog.Nop()),
		Logger: zerolog.Nop(),
	})
	rr := do(t, router, http.MethodGet, "/api/liquidity/summary")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

type emptyReader struct{}

func (emptyReader) ListObservations(context.Context, liquidity.Range) ([]liquidity.Observation, error) {
	return []liquidity.Observation{}, nil
}

func (emptyReader) ListRecentObservations(context.Context, int) ([]liquidity.Observation, error) {
	return nil, nil
}
