package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/service"
	"fed-liquidity/internal/storage"
)

// ObservationDTO is the wire form of one observation. Amounts are billions of USD.
type ObservationDTO struct {
	ID              int64          `json:"id"`
	Date            liquidity.Date `json:"date"`
	TotalAssets     float64        `json:"total_assets"`
	ReverseRepo     float64        `json:"reverse_repo"`
	TGA             float64        `json:"tga"`
	ReserveBalances *float64       `json:"reserve_balances"`
	DiscountWindow  *float64       `json:"discount_window"`
	NetLiquidity    float64        `json:"net_liquidity"`
}

// SummaryDTO is the wire form of the KPI summary.
type SummaryDTO struct {
	Latest                ObservationDTO  `json:"latest"`
	Previous              *ObservationDTO `json:"previous"`
	NetLiquidityChange    *float64        `json:"net_liquidity_change"`
	NetLiquidityChangePct *float64        `json:"net_liquidity_change_pct"`
	TotalAssetsChange     *float64        `json:"total_assets_change"`
}

func toDTO(o liquidity.Observation) ObservationDTO {
	return ObservationDTO{
		ID:              o.ID,
		Date:            o.Date,
		TotalAssets:     o.TotalAssets.InexactFloat64(),
		ReverseRepo:     o.ReverseRepo.InexactFloat64(),
		TGA:             o.TGA.InexactFloat64(),
		ReserveBalances: optional(o.ReserveBalances),
		DiscountWindow:  optional(o.DiscountWindow),
		NetLiquidity:    o.NetLiquidity.InexactFloat64(),
	}
}

func optional(d decimal.NullDecimal) *float64 {
	if !d.Valid {
		return nil
	}
	v := d.Decimal.InexactFloat64()
	return &v
}

// LiquidityHandler serves the liquidity read endpoints.
type LiquidityHandler struct {
	query *service.QueryService
}

// NewLiquidityHandler creates a LiquidityHandler.
func NewLiquidityHandler(query *service.QueryService) *LiquidityHandler {
	return &LiquidityHandler{query: query}
}

// List godoc
// GET /api/liquidity?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD
func (h *LiquidityHandler) List(c *gin.Context) {
	r := liquidity.Range{
		Start: dateParam(c, "startDate"),
		End:   dateParam(c, "endDate"),
	}

	rows, err := h.query.Observations(c.Request.Context(), r)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to fetch liquidity data", err)
		return
	}

	out := make([]ObservationDTO, len(rows))
	for i, row := range rows {
		out[i] = toDTO(row)
	}
	c.JSON(http.StatusOK, out)
}

// Summary godoc
// GET /api/liquidity/summary
func (h *LiquidityHandler) Summary(c *gin.Context) {
	summary, err := h.query.Summary(c.Request.Context())
	if errors.Is(err, service.ErrNoData) {
		respondError(c, http.StatusNotFound, "No liquidity data available", err)
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to fetch liquidity summary", err)
		return
	}

	dto := SummaryDTO{
		Latest:                toDTO(summary.Latest),
		NetLiquidityChange:    optional(summary.NetLiquidityChange),
		NetLiquidityChangePct: optional(summary.NetLiquidityChangePct),
		TotalAssetsChange:     optional(summary.TotalAssetsChange),
	}
	if summary.Previous != nil {
		prev := toDTO(*summary.Previous)
		dto.Previous = &prev
	}
	c.JSON(http.StatusOK, dto)
}

// dateParam reads an optional YYYY-MM-DD query parameter. Malformed values
// are treated as absent.
func dateParam(c *gin.Context, name string) liquidity.Date {
	raw := c.Query(name)
	if raw == "" {
		return liquidity.Date{}
	}
	d, err := liquidity.ParseDate(raw)
	if err != nil {
		return liquidity.Date{}
	}
	return d
}

// respondError writes {"error": msg, "details": cause} with file paths stripped from cause.
func respondError(c *gin.Context, status int, msg string, cause error) {
	_ = c.Error(cause)
	c.AbortWithStatusJSON(status, gin.H{
		"error":   msg,
		"details": storage.Redact(cause.Error()),
	})
}
