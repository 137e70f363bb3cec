package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"fed-liquidity/internal/liquidity"
	"fed-liquidity/internal/service"
)

// RepoRateDTO is the wire form of one repo-market day. Rates are percent,
// usage is billions of USD.
type RepoRateDTO struct {
	Date         liquidity.Date `json:"date"`
	SOFR         *float64       `json:"sofr"`
	EFFR         *float64       `json:"effr"`
	SRFUsage     *float64       `json:"srf_usage"`
	ONRRP        *float64       `json:"onrrp"`
	IsQuarterEnd bool           `json:"is_quarter_end"`
	IsMonthEnd   bool           `json:"is_month_end"`
}

// RepoHandler serves the repo-market read endpoint.
type RepoHandler struct {
	repo *service.RepoService
}

// NewRepoHandler creates a RepoHandler.
func NewRepoHandler(repo *service.RepoService) *RepoHandler {
	return &RepoHandler{repo: repo}
}

// List godoc
// GET /api/repo-rates?startDate=YYYY-MM-DD&endDate=YYYY-MM-DD
func (h *RepoHandler) List(c *gin.Context) {
	r := liquidity.Range{
		Start: dateParam(c, "startDate"),
		End:   dateParam(c, "endDate"),
	}

	rates, err := h.repo.List(c.Request.Context(), r)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to fetch repo rates", err)
		return
	}

	out := make([]RepoRateDTO, len(rates))
	for i, rate := range rates {
		out[i] = RepoRateDTO{
			Date:         rate.Date,
			SOFR:         optional(rate.SOFR),
			EFFR:         optional(rate.EFFR),
			SRFUsage:     optional(rate.SRFUsage),
			ONRRP:        optional(rate.ReverseRepo),
			IsQuarterEnd: rate.IsQuarterEnd,
			IsMonthEnd:   rate.IsMonthEnd,
		}
	}
	c.JSON(http.StatusOK, out)
}
