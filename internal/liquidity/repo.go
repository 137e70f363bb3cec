package liquidity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// RepoRate is one day of repo-market data from the New York Fed. SOFR and
// EFFR are percentages; SRF and ON RRP usage are billions of USD. Any field
// may be absent when the source published nothing for the day.
type RepoRate struct {
	Date         Date
	SOFR         decimal.NullDecimal
	EFFR         decimal.NullDecimal
	SRFUsage     decimal.NullDecimal
	ReverseRepo  decimal.NullDecimal
	IsQuarterEnd bool
	IsMonthEnd   bool
}

// WithCalendarFlags returns r with the month-end and quarter-end flags set from its date.
func (r RepoRate) WithCalendarFlags() RepoRate {
	r.IsMonthEnd = r.Date.IsMonthEnd()
	r.IsQuarterEnd = r.Date.IsQuarterEnd()
	return r
}

// Validate checks the constraints enforced before a repo rate is stored.
func (r RepoRate) Validate() error {
	if r.Date.IsZero() {
		return fmt.Errorf("%w: repo rate date is required", ErrInvalidObservation)
	}
	if r.SRFUsage.Valid && r.SRFUsage.Decimal.IsNegative() {
		return fmt.Errorf("%w: %s srf_usage is negative", ErrInvalidObservation, r.Date)
	}
	if r.ReverseRepo.Valid && r.ReverseRepo.Decimal.IsNegative() {
		return fmt.Errorf("%w: %s onrrp is negative", ErrInvalidObservation, r.Date)
	}
	return nil
}

// Flag renders the calendar flag of r for display: "QTR END", "MONTH END" or "".
func (r RepoRate) Flag() string {
	switch {
	case r.IsQuarterEnd:
		return "QTR END"
	case r.IsMonthEnd:
		return "MONTH END"
	default:
		return ""
	}
}
