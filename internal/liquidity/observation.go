package liquidity

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Observation is one day of Federal Reserve balance-sheet data, in billions of USD.
type Observation struct {
	ID              int64
	Date            Date
	TotalAssets     decimal.Decimal
	ReverseRepo     decimal.Decimal
	TGA             decimal.Decimal
	ReserveBalances decimal.NullDecimal
	DiscountWindow  decimal.NullDecimal
	NetLiquidity    decimal.Decimal
}

// ErrInvalidObservation wraps every validation failure.
var ErrInvalidObservation = errors.New("invalid observation")

// Validate checks the field constraints enforced at the storage boundary.
func (o Observation) Validate() error {
	if o.Date.IsZero() {
		return fmt.Errorf("%w: date is required", ErrInvalidObservation)
	}
	if o.TotalAssets.IsNegative() {
		return fmt.Errorf("%w: %s total_assets is negative", ErrInvalidObservation, o.Date)
	}
	if o.ReverseRepo.IsNegative() {
		return fmt.Errorf("%w: %s reverse_repo is negative", ErrInvalidObservation, o.Date)
	}
	if o.TGA.IsNegative() {
		return fmt.Errorf("%w: %s tga is negative", ErrInvalidObservation, o.Date)
	}
	if o.DiscountWindow.Valid && o.DiscountWindow.Decimal.IsNegative() {
		return fmt.Errorf("%w: %s discount_window is negative", ErrInvalidObservation, o.Date)
	}
	return nil
}

// WithNetLiquidity returns o with NetLiquidity recomputed from its inputs.
func (o Observation) WithNetLiquidity() Observation {
	o.NetLiquidity = NetLiquidity(o.TotalAssets, o.TGA, o.ReverseRepo)
	return o
}

// Range is an inclusive calendar-date window. A zero bound is open.
type Range struct {
	Start Date
	End   Date
}

// Inverted reports whether both bounds are set and Start is after End.
func (r Range) Inverted() bool {
	return !r.Start.IsZero() && !r.End.IsZero() && r.Start.After(r.End)
}

// Contains reports whether d falls inside r.
func (r Range) Contains(d Date) bool {
	if !r.Start.IsZero() && d.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && d.After(r.End) {
		return false
	}
	return true
}

func (r Range) String() string {
	start, end := r.Start.String(), r.End.String()
	if start == "" {
		start = "-inf"
	}
	if end == "" {
		end = "+inf"
	}
	return "[" + start + ", " + end + "]"
}
