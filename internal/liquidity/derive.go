// Package liquidity holds the liquidity domain types and the pure derivations
// computed from stored balance-sheet fields.
package liquidity

import (
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// NetLiquidity is total assets minus the Treasury General Account minus reverse repo usage.
func NetLiquidity(totalAssets, tga, reverseRepo decimal.Decimal) decimal.Decimal {
	return totalAssets.Sub(tga).Sub(reverseRepo)
}

// PercentChange returns (current - previous) / previous * 100.
// The result is invalid when previous is zero.
func PercentChange(current, previous decimal.Decimal) decimal.NullDecimal {
	if previous.IsZero() {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(current.Sub(previous).Div(previous).Mul(hundred))
}

// Changes returns the period-over-period percent change of each value against
// its predecessor. The first element never has a change.
func Changes(values []decimal.Decimal) []decimal.NullDecimal {
	out := make([]decimal.NullDecimal, len(values))
	for i := 1; i < len(values); i++ {
		out[i] = PercentChange(values[i], values[i-1])
	}
	return out
}

// Point is an observation enriched with its display-ready derived fields.
// The change fields compare against the preceding observation; the two
// absolute changes are the week-over-week balance sheet and reserves moves.
type Point struct {
	Observation
	NetLiquidityChangePct decimal.NullDecimal
	TotalAssetsChange     decimal.NullDecimal
	ReserveBalancesChange decimal.NullDecimal
}

// Derive recomputes net liquidity for every observation and attaches the
// changes against the preceding observation. Input must be in ascending date order.
func Derive(observations []Observation) []Point {
	points := make([]Point, len(observations))
	nets := make([]decimal.Decimal, len(observations))
	for i, obs := range observations {
		points[i] = Point{Observation: obs.WithNetLiquidity()}
		nets[i] = points[i].NetLiquidity
	}

	for i, pct := range Changes(nets) {
		points[i].NetLiquidityChangePct = pct
		if i == 0 {
			continue
		}
		prev := points[i-1]
		points[i].TotalAssetsChange = decimal.NewNullDecimal(points[i].TotalAssets.Sub(prev.TotalAssets))
		points[i].ReserveBalancesChange = difference(points[i].ReserveBalances, prev.ReserveBalances)
	}
	return points
}

// difference is current - previous, invalid unless both sides are present.
func difference(current, previous decimal.NullDecimal) decimal.NullDecimal {
	if !current.Valid || !previous.Valid {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(current.Decimal.Sub(previous.Decimal))
}

// Summary is the KPI view of the most recent observation.
type Summary struct {
	Latest                Observation
	Previous              *Observation
	NetLiquidityChange    decimal.NullDecimal
	NetLiquidityChangePct decimal.NullDecimal
	TotalAssetsChange     decimal.NullDecimal
}

// Summarize builds a Summary from the latest and, optionally, the preceding observation.
func Summarize(latest Observation, previous *Observation) Summary {
	s := Summary{Latest: latest.WithNetLiquidity()}
	if previous == nil {
		return s
	}
	prev := previous.WithNetLiquidity()
	s.Previous = &prev
	s.NetLiquidityChange = decimal.NewNullDecimal(s.Latest.NetLiquidity.Sub(prev.NetLiquidity))
	s.NetLiquidityChangePct = PercentChange(s.Latest.NetLiquidity, prev.NetLiquidity)
	s.TotalAssetsChange = decimal.NewNullDecimal(s.Latest.TotalAssets.Sub(prev.TotalAssets))
	return s
}
