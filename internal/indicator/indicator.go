// Package indicator provides incremental technical indicators over bar data
// and the IndicatorSeries that combines them into per-bar rows.
//
// Every indicator is O(1) amortized per update and never rescans history.
// Values are undefined (NullFloat.Valid == false) until the indicator's
// period is satisfied.
package indicator

import (
	"math"

	"trendtrader/internal/model"
)

// Indicator is the interface for all bar-driven indicators.
type Indicator interface {
	// Name returns the indicator name (e.g., "EMA_20", "RSI_14").
	Name() string

	// Update feeds a new bar and recalculates.
	Update(bar model.Bar)

	// Value returns the current value; Valid is false until Ready.
	Value() NullFloat

	// Ready returns true when enough data has been accumulated.
	Ready() bool

	// Reset clears all state for reuse.
	Reset()
}

// NullFloat is a float64 that may be undefined.
type NullFloat struct {
	Float64 float64
	Valid   bool
}

// Some returns a defined NullFloat.
func Some(v float64) NullFloat { return NullFloat{Float64: v, Valid: true} }

// None is the undefined value.
var None = NullFloat{}

// Round rounds a defined value to the given number of decimals.
// places <= 0 leaves the value untouched.
func (n NullFloat) Round(places int) NullFloat {
	if !n.Valid || places <= 0 {
		return n
	}
	return Some(round(n.Float64, places))
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
