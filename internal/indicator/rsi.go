package indicator

import (
	"strconv"

	"trendtrader/internal/model"
)

// RSI calculates the Relative Strength Index using Wilder's smoothing method.
// The first value appears after period+1 prices (SMA seed over the first
// period deltas). Update is O(1) per price.
type RSI struct {
	period    int
	count     int
	prevClose float64
	avgGain   float64 // running sum during the seed phase
	avgLoss   float64
	current   float64
}

// NewRSI creates a new RSI indicator with the given period (typically 14).
func NewRSI(period int) *RSI {
	return &RSI{period: period}
}

func (r *RSI) Name() string { return "RSI_" + strconv.Itoa(r.period) }

func (r *RSI) Update(bar model.Bar) { r.Add(bar.Close) }

// Add feeds a raw price.
func (r *RSI) Add(price float64) {
	r.count++

	if r.count == 1 {
		// First price: record it, no delta yet
		r.prevClose = price
		return
	}

	gain, loss := split(price - r.prevClose)
	r.prevClose = price

	if r.count <= r.period+1 {
		r.avgGain += gain
		r.avgLoss += loss

		if r.count == r.period+1 {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
			r.current = rsiFrom(r.avgGain, r.avgLoss)
		}
		return
	}

	// Wilder's smoothing: avg = (prevAvg * (period-1) + x) / period
	p := float64(r.period)
	r.avgGain = (r.avgGain*(p-1) + gain) / p
	r.avgLoss = (r.avgLoss*(p-1) + loss) / p
	r.current = rsiFrom(r.avgGain, r.avgLoss)
}

func (r *RSI) Value() NullFloat {
	if !r.Ready() {
		return None
	}
	return Some(r.current)
}

func (r *RSI) Ready() bool { return r.count > r.period }

// Count returns how many prices have been added.
func (r *RSI) Count() int { return r.count }

// Peek computes what RSI would be with an additional price without mutating state.
func (r *RSI) Peek(price float64) NullFloat {
	switch {
	case r.count == 0 || r.count+1 < r.period+1:
		return None
	case r.count+1 == r.period+1:
		gain, loss := split(price - r.prevClose)
		p := float64(r.period)
		return Some(rsiFrom((r.avgGain+gain)/p, (r.avgLoss+loss)/p))
	}
	gain, loss := split(price - r.prevClose)
	p := float64(r.period)
	ag := (r.avgGain*(p-1) + gain) / p
	al := (r.avgLoss*(p-1) + loss) / p
	return Some(rsiFrom(ag, al))
}

// Reset clears the RSI state for reuse.
func (r *RSI) Reset() {
	*r = RSI{period: r.period}
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

func rsiFrom(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50.0
		}
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs))
}
