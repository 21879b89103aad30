package indicator

import (
	"strconv"

	"trendtrader/internal/model"
)

// ATR is the rolling mean of true range over period bars, scaled by a
// multiplier. The first bar's true range is high-low.
type ATR struct {
	period    int
	mult      float64
	mean      *Mean
	prevClose float64
	hasPrev   bool
}

// NewATR creates an ATR with the given length and multiplier.
func NewATR(period int, mult float64) *ATR {
	return &ATR{
		period: period,
		mult:   mult,
		mean:   NewMean(period),
	}
}

func (a *ATR) Name() string { return "ATR_" + strconv.Itoa(a.period) }

func (a *ATR) Update(bar model.Bar) {
	a.mean.Add(bar.TrueRange(a.prevClose, a.hasPrev))
	a.prevClose = bar.Close
	a.hasPrev = true
}

func (a *ATR) Value() NullFloat {
	v := a.mean.Value()
	if !v.Valid {
		return None
	}
	return Some(v.Float64 * a.mult)
}

func (a *ATR) Ready() bool { return a.mean.Ready() }

func (a *ATR) Reset() {
	a.mean.Reset()
	a.prevClose = 0
	a.hasPrev = false
}
