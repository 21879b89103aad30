package indicator

import (
	"strconv"
	"time"

	"trendtrader/internal/model"
)

// TrendRSI is a Wilder RSI over a higher-timeframe resample of close.
//
// Bars are grouped into buckets of the given interval aligned to IST
// midnight; each bucket's value is its last close. Completed buckets are
// committed to the underlying RSI when a bar lands in a later bucket, and
// the open bucket contributes its latest close via Peek, so the value is
// the higher-timeframe RSI forward-filled to the current bar. Buckets with
// no bars are skipped. A bar belonging to an earlier bucket than the open
// one does not move the trend.
type TrendRSI struct {
	interval time.Duration
	rsi      *RSI
	cur      time.Time
	curClose float64
	have     bool
}

// NewTrendRSI creates a trend RSI of the given length over interval buckets.
func NewTrendRSI(period int, interval time.Duration) *TrendRSI {
	return &TrendRSI{interval: interval, rsi: NewRSI(period)}
}

func (t *TrendRSI) Name() string {
	return "RSI_" + strconv.Itoa(t.rsi.period) + "@" + t.interval.String()
}

func (t *TrendRSI) Update(bar model.Bar) {
	b := t.bucket(bar.TS)
	switch {
	case !t.have:
		t.cur, t.have = b, true
	case b.Equal(t.cur):
	case b.After(t.cur):
		t.rsi.Add(t.curClose)
		t.cur = b
	default:
		return
	}
	t.curClose = bar.Close
}

func (t *TrendRSI) Value() NullFloat {
	if !t.have {
		return None
	}
	return t.rsi.Peek(t.curClose)
}

func (t *TrendRSI) Ready() bool { return t.Value().Valid }

// Buckets returns the number of buckets seen, including the open one.
func (t *TrendRSI) Buckets() int {
	if !t.have {
		return 0
	}
	return t.rsi.Count() + 1
}

func (t *TrendRSI) Reset() {
	t.rsi.Reset()
	t.cur = time.Time{}
	t.curClose = 0
	t.have = false
}

// bucket returns the start of the interval containing ts, counted from
// IST midnight of ts's day.
func (t *TrendRSI) bucket(ts time.Time) time.Time {
	ts = model.ToIST(ts)
	midnight := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, model.IST)
	if t.interval <= 0 {
		return ts
	}
	since := ts.Sub(midnight)
	return midnight.Add(since - since%t.interval)
}
