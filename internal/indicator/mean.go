package indicator

import (
	"strconv"

	"trendtrader/internal/model"
	"trendtrader/internal/ringbuf"
)

// Mean calculates a simple moving average over a rolling window of values.
// Backed by a fixed ring; the running sum is adjusted on eviction.
type Mean struct {
	period int
	buf    *ringbuf.Ring[float64]
	sum    float64
}

// NewMean creates a rolling mean with the given window length.
func NewMean(period int) *Mean {
	return &Mean{
		period: period,
		buf:    ringbuf.New[float64](period),
	}
}

func (m *Mean) Name() string { return "SMA_" + strconv.Itoa(m.period) }

func (m *Mean) Update(bar model.Bar) { m.Add(bar.Close) }

// Add feeds a raw value.
func (m *Mean) Add(v float64) {
	if old, evicted := m.buf.Push(v); evicted {
		// Subtract the oldest value being overwritten
		m.sum -= old
	}
	m.sum += v
}

func (m *Mean) Value() NullFloat {
	if !m.Ready() {
		return None
	}
	return Some(m.sum / float64(m.period))
}

func (m *Mean) Ready() bool { return m.buf.Len() >= m.period }

// Reset clears the window for reuse.
func (m *Mean) Reset() {
	m.buf.Reset()
	m.sum = 0
}
