package indicator

import (
	"strconv"

	"trendtrader/internal/model"
	"trendtrader/internal/ringbuf"
)

type sample struct {
	seq int
	v   float64
}

// extreme tracks the max (or min) of the last period values with a
// monotonic deque. Each value is pushed and popped at most once, so
// updates are O(1) amortized.
type extreme struct {
	period int
	seq    int
	max    bool
	dq     *ringbuf.Ring[sample]
}

func newExtreme(period int, max bool) extreme {
	return extreme{period: period, max: max, dq: ringbuf.New[sample](period)}
}

// dominates reports whether a makes b irrelevant for the window extreme.
func (e *extreme) dominates(a, b float64) bool {
	if e.max {
		return a >= b
	}
	return a <= b
}

func (e *extreme) add(v float64) {
	for {
		back, ok := e.dq.Back()
		if !ok || !e.dominates(v, back.v) {
			break
		}
		e.dq.PopBack()
	}
	e.seq++
	e.dq.Push(sample{seq: e.seq, v: v})
	for {
		front, _ := e.dq.Front()
		if front.seq > e.seq-e.period {
			break
		}
		e.dq.PopFront()
	}
}

func (e *extreme) value() NullFloat {
	if e.seq < e.period {
		return None
	}
	front, _ := e.dq.Front()
	return Some(front.v)
}

func (e *extreme) reset() {
	e.seq = 0
	e.dq.Reset()
}

// RollingMax is the highest high over the last period bars (swing high).
type RollingMax struct{ e extreme }

// NewRollingMax creates a rolling max of bar highs.
func NewRollingMax(period int) *RollingMax {
	return &RollingMax{e: newExtreme(period, true)}
}

func (r *RollingMax) Name() string         { return "MAX_" + strconv.Itoa(r.e.period) }
func (r *RollingMax) Update(bar model.Bar) { r.e.add(bar.High) }
func (r *RollingMax) Value() NullFloat     { return r.e.value() }
func (r *RollingMax) Ready() bool          { return r.e.seq >= r.e.period }
func (r *RollingMax) Reset()               { r.e.reset() }

// RollingMin is the lowest low over the last period bars (swing low).
type RollingMin struct{ e extreme }

// NewRollingMin creates a rolling min of bar lows.
func NewRollingMin(period int) *RollingMin {
	return &RollingMin{e: newExtreme(period, false)}
}

func (r *RollingMin) Name() string         { return "MIN_" + strconv.Itoa(r.e.period) }
func (r *RollingMin) Update(bar model.Bar) { r.e.add(bar.Low) }
func (r *RollingMin) Value() NullFloat     { return r.e.value() }
func (r *RollingMin) Ready() bool          { return r.e.seq >= r.e.period }
func (r *RollingMin) Reset()               { r.e.reset() }
