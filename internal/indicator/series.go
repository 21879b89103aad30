package indicator

import (
	"fmt"

	"trendtrader/internal/model"
	"trendtrader/internal/ringbuf"
)

// Row is a bar plus the indicator values computed after it was appended.
type Row struct {
	model.Bar

	EMAFast  NullFloat
	EMAMed   NullFloat
	EMALong  NullFloat
	EMAMacro NullFloat
	RSI      NullFloat
	ATR      NullFloat

	SwingHigh NullFloat
	SwingLow  NullFloat

	InSession bool

	RSITrend     NullFloat
	IsLongTrend  bool
	IsShortTrend bool
}

// Series maintains the rolling bar buffer and derived indicator rows for
// one instrument. Not safe for concurrent use; a series is owned by a
// single trade session.
type Series struct {
	cfg Config

	emaFast  *EMA
	emaMed   *EMA
	emaLong  *EMA
	emaMacro *EMA
	rsi      *RSI
	atr      *ATR
	swingHi  *RollingMax
	swingLo  *RollingMin
	trend    *TrendRSI
	all      []Indicator

	rows     *ringbuf.Ring[Row]
	appended int
}

// NewSeries creates an empty series. Call Initialize before Append.
func NewSeries(cfg Config) (*Series, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("indicator config: %w", err)
	}
	s := &Series{
		cfg:      cfg,
		emaFast:  NewEMA(cfg.FastSpan),
		emaMed:   NewEMA(cfg.MedSpan),
		emaLong:  NewEMA(cfg.LongSpan),
		emaMacro: NewEMA(cfg.MacroSpan),
		rsi:      NewRSI(cfg.RSILen),
		atr:      NewATR(cfg.ATRLen, cfg.ATRMult),
		swingHi:  NewRollingMax(cfg.SwingLookback),
		swingLo:  NewRollingMin(cfg.SwingLookback),
		trend:    NewTrendRSI(cfg.RSILen, cfg.TrendInterval),
		rows:     ringbuf.New[Row](cfg.retain()),
	}
	s.all = []Indicator{s.emaFast, s.emaMed, s.emaLong, s.emaMacro, s.rsi, s.atr, s.swingHi, s.swingLo, s.trend}
	return s, nil
}

// Config returns the series configuration.
func (s *Series) Config() Config { return s.cfg }

// Initialize discards any state and computes every indicator over bars in
// one pass. It fails with *model.InsufficientHistoryError when bars is
// shorter than the longest indicator window.
func (s *Series) Initialize(bars []model.Bar) error {
	if need := s.cfg.MinHistory(); len(bars) < need {
		return &model.InsufficientHistoryError{Have: len(bars), Need: need}
	}
	s.reset()
	for _, b := range bars {
		s.Append(b)
	}
	return nil
}

// Append advances every indicator by one bar and stores the resulting row.
// O(1) amortized.
func (s *Series) Append(bar model.Bar) {
	bar = bar.Normalize()

	for _, ind := range s.all {
		ind.Update(bar)
	}

	p := s.cfg.Precision
	row := Row{
		Bar:       bar,
		EMAFast:   s.emaFast.Value().Round(p),
		EMAMed:    s.emaMed.Value().Round(p),
		EMALong:   s.emaLong.Value().Round(p),
		EMAMacro:  s.emaMacro.Value().Round(p),
		RSI:       s.rsi.Value().Round(p),
		ATR:       s.atr.Value().Round(p),
		SwingHigh: s.swingHi.Value().Round(p),
		SwingLow:  s.swingLo.Value().Round(p),
		InSession: s.cfg.Session.Contains(bar.TS),
		RSITrend:  s.trend.Value().Round(p),
	}
	if row.RSITrend.Valid {
		row.IsLongTrend = row.RSITrend.Float64 > s.cfg.RSIThreshold
		row.IsShortTrend = row.RSITrend.Float64 < s.cfg.RSIThreshold
	}

	s.rows.Push(row)
	s.appended++
}

// Latest returns the most recently appended row.
func (s *Series) Latest() (Row, bool) { return s.rows.Back() }

// Previous returns the row before Latest.
func (s *Series) Previous() (Row, bool) {
	if s.rows.Len() < 2 {
		return Row{}, false
	}
	return s.rows.At(s.rows.Len() - 2), true
}

// Len returns the total number of bars appended since Initialize.
func (s *Series) Len() int { return s.appended }

// Rows returns the retained rows, oldest first.
func (s *Series) Rows() []Row { return s.rows.Slice() }

// MinLow returns the lowest low over the last n retained rows.
func (s *Series) MinLow(n int) NullFloat {
	return s.scan(n, func(r Row) float64 { return r.Low }, func(a, b float64) bool { return a < b })
}

// MaxHigh returns the highest high over the last n retained rows.
func (s *Series) MaxHigh(n int) NullFloat {
	return s.scan(n, func(r Row) float64 { return r.High }, func(a, b float64) bool { return a > b })
}

func (s *Series) scan(n int, field func(Row) float64, better func(a, b float64) bool) NullFloat {
	size := s.rows.Len()
	if n > size {
		n = size
	}
	if n <= 0 {
		return None
	}
	best := field(s.rows.At(size - 1))
	for i := size - n; i < size-1; i++ {
		if v := field(s.rows.At(i)); better(v, best) {
			best = v
		}
	}
	return Some(best)
}

func (s *Series) reset() {
	for _, ind := range s.all {
		ind.Reset()
	}
	s.rows.Reset()
	s.appended = 0
}
