package model

import (
	"encoding/json"
	"time"
)

// IST is the exchange-local zone every bar timestamp is normalized to.
var IST = time.FixedZone("IST", 5*3600+30*60)

// Bar is one OHLCV candle for a single instrument.
// Prices are rupees as reported by the broker.
type Bar struct {
	TS     time.Time `json:"ts"` // bucket start, IST
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// JSON returns the JSON-encoded bar (ignoring errors for hot-path usage).
func (b *Bar) JSON() []byte {
	out, _ := json.Marshal(b)
	return out
}

// Normalize returns a copy of b with TS expressed in IST.
func (b Bar) Normalize() Bar {
	b.TS = ToIST(b.TS)
	return b
}

// ToIST converts t to IST. t is an instant: a UTC timestamp is shifted to
// IST wall-clock time. Naive wall-clock strings are handled by ParseIST at
// the point they are read.
func ToIST(t time.Time) time.Time { return t.In(IST) }

// ParseIST parses s with layout. A layout without a zone reads s as IST
// wall-clock time; a layout with one keeps the offset and converts.
func ParseIST(layout, s string) (time.Time, error) {
	t, err := time.ParseInLocation(layout, s, IST)
	if err != nil {
		return time.Time{}, err
	}
	return t.In(IST), nil
}

// TrueRange returns max(high-low, |high-prevClose|, |low-prevClose|).
// With no previous close it is high-low.
func (b *Bar) TrueRange(prevClose float64, hasPrev bool) float64 {
	tr := b.High - b.Low
	if !hasPrev {
		return tr
	}
	if d := abs(b.High - prevClose); d > tr {
		tr = d
	}
	if d := abs(b.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
