package indicator

import (
	"errors"
	"fmt"
	"time"

	"trendtrader/internal/markethours"
)

// Config holds the indicator parameters for one series.
type Config struct {
	FastSpan  int `yaml:"fast_span"`
	MedSpan   int `yaml:"med_span"`
	LongSpan  int `yaml:"long_span"`
	MacroSpan int `yaml:"macro_span"`

	RSILen       int     `yaml:"rsi_len"`
	RSIThreshold float64 `yaml:"rsi_threshold"`

	ATRLen  int     `yaml:"atr_len"`
	ATRMult float64 `yaml:"atr_mult"`

	SwingLookback   int `yaml:"swing_lookback"`
	ExtremeLookback int `yaml:"extreme_lookback"` // bars scanned for stop/target extremes

	BarInterval   time.Duration `yaml:"bar_interval"`
	TrendInterval time.Duration `yaml:"trend_interval"`

	Session markethours.Window `yaml:"session"`

	// Precision is the number of decimals stored row values are rounded to.
	// Zero disables rounding.
	Precision int `yaml:"precision"`

	// Retain caps how many rows the series keeps. Zero means MinHistory+ExtremeLookback.
	Retain int `yaml:"retain"`
}

// DefaultConfig returns the standard 5/20/63/120 EMA stack on 5-minute bars.
func DefaultConfig() Config {
	return Config{
		FastSpan:        5,
		MedSpan:         20,
		LongSpan:        63,
		MacroSpan:       120,
		RSILen:          14,
		RSIThreshold:    50,
		ATRLen:          14,
		ATRMult:         2.0,
		SwingLookback:   30,
		ExtremeLookback: 8,
		BarInterval:     5 * time.Minute,
		TrendInterval:   30 * time.Minute,
		Session:         markethours.Window{Start: markethours.At(9, 15), End: markethours.At(13, 15)},
		Precision:       2,
	}
}

// Validate checks that every window is usable.
func (c Config) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    int
	}{
		{"fast_span", c.FastSpan},
		{"med_span", c.MedSpan},
		{"long_span", c.LongSpan},
		{"macro_span", c.MacroSpan},
		{"rsi_len", c.RSILen},
		{"atr_len", c.ATRLen},
		{"swing_lookback", c.SwingLookback},
		{"extreme_lookback", c.ExtremeLookback},
	} {
		if f.v < 1 {
			errs = append(errs, fmt.Errorf("%s must be >= 1, got %d", f.name, f.v))
		}
	}
	if c.ATRMult <= 0 {
		errs = append(errs, fmt.Errorf("atr_mult must be > 0, got %g", c.ATRMult))
	}
	if c.BarInterval <= 0 {
		errs = append(errs, errors.New("bar_interval must be > 0"))
	}
	if c.TrendInterval < c.BarInterval {
		errs = append(errs, fmt.Errorf("trend_interval %s shorter than bar_interval %s", c.TrendInterval, c.BarInterval))
	}
	if c.Session.End < c.Session.Start {
		errs = append(errs, fmt.Errorf("session %s ends before it starts", c.Session))
	}
	if c.Precision < 0 {
		errs = append(errs, errors.New("precision must be >= 0"))
	}
	return errors.Join(errs...)
}

// TrendWindow is the number of base bars the higher-timeframe RSI needs
// before its first value: RSILen+1 buckets of TrendInterval.
func (c Config) TrendWindow() int {
	if c.BarInterval <= 0 {
		return 0
	}
	per := int((c.TrendInterval + c.BarInterval - 1) / c.BarInterval)
	return (c.RSILen + 1) * per
}

// MinHistory is the fewest bars Initialize accepts.
func (c Config) MinHistory() int {
	return max(c.MacroSpan, c.TrendWindow(), c.SwingLookback)
}

func (c Config) retain() int {
	if c.Retain > 0 {
		return max(c.Retain, c.ExtremeLookback, 2)
	}
	return c.MinHistory() + c.ExtremeLookback
}
