package strategy

import (
	"fmt"

	"trendtrader/internal/markethours"
)

// StopPolicy selects how stop-loss and target are placed at entry.
type StopPolicy string

const (
	// StopRollingExtreme anchors the target on the recent low (long) or
	// high (short) and the stop on the entry bar's extreme minus ATR.
	StopRollingExtreme StopPolicy = "rolling"
	// StopATRMultiple places the stop ATR away from close and the target
	// RewardRatio times that distance on the other side.
	StopATRMultiple StopPolicy = "atr"
)

// Params configures the signal engine.
type Params struct {
	RSIThreshold float64 `yaml:"rsi_threshold"`

	// ExitCutoff forces an exit on any open position at or after this time.
	ExitCutoff markethours.TimeOfDay `yaml:"exit_cutoff"`
	// EntryCutoff blocks new entries after this time. Zero disables it.
	EntryCutoff markethours.TimeOfDay `yaml:"entry_cutoff"`

	// RequireTrendFilter additionally requires the higher-timeframe trend
	// to agree with the entry direction.
	RequireTrendFilter bool `yaml:"require_trend_filter"`

	Stops           StopPolicy `yaml:"stop_policy"`
	RewardRatio     float64    `yaml:"reward_ratio"`
	ExtremeLookback int        `yaml:"extreme_lookback"`
}

// DefaultParams returns the standard live configuration.
func DefaultParams() Params {
	return Params{
		RSIThreshold:    50,
		ExitCutoff:      markethours.At(14, 25),
		EntryCutoff:     markethours.At(13, 30),
		Stops:           StopRollingExtreme,
		RewardRatio:     2,
		ExtremeLookback: 8,
	}
}

func (p Params) Validate() error {
	switch p.Stops {
	case StopRollingExtreme, StopATRMultiple:
	default:
		return fmt.Errorf("stop_policy %q: want %q or %q", p.Stops, StopRollingExtreme, StopATRMultiple)
	}
	if p.RewardRatio < 0 {
		return fmt.Errorf("reward_ratio must be >= 0, got %g", p.RewardRatio)
	}
	if p.ExtremeLookback < 1 {
		return fmt.Errorf("extreme_lookback must be >= 1, got %d", p.ExtremeLookback)
	}
	return nil
}
