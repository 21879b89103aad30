// Package strategy converts indicator rows into entry and exit decisions.
//
// The Engine owns one instrument's Position and evaluates the triple-EMA
// crossover rules against the two newest rows of an indicator series:
// entries only from FLAT, exits only from LONG or SHORT, never a direct
// flip between the two.
package strategy

import (
	"log/slog"
	"math"
	"time"

	"trendtrader/internal/indicator"
	"trendtrader/internal/markethours"
)

// Rows is the read-only view of an indicator series the engine needs.
type Rows interface {
	Latest() (indicator.Row, bool)
	Previous() (indicator.Row, bool)
	MinLow(n int) indicator.NullFloat
	MaxHigh(n int) indicator.NullFloat
}

// Engine evaluates signals for a single instrument. Not safe for
// concurrent use.
type Engine struct {
	params Params
	pos    Position
	log    *slog.Logger
}

// NewEngine creates an engine in the FLAT state. A nil logger uses slog.Default().
func NewEngine(params Params, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{params: params, log: log}
}

func (e *Engine) Params() Params { return e.params }
func (e *Engine) State() State   { return e.pos.State }

// Position returns a copy of the current position.
func (e *Engine) Position() Position { return e.pos.clone() }

// Snapshot captures the position so a transition can be undone when the
// order that should carry it out fails.
func (e *Engine) Snapshot() Position { return e.pos.clone() }

// Restore replaces the position with a snapshot.
func (e *Engine) Restore(p Position) { e.pos = p.clone() }

// Evaluate applies the entry or exit rules to the newest row of rows.
// Missing rows or undefined EMA/RSI values yield None with the current
// stop and target. Levels left over from a closed position are cleared
// first.
func (e *Engine) Evaluate(rows Rows, now time.Time) Decision {
	e.pos.clearLevels()
	last, okLast := rows.Latest()
	prev, okPrev := rows.Previous()
	if !okLast || !okPrev || !complete(last) || !complete(prev) {
		return e.hold("insufficient data")
	}

	switch e.pos.State {
	case Long:
		return e.exitLong(last, now)
	case Short:
		return e.exitShort(last, now)
	}
	return e.entry(rows, prev, last, now)
}

// CheckPrice tests an intrabar traded price against the bound stop and
// target of an open position, and the exit cutoff.
func (e *Engine) CheckPrice(price float64, now time.Time) Decision {
	e.pos.clearLevels()
	stop, target := e.pos.StopLoss, e.pos.Target
	if !e.pos.Open() || !stop.Valid || !target.Valid {
		return e.hold("")
	}

	var reason string
	switch e.pos.State {
	case Long:
		switch {
		case price <= stop.Float64:
			reason = "ltp at or below stop"
		case price >= target.Float64:
			reason = "ltp at or above target"
		}
	case Short:
		switch {
		case price >= stop.Float64:
			reason = "ltp at or above stop"
		case price <= target.Float64:
			reason = "ltp at or below target"
		}
	}
	if reason == "" && e.pastExitCutoff(now) {
		reason = "exit cutoff " + e.params.ExitCutoff.String()
	}
	if reason == "" {
		return e.hold("")
	}
	return e.exit(now, reason)
}

func (e *Engine) entry(rows Rows, prev, last indicator.Row, now time.Time) Decision {
	if e.params.EntryCutoff > 0 && markethours.Of(now) > e.params.EntryCutoff {
		return e.hold("after entry cutoff")
	}
	if e.pastExitCutoff(now) {
		return e.hold("after exit cutoff")
	}

	th := e.params.RSIThreshold
	buy := prev.EMAFast.Float64 <= prev.EMAMed.Float64 &&
		last.EMAFast.Float64 > last.EMAMed.Float64 &&
		last.EMAMed.Float64 > last.EMALong.Float64 &&
		last.EMALong.Float64 > last.EMAMacro.Float64 &&
		last.RSI.Float64 > th &&
		last.InSession &&
		(!e.params.RequireTrendFilter || last.IsLongTrend)
	sell := prev.EMAFast.Float64 >= prev.EMAMed.Float64 &&
		last.EMAFast.Float64 < last.EMAMed.Float64 &&
		last.EMAMed.Float64 < last.EMALong.Float64 &&
		last.EMALong.Float64 < last.EMAMacro.Float64 &&
		last.RSI.Float64 < th &&
		last.InSession &&
		(!e.params.RequireTrendFilter || last.IsShortTrend)

	var to State
	var sig Signal
	switch {
	case buy:
		to, sig = Long, BuyEntry
	case sell:
		to, sig = Short, SellEntry
	default:
		return e.hold("")
	}

	stop, target, ok := e.levels(rows, last, to)
	if !ok {
		return e.hold("levels undefined")
	}
	reason := "ema crossover with stacked trend"
	if err := e.pos.Transition(to, now, reason); err != nil {
		e.log.Error("entry rejected", "error", err)
		return e.hold(err.Error())
	}
	e.pos.StopLoss = indicator.Some(stop)
	e.pos.Target = indicator.Some(target)
	e.pos.EntryPrice = last.Close
	e.pos.EnteredAt = now

	e.log.Info("entry signal",
		"signal", sig.String(),
		"bar", last.TS,
		"close", last.Close,
		"stop_loss", stop,
		"target", target,
		"rsi", last.RSI.Float64,
	)
	return Decision{Signal: sig, StopLoss: e.pos.StopLoss, Target: e.pos.Target, Reason: reason}
}

// levels computes stop and target for an entry into state to.
func (e *Engine) levels(rows Rows, last indicator.Row, to State) (stop, target float64, ok bool) {
	if !last.ATR.Valid {
		return 0, 0, false
	}
	atr, rr := last.ATR.Float64, e.params.RewardRatio

	if e.params.Stops == StopATRMultiple {
		if to == Long {
			stop = last.Close - atr
			return stop, last.Close + math.Abs(last.Close-stop)*rr, true
		}
		stop = last.Close + atr
		return stop, last.Close - math.Abs(stop-last.Close)*rr, true
	}

	if to == Long {
		low := rows.MinLow(e.params.ExtremeLookback)
		if !low.Valid {
			return 0, 0, false
		}
		stop = last.High - atr
		m := low.Float64
		return stop, math.Abs(m + math.Abs(m-stop)*rr), true
	}
	high := rows.MaxHigh(e.params.ExtremeLookback)
	if !high.Valid {
		return 0, 0, false
	}
	stop = last.Low + atr
	m := high.Float64
	return stop, math.Abs(m - math.Abs(m-stop)*rr), true
}

func (e *Engine) exitLong(last indicator.Row, now time.Time) Decision {
	var reason string
	switch {
	case e.pos.StopLoss.Valid && last.Low <= e.pos.StopLoss.Float64:
		reason = "low at or below stop"
	case reached(last.Low, e.pos.Target, last.SwingHigh, math.Min, func(a, b float64) bool { return a >= b }):
		reason = "low at or above target"
	case e.pastExitCutoff(now):
		reason = "exit cutoff " + e.params.ExitCutoff.String()
	default:
		return e.hold("")
	}
	return e.exit(now, reason)
}

func (e *Engine) exitShort(last indicator.Row, now time.Time) Decision {
	var reason string
	switch {
	case e.pos.StopLoss.Valid && last.High >= e.pos.StopLoss.Float64:
		reason = "high at or above stop"
	case reached(last.High, e.pos.Target, last.SwingLow, math.Max, func(a, b float64) bool { return a <= b }):
		reason = "high at or below target"
	case e.pastExitCutoff(now):
		reason = "exit cutoff " + e.params.ExitCutoff.String()
	default:
		return e.hold("")
	}
	return e.exit(now, reason)
}

func (e *Engine) exit(now time.Time, reason string) Decision {
	sig := BuyExit
	if e.pos.State == Short {
		sig = SellExit
	}
	if err := e.pos.Transition(Flat, now, reason); err != nil {
		e.log.Error("exit rejected", "error", err)
		return e.hold(err.Error())
	}
	e.log.Info("exit signal",
		"signal", sig.String(),
		"reason", reason,
		"stop_loss", e.pos.StopLoss.Float64,
		"target", e.pos.Target.Float64,
	)
	return Decision{Signal: sig, StopLoss: e.pos.StopLoss, Target: e.pos.Target, Reason: reason}
}

func (e *Engine) hold(reason string) Decision {
	return Decision{Signal: None, StopLoss: e.pos.StopLoss, Target: e.pos.Target, Reason: reason}
}

func (e *Engine) pastExitCutoff(now time.Time) bool {
	return e.params.ExitCutoff > 0 && markethours.Of(now) >= e.params.ExitCutoff
}

// reached combines target and swing with pick (min for longs, max for
// shorts), ignoring undefined operands, and tests price against it.
func reached(price float64, target, swing indicator.NullFloat, pick func(a, b float64) float64, cmp func(a, b float64) bool) bool {
	var level float64
	switch {
	case target.Valid && swing.Valid:
		level = pick(target.Float64, swing.Float64)
	case target.Valid:
		level = target.Float64
	case swing.Valid:
		level = swing.Float64
	default:
		return false
	}
	return cmp(price, level)
}

func complete(r indicator.Row) bool {
	return r.EMAFast.Valid && r.EMAMed.Valid && r.EMALong.Valid && r.EMAMacro.Valid && r.RSI.Valid
}
