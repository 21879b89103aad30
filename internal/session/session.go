// Package session drives one instrument's trading day: it seeds an
// indicator series from history, polls the market data source, feeds new
// bars to the signal engine and carries out entries and exits through the
// order gateway and ledger.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"trendtrader/internal/indicator"
	"trendtrader/internal/logger"
	"trendtrader/internal/model"
	"trendtrader/internal/notification"
	"trendtrader/internal/strategy"
)

// ErrCancelledWithOpenPosition is returned when the session is cancelled
// while holding a position. The position is left with the broker.
var ErrCancelledWithOpenPosition = errors.New("session cancelled with open position")

// evaluator is the part of *strategy.Engine the loop drives.
type evaluator interface {
	Evaluate(rows strategy.Rows, now time.Time) strategy.Decision
	CheckPrice(price float64, now time.Time) strategy.Decision
	State() strategy.State
	Snapshot() strategy.Position
	Restore(p strategy.Position)
}

type openTrade struct {
	side  model.Side
	qty   int64
	price float64
	at    time.Time
}

// Session owns one instrument for one trading day. Sessions share no
// memory; run each in its own goroutine.
type Session struct {
	cfg  Config
	deps Deps
	log  *slog.Logger

	series *indicator.Series
	engine evaluator

	groupID    string
	budget     int
	lastBarTS  time.Time
	lastSignal strategy.Signal
	open       openTrade
}

// New builds a session. The order group id is assigned here.
func New(cfg Config, deps Deps) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("session %s: %w", cfg.Instrument.Key(), err)
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	deps.defaults()

	series, err := indicator.NewSeries(cfg.Indicators)
	if err != nil {
		return nil, err
	}
	groupID := deps.NewGroupID()
	log := deps.Logger.With(
		slog.String("instrument", cfg.Instrument.Key()),
		slog.String("group_id", groupID),
	)
	return &Session{
		cfg:     cfg,
		deps:    deps,
		log:     log,
		series:  series,
		engine:  strategy.NewEngine(cfg.Strategy, log.With(slog.String("component", "strategy"))),
		groupID: groupID,
		budget:  cfg.TradeBudget,
	}, nil
}

func (s *Session) GroupID() string              { return s.groupID }
func (s *Session) Instrument() model.Instrument { return s.cfg.Instrument }
func (s *Session) Budget() int                  { return s.budget }
func (s *Session) State() strategy.State        { return s.engine.State() }

// Run loops while entries remain and the market is open, or while a
// position is held. It returns nil when the day's work is done or the
// context is cancelled with no position, ErrCancelledWithOpenPosition when
// cancelled while holding one, and any fatal error otherwise.
func (s *Session) Run(ctx context.Context) (err error) {
	start := s.deps.Now()
	ctx = logger.WithTraceID(ctx, logger.GenerateTraceID(s.cfg.Instrument.Token, start))
	s.log = s.log.With(logger.LogWithTrace(ctx)...)

	s.deps.Metrics.SessionStarted()
	if s.deps.Health != nil {
		s.deps.Health.AddActiveSessions(1)
		defer s.deps.Health.AddActiveSessions(-1)
	}
	defer func() { s.deps.Metrics.SessionEnded(resultLabel(err)) }()

	if err := s.bootstrap(ctx, start); err != nil {
		s.log.Error("session start failed", "error", err)
		return err
	}
	s.log.Info("session started",
		"budget", s.budget,
		"bars", s.series.Len(),
		"last_bar", s.lastBarTS,
	)

	for s.budget > 0 || s.positionOpen() {
		if ctx.Err() != nil {
			return s.cancelled(ctx)
		}
		now := s.deps.Now()

		open := s.deps.Clock.IsOpen(now)
		s.deps.Metrics.SetMarketOpen(open)
		if !open && !s.positionOpen() {
			next := s.deps.Clock.NextOpen(now)
			if !sameDay(next, now) {
				s.log.Info("market closed, ending session", "budget_left", s.budget)
				return nil
			}
			s.log.Info("waiting for market open", "opens_at", next)
			_ = s.deps.Sleep(ctx, next.Sub(now))
			continue
		}

		if err := s.tick(ctx, now); err != nil {
			if ctx.Err() != nil {
				continue
			}
			return s.fail(ctx, err)
		}
		_ = s.deps.Sleep(ctx, s.cfg.PollInterval)
	}

	s.log.Info("session complete", "budget_left", s.budget)
	return nil
}

// bootstrap loads history and seeds the indicator series.
func (s *Session) bootstrap(ctx context.Context, now time.Time) error {
	from := now.AddDate(0, 0, -s.cfg.HistoryDays)
	bars, err := s.deps.Data.Historical(ctx, s.cfg.Instrument, from, now)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	if len(bars) == 0 {
		return &model.NoDataError{Instrument: s.cfg.Instrument.Key(), Detail: "empty history"}
	}
	if err := s.series.Initialize(bars); err != nil {
		return err
	}
	if last, ok := s.series.Latest(); ok {
		s.lastBarTS = last.TS
	}
	return nil
}

// tick runs one poll: intrabar exit check on the last traded price, then
// at most one new bar through the series and engine.
func (s *Session) tick(ctx context.Context, now time.Time) error {
	var ltpTS time.Time
	var ltp float64
	if err := s.read(ctx, "latest price", func() (err error) {
		ltpTS, ltp, err = s.deps.Data.LatestPrice(ctx, s.cfg.Instrument)
		return err
	}); err != nil {
		return err
	}
	if s.deps.Health != nil {
		s.deps.Health.SetLastPriceTime(ltpTS)
	}

	if s.positionOpen() {
		snap := s.engine.Snapshot()
		if d := s.engine.CheckPrice(ltp, now); d.Signal.IsExit() {
			s.log.Info("intrabar exit", "ltp", ltp, "reason", d.Reason)
			s.act(ctx, d, snap, ltp, now)
			return nil
		}
	}

	var bar model.Bar
	if err := s.read(ctx, "latest bar", func() (err error) {
		bar, err = s.deps.Data.LatestBar(ctx, s.cfg.Instrument)
		return err
	}); err != nil {
		return err
	}
	bar = bar.Normalize()
	if !bar.TS.After(s.lastBarTS) {
		return nil
	}

	snap := s.engine.Snapshot()
	started := time.Now()
	s.series.Append(bar)
	d := s.engine.Evaluate(s.series, now)
	s.deps.Metrics.Evaluated(time.Since(started))
	s.lastBarTS = bar.TS
	if s.deps.Health != nil {
		s.deps.Health.SetLastBarTime(bar.TS)
	}

	price := ltp
	if price <= 0 {
		price = bar.Close
	}
	s.act(ctx, d, snap, price, now)
	return nil
}

// read calls fn, retrying NoDataError and StaleDataError up to
// MaxReadRetries times with RetryBackoff between attempts.
func (s *Session) read(ctx context.Context, what string, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if !model.IsRetryableRead(err) {
			return fmt.Errorf("%s: %w", what, err)
		}
		if attempt >= s.cfg.MaxReadRetries {
			return fmt.Errorf("%s: giving up after %d retries: %w", what, attempt, err)
		}
		s.deps.Metrics.ReadRetry()
		s.log.Warn("market data read failed, retrying",
			"what", what,
			"attempt", attempt+1,
			"backoff", s.cfg.RetryBackoff,
			"error", err,
		)
		if err := s.deps.Sleep(ctx, s.cfg.RetryBackoff); err != nil {
			return err
		}
	}
}

func (s *Session) act(ctx context.Context, d strategy.Decision, snap strategy.Position, price float64, now time.Time) {
	if d.Signal == strategy.None {
		return
	}
	s.lastSignal = d.Signal
	s.deps.Metrics.Signal(d.Signal.String())

	switch {
	case d.Signal.IsEntry():
		s.enter(ctx, d, snap, price, now)
	case d.Signal.IsExit():
		s.exit(ctx, d, snap, price, now)
	}
}

func (s *Session) enter(ctx context.Context, d strategy.Decision, snap strategy.Position, price float64, now time.Time) {
	side := d.Signal.OrderSide()
	if s.budget <= 0 {
		s.engine.Restore(snap)
		s.log.Info("entry skipped, trade budget exhausted", "signal", d.Signal.String())
		return
	}

	cash, err := s.deps.Funds.AvailableCash(ctx)
	if err != nil {
		s.engine.Restore(snap)
		s.log.Warn("entry skipped, funds unavailable", "signal", d.Signal.String(), "error", err)
		return
	}
	qty := Size(cash, price, s.cfg.CapitalFraction)
	if qty <= 0 {
		s.engine.Restore(snap)
		s.log.Warn("entry skipped, quantity is zero", "cash", cash, "price", price)
		return
	}

	res, err := s.place(ctx, side, qty, d.StopLoss.Float64, price)
	if err != nil {
		s.engine.Restore(snap)
		return
	}

	s.budget--
	fill := fillPrice(res, price)
	s.open = openTrade{side: side, qty: qty, price: fill, at: now}
	s.deps.Metrics.PositionOpened()

	s.record(ctx, "open_order_group", func(ctx context.Context) error {
		return s.deps.Ledger.OpenOrderGroup(ctx, s.groupID, s.cfg.StrategyRef)
	})
	s.record(ctx, "record_trade_entry", func(ctx context.Context) error {
		return s.deps.Ledger.RecordTradeEntry(ctx, s.groupID, s.cfg.Instrument, side, qty, fill, now)
	})
	s.record(ctx, "increment_counter", func(ctx context.Context) error {
		return s.deps.Ledger.IncrementCounter(ctx, s.groupID, model.CounterFor(side))
	})
	s.record(ctx, "set_strategy_status", func(ctx context.Context) error {
		return s.deps.Ledger.SetStrategyStatus(ctx, s.cfg.StrategyRef, model.StatusActive)
	})

	ev := s.tradeEvent(d, side, qty, fill, res.OrderID, now)
	s.publish(ctx, ev)
	s.notify(ctx, notification.AlertInfo, d.Signal.String(), "position opened", &ev)
	s.log.Info("position opened",
		"signal", d.Signal.String(),
		"qty", qty,
		"price", fill,
		"stop_loss", d.StopLoss.Float64,
		"target", d.Target.Float64,
		"order_id", res.OrderID,
		"budget_left", s.budget,
	)
}

func (s *Session) exit(ctx context.Context, d strategy.Decision, snap strategy.Position, price float64, now time.Time) {
	side := d.Signal.OrderSide()
	qty := s.open.qty
	if qty <= 0 {
		s.log.Error("exit signal without a recorded quantity", "signal", d.Signal.String())
		return
	}

	res, err := s.place(ctx, side, qty, d.StopLoss.Float64, price)
	if err != nil {
		// Stay in the position; the exit condition is re-checked next poll.
		s.engine.Restore(snap)
		return
	}

	fill := fillPrice(res, price)
	entry := s.open
	s.open = openTrade{}
	s.deps.Metrics.PositionClosed()

	s.record(ctx, "record_trade_exit", func(ctx context.Context) error {
		return s.deps.Ledger.RecordTradeExit(ctx, s.groupID, entry.side, fill, now)
	})
	s.record(ctx, "set_strategy_status", func(ctx context.Context) error {
		return s.deps.Ledger.SetStrategyStatus(ctx, s.cfg.StrategyRef, model.StatusClose)
	})

	ev := s.tradeEvent(d, side, qty, fill, res.OrderID, now)
	s.publish(ctx, ev)
	s.notify(ctx, notification.AlertInfo, d.Signal.String(),
		fmt.Sprintf("closed (entry %.2f): %s", entry.price, d.Reason), &ev)
	s.log.Info("position closed",
		"signal", d.Signal.String(),
		"qty", qty,
		"entry_price", entry.price,
		"exit_price", fill,
		"reason", d.Reason,
		"order_id", res.OrderID,
	)
}

func (s *Session) place(ctx context.Context, side model.Side, qty int64, stopLoss, price float64) (model.OrderResult, error) {
	req := model.NewMarketOrder(s.cfg.Instrument, side, qty, stopLoss, price)
	res, err := s.deps.Orders.PlaceOrder(ctx, req)
	if err != nil {
		gwErr := &model.OrderGatewayError{Instrument: s.cfg.Instrument.Key(), Side: side, Err: err}
		s.deps.Metrics.Order(string(side), "error")
		s.log.Error("order failed, state rolled back",
			"side", side,
			"qty", qty,
			"state", s.engine.State().String(),
			"error", gwErr,
		)
		return model.OrderResult{}, gwErr
	}
	s.deps.Metrics.Order(string(side), "ok")
	s.log.Info("order placed", "side", side, "qty", qty, "order_id", res.OrderID, "status", res.Status)
	return res, nil
}

// record runs a ledger write. Failures are logged and counted but never
// undo the position transition.
func (s *Session) record(ctx context.Context, op string, fn func(context.Context) error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := fn(wctx); err != nil {
		lerr := &model.LedgerWriteError{Op: op, GroupID: s.groupID, Err: err}
		s.deps.Metrics.LedgerError(op)
		s.log.Error("ledger write failed", "error", lerr)
	}
}

func (s *Session) tradeEvent(d strategy.Decision, side model.Side, qty int64, price float64, orderID string, now time.Time) model.TradeEvent {
	return model.TradeEvent{
		GroupID:    s.groupID,
		Instrument: s.cfg.Instrument.Key(),
		Signal:     d.Signal.String(),
		Side:       side,
		Qty:        qty,
		Price:      price,
		StopLoss:   d.StopLoss.Float64,
		Target:     d.Target.Float64,
		OrderID:    orderID,
		TS:         now,
	}
}

func (s *Session) publish(ctx context.Context, ev model.TradeEvent) {
	if s.deps.Events == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.deps.Events.PublishTrade(pctx, ev); err != nil {
		s.log.Warn("trade event publish failed", "error", err)
	}
}

func (s *Session) notify(ctx context.Context, level notification.AlertLevel, title, msg string, trade *model.TradeEvent) {
	if s.deps.Notifier == nil {
		return
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := s.deps.Notifier.Send(nctx, notification.Alert{
		Level:      level,
		Title:      title,
		Message:    msg,
		Instrument: s.cfg.Instrument.String(),
		GroupID:    s.groupID,
		Trade:      trade,
	})
	if err != nil {
		s.log.Warn("notification failed", "error", err)
	}
}

func (s *Session) cancelled(ctx context.Context) error {
	if !s.positionOpen() {
		s.log.Info("session cancelled", "budget_left", s.budget)
		return nil
	}
	msg := fmt.Sprintf("cancelled while %s %d (entry %.2f at %s); position left open",
		s.engine.State(), s.open.qty, s.open.price, s.open.at.Format("15:04:05"))
	s.notify(ctx, notification.AlertCritical, "position abandoned", msg, nil)
	s.log.Error("session cancelled with open position",
		"state", s.engine.State().String(),
		"qty", s.open.qty,
		"entry_price", s.open.price,
	)
	return fmt.Errorf("%w: %s %s x%d", ErrCancelledWithOpenPosition, s.cfg.Instrument.Key(), s.engine.State(), s.open.qty)
}

func (s *Session) fail(ctx context.Context, err error) error {
	s.log.Error("session aborted",
		"state", s.engine.State().String(),
		"last_signal", s.lastSignal.String(),
		"error", err,
	)
	if s.positionOpen() {
		s.notify(ctx, notification.AlertCritical, "session aborted with open position",
			fmt.Sprintf("%s %d: %v", s.engine.State(), s.open.qty, err), nil)
	}
	return err
}

func (s *Session) positionOpen() bool { return s.engine.State() != strategy.Flat }

func fillPrice(res model.OrderResult, fallback float64) float64 {
	if res.FillPrice > 0 {
		return res.FillPrice
	}
	return fallback
}

func sameDay(a, b time.Time) bool {
	a, b = a.In(model.IST), b.In(model.IST)
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrCancelledWithOpenPosition):
		return "abandoned"
	}
	return "error"
}
