package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trendtrader/internal/indicator"
	"trendtrader/internal/metrics"
	"trendtrader/internal/model"
	"trendtrader/internal/notification"
	"trendtrader/internal/strategy"
)

// Config is the per-instrument session configuration.
type Config struct {
	Instrument  model.Instrument `yaml:"instrument"`
	StrategyRef string           `yaml:"strategy_ref"` // strategy activation the order group belongs to
	// User is the client code of the broker account that trades this
	// session.
	User string `yaml:"user"`

	// TradeBudget is the maximum number of entries for the day.
	TradeBudget int `yaml:"trade_budget"`
	// CapitalFraction of available cash committed per entry.
	CapitalFraction float64 `yaml:"capital_fraction"`

	HistoryDays    int           `yaml:"history_days"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RetryBackoff   time.Duration `yaml:"retry_backoff"`
	MaxReadRetries int           `yaml:"max_read_retries"`

	Strategy   strategy.Params  `yaml:"strategy"`
	Indicators indicator.Config `yaml:"indicators"`
}

// DefaultConfig returns the live defaults for inst.
func DefaultConfig(inst model.Instrument) Config {
	return Config{
		Instrument:      inst,
		TradeBudget:     1,
		CapitalFraction: 0.65,
		HistoryDays:     10,
		PollInterval:    2 * time.Second,
		RetryBackoff:    2 * time.Second,
		MaxReadRetries:  5,
		Strategy:        strategy.DefaultParams(),
		Indicators:      indicator.DefaultConfig(),
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Instrument.Token == "" || c.Instrument.Exchange == "" {
		errs = append(errs, errors.New("instrument token and exchange are required"))
	}
	if c.TradeBudget < 0 {
		errs = append(errs, fmt.Errorf("trade_budget must be >= 0, got %d", c.TradeBudget))
	}
	if c.CapitalFraction <= 0 || c.CapitalFraction > 1 {
		errs = append(errs, fmt.Errorf("capital_fraction must be in (0, 1], got %g", c.CapitalFraction))
	}
	if c.HistoryDays < 1 {
		errs = append(errs, fmt.Errorf("history_days must be >= 1, got %d", c.HistoryDays))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be > 0"))
	}
	if c.MaxReadRetries < 0 {
		errs = append(errs, errors.New("max_read_retries must be >= 0"))
	}
	if err := c.Strategy.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Indicators.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Deps are the session's collaborators. Data, Orders, Ledger, Funds and
// Clock are required; the rest are optional.
type Deps struct {
	Data   model.MarketDataSource
	Orders model.OrderGateway
	Ledger model.Ledger
	Funds  model.Funds
	Clock  model.MarketClock

	Events   model.EventPublisher
	Notifier notification.Notifier
	Metrics  *metrics.Metrics
	Health   *metrics.HealthStatus
	Logger   *slog.Logger

	// Now and Sleep default to the wall clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
	// NewGroupID defaults to a random UUID.
	NewGroupID func() string
}

func (d *Deps) validate() error {
	var missing []string
	if d.Data == nil {
		missing = append(missing, "Data")
	}
	if d.Orders == nil {
		missing = append(missing, "Orders")
	}
	if d.Ledger == nil {
		missing = append(missing, "Ledger")
	}
	if d.Funds == nil {
		missing = append(missing, "Funds")
	}
	if d.Clock == nil {
		missing = append(missing, "Clock")
	}
	if len(missing) > 0 {
		return fmt.Errorf("session deps missing: %v", missing)
	}
	return nil
}

func (d *Deps) defaults() {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = sleepCtx
	}
	if d.NewGroupID == nil {
		d.NewGroupID = uuid.NewString
	}
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
