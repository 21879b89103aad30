package model

import (
	"context"
	"time"
)

// ── Collaborator Port Interfaces ──
// A trading session only talks to the outside world through these.
// Broker, Redis, SQLite and Postgres adapters each satisfy one or more.

// MarketDataSource supplies bars and last traded prices.
type MarketDataSource interface {
	// Historical returns bars in [from, to] ordered by timestamp.
	// Returns *NoDataError when nothing is available.
	Historical(ctx context.Context, inst Instrument, from, to time.Time) ([]Bar, error)

	// LatestPrice returns the most recent traded price and its timestamp.
	// Returns *StaleDataError when no reading exists.
	LatestPrice(ctx context.Context, inst Instrument) (time.Time, float64, error)

	// LatestBar returns the most recent completed bar.
	LatestBar(ctx context.Context, inst Instrument) (Bar, error)
}

// OrderGateway places orders with a broker (or a simulator).
type OrderGateway interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

// Funds reports spendable cash for sizing.
type Funds interface {
	AvailableCash(ctx context.Context) (float64, error)
}

// Ledger persists order groups and trade records. Implementations must be
// safe for concurrent sessions writing distinct group ids.
type Ledger interface {
	// OpenOrderGroup creates the group row. Idempotent on groupID.
	OpenOrderGroup(ctx context.Context, groupID, strategyRef string) error

	// RecordTradeEntry inserts a new open trade record.
	RecordTradeEntry(ctx context.Context, groupID string, inst Instrument, side Side, qty int64, entryPrice float64, entryTime time.Time) error

	// RecordTradeExit closes the open trade record of groupID on side.
	RecordTradeExit(ctx context.Context, groupID string, side Side, exitPrice float64, exitTime time.Time) error

	// IncrementCounter bumps buy_count or sell_count on the group row.
	IncrementCounter(ctx context.Context, groupID string, field Counter) error

	// SetStrategyStatus marks the strategy activation active or closed.
	SetStrategyStatus(ctx context.Context, strategyRef string, status StrategyStatus) error
}

// TradeReader reads trade records back, for tooling and tests.
type TradeReader interface {
	Trades(ctx context.Context, groupID string) ([]TradeRecord, error)
}

// MarketClock answers market-hours questions for the session loop.
type MarketClock interface {
	IsOpen(t time.Time) bool
	NextOpen(t time.Time) time.Time
}

// TradeEvent is published on every entry and exit.
type TradeEvent struct {
	GroupID    string    `json:"group_id"`
	Instrument string    `json:"instrument"`
	Signal     string    `json:"signal"`
	Side       Side      `json:"side"`
	Qty        int64     `json:"qty"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	Target     float64   `json:"target"`
	OrderID    string    `json:"order_id"`
	TS         time.Time `json:"ts"`
}

// EventPublisher fans trade events out to downstream consumers.
type EventPublisher interface {
	PublishTrade(ctx context.Context, ev TradeEvent) error
}
