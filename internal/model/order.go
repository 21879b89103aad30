package model

import "time"

// Side is the transaction side of an order or trade.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that flattens a position opened with s.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// TradeType returns the lower-case ledger spelling ("buy"/"sell").
func (s Side) TradeType() string {
	if s == SideBuy {
		return "buy"
	}
	return "sell"
}

// Order parameters understood by the broker.
const (
	VarietyNormal     = "NORMAL"
	OrderTypeMarket   = "MARKET"
	ProductIntraday   = "INTRADAY"
	DurationDay       = "DAY"
	OrderStatusPlaced = "PLACED"
	OrderStatusFilled = "FILLED"
)

// OrderRequest is what a session asks the gateway to place.
type OrderRequest struct {
	Instrument  Instrument `json:"instrument"`
	Side        Side       `json:"side"`
	Qty         int64      `json:"qty"`
	OrderType   string     `json:"order_type"`   // MARKET
	ProductType string     `json:"product_type"` // INTRADAY
	Variety     string     `json:"variety"`      // NORMAL
	Duration    string     `json:"duration"`     // DAY
	StopLoss    float64    `json:"stop_loss"`    // 0 when unknown
	RefPrice    float64    `json:"ref_price"`    // last traded price at decision time
}

// NewMarketOrder fills in the intraday market-order defaults.
func NewMarketOrder(inst Instrument, side Side, qty int64, stopLoss, refPrice float64) OrderRequest {
	return OrderRequest{
		Instrument:  inst,
		Side:        side,
		Qty:         qty,
		OrderType:   OrderTypeMarket,
		ProductType: ProductIntraday,
		Variety:     VarietyNormal,
		Duration:    DurationDay,
		StopLoss:    stopLoss,
		RefPrice:    refPrice,
	}
}

// OrderResult is the outcome of placing an order.
type OrderResult struct {
	OrderID   string       `json:"order_id"`
	Status    string       `json:"status"`
	Message   string       `json:"message,omitempty"`
	FillPrice float64      `json:"fill_price,omitempty"`
	Request   OrderRequest `json:"request"`
	PlacedAt  time.Time    `json:"placed_at"`
}

// TradeRecord is one entry/exit pair inside an order group.
type TradeRecord struct {
	GroupID    string     `json:"group_id"`
	Token      string     `json:"token"`
	Side       Side       `json:"side"`
	Qty        int64      `json:"qty"`
	EntryPrice float64    `json:"entry_price"`
	ExitPrice  float64    `json:"exit_price"` // 0 while open
	EntryTime  time.Time  `json:"entry_time"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
}

// Open reports whether the exit has not been recorded yet.
func (t *TradeRecord) Open() bool { return t.ExitTime == nil }

// Counter names the order-group counters the ledger maintains.
type Counter string

const (
	CounterBuy  Counter = "buy_count"
	CounterSell Counter = "sell_count"
)

// CounterFor returns the counter bumped by an entry on side s.
func CounterFor(s Side) Counter {
	if s == SideBuy {
		return CounterBuy
	}
	return CounterSell
}

// StrategyStatus is the coarse status shown for a running strategy.
type StrategyStatus string

const (
	StatusActive StrategyStatus = "active"
	StatusClose  StrategyStatus = "close"
)
