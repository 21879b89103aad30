package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"trendtrader/internal/model"
)

// PaperGateway is a model.OrderGateway that fills every market order at
// the request's reference price adjusted by a fixed slippage. Useful for
// paper trading and tests.
type PaperGateway struct {
	mu       sync.Mutex
	fills    []model.OrderResult
	orderSeq int64
	now      func() time.Time

	// slippageBps is basis points of slippage (e.g., 5 = 0.05%)
	slippageBps int64
}

// NewPaperGateway creates a paper gateway with slippageBps of adverse
// slippage on every fill.
func NewPaperGateway(slippageBps int64) *PaperGateway {
	return &PaperGateway{slippageBps: slippageBps, now: time.Now}
}

func (p *PaperGateway) PlaceOrder(_ context.Context, req model.OrderRequest) (model.OrderResult, error) {
	if req.Qty <= 0 {
		return model.OrderResult{}, fmt.Errorf("paper: quantity must be positive, got %d", req.Qty)
	}
	if req.RefPrice <= 0 {
		return model.OrderResult{}, fmt.Errorf("paper: no reference price for %s", req.Instrument)
	}

	fill := FillPrice(req.Side, req.RefPrice, p.slippageBps)

	p.mu.Lock()
	p.orderSeq++
	res := model.OrderResult{
		OrderID:   fmt.Sprintf("PAPER-%d", p.orderSeq),
		Status:    model.OrderStatusFilled,
		Message:   fmt.Sprintf("paper filled at %.2f", fill),
		FillPrice: fill,
		Request:   req,
		PlacedAt:  p.now(),
	}
	p.fills = append(p.fills, res)
	p.mu.Unlock()

	log.Printf("[paper] %s %s qty=%d ref=%.2f fill=%.2f order=%s",
		req.Side, req.Instrument, req.Qty, req.RefPrice, fill, res.OrderID)
	return res, nil
}

// FillPrice applies slippage against the trader: buys fill higher, sells
// lower. The result is rounded to paise.
func FillPrice(side model.Side, ref float64, slippageBps int64) float64 {
	price := decimal.NewFromFloat(ref)
	slip := price.Mul(decimal.NewFromInt(slippageBps)).Div(decimal.NewFromInt(10000))
	if side == model.SideBuy {
		price = price.Add(slip)
	} else {
		price = price.Sub(slip)
	}
	return price.Round(2).InexactFloat64()
}

// Fills returns a snapshot of all fills.
func (p *PaperGateway) Fills() []model.OrderResult {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]model.OrderResult, len(p.fills))
	copy(cp, p.fills)
	return cp
}

// StaticFunds is a model.Funds reporting a fixed cash balance, for paper
// trading without a broker login.
type StaticFunds float64

func (f StaticFunds) AvailableCash(context.Context) (float64, error) { return float64(f), nil }
