package broker

import (
	"context"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"trendtrader/internal/model"
	"trendtrader/pkg/smartconnect"
)

// Gateway places orders through SmartAPI.
type Gateway struct {
	sess *Session
	now  func() time.Time
}

func NewGateway(sess *Session) *Gateway {
	return &Gateway{sess: sess, now: time.Now}
}

// OrderParams maps a request onto the placeOrder body.
func OrderParams(req model.OrderRequest) smartconnect.OrderParams {
	p := smartconnect.OrderParams{
		Variety:         req.Variety,
		TradingSymbol:   req.Instrument.TradingSymbol,
		SymbolToken:     req.Instrument.Token,
		TransactionType: string(req.Side),
		Exchange:        req.Instrument.Exchange,
		OrderType:       req.OrderType,
		ProductType:     req.ProductType,
		Duration:        req.Duration,
		Quantity:        strconv.FormatInt(req.Qty, 10),
	}
	if req.StopLoss > 0 {
		p.StopLoss = decimal.NewFromFloat(req.StopLoss).StringFixed(2)
	}
	return p
}

func (g *Gateway) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	params := OrderParams(req)
	var id string
	err := g.sess.call(ctx, func() (err error) {
		id, err = g.sess.client.PlaceOrder(ctx, params)
		return err
	})
	if err != nil {
		return model.OrderResult{}, err
	}
	return model.OrderResult{
		OrderID:  id,
		Status:   model.OrderStatusPlaced,
		Request:  req,
		PlacedAt: g.now(),
	}, nil
}
