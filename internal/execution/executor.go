// Package execution holds order gateways layered over the broker: a paper
// simulator and a journaling decorator that records every placed order.
package execution

import (
	"context"
	"log"

	"trendtrader/internal/model"
)

// FillRecorder persists placed orders.
type FillRecorder interface {
	RecordFill(ctx context.Context, groupID string, res model.OrderResult) error
}

// Journaled wraps an OrderGateway and journals every successful placement
// under GroupID. Journal failures are logged and never fail the order.
type Journaled struct {
	model.OrderGateway
	Journal FillRecorder
	GroupID string
}

func (j *Journaled) PlaceOrder(ctx context.Context, req model.OrderRequest) (model.OrderResult, error) {
	res, err := j.OrderGateway.PlaceOrder(ctx, req)
	if err != nil {
		return res, err
	}
	if jerr := j.Journal.RecordFill(context.WithoutCancel(ctx), j.GroupID, res); jerr != nil {
		log.Printf("[journal] record %s: %v", res.OrderID, jerr)
	}
	return res, nil
}
