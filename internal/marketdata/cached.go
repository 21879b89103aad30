// Package marketdata holds decorators over model.MarketDataSource.
package marketdata

import (
	"context"
	"errors"
	"log"
	"time"

	"trendtrader/internal/model"
)

// BarStore persists bars by instrument and timeframe.
type BarStore interface {
	SaveBars(ctx context.Context, inst model.Instrument, tf time.Duration, bars []model.Bar) error
	ReadBars(ctx context.Context, inst model.Instrument, tf time.Duration, from, to time.Time) ([]model.Bar, error)
}

// Cached saves every successful Historical read into Store and serves
// from Store when the source fails. Prices and latest bars always come
// from the source.
type Cached struct {
	model.MarketDataSource
	Store BarStore
	TF    time.Duration
}

func NewCached(src model.MarketDataSource, store BarStore, tf time.Duration) *Cached {
	return &Cached{MarketDataSource: src, Store: store, TF: tf}
}

func (c *Cached) Historical(ctx context.Context, inst model.Instrument, from, to time.Time) ([]model.Bar, error) {
	bars, err := c.MarketDataSource.Historical(ctx, inst, from, to)
	if err == nil {
		if serr := c.Store.SaveBars(ctx, inst, c.TF, bars); serr != nil {
			log.Printf("[marketdata] cache save %s: %v", inst.Key(), serr)
		}
		return bars, nil
	}
	if errors.Is(err, context.Canceled) {
		return nil, err
	}

	cached, cerr := c.Store.ReadBars(ctx, inst, c.TF, from, to)
	if cerr != nil || len(cached) == 0 {
		return nil, err
	}
	log.Printf("[marketdata] source failed for %s (%v), serving %d cached bars", inst.Key(), err, len(cached))
	return cached, nil
}
