// Package stream keeps the last traded price of every subscribed
// instrument from the SmartAPI websocket feed and serves it as the
// session's LatestPrice, falling back to a polling source when the feed is
// silent.
package stream

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"trendtrader/internal/metrics"
	"trendtrader/internal/model"
	"trendtrader/pkg/smartconnect"
)

// exchangeTypeToName maps Angel One WS exchange_type ints to exchange names.
var exchangeTypeToName = map[int]string{
	1:  "NSE",
	2:  "NFO",
	3:  "BSE",
	4:  "BFO",
	5:  "MCX",
	7:  "NCX",
	13: "CDS",
}

type quote struct {
	price float64
	ts    time.Time
}

// Feed is an LTP cache in front of a MarketDataSource. Bars always come
// from the fallback; prices come from the stream while they are fresh.
type Feed struct {
	fallback model.MarketDataSource
	maxAge   time.Duration
	now      func() time.Time

	metrics *metrics.Metrics
	health  *metrics.HealthStatus

	mu     sync.RWMutex
	quotes map[string]quote // exchange:token
}

// NewFeed returns a feed whose cached prices expire after maxAge.
func NewFeed(fallback model.MarketDataSource, maxAge time.Duration, m *metrics.Metrics, h *metrics.HealthStatus) *Feed {
	return &Feed{
		fallback: fallback,
		maxAge:   maxAge,
		now:      time.Now,
		metrics:  m,
		health:   h,
		quotes:   make(map[string]quote),
	}
}

// OnTick records a stream packet. Wire it to smartconnect.Stream.OnTick.
func (f *Feed) OnTick(t smartconnect.Tick) {
	exchange := exchangeTypeToName[t.ExchangeType]
	if exchange == "" {
		exchange = fmt.Sprintf("EX_%d", t.ExchangeType)
	}
	ts := t.ExchangeTime
	if ts.IsZero() || ts.Unix() <= 0 {
		ts = f.now()
	}
	f.mu.Lock()
	f.quotes[exchange+":"+t.Token] = quote{price: t.LTP, ts: ts}
	f.mu.Unlock()

	if f.metrics != nil {
		f.metrics.StreamTicks.Inc()
	}
	if f.health != nil {
		f.health.SetLastPriceTime(ts)
	}
}

// OnState tracks stream connectivity for health and metrics.
func (f *Feed) OnState(connected bool) {
	if f.health != nil {
		f.health.SetStreamConnected(connected)
	}
	if !connected && f.metrics != nil {
		f.metrics.StreamReconnects.Inc()
	}
}

// Quote returns the cached price of inst and whether it is fresh.
func (f *Feed) Quote(inst model.Instrument) (time.Time, float64, bool) {
	f.mu.RLock()
	q, ok := f.quotes[inst.Key()]
	f.mu.RUnlock()
	if !ok || q.price <= 0 {
		return time.Time{}, 0, false
	}
	if f.maxAge > 0 && f.now().Sub(q.ts) > f.maxAge {
		return q.ts, q.price, false
	}
	return q.ts, q.price, true
}

func (f *Feed) LatestPrice(ctx context.Context, inst model.Instrument) (time.Time, float64, error) {
	if ts, price, ok := f.Quote(inst); ok {
		return ts, price, nil
	}
	if f.fallback == nil {
		return time.Time{}, 0, &model.StaleDataError{Instrument: inst.Key(), Detail: "no streamed price"}
	}
	return f.fallback.LatestPrice(ctx, inst)
}

func (f *Feed) LatestBar(ctx context.Context, inst model.Instrument) (model.Bar, error) {
	return f.fallback.LatestBar(ctx, inst)
}

func (f *Feed) Historical(ctx context.Context, inst model.Instrument, from, to time.Time) ([]model.Bar, error) {
	return f.fallback.Historical(ctx, inst, from, to)
}

// Subscribe registers every instrument with the stream.
func Subscribe(s *smartconnect.Stream, insts []model.Instrument) error {
	for _, inst := range insts {
		code, ok := smartconnect.ExchangeType(inst.Exchange)
		if !ok {
			return fmt.Errorf("stream: unsupported exchange %q for %s", inst.Exchange, inst.Key())
		}
		if err := s.Subscribe(code, inst.Token); err != nil {
			return err
		}
	}
	log.Printf("[stream] subscribed %d instruments", len(insts))
	return nil
}
