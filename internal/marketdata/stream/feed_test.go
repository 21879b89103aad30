package stream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendtrader/internal/metrics"
	"trendtrader/internal/model"
	"trendtrader/pkg/smartconnect"
)

var sbin = model.Instrument{Exchange: "NSE", Token: "3045"}

type pollSource struct{ calls int }

func (p *pollSource) Historical(context.Context, model.Instrument, time.Time, time.Time) ([]model.Bar, error) {
	return nil, errors.New("unused")
}

func (p *pollSource) LatestPrice(context.Context, model.Instrument) (time.Time, float64, error) {
	p.calls++
	return time.Time{}, 100, nil
}

func (p *pollSource) LatestBar(context.Context, model.Instrument) (model.Bar, error) {
	return model.Bar{Close: 1}, nil
}

func TestFeed_ServesFreshTick(t *testing.T) {
	src := &pollSource{}
	m := metrics.NewMetrics(prometheus.NewRegistry())
	h := metrics.NewHealthStatus()
	f := NewFeed(src, 30*time.Second, m, h)
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, model.IST)
	f.now = func() time.Time { return now }

	f.OnTick(smartconnect.Tick{ExchangeType: smartconnect.NSE_CM, Token: "3045", LTP: 812.35, ExchangeTime: now.Add(-time.Second)})

	_, price, err := f.LatestPrice(context.Background(), sbin)
	require.NoError(t, err)
	assert.Equal(t, 812.35, price)
	assert.Zero(t, src.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamTicks))
}

func TestFeed_FallsBackWhenStale(t *testing.T) {
	src := &pollSource{}
	f := NewFeed(src, 30*time.Second, nil, nil)
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, model.IST)
	f.now = func() time.Time { return now }

	f.OnTick(smartconnect.Tick{ExchangeType: smartconnect.NSE_CM, Token: "3045", LTP: 812.35, ExchangeTime: now.Add(-time.Minute)})

	_, price, err := f.LatestPrice(context.Background(), sbin)
	require.NoError(t, err)
	assert.Equal(t, 100.0, price)
	assert.Equal(t, 1, src.calls)
}

func TestFeed_NoFallbackIsStale(t *testing.T) {
	f := NewFeed(nil, time.Minute, nil, nil)
	_, _, err := f.LatestPrice(context.Background(), sbin)
	var sd *model.StaleDataError
	require.ErrorAs(t, err, &sd)
}

func TestFeed_BarsComeFromFallback(t *testing.T) {
	f := NewFeed(&pollSource{}, time.Minute, nil, nil)
	bar, err := f.LatestBar(context.Background(), sbin)
	require.NoError(t, err)
	assert.Equal(t, 1.0, bar.Close)
}

func TestFeed_OnStateUpdatesHealth(t *testing.T) {
	m := metrics.NewMetrics(prometheus.NewRegistry())
	f := NewFeed(nil, time.Minute, m, metrics.NewHealthStatus())
	f.OnState(true)
	f.OnState(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamReconnects))
}
