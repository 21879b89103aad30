package marketdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendtrader/internal/model"
)

var inst = model.Instrument{Exchange: "NSE", Token: "3045", TradingSymbol: "SBIN-EQ"}

type stubSource struct {
	model.MarketDataSource
	bars []model.Bar
	err  error
}

func (s *stubSource) Historical(context.Context, model.Instrument, time.Time, time.Time) ([]model.Bar, error) {
	return s.bars, s.err
}

type memStore struct {
	saved map[time.Duration][]model.Bar
}

func (m *memStore) SaveBars(_ context.Context, _ model.Instrument, tf time.Duration, bars []model.Bar) error {
	m.saved[tf] = append(m.saved[tf], bars...)
	return nil
}

func (m *memStore) ReadBars(_ context.Context, _ model.Instrument, tf time.Duration, from, to time.Time) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range m.saved[tf] {
		if !b.TS.Before(from) && !b.TS.After(to) {
			out = append(out, b)
		}
	}
	return out, nil
}

func TestCached_SavesThenServesOnFailure(t *testing.T) {
	start := time.Date(2026, 10, 14, 9, 15, 0, 0, model.IST)
	bars := []model.Bar{{TS: start, Close: 1}, {TS: start.Add(5 * time.Minute), Close: 2}}
	src := &stubSource{bars: bars}
	store := &memStore{saved: map[time.Duration][]model.Bar{}}
	c := NewCached(src, store, 5*time.Minute)
	ctx := context.Background()

	got, err := c.Historical(ctx, inst, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, bars, got)
	assert.Len(t, store.saved[5*time.Minute], 2)

	src.bars, src.err = nil, errors.New("broker down")
	got, err = c.Historical(ctx, inst, start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, bars, got)
}

func TestCached_EmptyCacheReturnsSourceError(t *testing.T) {
	srcErr := &model.NoDataError{Instrument: "NSE:3045"}
	c := NewCached(&stubSource{err: srcErr}, &memStore{saved: map[time.Duration][]model.Bar{}}, 5*time.Minute)

	_, err := c.Historical(context.Background(), inst, time.Now().Add(-time.Hour), time.Now())
	assert.ErrorIs(t, err, srcErr)
}
