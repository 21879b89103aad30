package execution

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendtrader/internal/model"
)

var inst = model.Instrument{Exchange: "NSE", Token: "3045", TradingSymbol: "SBIN-EQ"}

func TestFillPrice(t *testing.T) {
	assert.Equal(t, 250.13, FillPrice(model.SideBuy, 250, 5))
	assert.Equal(t, 249.88, FillPrice(model.SideSell, 250, 5))
	assert.Equal(t, 250.0, FillPrice(model.SideBuy, 250, 0))
}

func TestPaperGateway_PlaceOrder(t *testing.T) {
	p := NewPaperGateway(10)
	p.now = func() time.Time { return time.Date(2026, 10, 15, 10, 0, 0, 0, model.IST) }

	res, err := p.PlaceOrder(context.Background(), model.NewMarketOrder(inst, model.SideBuy, 260, 245, 250))
	require.NoError(t, err)
	assert.Equal(t, "PAPER-1", res.OrderID)
	assert.Equal(t, model.OrderStatusFilled, res.Status)
	assert.Equal(t, 250.25, res.FillPrice)

	_, err = p.PlaceOrder(context.Background(), model.NewMarketOrder(inst, model.SideSell, 0, 0, 250))
	assert.Error(t, err)
	_, err = p.PlaceOrder(context.Background(), model.NewMarketOrder(inst, model.SideSell, 1, 0, 0))
	assert.Error(t, err)

	assert.Len(t, p.Fills(), 1)
}

func TestJournaled_RecordsSuccessfulOrders(t *testing.T) {
	j, err := NewJournal(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })

	gw := &Journaled{OrderGateway: NewPaperGateway(0), Journal: j, GroupID: "g-1"}
	ctx := context.Background()
	_, err = gw.PlaceOrder(ctx, model.NewMarketOrder(inst, model.SideBuy, 10, 0, 100))
	require.NoError(t, err)
	_, err = gw.PlaceOrder(ctx, model.NewMarketOrder(inst, model.SideSell, 10, 0, 101))
	require.NoError(t, err)

	fills, err := j.Fills(ctx, "g-1")
	require.NoError(t, err)
	require.Len(t, fills, 2)
	assert.Equal(t, "BUY", fills[0].Side)
	assert.Equal(t, 101.0, fills[1].FillPrice)

	other, err := j.Fills(ctx, "g-2")
	require.NoError(t, err)
	assert.Empty(t, other)
}

type failingGateway struct{}

func (failingGateway) PlaceOrder(context.Context, model.OrderRequest) (model.OrderResult, error) {
	return model.OrderResult{}, errors.New("rejected")
}

type countingRecorder struct{ n int }

func (c *countingRecorder) RecordFill(context.Context, string, model.OrderResult) error {
	c.n++
	return nil
}

func TestJournaled_SkipsFailedOrders(t *testing.T) {
	rec := &countingRecorder{}
	gw := &Journaled{OrderGateway: failingGateway{}, Journal: rec}
	_, err := gw.PlaceOrder(context.Background(), model.NewMarketOrder(inst, model.SideBuy, 1, 0, 1))
	assert.Error(t, err)
	assert.Zero(t, rec.n)
}
