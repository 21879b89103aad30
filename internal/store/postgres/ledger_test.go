package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendtrader/internal/model"
)

func testLedger(t *testing.T) *Ledger {
	t.Helper()
	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN not set")
	}
	l, err := Open(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l
}

func TestLedger_RoundTrip(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	group := uuid.NewString()
	inst := model.Instrument{Exchange: "NSE", Token: "3045"}
	entry := time.Date(2026, 10, 15, 10, 5, 0, 0, model.IST)

	require.NoError(t, l.OpenOrderGroup(ctx, group, "strat-pg"))
	require.NoError(t, l.OpenOrderGroup(ctx, group, "strat-pg"))
	require.NoError(t, l.RecordTradeEntry(ctx, group, inst, model.SideSell, 40, 812.349, entry))
	require.NoError(t, l.IncrementCounter(ctx, group, model.CounterSell))
	require.NoError(t, l.SetStrategyStatus(ctx, "strat-pg", model.StatusActive))
	require.NoError(t, l.RecordTradeExit(ctx, group, model.SideSell, 800, entry.Add(time.Hour)))
	assert.Error(t, l.RecordTradeExit(ctx, group, model.SideSell, 799, entry.Add(time.Hour)))

	trades, err := l.Trades(ctx, group)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, model.SideSell, trades[0].Side)
	assert.Equal(t, 812.35, trades[0].EntryPrice)
	assert.Equal(t, 800.0, trades[0].ExitPrice)
	require.NotNil(t, trades[0].ExitTime)
}

func TestLedger_ExitClosesOnlyNewestOpenTrade(t *testing.T) {
	l := testLedger(t)
	ctx := context.Background()
	group := uuid.NewString()
	inst := model.Instrument{Exchange: "NSE", Token: "3045"}
	now := time.Date(2026, 10, 15, 10, 0, 0, 0, model.IST)

	require.NoError(t, l.OpenOrderGroup(ctx, group, "strat-pg"))
	require.NoError(t, l.RecordTradeEntry(ctx, group, inst, model.SideBuy, 10, 100, now))
	require.NoError(t, l.RecordTradeEntry(ctx, group, inst, model.SideBuy, 20, 200, now.Add(time.Hour)))
	require.NoError(t, l.RecordTradeExit(ctx, group, model.SideBuy, 210, now.Add(2*time.Hour)))

	trades, err := l.Trades(ctx, group)
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Nil(t, trades[0].ExitTime)
	assert.Equal(t, 0.0, trades[0].ExitPrice)
	assert.Equal(t, 210.0, trades[1].ExitPrice)
}

func TestLedger_UnknownCounter(t *testing.T) {
	l := &Ledger{}
	assert.Error(t, l.IncrementCounter(context.Background(), "g", model.Counter("x")))
}
