package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendtrader/internal/markethours"
	"trendtrader/internal/model"
	"trendtrader/internal/strategy"
)

func chdir(t *testing.T, dir string) {
	t.Helper()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(wd) })
}

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir()) // no .env
	for _, k := range []string{"TRADER_MODE", "PRICE_SOURCE", "TRADE_BUDGET", "CAPITAL_FRACTION", "INSTRUMENTS"} {
		t.Setenv(k, "")
	}

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ModePaper, c.Mode)
	assert.Equal(t, "broker", c.PriceSource)
	assert.Equal(t, 1, c.TradeBudget)
	assert.Equal(t, 0.65, c.CapitalFraction)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRADE_BUDGET=3\nANGEL_CLIENT_CODE=A123\n"), 0o600))
	chdir(t, dir)
	t.Setenv("TRADE_BUDGET", "")
	os.Unsetenv("TRADE_BUDGET")
	t.Setenv("ANGEL_CLIENT_CODE", "")
	os.Unsetenv("ANGEL_CLIENT_CODE")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3, c.TradeBudget)
	assert.Equal(t, "A123", c.Credentials().ClientCode)
}

func TestLoad_RejectsBadValues(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("TRADER_MODE", "yolo")
	t.Setenv("PRICE_SOURCE", "redis")
	t.Setenv("REDIS_ADDR", "")
	t.Setenv("CAPITAL_FRACTION", "1.5")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRADER_MODE")
	assert.Contains(t, err.Error(), "REDIS_ADDR")
	assert.Contains(t, err.Error(), "CAPITAL_FRACTION")
}

func TestParseInstruments(t *testing.T) {
	got, err := ParseInstruments("NSE:3045:SBIN-EQ, nse:1594 ,")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SBIN-EQ", got[0].TradingSymbol)
	assert.Equal(t, "NSE:1594", got[1].Key())

	_, err = ParseInstruments(" , ")
	assert.Error(t, err)
	_, err = ParseInstruments("3045")
	assert.Error(t, err)
}

func TestParseStrategies_KeepsDefaults(t *testing.T) {
	f, err := ParseStrategies([]byte(`
users:
  - api_key: k
    client_code: A123
    pin: "1111"
    totp_secret: JBSWY3DPEHPK3PXP
sessions:
  - instrument: {exchange: NSE, token: "3045", symbol: SBIN-EQ}
    strategy_ref: sbin-trend
    trade_budget: 2
    strategy:
      stop_policy: atr
      entry_cutoff: "13:00"
    indicators:
      atr_mult: 2.5
  - instrument: {exchange: NSE, token: "1594"}
`))
	require.NoError(t, err)
	require.Len(t, f.Users, 1)
	require.Len(t, f.Sessions, 2)

	s := f.Sessions[0]
	assert.Equal(t, "sbin-trend", s.StrategyRef)
	assert.Equal(t, 2, s.TradeBudget)
	assert.Equal(t, 0.65, s.CapitalFraction)
	assert.Equal(t, strategy.StopATRMultiple, s.Strategy.Stops)
	assert.Equal(t, markethours.At(13, 0), s.Strategy.EntryCutoff)
	assert.Equal(t, 2.5, s.Indicators.ATRMult)
	assert.Equal(t, 120, s.Indicators.MacroSpan)
	assert.Equal(t, 5*time.Minute, s.Indicators.BarInterval)

	assert.Equal(t, "A123", f.Sessions[0].User, "sole user is the default")
	assert.Equal(t, "NSE:1594", f.Sessions[1].StrategyRef)
	assert.Equal(t, 1, f.Sessions[1].TradeBudget)
}

func TestParseStrategies_Invalid(t *testing.T) {
	_, err := ParseStrategies([]byte(`sessions: []`))
	assert.Error(t, err)

	_, err = ParseStrategies([]byte(`
sessions:
  - instrument: {exchange: NSE, token: "3045"}
    capital_fraction: 2
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capital_fraction")

	_, err = ParseStrategies([]byte(`
users: [{api_key: k}]
sessions:
  - instrument: {exchange: NSE, token: "3045"}
`))
	assert.Error(t, err)
}

func TestSessionsFromEnv(t *testing.T) {
	c := &Config{Instruments: "NSE:3045", AngelClientCode: "A123", TradeBudget: 4, CapitalFraction: 0.5}
	got, err := c.SessionsFromEnv()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "A123", got[0].User)
	assert.Equal(t, 4, got[0].TradeBudget)
	assert.Equal(t, 0.5, got[0].CapitalFraction)
	assert.Equal(t, "NSE:3045", got[0].StrategyRef)
}

func TestParseStrategies_UserBinding(t *testing.T) {
	users := `
users:
  - {api_key: k1, client_code: A1, pin: "1", totp_secret: JBSWY3DPEHPK3PXP}
  - {api_key: k2, client_code: B2, pin: "2", totp_secret: JBSWY3DPEHPK3PXP}
`
	f, err := ParseStrategies([]byte(users + `
sessions:
  - {instrument: {exchange: NSE, token: "3045"}, user: A1}
  - {instrument: {exchange: NSE, token: "1594"}, user: B2}
`))
	require.NoError(t, err)
	assert.Equal(t, "A1", f.Sessions[0].User)
	assert.Equal(t, "B2", f.Sessions[1].User)
	u, ok := f.User("B2")
	require.True(t, ok)
	assert.Equal(t, "k2", u.APIKey)

	_, err = ParseStrategies([]byte(users + `
sessions:
  - {instrument: {exchange: NSE, token: "3045"}, user: C3}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown user "C3"`)

	_, err = ParseStrategies([]byte(users + `
sessions:
  - {instrument: {exchange: NSE, token: "3045"}}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "user is required")

	_, err = ParseStrategies([]byte(`
users:
  - {api_key: k1, client_code: A1, pin: "1", totp_secret: JBSWY3DPEHPK3PXP}
  - {api_key: k2, client_code: A1, pin: "2", totp_secret: JBSWY3DPEHPK3PXP}
sessions:
  - {instrument: {exchange: NSE, token: "3045"}, user: A1}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate client_code")
}

func TestParseHolidays(t *testing.T) {
	days, err := ParseHolidays(" 2026-12-31, ,2027-01-01")
	require.NoError(t, err)
	require.Len(t, days, 2)
	assert.Equal(t, model.IST, days[0].Location())
	assert.Equal(t, time.December, days[0].Month())

	_, err = ParseHolidays("31-12-2026")
	assert.Error(t, err)
}
