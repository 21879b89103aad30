package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendtrader/config"
	"trendtrader/internal/broker"
	"trendtrader/internal/model"
	"trendtrader/internal/session"
)

func sessionFor(symbol, user string) session.Config {
	cfg := session.DefaultConfig(model.Instrument{Exchange: "NSE", Token: symbol, TradingSymbol: symbol})
	cfg.User = user
	return cfg
}

func TestAccountCredentials_RoutesEachSessionToItsUser(t *testing.T) {
	file := &config.StrategyFile{Users: []broker.Credentials{
		{APIKey: "k1", ClientCode: "A1", PIN: "1", TOTPSecret: "JBSWY3DPEHPK3PXP"},
		{APIKey: "k2", ClientCode: "B2", PIN: "2", TOTPSecret: "JBSWY3DPEHPK3PXP"},
	}}
	sessions := []session.Config{sessionFor("1", "A1"), sessionFor("2", "B2"), sessionFor("3", "A1")}

	got, err := accountCredentials(sessions, file, broker.Credentials{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "k1", got["A1"].APIKey)
	assert.Equal(t, "k2", got["B2"].APIKey)

	assert.Len(t, instrumentsOf(sessions, "A1"), 2)
	assert.Len(t, instrumentsOf(sessions, "B2"), 1)
	assert.Equal(t, []string{"A1", "B2"}, sortedKeys(got))
}

func TestAccountCredentials_EnvAccount(t *testing.T) {
	env := broker.Credentials{APIKey: "env", ClientCode: "E1"}
	sessions := []session.Config{sessionFor("1", ""), sessionFor("2", "E1")}

	got, err := accountCredentials(sessions, &config.StrategyFile{}, env)
	require.NoError(t, err)
	assert.Equal(t, map[string]broker.Credentials{"E1": env}, got)
	assert.Equal(t, "E1", sessions[0].User, "unbound session takes the env user")
}

func TestAccountCredentials_UnknownUser(t *testing.T) {
	sessions := []session.Config{sessionFor("1", "Z9")}
	_, err := accountCredentials(sessions, nil, broker.Credentials{ClientCode: "E1"})
	assert.ErrorContains(t, err, `"Z9"`)
}
