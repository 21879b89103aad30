package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"trendtrader/internal/broker"
	"trendtrader/internal/model"
	"trendtrader/internal/session"
)

// StrategyFile is the YAML layout of STRATEGY_FILE:
//
//	users:
//	  - api_key: ...
//	    client_code: ...
//	    pin: ...
//	    totp_secret: ...
//	sessions:
//	  - instrument: {exchange: NSE, token: "3045", symbol: SBIN-EQ}
//	    user: A123
//	    strategy_ref: sbin-trend
//	    trade_budget: 2
//	    strategy: {stop_policy: atr, entry_cutoff: "13:30"}
//	    indicators: {atr_mult: 2.5}
//
// Keys left out of a session keep session.DefaultConfig values. A session's
// user names a client_code from users; it may be left out when the file
// lists exactly one user, or none (the ANGEL_* env account is used).
type StrategyFile struct {
	Users    []broker.Credentials
	Sessions []session.Config
}

// User returns the credentials with the given client code.
func (f *StrategyFile) User(clientCode string) (broker.Credentials, bool) {
	for _, u := range f.Users {
		if u.ClientCode == clientCode {
			return u, true
		}
	}
	return broker.Credentials{}, false
}

type rawStrategyFile struct {
	Users    []broker.Credentials `yaml:"users"`
	Sessions []yaml.Node          `yaml:"sessions"`
}

// LoadStrategies reads and validates the strategy file at path.
func LoadStrategies(path string) (*StrategyFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy file: %w", err)
	}
	return ParseStrategies(data)
}

// ParseStrategies decodes a strategy file body.
func ParseStrategies(data []byte) (*StrategyFile, error) {
	var raw rawStrategyFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse strategy file: %w", err)
	}
	if len(raw.Sessions) == 0 {
		return nil, errors.New("strategy file has no sessions")
	}

	out := &StrategyFile{Users: raw.Users}
	seen := make(map[string]bool, len(out.Users))
	for i, u := range out.Users {
		if err := u.Validate(); err != nil {
			return nil, fmt.Errorf("user %d: %w", i, err)
		}
		if seen[u.ClientCode] {
			return nil, fmt.Errorf("user %d: duplicate client_code %q", i, u.ClientCode)
		}
		seen[u.ClientCode] = true
	}

	for i, node := range raw.Sessions {
		cfg := session.DefaultConfig(model.Instrument{})
		if err := node.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("session %d: %w", i, err)
		}
		if cfg.StrategyRef == "" {
			cfg.StrategyRef = cfg.Instrument.Key()
		}
		switch {
		case cfg.User == "" && len(out.Users) == 1:
			cfg.User = out.Users[0].ClientCode
		case cfg.User == "" && len(out.Users) > 1:
			return nil, fmt.Errorf("session %d (%s): user is required when several users are listed", i, cfg.Instrument.Key())
		case cfg.User != "" && !seen[cfg.User]:
			return nil, fmt.Errorf("session %d (%s): unknown user %q", i, cfg.Instrument.Key(), cfg.User)
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("session %d (%s): %w", i, cfg.Instrument.Key(), err)
		}
		out.Sessions = append(out.Sessions, cfg)
	}
	return out, nil
}

// SessionsFromEnv builds default session configs for the Instruments list
// with the env-level budget and capital fraction.
func (c *Config) SessionsFromEnv() ([]session.Config, error) {
	insts, err := ParseInstruments(c.Instruments)
	if err != nil {
		return nil, err
	}
	out := make([]session.Config, 0, len(insts))
	for _, inst := range insts {
		cfg := session.DefaultConfig(inst)
		cfg.StrategyRef = inst.Key()
		cfg.User = c.AngelClientCode
		cfg.TradeBudget = c.TradeBudget
		cfg.CapitalFraction = c.CapitalFraction
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", inst.Key(), err)
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Credentials returns the env broker credentials.
func (c *Config) Credentials() broker.Credentials {
	return broker.Credentials{
		APIKey:     c.AngelAPIKey,
		ClientCode: c.AngelClientCode,
		PIN:        c.AngelPIN,
		TOTPSecret: c.AngelTOTPSecret,
	}
}
