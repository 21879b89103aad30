package model

import (
	"fmt"
	"strings"
)

// Instrument represents a tradeable instrument/symbol.
type Instrument struct {
	Token         string `json:"token" yaml:"token"`
	Exchange      string `json:"exchange" yaml:"exchange"`
	TradingSymbol string `json:"trading_symbol" yaml:"symbol"`
}

// Key returns a unique key for this instrument: "exchange:token".
func (i Instrument) Key() string {
	return i.Exchange + ":" + i.Token
}

func (i Instrument) String() string {
	if i.TradingSymbol != "" {
		return i.TradingSymbol + "(" + i.Key() + ")"
	}
	return i.Key()
}

// ParseInstrument parses "EXCHANGE:TOKEN" or "EXCHANGE:TOKEN:SYMBOL".
func ParseInstrument(s string) (Instrument, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
		return Instrument{}, fmt.Errorf("instrument %q: want EXCHANGE:TOKEN[:SYMBOL]", s)
	}
	inst := Instrument{Exchange: strings.ToUpper(parts[0]), Token: parts[1]}
	if len(parts) == 3 {
		inst.TradingSymbol = parts[2]
	}
	return inst, nil
}
