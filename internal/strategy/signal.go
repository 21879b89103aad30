package strategy

import (
	"fmt"

	"trendtrader/internal/indicator"
	"trendtrader/internal/model"
)

// Signal is the engine's verdict for one evaluation.
type Signal int

const (
	None Signal = iota
	BuyEntry
	SellEntry
	BuyExit
	SellExit
)

func (s Signal) String() string {
	switch s {
	case None:
		return "NONE"
	case BuyEntry:
		return "BUY_ENTRY"
	case SellEntry:
		return "SELL_ENTRY"
	case BuyExit:
		return "BUY_EXIT"
	case SellExit:
		return "SELL_EXIT"
	}
	return fmt.Sprintf("Signal(%d)", int(s))
}

func (s Signal) IsEntry() bool { return s == BuyEntry || s == SellEntry }
func (s Signal) IsExit() bool  { return s == BuyExit || s == SellExit }

// OrderSide is the side of the order that carries out the signal:
// BUY for BuyEntry and SellExit, SELL for SellEntry and BuyExit.
func (s Signal) OrderSide() model.Side {
	if s == SellEntry || s == BuyExit {
		return model.SideSell
	}
	return model.SideBuy
}

// Decision is the result of Evaluate or CheckPrice.
type Decision struct {
	Signal   Signal
	StopLoss indicator.NullFloat
	Target   indicator.NullFloat
	Reason   string
}
