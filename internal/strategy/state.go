package strategy

import (
	"errors"
	"fmt"
	"time"

	"trendtrader/internal/indicator"
	"trendtrader/internal/model"
)

// State is the position state of one instrument.
type State int

const (
	Flat State = iota
	Long
	Short
)

func (s State) String() string {
	switch s {
	case Flat:
		return "FLAT"
	case Long:
		return "LONG"
	case Short:
		return "SHORT"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Side returns the order side that opens this state.
func (s State) Side() model.Side {
	if s == Short {
		return model.SideSell
	}
	return model.SideBuy
}

// ErrIllegalTransition is returned for a direct LONG↔SHORT flip or a
// transition to the current state.
var ErrIllegalTransition = errors.New("illegal position transition")

// Transition records one state change.
type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason"`
}

// Position is the state machine FLAT → LONG|SHORT → FLAT.
// StopLoss and Target are bound at entry and survive the exit so the exit
// decision carries them; the next evaluation while FLAT clears them.
type Position struct {
	State      State
	StopLoss   indicator.NullFloat
	Target     indicator.NullFloat
	EntryPrice float64
	EnteredAt  time.Time

	history []Transition
}

// Open reports whether a position is held.
func (p Position) Open() bool { return p.State != Flat }

// Transition moves the position to the given state. Only FLAT→LONG,
// FLAT→SHORT, LONG→FLAT and SHORT→FLAT are allowed.
func (p *Position) Transition(to State, at time.Time, reason string) error {
	ok := (p.State == Flat && (to == Long || to == Short)) ||
		(p.State != Flat && to == Flat)
	if !ok {
		return fmt.Errorf("%w: %s → %s", ErrIllegalTransition, p.State, to)
	}
	p.history = append(p.history, Transition{From: p.State, To: to, At: at, Reason: reason})
	p.State = to
	return nil
}

// History returns a copy of every transition so far.
func (p Position) History() []Transition {
	return append([]Transition(nil), p.history...)
}

// clearLevels drops the levels of a closed position.
func (p *Position) clearLevels() {
	if p.State == Flat {
		p.StopLoss = indicator.NullFloat{}
		p.Target = indicator.NullFloat{}
	}
}

func (p Position) clone() Position {
	p.history = append([]Transition(nil), p.history...)
	return p
}
