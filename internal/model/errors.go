package model

import (
	"errors"
	"fmt"
)

// InsufficientHistoryError is returned when a series is initialized with
// fewer bars than its longest indicator window. Fatal to session start.
type InsufficientHistoryError struct {
	Have int
	Need int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("insufficient history: have %d bars, need %d", e.Have, e.Need)
}

// NoDataError means the market data source returned nothing for a request.
type NoDataError struct {
	Instrument string
	Detail     string
}

func (e *NoDataError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("no data for %s: %s", e.Instrument, e.Detail)
	}
	return "no data for " + e.Instrument
}

// StaleDataError means no current price reading exists for an instrument.
type StaleDataError struct {
	Instrument string
	Detail     string
}

func (e *StaleDataError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("stale data for %s: %s", e.Instrument, e.Detail)
	}
	return "stale data for " + e.Instrument
}

// OrderGatewayError wraps a failed order placement.
type OrderGatewayError struct {
	Instrument string
	Side       Side
	Err        error
}

func (e *OrderGatewayError) Error() string {
	return fmt.Sprintf("order gateway: %s %s: %v", e.Side, e.Instrument, e.Err)
}

func (e *OrderGatewayError) Unwrap() error { return e.Err }

// LedgerWriteError wraps a failed bookkeeping write.
type LedgerWriteError struct {
	Op      string
	GroupID string
	Err     error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger %s (group %s): %v", e.Op, e.GroupID, e.Err)
}

func (e *LedgerWriteError) Unwrap() error { return e.Err }

// IsRetryableRead reports whether err is a NoDataError or StaleDataError.
func IsRetryableRead(err error) bool {
	var nd *NoDataError
	var sd *StaleDataError
	return errors.As(err, &nd) || errors.As(err, &sd)
}
