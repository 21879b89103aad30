// Package notification delivers operator alerts for trading events
// (entries, exits, abandoned positions) to Telegram, webhooks or the log.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"trendtrader/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level      AlertLevel `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message"`
	Instrument string     `json:"instrument,omitempty"`
	GroupID    string     `json:"group_id,omitempty"`

	// Trade is set when the alert reports a filled entry or exit.
	Trade *model.TradeEvent `json:"trade,omitempty"`
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier is a simple notifier that logs alerts (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	if alert.Instrument != "" {
		log.Printf("[notify] [%s] %s (%s): %s", alert.Level, alert.Title, alert.Instrument, alert.Message)
		return nil
	}
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}

// Multi fans an alert out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, alert Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Send(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// MinLevel drops alerts below the given level before passing them on.
type MinLevel struct {
	Level AlertLevel
	Next  Notifier
}

func (m MinLevel) Send(ctx context.Context, alert Alert) error {
	if rank(alert.Level) < rank(m.Level) {
		return nil
	}
	return m.Next.Send(ctx, alert)
}

// ParseLevel reads an alert level name, case-insensitively.
func ParseLevel(s string) (AlertLevel, error) {
	switch l := AlertLevel(strings.ToUpper(strings.TrimSpace(s))); l {
	case AlertInfo, AlertWarning, AlertCritical:
		return l, nil
	}
	return AlertInfo, fmt.Errorf("unknown alert level %q", s)
}

func rank(l AlertLevel) int {
	switch l {
	case AlertWarning:
		return 1
	case AlertCritical:
		return 2
	}
	return 0
}
