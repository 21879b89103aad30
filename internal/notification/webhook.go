package notification

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"trendtrader/internal/model"
)

// WebhookNotifier POSTs alerts as JSON to an operator endpoint. Trade fills
// carry the full event so the receiver can reconcile against its own book.
type WebhookNotifier struct {
	url    string
	client *http.Client
	now    func() time.Time
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// webhookPayload is the body of every webhook POST.
type webhookPayload struct {
	Kind       string     `json:"kind"`
	Level      AlertLevel `json:"level"`
	Title      string     `json:"title"`
	Message    string     `json:"message,omitempty"`
	Instrument string     `json:"instrument,omitempty"`
	GroupID    string     `json:"group_id,omitempty"`
	SentAt     time.Time  `json:"sent_at"`

	Trade *webhookTrade `json:"trade,omitempty"`
}

type webhookTrade struct {
	Signal   string     `json:"signal"`
	Side     model.Side `json:"side"`
	Qty      int64      `json:"qty"`
	Price    float64    `json:"price"`
	StopLoss float64    `json:"stop_loss,omitempty"`
	Target   float64    `json:"target,omitempty"`
	OrderID  string     `json:"order_id,omitempty"`
	FilledAt time.Time  `json:"filled_at"`
}

func (w *WebhookNotifier) payload(a Alert) webhookPayload {
	p := webhookPayload{
		Kind:       "alert",
		Level:      a.Level,
		Title:      a.Title,
		Message:    a.Message,
		Instrument: a.Instrument,
		GroupID:    a.GroupID,
		SentAt:     w.now().In(model.IST),
	}
	if tr := a.Trade; tr != nil {
		p.Kind = "trade"
		p.Trade = &webhookTrade{
			Signal:   tr.Signal,
			Side:     tr.Side,
			Qty:      tr.Qty,
			Price:    tr.Price,
			StopLoss: tr.StopLoss,
			Target:   tr.Target,
			OrderID:  tr.OrderID,
			FilledAt: tr.TS,
		}
	}
	return p
}

func (w *WebhookNotifier) Send(ctx context.Context, alert Alert) error {
	header := http.Header{}
	// a retried trade post keeps its key so the receiver can drop repeats
	if tr := alert.Trade; tr != nil {
		header.Set("Idempotency-Key", fmt.Sprintf("%s/%s/%d", tr.GroupID, tr.Signal, tr.TS.UnixNano()))
	}
	if err := postJSON(ctx, w.client, w.url, header, w.payload(alert), nil); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	log.Printf("[webhook] sent %s alert: %s", alert.Level, alert.Title)
	return nil
}
