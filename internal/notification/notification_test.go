package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trendtrader/internal/model"
)

type recorder struct {
	got []Alert
	err error
}

func (r *recorder) Send(_ context.Context, a Alert) error {
	r.got = append(r.got, a)
	return r.err
}

func fastRetries(t *testing.T) {
	t.Helper()
	prev := sendBackoff
	sendBackoff = time.Millisecond
	t.Cleanup(func() { sendBackoff = prev })
}

func entryFill() *model.TradeEvent {
	return &model.TradeEvent{
		GroupID:    "g-1",
		Instrument: "NSE:3045",
		Signal:     "BUY_ENTRY",
		Side:       model.SideBuy,
		Qty:        260,
		Price:      250.5,
		StopLoss:   245,
		Target:     261.25,
		OrderID:    "ord-7",
		TS:         time.Date(2026, 10, 15, 10, 5, 0, 0, model.IST),
	}
}

func TestWebhook_PostsAlert(t *testing.T) {
	var payload map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Empty(t, r.Header.Get("Idempotency-Key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{
		Level: AlertCritical, Title: "position abandoned", Message: "cancelled while LONG",
		Instrument: "NSE:3045", GroupID: "g-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "alert", payload["kind"])
	assert.Equal(t, "CRITICAL", payload["level"])
	assert.Equal(t, "NSE:3045", payload["instrument"])
	assert.Equal(t, "g-1", payload["group_id"])
	assert.NotContains(t, payload, "trade")
}

func TestWebhook_TradePayload(t *testing.T) {
	var (
		payload webhookPayload
		key     string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
	}))
	defer srv.Close()

	fill := entryFill()
	n := NewWebhookNotifier(srv.URL)
	n.now = func() time.Time { return fill.TS.Add(time.Second) }
	require.NoError(t, n.Send(context.Background(), Alert{Level: AlertInfo, Title: "BUY_ENTRY", GroupID: "g-1", Trade: fill}))

	assert.Equal(t, "trade", payload.Kind)
	require.NotNil(t, payload.Trade)
	assert.Equal(t, model.SideBuy, payload.Trade.Side)
	assert.Equal(t, int64(260), payload.Trade.Qty)
	assert.Equal(t, 261.25, payload.Trade.Target)
	assert.Equal(t, "ord-7", payload.Trade.OrderID)
	assert.True(t, payload.Trade.FilledAt.Equal(fill.TS))
	assert.True(t, payload.SentAt.Equal(fill.TS.Add(time.Second)))
	assert.True(t, strings.HasPrefix(key, "g-1/BUY_ENTRY/"), key)
}

func TestWebhook_RetriesServerErrors(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	require.NoError(t, NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"}))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhook_Non2xxIsError(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	var serr *statusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, http.StatusBadRequest, serr.Code)
	assert.Equal(t, "bad payload", serr.Detail)
	assert.Equal(t, int32(1), calls.Load(), "client errors are not retried")
}

func TestWebhook_GivesUpAfterAttempts(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewWebhookNotifier(srv.URL).Send(context.Background(), Alert{Title: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
	assert.Equal(t, int32(sendAttempts), calls.Load())
}

func TestTelegram_TradeCard(t *testing.T) {
	var body telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bottok/sendMessage"), r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "42")
	n.baseURL = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{
		Level: AlertInfo, Title: "BUY_ENTRY", Message: "position opened", GroupID: "g-1", Trade: entryFill(),
	}))

	assert.Equal(t, "42", body.ChatID)
	assert.Equal(t, "MarkdownV2", body.ParseMode)
	assert.True(t, body.DisableNotification)
	assert.Contains(t, body.Text, `*BUY\_ENTRY*`)
	assert.Contains(t, body.Text, `BUY 260 @ 250\.50`)
	assert.Contains(t, body.Text, `stop 245\.00 · target 261\.25`)
	assert.Contains(t, body.Text, `order ord\-7`)
	assert.Contains(t, body.Text, `_group g\-1_`)
}

func TestTelegram_CriticalAlertRings(t *testing.T) {
	var body telegramMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "42")
	n.baseURL = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{
		Level: AlertCritical, Title: "position abandoned", Instrument: "SBIN-EQ", Message: "LONG 260 (entry 250.5)",
	}))

	assert.False(t, body.DisableNotification)
	assert.True(t, strings.HasPrefix(body.Text, "🚨 *position abandoned SBIN\\-EQ*"), body.Text)
	assert.Contains(t, body.Text, `LONG 260 \(entry 250\.5\)`)
	assert.NotContains(t, body.Text, "order")
}

func TestTelegram_ThrottledThenSent(t *testing.T) {
	fastRetries(t)
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"ok":false,"description":"Too Many Requests: retry after 0","parameters":{"retry_after":0}}`))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "42")
	n.baseURL = srv.URL
	require.NoError(t, n.Send(context.Background(), Alert{Title: "t"}))
	assert.Equal(t, int32(2), calls.Load())
}

func TestTelegram_ErrorCarriesDescription(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"ok":false,"description":"Bad Request: chat not found"}`))
	}))
	defer srv.Close()

	n := NewTelegramNotifier("tok", "42")
	n.baseURL = srv.URL
	err := n.Send(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
}

func TestMulti_JoinsErrors(t *testing.T) {
	ok, bad := &recorder{}, &recorder{err: errors.New("down")}
	err := Multi{ok, bad}.Send(context.Background(), Alert{Title: "t"})
	require.Error(t, err)
	assert.Len(t, ok.got, 1)
	assert.Len(t, bad.got, 1)
}

func TestMinLevel_Filters(t *testing.T) {
	r := &recorder{}
	n := MinLevel{Level: AlertWarning, Next: r}
	ctx := context.Background()
	require.NoError(t, n.Send(ctx, Alert{Level: AlertInfo}))
	require.NoError(t, n.Send(ctx, Alert{Level: AlertCritical}))
	require.Len(t, r.got, 1)
	assert.Equal(t, AlertCritical, r.got[0].Level)
}

func TestParseLevel(t *testing.T) {
	l, err := ParseLevel(" warning ")
	require.NoError(t, err)
	assert.Equal(t, AlertWarning, l)

	_, err = ParseLevel("loud")
	assert.Error(t, err)
}
