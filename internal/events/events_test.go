package events

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"trendtrader/internal/model"
)

type recorder struct {
	mu  sync.Mutex
	got []model.TradeEvent
	err error
}

func (r *recorder) PublishTrade(_ context.Context, ev model.TradeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, ev)
	return r.err
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestFanOut_BroadcastsToAll(t *testing.T) {
	fo := NewFanOut(10)
	a, b := &recorder{}, &recorder{}
	fo.Add("a", a)
	fo.Add("b", b)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { fo.Run(ctx); close(done) }()

	if err := fo.PublishTrade(ctx, model.TradeEvent{GroupID: "g-1", Signal: "BUY"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return a.count() == 1 && b.count() == 1 })

	cancel()
	<-done
}

func TestFanOut_DropsWhenFull(t *testing.T) {
	fo := NewFanOut(1)
	fo.Add("slow", &recorder{})
	var dropped []string
	fo.OnDrop = func(name string) { dropped = append(dropped, name) }

	// Run not started, so the single slot fills
	fo.PublishTrade(context.Background(), model.TradeEvent{GroupID: "1"})
	fo.PublishTrade(context.Background(), model.TradeEvent{GroupID: "2"})

	if len(dropped) != 1 || dropped[0] != "slow" {
		t.Errorf("dropped = %v, want [slow]", dropped)
	}
	if st := fo.Stats(); st[0].Len != 1 || st[0].Cap != 1 {
		t.Errorf("stats = %+v", st)
	}
}

func TestFanOut_ReportStats(t *testing.T) {
	fo := NewFanOut(4)
	fo.Add("r", &recorder{})
	fo.PublishTrade(context.Background(), model.TradeEvent{GroupID: "1"})

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan QueueStat, 1)
	done := make(chan struct{})
	go func() {
		fo.ReportStats(ctx, time.Millisecond, func(st QueueStat) {
			select {
			case got <- st:
			default:
			}
		})
		close(done)
	}()

	select {
	case st := <-got:
		if st.Name != "r" || st.Len != 1 || st.Cap != 4 {
			t.Errorf("stat = %+v", st)
		}
	case <-time.After(time.Second):
		t.Fatal("no stats reported")
	}
	cancel()
	<-done
}

func TestFanOut_FlushesOnCancel(t *testing.T) {
	fo := NewFanOut(10)
	r := &recorder{}
	fo.Add("r", r)
	for i := 0; i < 3; i++ {
		fo.PublishTrade(context.Background(), model.TradeEvent{GroupID: "g"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fo.Run(ctx)

	if r.count() != 3 {
		t.Errorf("delivered %d, want 3", r.count())
	}
}

func TestFanOut_ReportsSinkErrors(t *testing.T) {
	fo := NewFanOut(10)
	fo.Add("bad", &recorder{err: errors.New("down")})
	var mu sync.Mutex
	var failed []string
	fo.OnError = func(name string, err error) {
		mu.Lock()
		failed = append(failed, name)
		mu.Unlock()
	}
	fo.PublishTrade(context.Background(), model.TradeEvent{GroupID: "g"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fo.Run(ctx)

	if len(failed) != 1 {
		t.Errorf("OnError calls = %d, want 1", len(failed))
	}
}

func TestRoutingKey(t *testing.T) {
	got := RoutingKey(model.TradeEvent{Signal: "EXIT_LONG", Instrument: "NSE:3045"})
	if got != "trade.exit_long.NSE.3045" {
		t.Errorf("RoutingKey = %q", got)
	}
	if got := RoutingKey(model.TradeEvent{Instrument: "NSE:1"}); got != "trade.unknown.NSE.1" {
		t.Errorf("RoutingKey = %q", got)
	}
}

func TestAMQPPublisher_Publish(t *testing.T) {
	uri := os.Getenv("TEST_AMQP_URI")
	if uri == "" {
		t.Skip("TEST_AMQP_URI not set")
	}
	p, err := NewAMQPPublisher(uri, "trendtrader.test")
	if err != nil {
		t.Fatalf("NewAMQPPublisher: %v", err)
	}
	defer p.Close()

	ev := model.TradeEvent{GroupID: "g-1", Instrument: "NSE:3045", Signal: "BUY", Side: model.SideBuy, Qty: 10, Price: 250, TS: time.Now()}
	if err := p.PublishTrade(context.Background(), ev); err != nil {
		t.Fatalf("PublishTrade: %v", err)
	}
}
