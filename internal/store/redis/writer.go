package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trendtrader/internal/model"
)

const (
	defaultLatestTTL = 30 * time.Minute
	// one trading day of 1-minute bars plus buffer
	barStreamMaxLen = 1000
	tradeStreamKey  = "trades"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Connect opens a client and pings the server.
func Connect(ctx context.Context, cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Printf("[redis] connected to %s", cfg.Addr)
	return client, nil
}

// Key layout shared by the publisher and the source.
func ltpKey(inst model.Instrument) string { return "ltp:" + inst.Key() }

func barStreamKey(inst model.Instrument, tf time.Duration) string {
	return fmt.Sprintf("candle:%ds:%s", int(tf.Seconds()), inst.Key())
}

func barLatestKey(inst model.Instrument, tf time.Duration) string {
	return fmt.Sprintf("candle:%ds:latest:%s", int(tf.Seconds()), inst.Key())
}

func tradeChannel(instKey string) string { return "pub:trade:" + instKey }

// streamID makes bar timestamps the stream entry ids so range reads map
// straight onto time ranges.
func streamID(ts time.Time) string { return strconv.FormatInt(ts.UnixMilli(), 10) + "-0" }

// Publisher writes bars, last traded prices and trade events to Redis for
// dashboards and for Source readers in other processes.
type Publisher struct {
	client *goredis.Client
}

func NewPublisher(client *goredis.Client) *Publisher { return &Publisher{client: client} }

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// PublishBar appends bar to the instrument's bar stream and updates the
// latest-bar key. Bars at or before the stream's last id are skipped.
func (p *Publisher) PublishBar(ctx context.Context, inst model.Instrument, tf time.Duration, bar model.Bar) error {
	bar = bar.Normalize()
	data := string(bar.JSON())
	streamKey := barStreamKey(inst, tf)

	err := p.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey,
		ID:     streamID(bar.TS),
		MaxLen: barStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err()
	if err != nil && !isStaleID(err) {
		return fmt.Errorf("xadd %s: %w", streamKey, err)
	}

	pipe := p.client.Pipeline()
	pipe.Set(ctx, barLatestKey(inst, tf), data, defaultLatestTTL)
	pipe.Publish(ctx, "pub:"+streamKey, data)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("bar pipeline %s: %w", inst.Key(), err)
	}
	return nil
}

// isStaleID reports the XADD rejection for an id not above the stream top.
func isStaleID(err error) bool {
	return err != nil && strings.Contains(err.Error(), "equal or smaller than the target stream top item")
}

// SetLTP stores the last traded price of inst.
func (p *Publisher) SetLTP(ctx context.Context, inst model.Instrument, ts time.Time, price float64) error {
	key := ltpKey(inst)
	pipe := p.client.Pipeline()
	pipe.HSet(ctx, key, "price", price, "ts", ts.UnixMilli())
	pipe.Expire(ctx, key, defaultLatestTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set ltp %s: %w", inst.Key(), err)
	}
	return nil
}

// PublishTrade appends ev to the trades stream and publishes it on the
// instrument's trade channel.
func (p *Publisher) PublishTrade(ctx context.Context, ev model.TradeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal trade event: %w", err)
	}
	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: tradeStreamKey,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	})
	pipe.Publish(ctx, tradeChannel(ev.Instrument), string(data))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("trade pipeline %s: %w", ev.GroupID, err)
	}
	return nil
}

// Mirror decorates a MarketDataSource, copying every bar and price it
// returns into Redis. Publish failures are logged and never fail the read.
type Mirror struct {
	model.MarketDataSource
	Pub *Publisher
	TF  time.Duration
}

func (m *Mirror) LatestBar(ctx context.Context, inst model.Instrument) (model.Bar, error) {
	bar, err := m.MarketDataSource.LatestBar(ctx, inst)
	if err != nil {
		return bar, err
	}
	if perr := m.Pub.PublishBar(ctx, inst, m.TF, bar); perr != nil {
		log.Printf("[redis] mirror bar %s: %v", inst.Key(), perr)
	}
	return bar, nil
}

func (m *Mirror) LatestPrice(ctx context.Context, inst model.Instrument) (time.Time, float64, error) {
	ts, price, err := m.MarketDataSource.LatestPrice(ctx, inst)
	if err != nil {
		return ts, price, err
	}
	if perr := m.Pub.SetLTP(ctx, inst, ts, price); perr != nil {
		log.Printf("[redis] mirror ltp %s: %v", inst.Key(), perr)
	}
	return ts, price, nil
}
