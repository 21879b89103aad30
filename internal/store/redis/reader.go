package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trendtrader/internal/metrics"
	"trendtrader/internal/model"
)

// Source is a model.MarketDataSource backed by the keys Publisher writes.
// Every Redis call goes through the circuit breaker; an open breaker
// surfaces as *model.StaleDataError so the session retries.
type Source struct {
	client *goredis.Client
	cb     *CircuitBreaker
	tf     time.Duration
}

// NewSource reads bars of timeframe tf. A nil breaker gets a default one
// (5 failures, 10s reset).
func NewSource(client *goredis.Client, cb *CircuitBreaker, tf time.Duration) *Source {
	if cb == nil {
		cb = NewCircuitBreaker(5, 10*time.Second)
	}
	return &Source{client: client, cb: cb, tf: tf}
}

// Breaker returns the circuit breaker guarding reads.
func (s *Source) Breaker() *CircuitBreaker { return s.cb }

func (s *Source) guard(inst model.Instrument, fn func() error) error {
	err := s.cb.Execute(fn)
	if errors.Is(err, ErrCircuitOpen) {
		return &model.StaleDataError{Instrument: inst.Key(), Detail: "redis circuit open"}
	}
	return err
}

// LatestPrice reads the ltp hash of inst.
func (s *Source) LatestPrice(ctx context.Context, inst model.Instrument) (time.Time, float64, error) {
	var fields map[string]string
	err := s.guard(inst, func() error {
		var err error
		fields, err = s.client.HGetAll(ctx, ltpKey(inst)).Result()
		return err
	})
	if err != nil {
		var sd *model.StaleDataError
		if errors.As(err, &sd) {
			return time.Time{}, 0, err
		}
		return time.Time{}, 0, fmt.Errorf("redis ltp %s: %w", inst.Key(), err)
	}
	if len(fields) == 0 {
		return time.Time{}, 0, &model.StaleDataError{Instrument: inst.Key(), Detail: "no ltp in redis"}
	}

	price, err := strconv.ParseFloat(fields["price"], 64)
	if err != nil || price <= 0 {
		return time.Time{}, 0, &model.StaleDataError{Instrument: inst.Key(), Detail: "bad ltp value " + strconv.Quote(fields["price"])}
	}
	ms, _ := strconv.ParseInt(fields["ts"], 10, 64)
	return time.UnixMilli(ms).In(model.IST), price, nil
}

// LatestBar returns the newest entry of the bar stream.
func (s *Source) LatestBar(ctx context.Context, inst model.Instrument) (model.Bar, error) {
	var msgs []goredis.XMessage
	err := s.guard(inst, func() error {
		var err error
		msgs, err = s.client.XRevRangeN(ctx, barStreamKey(inst, s.tf), "+", "-", 1).Result()
		return err
	})
	if err != nil {
		return model.Bar{}, s.wrap(inst, err)
	}
	bars := decodeBars(msgs)
	if len(bars) == 0 {
		return model.Bar{}, &model.NoDataError{Instrument: inst.Key(), Detail: "latest bar"}
	}
	return bars[0], nil
}

// Historical returns stream entries whose bar timestamps fall in [from, to].
func (s *Source) Historical(ctx context.Context, inst model.Instrument, from, to time.Time) ([]model.Bar, error) {
	var msgs []goredis.XMessage
	err := s.guard(inst, func() error {
		var err error
		msgs, err = s.client.XRange(ctx, barStreamKey(inst, s.tf),
			strconv.FormatInt(from.UnixMilli(), 10), strconv.FormatInt(to.UnixMilli(), 10)).Result()
		return err
	})
	if err != nil {
		return nil, s.wrap(inst, err)
	}
	bars := decodeBars(msgs)
	if len(bars) == 0 {
		return nil, &model.NoDataError{Instrument: inst.Key(), Detail: "historical bars"}
	}
	return bars, nil
}

func (s *Source) wrap(inst model.Instrument, err error) error {
	var sd *model.StaleDataError
	if errors.As(err, &sd) {
		return err
	}
	return fmt.Errorf("redis bars %s: %w", inst.Key(), err)
}

func decodeBars(msgs []goredis.XMessage) []model.Bar {
	out := make([]model.Bar, 0, len(msgs))
	for _, msg := range msgs {
		data, ok := msg.Values["data"].(string)
		if !ok {
			continue
		}
		var b model.Bar
		if err := json.Unmarshal([]byte(data), &b); err != nil {
			log.Printf("[redis] bad bar entry %s: %v", msg.ID, err)
			continue
		}
		out = append(out, b.Normalize())
	}
	return out
}

// WatchBreaker wires breaker transitions into m.
func WatchBreaker(cb *CircuitBreaker, m *metrics.Metrics) {
	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
		if m == nil {
			return
		}
		m.RedisCircuitBreakerState.Set(float64(to))
		if to == StateOpen {
			m.RedisCircuitBreakerTrips.Inc()
		}
	}
}
