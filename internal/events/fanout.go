// Package events delivers trade events to downstream consumers: a
// non-blocking fan-out plus an AMQP publisher.
package events

import (
	"context"
	"log"
	"sync"
	"time"

	"trendtrader/internal/model"
)

type sink struct {
	name string
	pub  model.EventPublisher
	ch   chan model.TradeEvent
}

// FanOut broadcasts trade events to N publishers. Each publisher drains
// its own buffered channel, so a slow or failing sink never blocks the
// session. If a sink's channel is full, the event is dropped for that
// sink.
type FanOut struct {
	mu      sync.RWMutex
	sinks   []*sink
	bufSize int

	// OnDrop is called when an event is dropped for a sink.
	OnDrop func(sink string)
	// OnError is called when a sink fails to publish.
	OnError func(sink string, err error)
}

// NewFanOut creates a FanOut with the given per-sink buffer size.
func NewFanOut(bufferSize int) *FanOut {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &FanOut{bufSize: bufferSize}
}

// Add registers a publisher. Call before Run.
func (f *FanOut) Add(name string, pub model.EventPublisher) {
	f.mu.Lock()
	f.sinks = append(f.sinks, &sink{name: name, pub: pub, ch: make(chan model.TradeEvent, f.bufSize)})
	f.mu.Unlock()
}

// PublishTrade enqueues ev for every sink. It never blocks and always
// returns nil.
func (f *FanOut) PublishTrade(_ context.Context, ev model.TradeEvent) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, s := range f.sinks {
		select {
		case s.ch <- ev:
		default:
			if f.OnDrop != nil {
				f.OnDrop(s.name)
			} else {
				log.Printf("[events] %s queue full, dropping %s event for %s", s.name, ev.Signal, ev.GroupID)
			}
		}
	}
	return nil
}

// Run drains every sink until ctx is cancelled, then flushes what is
// still queued.
func (f *FanOut) Run(ctx context.Context) {
	f.mu.RLock()
	sinks := append([]*sink(nil), f.sinks...)
	f.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sinks {
		wg.Add(1)
		go func(s *sink) {
			defer wg.Done()
			f.drain(ctx, s)
		}(s)
	}
	wg.Wait()
}

func (f *FanOut) drain(ctx context.Context, s *sink) {
	for {
		select {
		case <-ctx.Done():
			fctx := context.WithoutCancel(ctx)
			for {
				select {
				case ev := <-s.ch:
					f.deliver(fctx, s, ev)
				default:
					return
				}
			}
		case ev := <-s.ch:
			f.deliver(ctx, s, ev)
		}
	}
}

func (f *FanOut) deliver(ctx context.Context, s *sink, ev model.TradeEvent) {
	if err := s.pub.PublishTrade(ctx, ev); err != nil {
		if f.OnError != nil {
			f.OnError(s.name, err)
			return
		}
		log.Printf("[events] %s publish %s: %v", s.name, ev.GroupID, err)
	}
}

// QueueStat is the length and capacity of one sink's queue.
type QueueStat struct {
	Name string
	Len  int
	Cap  int
}

// Stats reports queue saturation per sink.
func (f *FanOut) Stats() []QueueStat {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]QueueStat, len(f.sinks))
	for i, s := range f.sinks {
		out[i] = QueueStat{Name: s.name, Len: len(s.ch), Cap: cap(s.ch)}
	}
	return out
}

// ReportStats calls fn with every sink's queue stats each interval until
// ctx is cancelled.
func (f *FanOut) ReportStats(ctx context.Context, every time.Duration, fn func(QueueStat)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, st := range f.Stats() {
				fn(st)
			}
		}
	}
}
