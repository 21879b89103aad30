package redis

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"trendtrader/internal/model"
)

// BufferedPublisher wraps a Publisher with a circuit breaker. While the
// circuit is open, trade events are buffered locally and flushed when the
// circuit closes again.
type BufferedPublisher struct {
	pub *Publisher
	cb  *CircuitBreaker

	mu     sync.Mutex
	buffer []model.TradeEvent
	maxBuf int

	// Callbacks
	OnBuffer func()          // called when an event is buffered
	OnFlush  func(count int) // called after flushing buffered events
}

// NewBufferedPublisher creates a BufferedPublisher. maxBufferSize <= 0
// defaults to 1000 events; when full the oldest event is dropped.
func NewBufferedPublisher(pub *Publisher, cb *CircuitBreaker, maxBufferSize int) *BufferedPublisher {
	if maxBufferSize <= 0 {
		maxBufferSize = 1000
	}
	bp := &BufferedPublisher{
		pub:    pub,
		cb:     cb,
		maxBuf: maxBufferSize,
	}

	prev := cb.OnStateChange
	cb.OnStateChange = func(from, to State) {
		if prev != nil {
			prev(from, to)
		}
		if to == StateClosed {
			go bp.flush()
		}
	}
	return bp
}

// PublishTrade sends ev through the breaker. An open circuit buffers ev
// and returns nil.
func (bp *BufferedPublisher) PublishTrade(ctx context.Context, ev model.TradeEvent) error {
	err := bp.cb.Execute(func() error {
		return bp.pub.PublishTrade(ctx, ev)
	})
	if errors.Is(err, ErrCircuitOpen) {
		bp.push(ev)
		return nil
	}
	return err
}

func (bp *BufferedPublisher) push(ev model.TradeEvent) {
	bp.mu.Lock()
	defer bp.mu.Unlock()

	if len(bp.buffer) >= bp.maxBuf {
		bp.buffer = bp.buffer[1:]
	}
	bp.buffer = append(bp.buffer, ev)

	if bp.OnBuffer != nil {
		bp.OnBuffer()
	}
}

// flush replays buffered events in order. Events that fail again are put
// back at the front of the buffer.
func (bp *BufferedPublisher) flush() {
	bp.mu.Lock()
	if len(bp.buffer) == 0 {
		bp.mu.Unlock()
		return
	}
	pending := bp.buffer
	bp.buffer = nil
	bp.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	flushed := 0
	for i, ev := range pending {
		if err := bp.pub.PublishTrade(ctx, ev); err != nil {
			log.Printf("[redis] flush stopped after %d events: %v", flushed, err)
			bp.mu.Lock()
			bp.buffer = append(append([]model.TradeEvent(nil), pending[i:]...), bp.buffer...)
			bp.mu.Unlock()
			break
		}
		flushed++
	}

	log.Printf("[redis] flushed %d buffered trade events", flushed)
	if bp.OnFlush != nil {
		bp.OnFlush(flushed)
	}
}

// PendingCount returns the number of buffered events.
func (bp *BufferedPublisher) PendingCount() int {
	bp.mu.Lock()
	defer bp.mu.Unlock()
	return len(bp.buffer)
}
