package feed

import (
	"errors"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	ErrSubscriberClosed   = errors.New("subscriber closed")
	ErrSubscriberBackedUp = errors.New("subscriber queue full")
)

// Tick is one generated price as delivered to subscribers.
type Tick struct {
	Price float64 `json:"price"`
}

// NewTick converts a model price into its wire form.
func NewTick(price decimal.Decimal) Tick {
	return Tick{Price: price.InexactFloat64()}
}

// Subscriber is anything that can accept a price tick and be closed.
// Send must not block: a subscriber that cannot take the tick right away
// returns an error and is pruned from the registry.
type Subscriber interface {
	Send(tick Tick) error
	Close()
}

// StreamSubscriber buffers ticks for one streaming connection. The
// transport handler drains Ticks until Done is closed.
type StreamSubscriber struct {
	mu     sync.Mutex
	ticks  chan Tick
	done   chan struct{}
	closed bool
}

// NewStreamSubscriber creates a subscriber holding up to buffer undelivered ticks.
func NewStreamSubscriber(buffer int) *StreamSubscriber {
	if buffer < 1 {
		buffer = 1
	}
	return &StreamSubscriber{
		ticks: make(chan Tick, buffer),
		done:  make(chan struct{}),
	}
}

func (s *StreamSubscriber) Send(tick Tick) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}

	select {
	case s.ticks <- tick:
		return nil
	default:
		return ErrSubscriberBackedUp
	}
}

// Close is idempotent. Buffered ticks are dropped by the transport once Done fires.
func (s *StreamSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.done)
	}
}

func (s *StreamSubscriber) Ticks() <-chan Tick { return s.ticks }

func (s *StreamSubscriber) Done() <-chan struct{} { return s.done }
