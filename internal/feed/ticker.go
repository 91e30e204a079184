package feed

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ksred/goldfeed/internal/pricing"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const DefaultInterval = time.Second

var ErrTickerStopped = errors.New("price ticker stopped")

// command is a mutation of the price model executed on the ticker goroutine.
type command struct {
	apply func(*pricing.Simulator) error
	reply chan commandResult
}

type commandResult struct {
	tick Tick
	err  error
}

// Ticker is the only owner of the price model. It advances the model on a
// fixed interval and broadcasts every new price through the registry.
type Ticker struct {
	model    *pricing.Simulator
	registry *Registry
	interval time.Duration

	commands chan command
	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	started  atomic.Bool
	ticks    atomic.Int64
}

// NewTicker creates a ticker; a non-positive interval falls back to DefaultInterval.
func NewTicker(model *pricing.Simulator, registry *Registry, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Ticker{
		model:    model,
		registry: registry,
		interval: interval,
		commands: make(chan command),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start emits the current price immediately, then one new price per interval,
// until ctx is cancelled or Stop is called. It blocks; run it in a goroutine.
func (t *Ticker) Start(ctx context.Context) {
	logger := log.With().Str("component", "price_ticker").Logger()

	if !t.started.CompareAndSwap(false, true) {
		logger.Warn().Msg("price ticker already started")
		return
	}
	defer close(t.done)

	logger.Info().
		Str("base_price", t.model.BasePrice().String()).
		Dur("interval", t.interval).
		Msg("starting price ticker")

	t.emit(t.model.CurrentPrice())

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down price ticker")
			return
		case <-t.stop:
			logger.Info().Msg("price ticker stopped")
			return
		case <-ticker.C:
			t.emit(t.model.NextPrice())
		case cmd := <-t.commands:
			if err := cmd.apply(t.model); err != nil {
				cmd.reply <- commandResult{err: err}
				continue
			}
			cmd.reply <- commandResult{tick: t.emit(t.model.CurrentPrice())}
		}
	}
}

// Stop cancels all future ticks. It is idempotent.
func (t *Ticker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
}

// Done is closed once a started ticker has returned.
func (t *Ticker) Done() <-chan struct{} { return t.done }

// Ticks counts prices emitted so far, including the initial one.
func (t *Ticker) Ticks() int64 { return t.ticks.Load() }

// SimulateEvent shocks the price by magnitude on the ticker goroutine and
// broadcasts the result right away.
func (t *Ticker) SimulateEvent(ctx context.Context, magnitude float64) (Tick, error) {
	return t.do(ctx, func(m *pricing.Simulator) error {
		return m.SimulateEvent(magnitude)
	})
}

// Reset returns the model to its base price and broadcasts it.
func (t *Ticker) Reset(ctx context.Context) (Tick, error) {
	return t.do(ctx, func(m *pricing.Simulator) error {
		m.Reset()
		return nil
	})
}

func (t *Ticker) do(ctx context.Context, apply func(*pricing.Simulator) error) (Tick, error) {
	cmd := command{apply: apply, reply: make(chan commandResult, 1)}

	select {
	case t.commands <- cmd:
	case <-t.stop:
		return Tick{}, ErrTickerStopped
	case <-t.done:
		return Tick{}, ErrTickerStopped
	case <-ctx.Done():
		return Tick{}, ctx.Err()
	}

	res := <-cmd.reply
	return res.tick, res.err
}

func (t *Ticker) emit(price decimal.Decimal) Tick {
	tick := NewTick(price)
	delivered := t.registry.Broadcast(tick)
	t.ticks.Add(1)

	log.Debug().
		Str("component", "price_ticker").
		Float64("price", tick.Price).
		Int("delivered", delivered).
		Msg("price tick")

	return tick
}
