package feed

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/ksred/goldfeed/internal/pricing"
	"github.com/shopspring/decimal"
)

// neutralRand draws 0.5 forever, which leaves the price at its base.
type neutralRand struct{}

func (neutralRand) Float64() float64 { return 0.5 }

func newTestTicker(t *testing.T, rnd pricing.Rand, interval time.Duration) (*Ticker, *Registry) {
	t.Helper()
	model, err := pricing.NewSimulator(decimal.NewFromInt(1900), rnd)
	if err != nil {
		t.Fatalf("NewSimulator error: %v", err)
	}
	registry := NewRegistry()
	return NewTicker(model, registry, interval), registry
}

func startTicker(t *testing.T, ticker *Ticker) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go ticker.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-ticker.Done()
	})
}

func TestTicker_EmitsCurrentPriceImmediately(t *testing.T) {
	ticker, registry := newTestTicker(t, neutralRand{}, time.Hour)
	startTicker(t, ticker)

	waitFor(t, "initial tick", func() bool { return ticker.Ticks() == 1 })

	tick, ok := registry.Latest()
	if !ok || tick.Price != 1900 {
		t.Errorf("Latest() = %v, %v; want 1900, true", tick, ok)
	}
}

func TestTicker_BroadcastsEveryInterval(t *testing.T) {
	ticker, registry := newTestTicker(t, rand.New(rand.NewSource(3)), 5*time.Millisecond)
	sub := &recordingSubscriber{}
	registry.Subscribe(sub)

	startTicker(t, ticker)
	waitFor(t, "five ticks", func() bool { return len(sub.Received()) >= 5 })

	for i, tick := range sub.Received() {
		if tick.Price < 1520 {
			t.Errorf("tick %d price %v below floor", i, tick.Price)
		}
	}
}

func TestTicker_KeepsRunningWhenSubscriberFails(t *testing.T) {
	ticker, registry := newTestTicker(t, neutralRand{}, 5*time.Millisecond)
	broken := &recordingSubscriber{fail: errors.New("closed connection")}
	healthy := &recordingSubscriber{}
	registry.Subscribe(broken)
	registry.Subscribe(healthy)

	startTicker(t, ticker)
	waitFor(t, "ticks after failure", func() bool { return len(healthy.Received()) >= 3 })

	if registry.Len() != 1 {
		t.Errorf("Len() = %d, want 1", registry.Len())
	}
}

func TestTicker_StopIsIdempotent(t *testing.T) {
	ticker, _ := newTestTicker(t, neutralRand{}, time.Millisecond)
	go ticker.Start(context.Background())
	waitFor(t, "first tick", func() bool { return ticker.Ticks() >= 1 })

	ticker.Stop()
	ticker.Stop()

	select {
	case <-ticker.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("ticker did not stop")
	}

	stoppedAt := ticker.Ticks()
	time.Sleep(20 * time.Millisecond)
	if ticker.Ticks() != stoppedAt {
		t.Errorf("ticks advanced after Stop: %d -> %d", stoppedAt, ticker.Ticks())
	}
}

func TestTicker_SecondStartIsIgnored(t *testing.T) {
	ticker, _ := newTestTicker(t, neutralRand{}, time.Hour)
	startTicker(t, ticker)
	waitFor(t, "initial tick", func() bool { return ticker.Ticks() == 1 })

	ticker.Start(context.Background())

	if ticker.Ticks() != 1 {
		t.Errorf("second Start emitted ticks: %d", ticker.Ticks())
	}
}

func TestTicker_SimulateEventBroadcastsShockedPrice(t *testing.T) {
	ticker, registry := newTestTicker(t, neutralRand{}, time.Hour)
	sub := &recordingSubscriber{}
	registry.Subscribe(sub)
	startTicker(t, ticker)

	tick, err := ticker.SimulateEvent(context.Background(), 0.02)
	if err != nil {
		t.Fatalf("SimulateEvent error: %v", err)
	}
	if tick.Price != 1938 {
		t.Errorf("tick price = %v, want 1938", tick.Price)
	}

	got := sub.Received()
	if len(got) != 2 || got[0].Price != 1900 || got[1].Price != 1938 {
		t.Errorf("subscriber received %v, want [1900 1938]", got)
	}

	tick, err = ticker.Reset(context.Background())
	if err != nil {
		t.Fatalf("Reset error: %v", err)
	}
	if tick.Price != 1900 {
		t.Errorf("price after reset = %v, want 1900", tick.Price)
	}
}

func TestTicker_SimulateEventRejectsInvalidMagnitude(t *testing.T) {
	ticker, _ := newTestTicker(t, neutralRand{}, time.Hour)
	startTicker(t, ticker)

	_, err := ticker.SimulateEvent(context.Background(), math.Inf(1))
	if !errors.Is(err, pricing.ErrInvalidMagnitude) {
		t.Errorf("error = %v, want ErrInvalidMagnitude", err)
	}
}

func TestTicker_CommandsAfterStopFail(t *testing.T) {
	ticker, _ := newTestTicker(t, neutralRand{}, time.Hour)
	go ticker.Start(context.Background())
	ticker.Stop()
	<-ticker.Done()

	if _, err := ticker.Reset(context.Background()); !errors.Is(err, ErrTickerStopped) {
		t.Errorf("Reset after Stop error = %v, want ErrTickerStopped", err)
	}
}

func TestTicker_CommandHonoursContext(t *testing.T) {
	ticker, _ := newTestTicker(t, neutralRand{}, time.Hour)

	// Never started, so nothing drains the command channel.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := ticker.SimulateEvent(ctx, 0.01); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}
