package report

import (
	"context"
	"fmt"

	"github.com/ksred/goldfeed/internal/feed"
	"github.com/ksred/goldfeed/internal/ledger"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// FeedStats is the read side of the price feed
type FeedStats interface {
	Len() int
	Latest() (feed.Tick, bool)
}

// PurchaseLister returns the purchase history
type PurchaseLister interface {
	ListPurchases(ctx context.Context) []ledger.PurchaseRecord
}

// Snapshot is one point-in-time view of the feed and the ledger
type Snapshot struct {
	Subscribers int
	LastPrice   float64
	HasPrice    bool
	Ticks       int64
	Purchases   int
	Invested    decimal.Decimal
	GoldOunces  decimal.Decimal
}

// Scheduler logs a Snapshot on a cron schedule
type Scheduler struct {
	Cron      *cron.Cron
	feed      FeedStats
	ticks     func() int64
	purchases PurchaseLister
	ctx       context.Context
}

// NewScheduler creates a Scheduler. ticks may be nil when no ticker runs.
func NewScheduler(ctx context.Context, feedStats FeedStats, ticks func() int64, purchases PurchaseLister) *Scheduler {
	return &Scheduler{
		Cron:      cron.New(),
		feed:      feedStats,
		ticks:     ticks,
		purchases: purchases,
		ctx:       ctx,
	}
}

// Register adds the stats report at the given cron spec
func (s *Scheduler) Register(schedule string) error {
	if _, err := s.Cron.AddFunc(schedule, s.logSnapshot); err != nil {
		return fmt.Errorf("register stats report: %w", err)
	}
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.Cron.Start()
	log.Info().Str("component", "report").Msg("scheduler started")
}

// Stop stops the scheduler and waits for a running report to finish
func (s *Scheduler) Stop() {
	<-s.Cron.Stop().Done()
	log.Info().Str("component", "report").Msg("scheduler stopped")
}

// Snapshot collects the current stats
func (s *Scheduler) Snapshot() Snapshot {
	snap := Snapshot{
		Subscribers: s.feed.Len(),
		Invested:    decimal.Zero,
		GoldOunces:  decimal.Zero,
	}
	if tick, ok := s.feed.Latest(); ok {
		snap.LastPrice = tick.Price
		snap.HasPrice = true
	}
	if s.ticks != nil {
		snap.Ticks = s.ticks()
	}

	records := s.purchases.ListPurchases(s.ctx)
	snap.Purchases = len(records)
	for _, r := range records {
		snap.Invested = snap.Invested.Add(decimal.NewFromFloat(r.InvestmentAmount))
		snap.GoldOunces = snap.GoldOunces.Add(decimal.NewFromFloat(r.GoldOunces))
	}
	return snap
}

func (s *Scheduler) logSnapshot() {
	snap := s.Snapshot()

	event := log.Info().
		Str("component", "report").
		Int("subscribers", snap.Subscribers).
		Int64("ticks", snap.Ticks).
		Int("purchases", snap.Purchases).
		Str("invested", snap.Invested.StringFixed(2)).
		Str("gold_ounces", snap.GoldOunces.String())
	if snap.HasPrice {
		event = event.Float64("last_price", snap.LastPrice)
	}
	event.Msg("feed stats")
}
