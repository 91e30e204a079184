package pricing

import (
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// Volatility scales the trend and random walk terms (0.05% per tick)
	Volatility = 0.0005
	// TrendPersistence is the fraction of the previous trend carried into the next tick
	TrendPersistence = 0.3
	// MeanReversion is the pull back towards the base price per unit of deviation
	MeanReversion = 0.02

	trendPerturbation = 0.1
	eventTrendFactor  = 2
	pricePlaces       = 2
)

var (
	ErrInvalidBasePrice = errors.New("base price must be positive")
	ErrInvalidMagnitude = errors.New("event magnitude must be a finite number")

	floorRatio = decimal.NewFromFloat(0.8)
)

// Rand is the source of uniform [0, 1) draws used by the simulator.
// *rand.Rand satisfies it; tests inject fixed sequences.
type Rand interface {
	Float64() float64
}

// Simulator evolves a single price with momentum and mean reversion.
// It is not safe for concurrent use: one owner drives it (see feed.Ticker).
type Simulator struct {
	basePrice    decimal.Decimal
	floor        decimal.Decimal
	currentPrice decimal.Decimal
	trend        float64
	rand         Rand
}

// NewSimulator creates a simulator starting at basePrice.
// A nil rnd uses a time-seeded math/rand source.
func NewSimulator(basePrice decimal.Decimal, rnd Rand) (*Simulator, error) {
	if !basePrice.IsPositive() {
		return nil, ErrInvalidBasePrice
	}
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Simulator{
		basePrice:    basePrice,
		floor:        basePrice.Mul(floorRatio),
		currentPrice: basePrice,
		rand:         rnd,
	}, nil
}

// NextPrice advances the model by one tick and returns the new price,
// rounded to two decimal places and never below 80% of the base price.
func (s *Simulator) NextPrice() decimal.Decimal {
	s.trend = clamp(s.trend*TrendPersistence+(s.rand.Float64()-0.5)*trendPerturbation, -1, 1)

	deviation := s.currentPrice.Sub(s.basePrice).Div(s.basePrice).InexactFloat64()
	reversionForce := -deviation * MeanReversion

	randomWalk := (s.rand.Float64() - 0.5) * 2

	change := s.trend*Volatility + randomWalk*Volatility + reversionForce
	s.currentPrice = s.bound(s.currentPrice.Mul(decimal.NewFromFloat(1 + change)))

	return s.currentPrice
}

// SimulateEvent applies an instantaneous shock of magnitude (0.02 is +2%)
// and points the trend in the direction of the shock.
func (s *Simulator) SimulateEvent(magnitude float64) error {
	if math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return ErrInvalidMagnitude
	}

	s.currentPrice = s.bound(s.currentPrice.Mul(decimal.NewFromInt(1).Add(decimal.NewFromFloat(magnitude))))
	s.trend = clamp(magnitude*eventTrendFactor, -1, 1)
	return nil
}

// Reset restores the base price and clears the trend.
func (s *Simulator) Reset() {
	s.currentPrice = s.basePrice
	s.trend = 0
}

func (s *Simulator) CurrentPrice() decimal.Decimal { return s.currentPrice }

func (s *Simulator) BasePrice() decimal.Decimal { return s.basePrice }

func (s *Simulator) Trend() float64 { return s.trend }

// bound applies the price floor and rounds. Rounding half-down could dip
// under a floor with more than two decimals, so that case rounds up instead.
func (s *Simulator) bound(price decimal.Decimal) decimal.Decimal {
	if price.LessThan(s.floor) {
		price = s.floor
	}

	rounded := price.Round(pricePlaces)
	if rounded.LessThan(s.floor) {
		rounded = s.floor.RoundCeil(pricePlaces)
	}
	return rounded
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
