package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ksred/goldfeed/internal/ledger"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	MsgMissingFields    = "Missing required fields: investmentAmount, goldOunces, priceAtPurchase"
	MsgNonPositive      = "All amounts must be positive numbers"
	MsgPurchaseRecorded = "Purchase recorded successfully"
	MsgPurchaseFailed   = "Failed to process purchase"

	// ouncesTolerance is the relative gap between goldOunces and
	// investmentAmount / priceAtPurchase above which a purchase is logged as inconsistent
	ouncesTolerance = 0.01
)

// ErrValidation is matched by every ValidationError
var ErrValidation = errors.New("invalid purchase")

// ValidationError carries a message safe to return to the client
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Request is a purchase as submitted by the client. Nil fields were absent.
type Request struct {
	InvestmentAmount *float64 `json:"investmentAmount"`
	GoldOunces       *float64 `json:"goldOunces"`
	PriceAtPurchase  *float64 `json:"priceAtPurchase"`
}

// Ledger is the storage the service records purchases in
type Ledger interface {
	Append(ctx context.Context, record ledger.PurchaseRecord) error
	ReadAll(ctx context.Context) []ledger.PurchaseRecord
}

// Service validates and records gold purchases
type Service struct {
	ledger Ledger
	now    func() time.Time
	newID  func() string
}

// NewService creates a purchase service writing to l
func NewService(l Ledger) *Service {
	return &Service{
		ledger: l,
		now:    time.Now,
		newID:  newPurchaseID,
	}
}

// RecordPurchase validates req and appends it to the ledger.
// Validation failures wrap ErrValidation and never reach the ledger;
// storage failures wrap ledger.ErrPersistence.
func (s *Service) RecordPurchase(ctx context.Context, req Request) (*ledger.PurchaseRecord, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	record := ledger.PurchaseRecord{
		ID:               s.newID(),
		InvestmentAmount: *req.InvestmentAmount,
		GoldOunces:       *req.GoldOunces,
		PriceAtPurchase:  *req.PriceAtPurchase,
		Timestamp:        s.now().UTC().Truncate(time.Millisecond),
	}

	logger := log.With().
		Str("component", "purchase").
		Str("purchase_id", record.ID).
		Logger()

	if gap := ouncesGap(record); gap.GreaterThan(decimal.NewFromFloat(ouncesTolerance)) {
		logger.Warn().
			Str("relative_gap", gap.StringFixed(4)).
			Float64("gold_ounces", record.GoldOunces).
			Msg("gold ounces do not match investment at purchase price")
	}

	if err := s.ledger.Append(ctx, record); err != nil {
		return nil, fmt.Errorf("record purchase: %w", err)
	}

	logger.Info().
		Float64("investment_amount", record.InvestmentAmount).
		Float64("price_at_purchase", record.PriceAtPurchase).
		Msg("purchase recorded")

	return &record, nil
}

// ListPurchases returns the full purchase history in insertion order
func (s *Service) ListPurchases(ctx context.Context) []ledger.PurchaseRecord {
	return s.ledger.ReadAll(ctx)
}

func validate(req Request) error {
	if req.InvestmentAmount == nil || req.GoldOunces == nil || req.PriceAtPurchase == nil {
		return &ValidationError{Message: MsgMissingFields}
	}
	if !(*req.InvestmentAmount > 0) || !(*req.GoldOunces > 0) || !(*req.PriceAtPurchase > 0) {
		return &ValidationError{Message: MsgNonPositive}
	}
	return nil
}

// ouncesGap is |goldOunces - investment/price| relative to investment/price
func ouncesGap(r ledger.PurchaseRecord) decimal.Decimal {
	expected := decimal.NewFromFloat(r.InvestmentAmount).DivRound(decimal.NewFromFloat(r.PriceAtPurchase), 12)
	if expected.IsZero() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(r.GoldOunces).Sub(expected).Abs().DivRound(expected, 12)
}

// newPurchaseID returns a time-ordered UUIDv7, so ids sort by creation
// and stay unique under concurrent requests
func newPurchaseID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}
