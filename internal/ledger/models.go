package ledger

import "time"

// PurchaseRecord is an immutable purchase fact. The JSON field names are
// the persisted and wire format.
type PurchaseRecord struct {
	ID               string    `json:"id"`
	InvestmentAmount float64   `json:"investmentAmount"`
	GoldOunces       float64   `json:"goldOunces"`
	PriceAtPurchase  float64   `json:"priceAtPurchase"`
	Timestamp        time.Time `json:"timestamp"`
}

// LedgerBlob holds a whole serialized ledger in one row of the sqlite backend
type LedgerBlob struct {
	Name      string `gorm:"primaryKey"`
	Data      []byte
	UpdatedAt time.Time
}
