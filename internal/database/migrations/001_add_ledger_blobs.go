package migrations

import (
	"github.com/ksred/goldfeed/internal/ledger"
	"gorm.io/gorm"
)

// AddLedgerBlobs creates the table holding serialized ledgers
func AddLedgerBlobs(db *gorm.DB) error {
	if err := db.AutoMigrate(&ledger.LedgerBlob{}); err != nil {
		return err
	}

	// Index for updated_at lookups
	return db.Exec(`CREATE INDEX IF NOT EXISTS idx_ledger_blobs_updated_at
		 ON ledger_blobs(updated_at)`).Error
}
