package ledger

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultBlobName is the row key the purchase ledger is stored under
const DefaultBlobName = "purchases"

// SQLStore keeps the serialized ledger in one row of the ledger_blobs table.
// Each save is a single upsert inside a transaction.
type SQLStore struct {
	db   *gorm.DB
	name string
}

func NewSQLStore(db *gorm.DB) *SQLStore {
	return &SQLStore{db: db, name: DefaultBlobName}
}

func (s *SQLStore) Load(ctx context.Context) ([]byte, error) {
	var blob LedgerBlob
	if err := s.db.WithContext(ctx).Where("name = ?", s.name).First(&blob).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return blob.Data, nil
}

func (s *SQLStore) Save(ctx context.Context, data []byte) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		blob := LedgerBlob{
			Name:      s.name,
			Data:      data,
			UpdatedAt: time.Now(),
		}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
		}).Create(&blob).Error
	})
}
