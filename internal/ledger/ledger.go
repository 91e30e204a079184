package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	// ErrPersistence means a record could not be durably appended and is not committed
	ErrPersistence = errors.New("ledger persistence failed")
	ErrDuplicateID = errors.New("duplicate purchase id")
)

// Store is a byte-oriented persistent store holding one serialized ledger.
// Load returns nil data and no error when nothing has been saved yet.
// Save must replace the contents atomically.
type Store interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
}

// Ledger is an append-only list of purchases kept in a Store.
type Ledger struct {
	store Store
	// mu serializes the read-modify-write in Append
	mu sync.Mutex
}

func New(store Store) *Ledger {
	return &Ledger{store: store}
}

// ReadAll returns every record in insertion order. A missing, unreadable or
// corrupt store yields an empty history rather than an error.
func (l *Ledger) ReadAll(ctx context.Context) []PurchaseRecord {
	records, err := l.load(ctx)
	if err != nil {
		log.Warn().Err(err).Str("component", "ledger").Msg("ledger unreadable, treating as empty")
		return []PurchaseRecord{}
	}
	return records
}

// Append durably adds record. Concurrent appends are serialized so none is lost.
func (l *Ledger) Append(ctx context.Context, record PurchaseRecord) error {
	logger := log.With().
		Str("component", "ledger").
		Str("purchase_id", record.ID).
		Logger()

	l.mu.Lock()
	defer l.mu.Unlock()

	data, err := l.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("%w: load ledger: %w", ErrPersistence, err)
	}
	records, err := decode(data)
	if err != nil {
		logger.Warn().Err(err).Msg("existing ledger corrupt, starting a new history")
		records = []PurchaseRecord{}
	}

	for _, existing := range records {
		if existing.ID == record.ID {
			return fmt.Errorf("%w: %w: %s", ErrPersistence, ErrDuplicateID, record.ID)
		}
	}

	records = append(records, record)
	data, err = json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: encode ledger: %w", ErrPersistence, err)
	}

	if err := l.store.Save(ctx, data); err != nil {
		logger.Error().Err(err).Msg("failed to save ledger")
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	logger.Debug().Int("records", len(records)).Msg("purchase appended")
	return nil
}

func (l *Ledger) load(ctx context.Context) ([]PurchaseRecord, error) {
	data, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load ledger: %w", err)
	}
	return decode(data)
}

func decode(data []byte) ([]PurchaseRecord, error) {
	if len(data) == 0 {
		return []PurchaseRecord{}, nil
	}

	var records []PurchaseRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("decode ledger: %w", err)
	}
	if records == nil {
		records = []PurchaseRecord{}
	}
	return records, nil
}
