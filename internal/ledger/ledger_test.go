package ledger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

// memoryStore is an in-memory Store; failSave makes every Save error.
type memoryStore struct {
	mu       sync.Mutex
	data     []byte
	loadErr  error
	failSave error
	saves    int
}

func (s *memoryStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return append([]byte(nil), s.data...), nil
}

func (s *memoryStore) Save(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave != nil {
		return s.failSave
	}
	s.data = append([]byte(nil), data...)
	s.saves++
	return nil
}

func record(id string) PurchaseRecord {
	return PurchaseRecord{
		ID:               id,
		InvestmentAmount: 100,
		GoldOunces:       0.05,
		PriceAtPurchase:  2000,
		Timestamp:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestReadAll_MissingFileIsEmpty(t *testing.T) {
	l := New(NewFileStore(filepath.Join(t.TempDir(), "purchases.json")))

	got := l.ReadAll(context.Background())
	if got == nil || len(got) != 0 {
		t.Errorf("ReadAll() = %#v, want empty non-nil slice", got)
	}
}

func TestReadAll_CorruptFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "purchases.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}
	l := New(NewFileStore(path))
	ctx := context.Background()

	if got := l.ReadAll(ctx); len(got) != 0 {
		t.Fatalf("ReadAll() on corrupt file = %v, want empty", got)
	}

	// The next append starts a fresh history.
	if err := l.Append(ctx, record("p1")); err != nil {
		t.Fatalf("Append error: %v", err)
	}
	got := l.ReadAll(ctx)
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("ReadAll() = %v, want only p1", got)
	}
}

func TestAppend_FileStorePersistsInOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data", "purchases.json")
	ctx := context.Background()

	l := New(NewFileStore(path))
	for _, id := range []string{"p1", "p2", "p3"} {
		if err := l.Append(ctx, record(id)); err != nil {
			t.Fatalf("Append(%s) error: %v", id, err)
		}
	}

	// A fresh ledger over the same file sees the same history.
	got := New(NewFileStore(path)).ReadAll(ctx)
	if len(got) != 3 {
		t.Fatalf("ReadAll() returned %d records, want 3", len(got))
	}
	for i, id := range []string{"p1", "p2", "p3"} {
		if got[i] != record(id) {
			t.Errorf("record %d = %+v, want %+v", i, got[i], record(id))
		}
	}

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("data dir has %d entries, want only purchases.json", len(entries))
	}
}

func TestAppend_FileFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "purchases.json")
	l := New(NewFileStore(path))
	if err := l.Append(context.Background(), record("p1")); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	want := `[
  {
    "id": "p1",
    "investmentAmount": 100,
    "goldOunces": 0.05,
    "priceAtPurchase": 2000,
    "timestamp": "2024-03-01T12:00:00Z"
  }
]`
	if string(data) != want {
		t.Errorf("file contents =\n%s\nwant\n%s", data, want)
	}
}

func TestAppend_ConcurrentAppendsAreAllKept(t *testing.T) {
	l := New(NewFileStore(filepath.Join(t.TempDir(), "purchases.json")))
	ctx := context.Background()

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- l.Append(ctx, record(fmt.Sprintf("p%d", i)))
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Append error: %v", err)
		}
	}

	got := l.ReadAll(ctx)
	if len(got) != n {
		t.Fatalf("ReadAll() returned %d records, want %d", len(got), n)
	}
	seen := make(map[string]bool, n)
	for _, r := range got {
		if seen[r.ID] {
			t.Errorf("duplicate record %s", r.ID)
		}
		seen[r.ID] = true
	}
}

func TestAppend_SaveFailureIsNotCommitted(t *testing.T) {
	store := &memoryStore{}
	l := New(store)
	ctx := context.Background()

	if err := l.Append(ctx, record("p1")); err != nil {
		t.Fatal(err)
	}

	store.failSave = errors.New("disk full")
	err := l.Append(ctx, record("p2"))
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("Append error = %v, want ErrPersistence", err)
	}

	got := l.ReadAll(ctx)
	if len(got) != 1 || got[0].ID != "p1" {
		t.Errorf("ReadAll() = %v, want only p1", got)
	}
}

func TestAppend_LoadFailureKeepsHistory(t *testing.T) {
	store := &memoryStore{}
	l := New(store)
	ctx := context.Background()

	if err := l.Append(ctx, record("p1")); err != nil {
		t.Fatal(err)
	}

	store.loadErr = errors.New("permission denied")
	if err := l.Append(ctx, record("p2")); !errors.Is(err, ErrPersistence) {
		t.Fatalf("Append error = %v, want ErrPersistence", err)
	}
	if store.saves != 1 {
		t.Errorf("store saved %d times, want 1", store.saves)
	}

	store.loadErr = nil
	if got := l.ReadAll(ctx); len(got) != 1 {
		t.Errorf("ReadAll() = %v, want the original record", got)
	}
}

func TestAppend_DuplicateID(t *testing.T) {
	l := New(&memoryStore{})
	ctx := context.Background()

	if err := l.Append(ctx, record("p1")); err != nil {
		t.Fatal(err)
	}
	err := l.Append(ctx, record("p1"))
	if !errors.Is(err, ErrDuplicateID) || !errors.Is(err, ErrPersistence) {
		t.Errorf("Append error = %v, want ErrDuplicateID wrapped in ErrPersistence", err)
	}
	if got := l.ReadAll(ctx); len(got) != 1 {
		t.Errorf("ReadAll() returned %d records, want 1", len(got))
	}
}

func TestFileStore_SaveHonoursContext(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "purchases.json"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.Save(ctx, []byte("[]")); !errors.Is(err, context.Canceled) {
		t.Errorf("Save error = %v, want context.Canceled", err)
	}
	if _, err := os.Stat(s.Path()); !os.IsNotExist(err) {
		t.Errorf("file written despite cancelled context")
	}
}
