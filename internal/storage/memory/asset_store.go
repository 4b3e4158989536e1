package memory

import (
	"context"
	"sort"
	"sync"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// AssetStore is an in-memory implementation of storage.AssetStore.
type AssetStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AssetEntry // keyed by symbol
}

// NewAssetStore creates a new in-memory asset store.
func NewAssetStore() *AssetStore {
	return &AssetStore{
		data: make(map[string]*domain.AssetEntry),
	}
}

// Upsert inserts or supersedes the entry for e.Symbol.
func (s *AssetStore) Upsert(_ context.Context, e *domain.AssetEntry) error {
	if e == nil || e.Symbol == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *e
	s.data[e.Symbol] = &copy
	return nil
}

// GetBySymbol retrieves an entry. Returns ErrNotFound if not exists.
func (s *AssetStore) GetBySymbol(_ context.Context, symbol string) (*domain.AssetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[symbol]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *e
	return &copy, nil
}

// List retrieves all entries ordered by symbol.
func (s *AssetStore) List(_ context.Context) ([]*domain.AssetEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.AssetEntry, 0, len(s.data))
	for _, e := range s.data {
		copy := *e
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result, nil
}

var _ storage.AssetStore = (*AssetStore)(nil)
