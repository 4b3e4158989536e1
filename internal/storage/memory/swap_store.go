package memory

import (
	"context"
	"sort"
	"sync"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	mu     sync.RWMutex
	data   map[uint64]*domain.Swap
	nextID uint64
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{
		data: make(map[uint64]*domain.Swap),
	}
}

// Insert stores a swap and assigns the next sequential ID.
func (s *SwapStore) Insert(_ context.Context, swap *domain.Swap) error {
	if swap == nil || swap.FromAmount == nil || swap.MinOutput == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if swap.TriggerID != 0 {
		for _, existing := range s.data {
			if existing.TriggerID == swap.TriggerID {
				return storage.ErrDuplicateKey
			}
		}
	}

	s.nextID++
	swap.ID = s.nextID
	s.data[swap.ID] = swap.Clone()
	return nil
}

// GetByID retrieves a swap. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(_ context.Context, id uint64) (*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	swap, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return swap.Clone(), nil
}

// GetByUser retrieves all swaps for a user, ordered by ID ASC.
func (s *SwapStore) GetByUser(_ context.Context, user domain.Address) ([]*domain.Swap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Swap
	for _, swap := range s.data {
		if swap.User == user {
			result = append(result, swap.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// GetByTriggerID retrieves the swap issued for a trigger.
func (s *SwapStore) GetByTriggerID(_ context.Context, triggerID uint64) (*domain.Swap, error) {
	if triggerID == 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, swap := range s.data {
		if swap.TriggerID == triggerID {
			return swap.Clone(), nil
		}
	}
	return nil, storage.ErrNotFound
}

var _ storage.SwapStore = (*SwapStore)(nil)
