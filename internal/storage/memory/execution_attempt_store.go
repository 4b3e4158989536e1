package memory

import (
	"context"
	"sort"
	"sync"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// ExecutionAttemptStore is an in-memory implementation of storage.ExecutionAttemptStore.
type ExecutionAttemptStore struct {
	mu   sync.RWMutex
	data map[string]*domain.ExecutionAttempt // keyed by attempt id
}

// NewExecutionAttemptStore creates a new in-memory attempt store.
func NewExecutionAttemptStore() *ExecutionAttemptStore {
	return &ExecutionAttemptStore{
		data: make(map[string]*domain.ExecutionAttempt),
	}
}

// InsertBulk appends attempts. Fails entire batch on any duplicate.
func (s *ExecutionAttemptStore) InsertBulk(_ context.Context, attempts []*domain.ExecutionAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(attempts))
	for _, a := range attempts {
		if a == nil || a.AttemptID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[a.AttemptID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[a.AttemptID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[a.AttemptID] = struct{}{}
	}

	for _, a := range attempts {
		copy := *a
		s.data[a.AttemptID] = &copy
	}
	return nil
}

// GetByTriggerID retrieves all attempts for a trigger, ordered by time ASC.
func (s *ExecutionAttemptStore) GetByTriggerID(_ context.Context, triggerID uint64) ([]*domain.ExecutionAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.ExecutionAttempt
	for _, a := range s.data {
		if a.TriggerID == triggerID {
			copy := *a
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Timestamp != result[j].Timestamp {
			return result[i].Timestamp < result[j].Timestamp
		}
		return result[i].Attempt < result[j].Attempt
	})
	return result, nil
}

var _ storage.ExecutionAttemptStore = (*ExecutionAttemptStore)(nil)
