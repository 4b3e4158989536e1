package memory

import (
	"context"
	"sort"
	"sync"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// PriceObservationStore is an in-memory implementation of storage.PriceObservationStore.
type PriceObservationStore struct {
	mu   sync.RWMutex
	data []*domain.PriceObservation
}

// NewPriceObservationStore creates a new in-memory price observation store.
func NewPriceObservationStore() *PriceObservationStore {
	return &PriceObservationStore{}
}

// InsertBulk appends observations.
func (s *PriceObservationStore) InsertBulk(_ context.Context, obs []*domain.PriceObservation) error {
	for _, o := range obs {
		if o == nil || o.Asset == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range obs {
		copy := *o
		s.data = append(s.data, &copy)
	}
	return nil
}

// GetByTimeRange retrieves observations for an asset within [start, end] (inclusive).
func (s *PriceObservationStore) GetByTimeRange(_ context.Context, asset string, start, end int64) ([]*domain.PriceObservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PriceObservation
	for _, o := range s.data {
		if o.Asset == asset && o.ObservedAt >= start && o.ObservedAt <= end {
			copy := *o
			result = append(result, &copy)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].ObservedAt < result[j].ObservedAt
	})
	return result, nil
}

var _ storage.PriceObservationStore = (*PriceObservationStore)(nil)
