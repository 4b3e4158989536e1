package memory

import (
	"context"
	"sort"
	"sync"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// TriggerStore is an in-memory implementation of storage.TriggerStore.
// Executed transitions write the issued swap into the paired SwapStore.
type TriggerStore struct {
	mu     sync.RWMutex
	data   map[uint64]*domain.Trigger
	nextID uint64
	swaps  *SwapStore

	locksMu sync.Mutex
	locks   map[uint64]*sync.Mutex // per-record execution locks
}

// NewTriggerStore creates a new in-memory trigger store writing swaps to swaps.
func NewTriggerStore(swaps *SwapStore) *TriggerStore {
	return &TriggerStore{
		data:  make(map[uint64]*domain.Trigger),
		swaps: swaps,
		locks: make(map[uint64]*sync.Mutex),
	}
}

// Insert stores a new trigger and assigns the next sequential ID.
func (s *TriggerStore) Insert(_ context.Context, t *domain.Trigger) error {
	if t == nil || t.InputAmount == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	t.ID = s.nextID
	s.data[t.ID] = t.Clone()
	return nil
}

// GetByID retrieves a trigger. Returns ErrNotFound if not exists.
func (s *TriggerStore) GetByID(_ context.Context, id uint64) (*domain.Trigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return t.Clone(), nil
}

// GetByOwner retrieves all triggers created by owner, ordered by ID ASC.
func (s *TriggerStore) GetByOwner(_ context.Context, owner domain.Address) ([]*domain.Trigger, error) {
	return s.filter(func(t *domain.Trigger) bool { return t.Owner == owner }), nil
}

// GetByStatus retrieves all triggers with the given persisted status, ordered by ID ASC.
func (s *TriggerStore) GetByStatus(_ context.Context, status domain.TriggerStatus) ([]*domain.Trigger, error) {
	return s.filter(func(t *domain.Trigger) bool { return t.Status == status }), nil
}

// UpdateStatus moves a trigger from one status to another.
// Serialized with MarkExecuted on the same record.
func (s *TriggerStore) UpdateStatus(_ context.Context, id uint64, from, to domain.TriggerStatus, at int64) error {
	if err := storage.CheckTransition(from, to); err != nil {
		return err
	}
	lock := s.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if t.Status != from {
		return storage.ErrStatusConflict
	}
	t.Status = to
	t.UpdatedAt = at
	return nil
}

// MarkExecuted runs issue under the record lock and persists its swap with the executed status.
func (s *TriggerStore) MarkExecuted(ctx context.Context, id uint64, at int64, issue storage.IssueFunc) (*domain.Swap, error) {
	lock := s.recordLock(id)
	lock.Lock()
	defer lock.Unlock()

	current, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(current.Status, domain.TriggerStatusExecuted) {
		return nil, storage.ErrStatusConflict
	}

	swap, err := issue(ctx, current)
	if err != nil {
		return nil, err
	}
	if swap == nil {
		return nil, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.data[id]
	if t.Status != current.Status {
		return nil, storage.ErrStatusConflict
	}

	if err := s.swaps.Insert(ctx, swap); err != nil {
		return nil, err
	}
	t.Status = domain.TriggerStatusExecuted
	t.SwapID = swap.ID
	t.UpdatedAt = at
	return swap.Clone(), nil
}

func (s *TriggerStore) recordLock(id uint64) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()

	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *TriggerStore) filter(keep func(*domain.Trigger) bool) []*domain.Trigger {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Trigger
	for _, t := range s.data {
		if keep(t) {
			result = append(result, t.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

var _ storage.TriggerStore = (*TriggerStore)(nil)
