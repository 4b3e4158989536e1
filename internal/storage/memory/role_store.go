package memory

import (
	"context"
	"sort"
	"sync"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

type roleKey struct {
	account    domain.Address
	capability domain.Capability
}

// RoleStore is an in-memory implementation of storage.RoleStore.
type RoleStore struct {
	mu   sync.RWMutex
	data map[roleKey]*domain.RoleGrant
}

// NewRoleStore creates a new in-memory role store.
func NewRoleStore() *RoleStore {
	return &RoleStore{
		data: make(map[roleKey]*domain.RoleGrant),
	}
}

// Grant records a capability for an account.
func (s *RoleStore) Grant(_ context.Context, g *domain.RoleGrant) error {
	if g == nil || !g.Capability.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *g
	copy.Revoked = false
	s.data[roleKey{g.Account, g.Capability}] = &copy
	return nil
}

// Revoke marks a capability as revoked. Returns ErrNotFound if never granted.
func (s *RoleStore) Revoke(_ context.Context, account domain.Address, c domain.Capability, by domain.Address, at int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.data[roleKey{account, c}]
	if !ok {
		return storage.ErrNotFound
	}
	g.Revoked = true
	g.GrantedBy = by
	g.GrantedAt = at
	return nil
}

// Has reports whether account currently holds capability c.
func (s *RoleStore) Has(_ context.Context, account domain.Address, c domain.Capability) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.data[roleKey{account, c}]
	return ok && !g.Revoked, nil
}

// List retrieves all grants, revoked ones included.
func (s *RoleStore) List(_ context.Context) ([]*domain.RoleGrant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RoleGrant, 0, len(s.data))
	for _, g := range s.data {
		copy := *g
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Capability != result[j].Capability {
			return result[i].Capability < result[j].Capability
		}
		return result[i].Account.Hex() < result[j].Account.Hex()
	})
	return result, nil
}

var _ storage.RoleStore = (*RoleStore)(nil)
