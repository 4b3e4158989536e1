package storage

import (
	"context"

	"trigger-keeper/internal/domain"
)

// IssueFunc runs while a trigger record is locked. It receives a copy of the
// current record and returns the swap to persist alongside the executed
// transition. A non-nil error aborts the transition and nothing is written.
type IssueFunc func(ctx context.Context, t *domain.Trigger) (*domain.Swap, error)

// TriggerStore provides access to triggers storage. Records are never deleted.
type TriggerStore interface {
	// Insert stores a new trigger and assigns the next sequential ID to t.ID.
	Insert(ctx context.Context, t *domain.Trigger) error

	// GetByID retrieves a trigger. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id uint64) (*domain.Trigger, error)

	// GetByOwner retrieves all triggers created by owner, ordered by ID ASC.
	GetByOwner(ctx context.Context, owner domain.Address) ([]*domain.Trigger, error)

	// GetByStatus retrieves all triggers whose persisted status equals status, ordered by ID ASC.
	GetByStatus(ctx context.Context, status domain.TriggerStatus) ([]*domain.Trigger, error)

	// UpdateStatus moves a trigger from one status to another.
	// Returns ErrInvalidInput if CheckTransition rejects the pair and
	// ErrStatusConflict if the persisted status is not from.
	UpdateStatus(ctx context.Context, id uint64, from, to domain.TriggerStatus, at int64) error

	// MarkExecuted locks the trigger, runs issue and, only if issue succeeds,
	// persists the returned swap and the executed status in one step.
	// Concurrent calls for the same ID are serialized.
	MarkExecuted(ctx context.Context, id uint64, at int64, issue IssueFunc) (*domain.Swap, error)
}

// SwapStore provides access to swaps storage.
type SwapStore interface {
	// Insert stores a swap and assigns the next sequential ID to s.ID.
	Insert(ctx context.Context, s *domain.Swap) error

	// GetByID retrieves a swap. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id uint64) (*domain.Swap, error)

	// GetByUser retrieves all swaps for a user, ordered by ID ASC.
	GetByUser(ctx context.Context, user domain.Address) ([]*domain.Swap, error)

	// GetByTriggerID retrieves the swap issued for a trigger. Returns ErrNotFound if none.
	GetByTriggerID(ctx context.Context, triggerID uint64) (*domain.Swap, error)
}

// AssetStore provides access to asset_entries storage.
type AssetStore interface {
	// Upsert inserts or supersedes the entry for e.Symbol.
	Upsert(ctx context.Context, e *domain.AssetEntry) error

	// GetBySymbol retrieves an entry. Returns ErrNotFound if not exists.
	GetBySymbol(ctx context.Context, symbol string) (*domain.AssetEntry, error)

	// List retrieves all entries ordered by symbol.
	List(ctx context.Context) ([]*domain.AssetEntry, error)
}

// RoleStore provides access to role_grants storage.
type RoleStore interface {
	// Grant records a capability for an account. Re-granting a revoked capability reactivates it.
	Grant(ctx context.Context, g *domain.RoleGrant) error

	// Revoke marks a capability as revoked. Returns ErrNotFound if never granted.
	Revoke(ctx context.Context, account domain.Address, c domain.Capability, by domain.Address, at int64) error

	// Has reports whether account currently holds capability c.
	Has(ctx context.Context, account domain.Address, c domain.Capability) (bool, error)

	// List retrieves all grants, revoked ones included.
	List(ctx context.Context) ([]*domain.RoleGrant, error)
}

// PriceObservationStore provides access to price_observations storage.
type PriceObservationStore interface {
	// InsertBulk appends observations.
	InsertBulk(ctx context.Context, obs []*domain.PriceObservation) error

	// GetByTimeRange retrieves observations for an asset within [start, end] (inclusive), ordered by time ASC.
	GetByTimeRange(ctx context.Context, asset string, start, end int64) ([]*domain.PriceObservation, error)
}

// ExecutionAttemptStore provides access to execution_attempts storage.
type ExecutionAttemptStore interface {
	// InsertBulk appends attempts. Returns ErrDuplicateKey on a repeated AttemptID.
	InsertBulk(ctx context.Context, attempts []*domain.ExecutionAttempt) error

	// GetByTriggerID retrieves all attempts for a trigger, ordered by time ASC.
	GetByTriggerID(ctx context.Context, triggerID uint64) ([]*domain.ExecutionAttempt, error)
}
