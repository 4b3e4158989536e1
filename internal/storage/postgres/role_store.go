package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// RoleStore implements storage.RoleStore using PostgreSQL.
type RoleStore struct {
	pool *Pool
}

// NewRoleStore creates a new RoleStore.
func NewRoleStore(pool *Pool) *RoleStore {
	return &RoleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.RoleStore = (*RoleStore)(nil)

// Grant records a capability for an account, reactivating a revoked grant.
func (s *RoleStore) Grant(ctx context.Context, g *domain.RoleGrant) error {
	if g == nil || !g.Capability.IsValid() {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO role_grants (account, capability, granted_by, granted_at, revoked)
		VALUES ($1, $2, $3, $4, FALSE)
		ON CONFLICT (account, capability) DO UPDATE SET
			granted_by = EXCLUDED.granted_by,
			granted_at = EXCLUDED.granted_at,
			revoked = FALSE
	`

	_, err := s.pool.Exec(ctx, query, g.Account.Hex(), string(g.Capability), g.GrantedBy.Hex(), g.GrantedAt)
	if err != nil {
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// Revoke marks a capability as revoked. Returns ErrNotFound if never granted.
func (s *RoleStore) Revoke(ctx context.Context, account domain.Address, c domain.Capability, by domain.Address, at int64) error {
	query := `
		UPDATE role_grants SET revoked = TRUE, granted_by = $3, granted_at = $4
		WHERE account = $1 AND capability = $2
	`

	tag, err := s.pool.Exec(ctx, query, account.Hex(), string(c), by.Hex(), at)
	if err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Has reports whether account currently holds capability c.
func (s *RoleStore) Has(ctx context.Context, account domain.Address, c domain.Capability) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM role_grants WHERE account = $1 AND capability = $2 AND NOT revoked
		)
	`

	var ok bool
	if err := s.pool.QueryRow(ctx, query, account.Hex(), string(c)).Scan(&ok); err != nil {
		return false, fmt.Errorf("check role: %w", err)
	}
	return ok, nil
}

// List retrieves all grants, revoked ones included.
func (s *RoleStore) List(ctx context.Context) ([]*domain.RoleGrant, error) {
	query := `
		SELECT account, capability, granted_by, granted_at, revoked
		FROM role_grants
		ORDER BY capability ASC, account ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	defer rows.Close()

	var grants []*domain.RoleGrant
	for rows.Next() {
		var (
			g                  domain.RoleGrant
			account, grantedBy string
			capability         string
		)
		if err := rows.Scan(&account, &capability, &grantedBy, &g.GrantedAt, &g.Revoked); err != nil {
			return nil, fmt.Errorf("scan role row: %w", err)
		}
		g.Account = common.HexToAddress(account)
		g.GrantedBy = common.HexToAddress(grantedBy)
		g.Capability = domain.Capability(capability)
		grants = append(grants, &g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role rows: %w", err)
	}

	return grants, nil
}
