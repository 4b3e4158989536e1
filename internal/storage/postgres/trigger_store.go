package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

const triggerColumns = `
	id, owner, input_asset, target_asset, reference_asset, input_amount::text,
	trigger_price, direction, slippage_bps, status, fee_paid::text, swap_id,
	created_at, expires_at, updated_at
`

// TriggerStore implements storage.TriggerStore using PostgreSQL.
type TriggerStore struct {
	pool *Pool
}

// NewTriggerStore creates a new TriggerStore.
func NewTriggerStore(pool *Pool) *TriggerStore {
	return &TriggerStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TriggerStore = (*TriggerStore)(nil)

// Insert stores a new trigger and assigns the BIGSERIAL id to t.ID.
func (s *TriggerStore) Insert(ctx context.Context, t *domain.Trigger) error {
	if t == nil || t.InputAmount == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO triggers (
			owner, input_asset, target_asset, reference_asset, input_amount,
			trigger_price, direction, slippage_bps, status, fee_paid,
			created_at, expires_at, updated_at
		) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10::numeric, $11, $12, $13)
		RETURNING id
	`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		t.Owner.Hex(),
		t.InputAsset,
		t.TargetAsset,
		t.ReferenceAsset,
		numeric(t.InputAmount),
		int64(t.TriggerPrice),
		string(t.Direction),
		int32(t.SlippageBps),
		string(t.Status),
		numeric(t.FeePaid),
		t.CreatedAt,
		t.ExpiresAt,
		t.UpdatedAt,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert trigger: %w", err)
	}

	t.ID = uint64(id)
	return nil
}

// GetByID retrieves a trigger. Returns ErrNotFound if not exists.
func (s *TriggerStore) GetByID(ctx context.Context, id uint64) (*domain.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE id = $1`

	t, err := scanTrigger(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		return nil, classify("get trigger by id", err)
	}
	return t, nil
}

// GetByOwner retrieves all triggers created by owner, ordered by ID ASC.
func (s *TriggerStore) GetByOwner(ctx context.Context, owner domain.Address) ([]*domain.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE owner = $1 ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, owner.Hex())
	if err != nil {
		return nil, fmt.Errorf("get triggers by owner: %w", err)
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// GetByStatus retrieves all triggers with the given persisted status, ordered by ID ASC.
func (s *TriggerStore) GetByStatus(ctx context.Context, status domain.TriggerStatus) ([]*domain.Trigger, error) {
	query := `SELECT ` + triggerColumns + ` FROM triggers WHERE status = $1 ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("get triggers by status: %w", err)
	}
	defer rows.Close()

	return scanTriggers(rows)
}

// UpdateStatus moves a trigger from one status to another.
// The conditional UPDATE waits on any row lock held by MarkExecuted.
func (s *TriggerStore) UpdateStatus(ctx context.Context, id uint64, from, to domain.TriggerStatus, at int64) error {
	if err := storage.CheckTransition(from, to); err != nil {
		return err
	}
	query := `
		UPDATE triggers SET status = $3, updated_at = $4
		WHERE id = $1 AND status = $2
	`

	tag, err := s.pool.Exec(ctx, query, int64(id), string(from), string(to), at)
	if err != nil {
		return fmt.Errorf("update trigger status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM triggers WHERE id = $1)`, int64(id)).Scan(&exists); err != nil {
		return fmt.Errorf("check trigger exists: %w", err)
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrStatusConflict
}

// MarkExecuted locks the row with SELECT ... FOR UPDATE, runs issue and commits
// the swap together with the executed status. Any failure rolls back.
func (s *TriggerStore) MarkExecuted(ctx context.Context, id uint64, at int64, issue storage.IssueFunc) (*domain.Swap, error) {
	// Once issue has relayed, the record must land even if the caller's
	// deadline passed while the relay was waiting.
	txCtx := context.WithoutCancel(ctx)

	var swap *domain.Swap
	err := s.pool.InTx(txCtx, func(tx pgx.Tx) error {
		query := `SELECT ` + triggerColumns + ` FROM triggers WHERE id = $1 FOR UPDATE`
		current, err := scanTrigger(tx.QueryRow(ctx, query, int64(id)))
		if err != nil {
			return classify("lock trigger", err)
		}
		if !domain.CanTransition(current.Status, domain.TriggerStatusExecuted) {
			return storage.ErrStatusConflict
		}

		issued, err := issue(ctx, current)
		if err != nil {
			return err
		}
		if issued == nil {
			return storage.ErrInvalidInput
		}
		if err := insertSwap(txCtx, tx, issued); err != nil {
			return err
		}

		_, err = tx.Exec(txCtx, `
			UPDATE triggers SET status = $2, swap_id = $3, updated_at = $4 WHERE id = $1
		`, int64(id), string(domain.TriggerStatusExecuted), int64(issued.ID), at)
		if err != nil {
			return fmt.Errorf("mark trigger executed: %w", err)
		}
		swap = issued
		return nil
	})
	if err != nil {
		return nil, err
	}
	return swap, nil
}

// scanTrigger scans a single row into a Trigger.
func scanTrigger(row rowScanner) (*domain.Trigger, error) {
	var (
		t                    domain.Trigger
		id, price, swapID    int64
		slippage             int32
		owner, dir, status   string
		inputAmount, feePaid string
	)

	err := row.Scan(
		&id,
		&owner,
		&t.InputAsset,
		&t.TargetAsset,
		&t.ReferenceAsset,
		&inputAmount,
		&price,
		&dir,
		&slippage,
		&status,
		&feePaid,
		&swapID,
		&t.CreatedAt,
		&t.ExpiresAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t.InputAmount, err = parseNumeric(inputAmount); err != nil {
		return nil, err
	}
	if t.FeePaid, err = parseNumeric(feePaid); err != nil {
		return nil, err
	}

	t.ID = uint64(id)
	t.Owner = common.HexToAddress(owner)
	t.TriggerPrice = uint64(price)
	t.Direction = domain.Direction(dir)
	t.SlippageBps = uint32(slippage)
	t.Status = domain.TriggerStatus(status)
	if !t.Status.IsValid() {
		return nil, fmt.Errorf("trigger %d: unknown status %q", id, status)
	}
	t.SwapID = uint64(swapID)
	return &t, nil
}

// scanTriggers scans multiple rows into a slice of Trigger.
func scanTriggers(rows pgx.Rows) ([]*domain.Trigger, error) {
	var triggers []*domain.Trigger

	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigger row: %w", err)
		}
		triggers = append(triggers, t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trigger rows: %w", err)
	}

	return triggers, nil
}
