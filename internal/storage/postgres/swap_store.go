package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

const swapColumns = `
	id, COALESCE(trigger_id, 0), user_address, from_asset, to_asset, from_amount::text,
	min_output::text, from_price, to_price, slippage_bps, action_id, payload,
	funding_value::text, tx_hash, timestamp, completed
`

// SwapStore implements storage.SwapStore using PostgreSQL.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// execer is satisfied by *Pool and pgx.Tx.
type execer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Insert stores a swap and assigns the BIGSERIAL id to s.ID.
// Returns ErrDuplicateKey if a swap already exists for the trigger.
func (s *SwapStore) Insert(ctx context.Context, swap *domain.Swap) error {
	return insertSwap(ctx, s.pool, swap)
}

func insertSwap(ctx context.Context, q execer, swap *domain.Swap) error {
	if swap == nil || swap.FromAmount == nil || swap.MinOutput == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO swaps (
			trigger_id, user_address, from_asset, to_asset, from_amount, min_output,
			from_price, to_price, slippage_bps, action_id, payload, funding_value,
			tx_hash, timestamp, completed
		) VALUES (
			NULLIF($1::bigint, 0), $2, $3, $4, $5::numeric, $6::numeric,
			$7, $8, $9, $10, $11, $12::numeric,
			$13, $14, $15
		)
		RETURNING id
	`

	payload := swap.Payload
	if payload == nil {
		payload = []byte{}
	}

	var id int64
	err := q.QueryRow(ctx, query,
		int64(swap.TriggerID),
		swap.User.Hex(),
		swap.FromAsset,
		swap.ToAsset,
		numeric(swap.FromAmount),
		numeric(swap.MinOutput),
		int64(swap.FromPrice),
		int64(swap.ToPrice),
		int32(swap.SlippageBps),
		int32(swap.ActionID),
		payload,
		numeric(swap.FundingValue),
		swap.TxHash,
		swap.Timestamp,
		swap.Completed,
	).Scan(&id)
	if err != nil {
		return classify("insert swap", err)
	}

	swap.ID = uint64(id)
	return nil
}

// GetByID retrieves a swap. Returns ErrNotFound if not exists.
func (s *SwapStore) GetByID(ctx context.Context, id uint64) (*domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE id = $1`

	swap, err := scanSwap(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		return nil, classify("get swap by id", err)
	}
	return swap, nil
}

// GetByUser retrieves all swaps for a user, ordered by ID ASC.
func (s *SwapStore) GetByUser(ctx context.Context, user domain.Address) ([]*domain.Swap, error) {
	query := `SELECT ` + swapColumns + ` FROM swaps WHERE user_address = $1 ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, user.Hex())
	if err != nil {
		return nil, fmt.Errorf("get swaps by user: %w", err)
	}
	defer rows.Close()

	return scanSwaps(rows)
}

// GetByTriggerID retrieves the swap issued for a trigger. Returns ErrNotFound if none.
func (s *SwapStore) GetByTriggerID(ctx context.Context, triggerID uint64) (*domain.Swap, error) {
	if triggerID == 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `SELECT ` + swapColumns + ` FROM swaps WHERE trigger_id = $1`

	swap, err := scanSwap(s.pool.QueryRow(ctx, query, int64(triggerID)))
	if err != nil {
		return nil, classify("get swap by trigger id", err)
	}
	return swap, nil
}

// scanSwap scans a single row into a Swap.
func scanSwap(row rowScanner) (*domain.Swap, error) {
	var (
		swap                          domain.Swap
		id, triggerID                 int64
		fromPrice, toPrice            int64
		slippage, actionID            int32
		user                          string
		fromAmount, minOutput, funded string
	)

	err := row.Scan(
		&id,
		&triggerID,
		&user,
		&swap.FromAsset,
		&swap.ToAsset,
		&fromAmount,
		&minOutput,
		&fromPrice,
		&toPrice,
		&slippage,
		&actionID,
		&swap.Payload,
		&funded,
		&swap.TxHash,
		&swap.Timestamp,
		&swap.Completed,
	)
	if err != nil {
		return nil, err
	}

	if swap.FromAmount, err = parseNumeric(fromAmount); err != nil {
		return nil, err
	}
	if swap.MinOutput, err = parseNumeric(minOutput); err != nil {
		return nil, err
	}
	if swap.FundingValue, err = parseNumeric(funded); err != nil {
		return nil, err
	}

	swap.ID = uint64(id)
	swap.TriggerID = uint64(triggerID)
	swap.User = common.HexToAddress(user)
	swap.FromPrice = uint64(fromPrice)
	swap.ToPrice = uint64(toPrice)
	swap.SlippageBps = uint32(slippage)
	swap.ActionID = uint32(actionID)
	return &swap, nil
}

// scanSwaps scans multiple rows into a slice of Swap.
func scanSwaps(rows pgx.Rows) ([]*domain.Swap, error) {
	var swaps []*domain.Swap

	for rows.Next() {
		swap, err := scanSwap(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swap row: %w", err)
		}
		swaps = append(swaps, swap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swap rows: %w", err)
	}

	return swaps, nil
}
