package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// AssetStore implements storage.AssetStore using PostgreSQL.
type AssetStore struct {
	pool *Pool
}

// NewAssetStore creates a new AssetStore.
func NewAssetStore(pool *Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AssetStore = (*AssetStore)(nil)

// Upsert inserts or supersedes the entry for e.Symbol.
func (s *AssetStore) Upsert(ctx context.Context, e *domain.AssetEntry) error {
	if e == nil || e.Symbol == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO asset_entries (
			symbol, token_index, price_index, market_index, decimals, native, pegged, updated_at, updated_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (symbol) DO UPDATE SET
			token_index = EXCLUDED.token_index,
			price_index = EXCLUDED.price_index,
			market_index = EXCLUDED.market_index,
			decimals = EXCLUDED.decimals,
			native = EXCLUDED.native,
			pegged = EXCLUDED.pegged,
			updated_at = EXCLUDED.updated_at,
			updated_by = EXCLUDED.updated_by
	`

	_, err := s.pool.Exec(ctx, query,
		e.Symbol,
		int64(e.TokenIndex),
		int32(e.PriceIndex),
		int32(e.MarketIndex),
		int16(e.Decimals),
		e.Native,
		e.Pegged,
		e.UpdatedAt,
		e.UpdatedBy.Hex(),
	)
	if err != nil {
		return fmt.Errorf("upsert asset entry: %w", err)
	}
	return nil
}

// GetBySymbol retrieves an entry. Returns ErrNotFound if not exists.
func (s *AssetStore) GetBySymbol(ctx context.Context, symbol string) (*domain.AssetEntry, error) {
	query := `
		SELECT symbol, token_index, price_index, market_index, decimals, native, pegged, updated_at, updated_by
		FROM asset_entries
		WHERE symbol = $1
	`

	e, err := scanAsset(s.pool.QueryRow(ctx, query, symbol))
	if err != nil {
		return nil, classify("get asset by symbol", err)
	}
	return e, nil
}

// List retrieves all entries ordered by symbol.
func (s *AssetStore) List(ctx context.Context) ([]*domain.AssetEntry, error) {
	query := `
		SELECT symbol, token_index, price_index, market_index, decimals, native, pegged, updated_at, updated_by
		FROM asset_entries
		ORDER BY symbol ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list assets: %w", err)
	}
	defer rows.Close()

	return scanAssets(rows)
}

func scanAsset(row rowScanner) (*domain.AssetEntry, error) {
	var (
		e                       domain.AssetEntry
		tokenIndex              int64
		priceIndex, marketIndex int32
		decimals                int16
		updatedBy               string
	)

	err := row.Scan(
		&e.Symbol,
		&tokenIndex,
		&priceIndex,
		&marketIndex,
		&decimals,
		&e.Native,
		&e.Pegged,
		&e.UpdatedAt,
		&updatedBy,
	)
	if err != nil {
		return nil, err
	}

	e.TokenIndex = uint64(tokenIndex)
	e.PriceIndex = uint32(priceIndex)
	e.MarketIndex = uint32(marketIndex)
	e.Decimals = uint8(decimals)
	e.UpdatedBy = common.HexToAddress(updatedBy)
	return &e, nil
}

func scanAssets(rows pgx.Rows) ([]*domain.AssetEntry, error) {
	var entries []*domain.AssetEntry

	for rows.Next() {
		e, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset rows: %w", err)
	}

	return entries, nil
}
