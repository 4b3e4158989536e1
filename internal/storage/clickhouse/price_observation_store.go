package clickhouse

import (
	"context"
	"fmt"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// PriceObservationStore implements storage.PriceObservationStore using ClickHouse.
type PriceObservationStore struct {
	conn *Conn
}

// NewPriceObservationStore creates a new PriceObservationStore.
func NewPriceObservationStore(conn *Conn) *PriceObservationStore {
	return &PriceObservationStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PriceObservationStore = (*PriceObservationStore)(nil)

// InsertBulk appends observations in a single batch.
func (s *PriceObservationStore) InsertBulk(ctx context.Context, obs []*domain.PriceObservation) error {
	if len(obs) == 0 {
		return nil
	}
	for _, o := range obs {
		if o == nil || o.Asset == "" {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO price_observations (
			cycle_id, asset, price_index, price, decimals, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, o := range obs {
		err = batch.Append(
			o.CycleID, o.Asset, o.PriceIndex,
			o.Price, o.Decimals, uint64(o.ObservedAt),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves observations for an asset within [start, end] (inclusive).
func (s *PriceObservationStore) GetByTimeRange(ctx context.Context, asset string, start, end int64) ([]*domain.PriceObservation, error) {
	query := `
		SELECT cycle_id, asset, price_index, price, decimals, observed_at
		FROM price_observations
		WHERE asset = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, asset, uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanPriceObservations(rows)
}

// scanPriceObservations scans multiple rows.
func scanPriceObservations(rows chRows) ([]*domain.PriceObservation, error) {
	var result []*domain.PriceObservation

	for rows.Next() {
		var o domain.PriceObservation
		var observedAt uint64

		err := rows.Scan(
			&o.CycleID, &o.Asset, &o.PriceIndex,
			&o.Price, &o.Decimals, &observedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price observation row: %w", err)
		}

		o.ObservedAt = int64(observedAt)
		result = append(result, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price observation rows: %w", err)
	}

	return result, nil
}
