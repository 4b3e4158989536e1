package clickhouse

import (
	"context"
	"fmt"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

// ExecutionAttemptStore implements storage.ExecutionAttemptStore using ClickHouse.
type ExecutionAttemptStore struct {
	conn *Conn
}

// NewExecutionAttemptStore creates a new ExecutionAttemptStore.
func NewExecutionAttemptStore(conn *Conn) *ExecutionAttemptStore {
	return &ExecutionAttemptStore{conn: conn}
}

// Compile-time interface check.
var _ storage.ExecutionAttemptStore = (*ExecutionAttemptStore)(nil)

// InsertBulk appends attempts. Fails entire batch on duplicate attempt_id.
func (s *ExecutionAttemptStore) InsertBulk(ctx context.Context, attempts []*domain.ExecutionAttempt) error {
	if len(attempts) == 0 {
		return nil
	}

	// MergeTree does not enforce uniqueness, so duplicates are checked here.
	seen := make(map[string]struct{}, len(attempts))
	ids := make([]string, 0, len(attempts))
	for _, a := range attempts {
		if a == nil || a.AttemptID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[a.AttemptID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[a.AttemptID] = struct{}{}
		ids = append(ids, a.AttemptID)
	}

	var count uint64
	err := s.conn.QueryRow(ctx, `SELECT count(*) FROM execution_attempts WHERE has(?, attempt_id)`, ids).Scan(&count)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}
	if count > 0 {
		return storage.ErrDuplicateKey
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO execution_attempts (
			attempt_id, cycle_id, trigger_id, attempt, outcome, error_kind, error, timestamp_ms
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, a := range attempts {
		err = batch.Append(
			a.AttemptID, a.CycleID, a.TriggerID, uint32(a.Attempt),
			string(a.Outcome), a.ErrorKind, a.Error, uint64(a.Timestamp),
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

// GetByTriggerID retrieves all attempts for a trigger, ordered by time ASC.
func (s *ExecutionAttemptStore) GetByTriggerID(ctx context.Context, triggerID uint64) ([]*domain.ExecutionAttempt, error) {
	query := `
		SELECT attempt_id, cycle_id, trigger_id, attempt, outcome, error_kind, error, timestamp_ms
		FROM execution_attempts
		WHERE trigger_id = ?
		ORDER BY timestamp_ms ASC, attempt ASC
	`

	rows, err := s.conn.Query(ctx, query, triggerID)
	if err != nil {
		return nil, fmt.Errorf("query by trigger id: %w", err)
	}
	defer rows.Close()

	var result []*domain.ExecutionAttempt
	for rows.Next() {
		var (
			a           domain.ExecutionAttempt
			attempt     uint32
			outcome     string
			timestampMs uint64
		)
		err := rows.Scan(
			&a.AttemptID, &a.CycleID, &a.TriggerID, &attempt,
			&outcome, &a.ErrorKind, &a.Error, &timestampMs,
		)
		if err != nil {
			return nil, fmt.Errorf("scan execution attempt row: %w", err)
		}
		a.Attempt = int(attempt)
		a.Outcome = domain.AttemptOutcome(outcome)
		a.Timestamp = int64(timestampMs)
		result = append(result, &a)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate execution attempt rows: %w", err)
	}

	return result, nil
}
