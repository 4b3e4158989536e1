package storage

import (
	"errors"
	"fmt"

	"trigger-keeper/internal/domain"
)

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when attempting to insert a record
	// with a key that already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStatusConflict is returned when a compare-and-set status update
	// finds the record in a different status than expected.
	ErrStatusConflict = errors.New("status conflict")
)

// CheckTransition rejects status moves outside the trigger lifecycle.
// Executed is reached only through MarkExecuted, which records the swap.
func CheckTransition(from, to domain.TriggerStatus) error {
	if !from.IsValid() || !to.IsValid() || !domain.CanTransition(from, to) || to == domain.TriggerStatusExecuted {
		return fmt.Errorf("%w: trigger status %s -> %s", ErrInvalidInput, from, to)
	}
	return nil
}
