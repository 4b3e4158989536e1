// Package idhash derives deterministic record identifiers.
package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"trigger-keeper/internal/domain"
)

// ComputeAttemptID computes a deterministic attempt_id using SHA256.
// Formula: SHA256(cycle_id|trigger_id|attempt|outcome)
// Returns hex-encoded hash (64 characters). A cycle records at most one
// decision per (trigger, attempt, outcome), so re-inserting a cycle's
// attempts never duplicates rows.
func ComputeAttemptID(
	cycleID string,
	triggerID uint64,
	attempt int,
	outcome domain.AttemptOutcome,
) string {
	data := fmt.Sprintf("%s|%d|%d|%s",
		cycleID,
		triggerID,
		attempt,
		string(outcome),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
