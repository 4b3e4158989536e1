package domain

// PriceObservation is one oracle read made by the worker.
// Corresponds to price_observations table in ClickHouse.
type PriceObservation struct {
	CycleID    string // worker cycle uuid
	Asset      string // registry symbol
	PriceIndex uint32
	Price      uint64 // PriceDecimals fixed point
	Decimals   uint8
	ObservedAt int64 // Unix timestamp in milliseconds
}

// AttemptOutcome classifies one worker decision about a trigger.
type AttemptOutcome string

const (
	OutcomeExecuted        AttemptOutcome = "executed"
	OutcomeConditionNotMet AttemptOutcome = "condition_not_met"
	OutcomeRejected        AttemptOutcome = "rejected"
	OutcomeRetrying        AttemptOutcome = "retrying"
	OutcomeExhausted       AttemptOutcome = "exhausted"
	OutcomeSkipped         AttemptOutcome = "skipped"
)

// ExecutionAttempt is the audit record of a worker decision.
// Corresponds to execution_attempts table in ClickHouse.
type ExecutionAttempt struct {
	AttemptID string // idhash.ComputeAttemptID
	CycleID   string
	TriggerID uint64
	Attempt   int // 1-based within the cycle, 0 when no execute was made
	Outcome   AttemptOutcome
	ErrorKind string // taxonomy kind, empty on success
	Error     string
	Timestamp int64 // Unix timestamp in milliseconds
}
