package domain

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by entry points. Callers match with errors.Is.
var (
	// ErrInvalidInput covers malformed or zero amounts, unregistered assets
	// and out-of-bounds duration or slippage. Never retried.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized is returned when the caller lacks ownership or capability.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInvalidState is returned when a trigger is not in the required status.
	ErrInvalidState = errors.New("invalid state")

	// ErrTriggerExpired is the expiry-specific invalid state.
	ErrTriggerExpired = fmt.Errorf("%w: trigger expired", ErrInvalidState)

	// ErrConditionNotMet is returned when the fresh price does not satisfy the trigger.
	ErrConditionNotMet = errors.New("condition not met")

	// ErrOracleUnavailable is returned when a price read reverts or yields no data.
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// ErrBridgeCallFailed is returned when the instruction relay rejects a call.
	ErrBridgeCallFailed = errors.New("bridge call failed")

	// ErrRelayUnconfirmed is returned when an instruction was broadcast but
	// its outcome is unknown. Resubmitting could settle it twice.
	ErrRelayUnconfirmed = errors.New("relay unconfirmed")

	// ErrNotFound is returned when a trigger, swap or asset does not exist.
	ErrNotFound = errors.New("not found")
)

// Error kind labels used in logs, metrics, API bodies and attempt records.
const (
	KindInvalidInput      = "invalid_input"
	KindUnauthorized      = "unauthorized"
	KindTriggerExpired    = "trigger_expired"
	KindInvalidState      = "invalid_state"
	KindConditionNotMet   = "condition_not_met"
	KindOracleUnavailable = "oracle_unavailable"
	KindBridgeCallFailed  = "bridge_call_failed"
	KindRelayUnconfirmed  = "relay_unconfirmed"
	KindNotFound          = "not_found"
	KindInternal          = "internal"
)

// KindOf classifies err into the failure taxonomy. Returns "" for nil.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTriggerExpired):
		return KindTriggerExpired
	case errors.Is(err, ErrInvalidState):
		return KindInvalidState
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrConditionNotMet):
		return KindConditionNotMet
	case errors.Is(err, ErrOracleUnavailable):
		return KindOracleUnavailable
	case errors.Is(err, ErrRelayUnconfirmed):
		return KindRelayUnconfirmed
	case errors.Is(err, ErrBridgeCallFailed):
		return KindBridgeCallFailed
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	default:
		return KindInternal
	}
}

// IsPermanent reports whether retrying the same call cannot change the outcome.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindInvalidInput, KindUnauthorized, KindInvalidState, KindTriggerExpired,
		KindConditionNotMet, KindNotFound, KindRelayUnconfirmed:
		return true
	}
	return false
}

// NewInvalidInput wraps ErrInvalidInput with a formatted reason.
func NewInvalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
