package domain

import "math/big"

// PriceDecimals is the fixed-point scale of oracle prices and trigger thresholds.
const PriceDecimals = 6

// MaxSlippageBps is the largest slippage tolerance a trigger or swap may carry (50%).
const MaxSlippageBps = 5000

// BpsDenominator is the basis-point scale.
const BpsDenominator = 10000

// Direction selects which side of the threshold fires a trigger.
type Direction string

const (
	DirectionAbove Direction = "above" // fires when price >= threshold
	DirectionBelow Direction = "below" // fires when price <= threshold
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	return string(d)
}

// IsValid checks if the direction is a valid value.
func (d Direction) IsValid() bool {
	return d == DirectionAbove || d == DirectionBelow
}

// Satisfied reports whether price crosses threshold in this direction.
// Equality fires in both directions.
func (d Direction) Satisfied(price, threshold uint64) bool {
	switch d {
	case DirectionAbove:
		return price >= threshold
	case DirectionBelow:
		return price <= threshold
	default:
		return false
	}
}

// TriggerStatus is the lifecycle state of a trigger.
type TriggerStatus string

const (
	TriggerStatusActive    TriggerStatus = "active"
	TriggerStatusExecuted  TriggerStatus = "executed"
	TriggerStatusCancelled TriggerStatus = "cancelled"
	TriggerStatusExpired   TriggerStatus = "expired"
)

// String returns the string representation of TriggerStatus.
func (s TriggerStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a valid value.
func (s TriggerStatus) IsValid() bool {
	switch s {
	case TriggerStatusActive, TriggerStatusExecuted, TriggerStatusCancelled, TriggerStatusExpired:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s TriggerStatus) IsTerminal() bool {
	return s == TriggerStatusExecuted || s == TriggerStatusCancelled || s == TriggerStatusExpired
}

// CanTransition reports whether from -> to is a legal lifecycle move.
func CanTransition(from, to TriggerStatus) bool {
	return from == TriggerStatusActive && to.IsTerminal()
}

// Trigger is one conditional order.
// Corresponds to triggers table in PostgreSQL.
type Trigger struct {
	ID             uint64        // sequential, assigned by the store
	Owner          Address       // creator; sole party allowed to cancel
	InputAsset     string        // registry symbol converted from
	TargetAsset    string        // registry symbol converted to
	ReferenceAsset string        // registry symbol whose price is evaluated
	InputAmount    *big.Int      // settlement base units, > 0
	TriggerPrice   uint64        // threshold, PriceDecimals fixed point
	Direction      Direction     // above | below
	SlippageBps    uint32        // <= MaxSlippageBps
	Status         TriggerStatus // lifecycle state as persisted
	FeePaid        *big.Int      // creation fee debited
	SwapID         uint64        // set when executed
	CreatedAt      int64         // Unix timestamp in milliseconds
	ExpiresAt      int64         // Unix timestamp in milliseconds
	UpdatedAt      int64         // last status change (ms)
}

// IsExpired reports whether the trigger has lapsed at nowMs.
func (t *Trigger) IsExpired(nowMs int64) bool {
	return nowMs > t.ExpiresAt
}

// EffectiveStatus returns the status with lazy expiry applied.
func (t *Trigger) EffectiveStatus(nowMs int64) TriggerStatus {
	if t.Status == TriggerStatusActive && t.IsExpired(nowMs) {
		return TriggerStatusExpired
	}
	return t.Status
}

// Clone returns a deep copy.
func (t *Trigger) Clone() *Trigger {
	c := *t
	c.InputAmount = cloneInt(t.InputAmount)
	c.FeePaid = cloneInt(t.FeePaid)
	return &c
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
