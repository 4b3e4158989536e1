package domain

import "math/big"

// Swap is one cross-layer conversion issued by the engine.
// Corresponds to swaps table in PostgreSQL.
type Swap struct {
	ID           uint64   // sequential, assigned by the store
	TriggerID    uint64   // 0 for instant swaps
	User         Address  // beneficiary on the settlement layer
	FromAsset    string   // registry symbol
	ToAsset      string   // registry symbol
	FromAmount   *big.Int // base units of FromAsset
	MinOutput    *big.Int // base units of ToAsset, rounded down
	FromPrice    uint64   // price read used for the bound (PriceDecimals)
	ToPrice      uint64   // price read used for the bound (PriceDecimals)
	SlippageBps  uint32   // tolerance applied to MinOutput
	ActionID     uint32   // settlement action issued
	Payload      []byte   // framed instruction bytes as relayed
	FundingValue *big.Int // native value forwarded with the instruction
	TxHash       string   // relay transaction hash, empty for stub relays
	Timestamp    int64    // Unix timestamp in milliseconds
	Completed    bool     // instruction accepted for relay; not settlement confirmation
}

// Clone returns a deep copy.
func (s *Swap) Clone() *Swap {
	c := *s
	c.FromAmount = cloneInt(s.FromAmount)
	c.MinOutput = cloneInt(s.MinOutput)
	c.FundingValue = cloneInt(s.FundingValue)
	if s.Payload != nil {
		c.Payload = append([]byte(nil), s.Payload...)
	}
	return &c
}
