package api

import (
	"math/big"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"trigger-keeper/internal/domain"
)

type createTriggerRequest struct {
	InputAsset     string `json:"input_asset"`
	TargetAsset    string `json:"target_asset"`
	ReferenceAsset string `json:"reference_asset"`
	InputAmount    string `json:"input_amount"`
	TriggerPrice   string `json:"trigger_price"`
	Direction      string `json:"direction"`
	SlippageBps    uint32 `json:"slippage_bps"`
	Duration       string `json:"duration"`
	Value          string `json:"value"`
}

type instantSwapRequest struct {
	FromAsset   string `json:"from_asset"`
	ToAsset     string `json:"to_asset"`
	FromAmount  string `json:"from_amount"`
	SlippageBps uint32 `json:"slippage_bps"`
	Value       string `json:"value"`
}

type assetRequest struct {
	TokenIndex  uint64 `json:"token_index"`
	PriceIndex  uint32 `json:"price_index"`
	MarketIndex uint32 `json:"market_index"`
	Decimals    uint8  `json:"decimals"`
	Native      bool   `json:"native"`
	Pegged      bool   `json:"pegged"`
}

type roleRequest struct {
	Account    string `json:"account"`
	Capability string `json:"capability"`
}

type triggerResponse struct {
	ID             uint64 `json:"id"`
	Owner          string `json:"owner"`
	InputAsset     string `json:"input_asset"`
	TargetAsset    string `json:"target_asset"`
	ReferenceAsset string `json:"reference_asset"`
	InputAmount    string `json:"input_amount"`
	TriggerPrice   string `json:"trigger_price"`
	Direction      string `json:"direction"`
	SlippageBps    uint32 `json:"slippage_bps"`
	Status         string `json:"status"`
	FeePaid        string `json:"fee_paid"`
	SwapID         uint64 `json:"swap_id,omitempty"`
	CreatedAt      int64  `json:"created_at"`
	ExpiresAt      int64  `json:"expires_at"`
	UpdatedAt      int64  `json:"updated_at"`
}

type createTriggerResponse struct {
	Trigger triggerResponse `json:"trigger"`
	Refund  string          `json:"refund"`
}

type swapResponse struct {
	ID           uint64 `json:"id"`
	TriggerID    uint64 `json:"trigger_id,omitempty"`
	User         string `json:"user"`
	FromAsset    string `json:"from_asset"`
	ToAsset      string `json:"to_asset"`
	FromAmount   string `json:"from_amount"`
	MinOutput    string `json:"min_output"`
	FromPrice    string `json:"from_price"`
	ToPrice      string `json:"to_price"`
	SlippageBps  uint32 `json:"slippage_bps"`
	ActionID     uint32 `json:"action_id"`
	FundingValue string `json:"funding_value"`
	TxHash       string `json:"tx_hash,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Completed    bool   `json:"completed"`
}

type assetResponse struct {
	Symbol      string `json:"symbol"`
	TokenIndex  uint64 `json:"token_index"`
	PriceIndex  uint32 `json:"price_index"`
	MarketIndex uint32 `json:"market_index"`
	Decimals    uint8  `json:"decimals"`
	Native      bool   `json:"native"`
	Pegged      bool   `json:"pegged"`
	UpdatedAt   int64  `json:"updated_at"`
	UpdatedBy   string `json:"updated_by,omitempty"`
}

type roleResponse struct {
	Account    string `json:"account"`
	Capability string `json:"capability"`
	GrantedBy  string `json:"granted_by"`
	GrantedAt  int64  `json:"granted_at"`
	Revoked    bool   `json:"revoked"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// parseAmount parses a base-unit integer. An empty string is zero.
func parseAmount(field, s string) (*big.Int, error) {
	if s == "" {
		return new(big.Int), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, domain.NewInvalidInput("%s %q is not a non-negative integer", field, s)
	}
	return v, nil
}

// parsePrice converts a decimal string such as "100000.5" to PriceDecimals fixed point.
func parsePrice(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, domain.NewInvalidInput("trigger_price %q: %v", s, err)
	}
	scaled := d.Shift(domain.PriceDecimals)
	if !scaled.IsInteger() {
		return 0, domain.NewInvalidInput("trigger_price %q has more than %d decimals", s, domain.PriceDecimals)
	}
	v := scaled.BigInt()
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, domain.NewInvalidInput("trigger_price %q out of range", s)
	}
	return v.Uint64(), nil
}

// formatPrice renders a PriceDecimals fixed-point value as a decimal string.
func formatPrice(p uint64) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(p), -domain.PriceDecimals).String()
}

func parseDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, domain.NewInvalidInput("duration %q: %v", s, err)
	}
	return d, nil
}

func intString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func toTriggerResponse(t *domain.Trigger) triggerResponse {
	return triggerResponse{
		ID:             t.ID,
		Owner:          t.Owner.Hex(),
		InputAsset:     t.InputAsset,
		TargetAsset:    t.TargetAsset,
		ReferenceAsset: t.ReferenceAsset,
		InputAmount:    intString(t.InputAmount),
		TriggerPrice:   formatPrice(t.TriggerPrice),
		Direction:      t.Direction.String(),
		SlippageBps:    t.SlippageBps,
		Status:         t.Status.String(),
		FeePaid:        intString(t.FeePaid),
		SwapID:         t.SwapID,
		CreatedAt:      t.CreatedAt,
		ExpiresAt:      t.ExpiresAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

func toSwapResponse(s *domain.Swap) swapResponse {
	return swapResponse{
		ID:           s.ID,
		TriggerID:    s.TriggerID,
		User:         s.User.Hex(),
		FromAsset:    s.FromAsset,
		ToAsset:      s.ToAsset,
		FromAmount:   intString(s.FromAmount),
		MinOutput:    intString(s.MinOutput),
		FromPrice:    formatPrice(s.FromPrice),
		ToPrice:      formatPrice(s.ToPrice),
		SlippageBps:  s.SlippageBps,
		ActionID:     s.ActionID,
		FundingValue: intString(s.FundingValue),
		TxHash:       s.TxHash,
		Timestamp:    s.Timestamp,
		Completed:    s.Completed,
	}
}

func toAssetResponse(e *domain.AssetEntry) assetResponse {
	r := assetResponse{
		Symbol:      e.Symbol,
		TokenIndex:  e.TokenIndex,
		PriceIndex:  e.PriceIndex,
		MarketIndex: e.MarketIndex,
		Decimals:    e.Decimals,
		Native:      e.Native,
		Pegged:      e.Pegged,
		UpdatedAt:   e.UpdatedAt,
	}
	if e.UpdatedBy != (domain.Address{}) {
		r.UpdatedBy = e.UpdatedBy.Hex()
	}
	return r
}

func toRoleResponse(g *domain.RoleGrant) roleResponse {
	return roleResponse{
		Account:    g.Account.Hex(),
		Capability: g.Capability.String(),
		GrantedBy:  g.GrantedBy.Hex(),
		GrantedAt:  g.GrantedAt,
		Revoked:    g.Revoked,
	}
}

func parseID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil || id == 0 {
		return 0, domain.NewInvalidInput("trigger id %q is not a positive integer", s)
	}
	return id, nil
}
