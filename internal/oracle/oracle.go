// Package oracle reads spot prices from the execution layer's price
// precompile.
package oracle

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"trigger-keeper/internal/domain"
)

// PrecompileAddress is the well-known spot price precompile.
var PrecompileAddress = common.HexToAddress("0x0000000000000000000000000000000000000807")

// Price is a fixed-point oracle reading.
type Price struct {
	Value    uint64
	Decimals uint8
}

// Reader returns the current price for an oracle feed index.
type Reader interface {
	CurrentPrice(ctx context.Context, priceIndex uint32) (Price, error)
}

// Caller performs read-only calls against the execution layer.
type Caller interface {
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)
}

var (
	uint32Type, _ = abi.NewType("uint32", "", nil)
	uint64Type, _ = abi.NewType("uint64", "", nil)
	indexArgs     = abi.Arguments{{Type: uint32Type}}
	priceArgs     = abi.Arguments{{Type: uint64Type}}
)

// PrecompileReader implements Reader over the price precompile. Each call
// is a fresh read; nothing is cached.
type PrecompileReader struct {
	caller  Caller
	address common.Address
}

// NewPrecompileReader creates a reader calling the precompile at address.
func NewPrecompileReader(caller Caller, address common.Address) *PrecompileReader {
	return &PrecompileReader{caller: caller, address: address}
}

// CurrentPrice reads one price. Reverts, transport failures, malformed
// output and the zero sentinel all map to domain.ErrOracleUnavailable.
func (r *PrecompileReader) CurrentPrice(ctx context.Context, priceIndex uint32) (Price, error) {
	input, err := indexArgs.Pack(priceIndex)
	if err != nil {
		return Price{}, fmt.Errorf("encode price index: %w", err)
	}

	out, err := r.caller.Call(ctx, r.address, input)
	if err != nil {
		return Price{}, fmt.Errorf("%w: index %d: %v", domain.ErrOracleUnavailable, priceIndex, err)
	}
	if len(out) != 32 {
		return Price{}, fmt.Errorf("%w: index %d: %d-byte response", domain.ErrOracleUnavailable, priceIndex, len(out))
	}

	vals, err := priceArgs.Unpack(out)
	if err != nil {
		return Price{}, fmt.Errorf("%w: index %d: %v", domain.ErrOracleUnavailable, priceIndex, err)
	}
	v := vals[0].(uint64)
	if v == 0 {
		return Price{}, fmt.Errorf("%w: index %d: no price", domain.ErrOracleUnavailable, priceIndex)
	}

	return Price{Value: v, Decimals: domain.PriceDecimals}, nil
}

var _ Reader = (*PrecompileReader)(nil)
