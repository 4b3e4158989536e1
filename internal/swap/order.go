package swap

import (
	"math/big"

	"trigger-keeper/internal/bridge"
	"trigger-keeper/internal/domain"
)

// orderDecimals is the ledger's fixed-point scale for order price and size.
const orderDecimals = 8

// buildOrder turns a bounded conversion into an immediate-or-cancel limit
// order on the non-quote asset's market. One side must be the pegged quote
// asset; anything else would need more than one leg.
func buildOrder(from, to *domain.AssetEntry, fromAmount, minOutput, cloid *big.Int) (bridge.LimitOrder, error) {
	if minOutput.Sign() <= 0 {
		return bridge.LimitOrder{}, domain.NewInvalidInput("amount too small: minimum output rounds to zero")
	}

	var (
		market    uint32
		isBuy     bool
		baseUnits *big.Int // size in the traded asset's base units
		baseDec   uint8
		quoteAmt  *big.Int
		quoteDec  uint8
	)
	switch {
	case from.Pegged && !to.Pegged:
		// spend quote, receive at least minOutput of the target
		market, isBuy = to.MarketIndex, true
		baseUnits, baseDec = minOutput, to.Decimals
		quoteAmt, quoteDec = fromAmount, from.Decimals
	case to.Pegged && !from.Pegged:
		// sell all input, receive at least minOutput quote
		market, isBuy = from.MarketIndex, false
		baseUnits, baseDec = fromAmount, from.Decimals
		quoteAmt, quoteDec = minOutput, to.Decimals
	default:
		return bridge.LimitOrder{}, domain.NewInvalidInput("no direct market between %s and %s", from.Symbol, to.Symbol)
	}

	scale := pow10(orderDecimals)

	// sz = baseUnits * 1e8 / 10^baseDec
	sz := new(big.Int).Mul(baseUnits, scale)
	sz.Quo(sz, pow10(baseDec))

	// limitPx = quote per base unit, 1e8 scale
	num := new(big.Int).Mul(quoteAmt, scale)
	num.Mul(num, pow10(baseDec))
	den := new(big.Int).Mul(baseUnits, pow10(quoteDec))
	px := new(big.Int)
	if isBuy {
		// highest price the buyer accepts, rounded down
		px.Quo(num, den)
	} else {
		// lowest price the seller accepts, rounded up
		px.Add(num, new(big.Int).Sub(den, big.NewInt(1)))
		px.Quo(px, den)
	}

	if sz.Sign() == 0 || px.Sign() == 0 {
		return bridge.LimitOrder{}, domain.NewInvalidInput("amount too small for market %d", market)
	}
	if !sz.IsUint64() || !px.IsUint64() {
		return bridge.LimitOrder{}, domain.NewInvalidInput("order for market %d exceeds ledger limits", market)
	}

	return bridge.LimitOrder{
		Asset:   market,
		IsBuy:   isBuy,
		LimitPx: px.Uint64(),
		Sz:      sz.Uint64(),
		Tif:     bridge.TifIoc,
		Cloid:   cloid,
	}, nil
}
