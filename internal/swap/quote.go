package swap

import (
	"math/big"

	"trigger-keeper/internal/domain"
)

var bpsDenominator = big.NewInt(domain.BpsDenominator)

// QuoteMinOutput returns the minimum acceptable output for converting
// fromAmount at fromPrice into an asset priced at toPrice, allowing
// slippageBps. Both prices share the same fixed-point scale:
//
//	floor(fromAmount * fromPrice * (10000 - bps) / (toPrice * 10000))
func QuoteMinOutput(fromAmount *big.Int, fromPrice, toPrice uint64, slippageBps uint32) (*big.Int, error) {
	return QuoteMinOutputScaled(fromAmount, fromPrice, toPrice, slippageBps, 0, 0)
}

// QuoteMinOutputScaled is QuoteMinOutput for assets whose base units have
// different decimals. The rescale happens inside the single floor division.
func QuoteMinOutputScaled(fromAmount *big.Int, fromPrice, toPrice uint64, slippageBps uint32, fromDecimals, toDecimals uint8) (*big.Int, error) {
	if fromAmount == nil || fromAmount.Sign() <= 0 {
		return nil, domain.NewInvalidInput("amount must be positive")
	}
	if fromPrice == 0 || toPrice == 0 {
		return nil, domain.NewInvalidInput("price must be positive")
	}
	if slippageBps > domain.MaxSlippageBps {
		return nil, domain.NewInvalidInput("slippage %d bps exceeds %d", slippageBps, domain.MaxSlippageBps)
	}

	num := new(big.Int).Mul(fromAmount, new(big.Int).SetUint64(fromPrice))
	num.Mul(num, big.NewInt(int64(domain.BpsDenominator-slippageBps)))
	num.Mul(num, pow10(toDecimals))

	den := new(big.Int).Mul(new(big.Int).SetUint64(toPrice), bpsDenominator)
	den.Mul(den, pow10(fromDecimals))

	return num.Quo(num, den), nil
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
