package domain

import "github.com/ethereum/go-ethereum/common"

// Address identifies an account on the execution layer.
type Address = common.Address

// ParseAddress parses a hex address, rejecting malformed input.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, NewInvalidInput("malformed address %q", s)
	}
	return common.HexToAddress(s), nil
}
