package bridge

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"trigger-keeper/internal/domain"
)

// systemAddressPrefix is the first byte of every token system address.
const systemAddressPrefix = 0x20

// NativeSystemAddress receives deposits of the execution-layer gas asset.
var NativeSystemAddress = common.HexToAddress("0x2222222222222222222222222222222222222222")

// SystemAddress derives the deposit address for a settlement token index:
// 0x20, eleven zero bytes, then the index big-endian in the last 8 bytes.
func SystemAddress(tokenIndex uint64) common.Address {
	var a common.Address
	a[0] = systemAddressPrefix
	binary.BigEndian.PutUint64(a[common.AddressLength-8:], tokenIndex)
	return a
}

// DepositAddress returns where value for asset e must be sent to reach the
// settlement ledger.
func DepositAddress(e *domain.AssetEntry) common.Address {
	if e.Native {
		return NativeSystemAddress
	}
	return SystemAddress(e.TokenIndex)
}
