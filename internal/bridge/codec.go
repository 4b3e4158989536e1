package bridge

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"trigger-keeper/internal/domain"
)

// EncodingVersion is the leading byte of every framed action.
const EncodingVersion byte = 1

// headerLen is the version byte plus the 3-byte action id.
const headerLen = 4

// maxActionID is the largest id representable in 24 bits.
const maxActionID = 1<<24 - 1

// ActionLimitOrder is the settlement ledger's action id for placing a limit order.
const ActionLimitOrder uint32 = 1

// Time-in-force values for limit orders.
const (
	TifAlo uint8 = 1
	TifGtc uint8 = 2
	TifIoc uint8 = 3
)

// LimitOrder places an order on a settlement market. Prices and sizes use
// the ledger's fixed-point encoding (1e8).
type LimitOrder struct {
	Asset      uint32
	IsBuy      bool
	LimitPx    uint64
	Sz         uint64
	ReduceOnly bool
	Tif        uint8
	Cloid      *big.Int // uint128, zero for none
}

var (
	tUint8, _   = abi.NewType("uint8", "", nil)
	tUint32, _  = abi.NewType("uint32", "", nil)
	tUint64, _  = abi.NewType("uint64", "", nil)
	tUint128, _ = abi.NewType("uint128", "", nil)
	tBool, _    = abi.NewType("bool", "", nil)
)

func args(types ...abi.Type) abi.Arguments {
	out := make(abi.Arguments, len(types))
	for i, t := range types {
		out[i] = abi.Argument{Type: t}
	}
	return out
}

var actionArgs = map[uint32]abi.Arguments{
	ActionLimitOrder: args(tUint32, tBool, tUint64, tUint64, tBool, tUint8, tUint128),
}

// KnownAction reports whether id is an action this codec understands.
func KnownAction(id uint32) bool {
	_, ok := actionArgs[id]
	return ok
}

// ActionName returns a short label for logs and metrics.
func ActionName(id uint32) string {
	switch id {
	case ActionLimitOrder:
		return "limit_order"
	default:
		return fmt.Sprintf("action_%d", id)
	}
}

func cloidOrZero(c *big.Int) *big.Int {
	if c == nil {
		return new(big.Int)
	}
	return c
}

// EncodeLimitOrder ABI-encodes limit order params.
func EncodeLimitOrder(o LimitOrder) ([]byte, error) {
	if o.Tif < TifAlo || o.Tif > TifIoc {
		return nil, domain.NewInvalidInput("unknown time in force %d", o.Tif)
	}
	return actionArgs[ActionLimitOrder].Pack(o.Asset, o.IsBuy, o.LimitPx, o.Sz, o.ReduceOnly, o.Tif, cloidOrZero(o.Cloid))
}

// Frame prefixes params with the encoding version and the 24-bit action id.
func Frame(actionID uint32, params []byte) ([]byte, error) {
	if actionID == 0 || actionID > maxActionID {
		return nil, domain.NewInvalidInput("action id %d out of range", actionID)
	}
	out := make([]byte, headerLen+len(params))
	binary.BigEndian.PutUint32(out[:headerLen], actionID)
	out[0] = EncodingVersion
	copy(out[headerLen:], params)
	return out, nil
}

// Decode splits framed data into action id and params. The version must
// match and params must have the exact encoded size for the action.
func Decode(data []byte) (uint32, []byte, error) {
	if len(data) < headerLen {
		return 0, nil, domain.NewInvalidInput("action data too short: %d bytes", len(data))
	}
	if data[0] != EncodingVersion {
		return 0, nil, domain.NewInvalidInput("unsupported encoding version %d", data[0])
	}
	id := uint32(data[1])<<16 | uint32(data[2])<<8 | uint32(data[3])
	a, ok := actionArgs[id]
	if !ok {
		return 0, nil, domain.NewInvalidInput("unknown action id %d", id)
	}
	params := data[headerLen:]
	if want := len(a) * 32; len(params) != want {
		return 0, nil, domain.NewInvalidInput("action %s params: want %d bytes, got %d", ActionName(id), want, len(params))
	}
	return id, params, nil
}

func unpack(id uint32, params []byte) ([]interface{}, error) {
	vals, err := actionArgs[id].Unpack(params)
	if err != nil {
		return nil, domain.NewInvalidInput("decode %s: %v", ActionName(id), err)
	}
	return vals, nil
}

// DecodeLimitOrder decodes limit order params.
func DecodeLimitOrder(params []byte) (LimitOrder, error) {
	v, err := unpack(ActionLimitOrder, params)
	if err != nil {
		return LimitOrder{}, err
	}
	return LimitOrder{
		Asset:      v[0].(uint32),
		IsBuy:      v[1].(bool),
		LimitPx:    v[2].(uint64),
		Sz:         v[3].(uint64),
		ReduceOnly: v[4].(bool),
		Tif:        v[5].(uint8),
		Cloid:      v[6].(*big.Int),
	}, nil
}
