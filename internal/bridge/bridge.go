// Package bridge carries instructions from the execution layer to the
// settlement ledger: action encoding, system deposit addresses and relay
// submission.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
)

// Instruction is one framed action plus the value forwarded with it.
type Instruction struct {
	Data      []byte
	Value     *big.Int       // native value attached to the relay call
	DepositTo common.Address // zero when no deposit accompanies the action
}

// Receipt proves the relay accepted an instruction. It says nothing about
// settlement on the ledger.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Data        []byte // framed action as relayed
}

// Relay submits instructions to the settlement ledger.
type Relay interface {
	Submit(ctx context.Context, in Instruction) (Receipt, error)
}

// Bridge encodes and sends actions through a Relay.
type Bridge struct {
	relay Relay
	log   *logger.Entry
}

// New creates a Bridge.
func New(relay Relay, log *logger.Entry) *Bridge {
	return &Bridge{relay: relay, log: log.WithComponent("bridge")}
}

// SendAction frames params under actionID and relays them with value.
// depositTo receives value on the ledger side; pass the zero address when
// the action carries no deposit.
func (b *Bridge) SendAction(ctx context.Context, actionID uint32, params []byte, value *big.Int, depositTo common.Address) (Receipt, error) {
	if !KnownAction(actionID) {
		return Receipt{}, domain.NewInvalidInput("unknown action id %d", actionID)
	}
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return Receipt{}, domain.NewInvalidInput("negative value")
	}
	if value.Sign() > 0 && depositTo == (common.Address{}) {
		return Receipt{}, domain.NewInvalidInput("value without deposit address")
	}

	data, err := Frame(actionID, params)
	if err != nil {
		return Receipt{}, err
	}

	rcpt, err := b.relay.Submit(ctx, Instruction{Data: data, Value: value, DepositTo: depositTo})
	rcpt.Data = data
	if errors.Is(err, domain.ErrRelayUnconfirmed) {
		// Broadcast with unknown outcome. The hash is all the caller can
		// reconcile against, so it is returned with the error.
		b.log.WithError(err).WithFields(logger.Fields{
			"action":  ActionName(actionID),
			"tx_hash": rcpt.TxHash,
			"value":   value.String(),
		}).Error("instruction broadcast without confirmation")
		return rcpt, fmt.Errorf("%s: %w", ActionName(actionID), err)
	}
	if err != nil {
		b.log.WithError(err).WithFields(logger.Fields{
			"action": ActionName(actionID),
			"value":  value.String(),
		}).Warn("relay rejected instruction")
		return Receipt{}, fmt.Errorf("%w: %s: %v", domain.ErrBridgeCallFailed, ActionName(actionID), err)
	}

	b.log.WithFields(logger.Fields{
		"action":  ActionName(actionID),
		"tx_hash": rcpt.TxHash,
		"value":   value.String(),
	}).Debug("instruction relayed")
	return rcpt, nil
}
