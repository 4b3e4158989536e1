package evm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"

	"trigger-keeper/internal/bridge"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
)

// ErrReverted is returned when the relay transaction was mined but failed.
var ErrReverted = errors.New("relay transaction reverted")

const executorABI = `[{"inputs":[{"name":"data","type":"bytes"},{"name":"depositTo","type":"address"}],"name":"relay","outputs":[],"stateMutability":"payable","type":"function"}]`

var parsedExecutorABI = mustParseABI(executorABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("parse executor abi: %v", err))
	}
	return parsed
}

// RelayConfig configures a Relay.
type RelayConfig struct {
	Contract       common.Address // executor contract exposing relay(bytes,address)
	GasLimit       uint64
	ReceiptTimeout time.Duration
	ReceiptPoll    time.Duration
}

// Relay implements bridge.Relay by calling the executor contract.
type Relay struct {
	client *Client
	signer *Signer
	cfg    RelayConfig
	log    *logger.Entry

	// sendMu serializes nonce assignment and broadcast.
	sendMu sync.Mutex
}

// NewRelay creates a Relay.
func NewRelay(client *Client, signer *Signer, cfg RelayConfig, log *logger.Entry) *Relay {
	return &Relay{
		client: client,
		signer: signer,
		cfg:    cfg,
		log:    log.WithComponent("evm_relay"),
	}
}

// Submit sends in to the executor contract and waits for a successful receipt.
// Once the transaction may have reached the node, failures return the
// transaction hash with domain.ErrRelayUnconfirmed: the instruction must
// not be resubmitted.
func (r *Relay) Submit(ctx context.Context, in bridge.Instruction) (bridge.Receipt, error) {
	data, err := parsedExecutorABI.Pack("relay", in.Data, in.DepositTo)
	if err != nil {
		return bridge.Receipt{}, fmt.Errorf("pack relay call: %w", err)
	}

	tx, err := r.send(ctx, data, in)
	if err != nil {
		if tx != nil {
			return r.unconfirmed(tx, err)
		}
		return bridge.Receipt{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.ReceiptTimeout)
	defer cancel()
	receipt, err := r.client.WaitReceipt(waitCtx, tx.Hash(), r.cfg.ReceiptPoll)
	if err != nil {
		return r.unconfirmed(tx, err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return bridge.Receipt{}, fmt.Errorf("%w: %s", ErrReverted, tx.Hash().Hex())
	}

	r.log.WithFields(logger.Fields{
		"tx_hash":  tx.Hash().Hex(),
		"block":    receipt.BlockNumber.Uint64(),
		"gas_used": receipt.GasUsed,
	}).Debug("relay transaction confirmed")
	return bridge.Receipt{TxHash: tx.Hash().Hex(), BlockNumber: receipt.BlockNumber.Uint64()}, nil
}

func (r *Relay) unconfirmed(tx *types.Transaction, cause error) (bridge.Receipt, error) {
	hash := tx.Hash().Hex()
	r.log.WithError(cause).WithField("tx_hash", hash).Error("relay transaction broadcast without confirmation")
	return bridge.Receipt{TxHash: hash}, fmt.Errorf("%w: %s: %v", domain.ErrRelayUnconfirmed, hash, cause)
}

// send signs and broadcasts the relay transaction. A non-nil transaction
// with an error means the broadcast outcome is unknown; a JSON-RPC error
// from the node is a definite rejection and returns no transaction.
func (r *Relay) send(ctx context.Context, data []byte, in bridge.Instruction) (*types.Transaction, error) {
	r.sendMu.Lock()
	defer r.sendMu.Unlock()

	nonce, err := r.client.PendingNonce(ctx, r.signer.Address())
	if err != nil {
		return nil, err
	}
	gasPrice, err := r.client.GasPrice(ctx)
	if err != nil {
		return nil, err
	}

	to := r.cfg.Contract
	tx, err := r.signer.Sign(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      r.cfg.GasLimit,
		To:       &to,
		Value:    in.Value,
		Data:     data,
	}))
	if err != nil {
		return nil, err
	}
	if err := r.client.Send(ctx, tx); err != nil {
		var rpcErr rpc.Error
		if errors.As(err, &rpcErr) {
			return nil, err
		}
		return tx, err
	}
	return tx, nil
}

var _ bridge.Relay = (*Relay)(nil)
