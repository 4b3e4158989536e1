package evm

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer holds the relay account key.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
	signer  types.Signer
}

// NewSigner parses a hex private key (with or without 0x) for chainID.
func NewSigner(hexKey string, chainID *big.Int) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  types.LatestSignerForChainID(chainID),
	}, nil
}

// Address returns the signing account.
func (s *Signer) Address() common.Address {
	return s.address
}

// Sign signs tx for the configured chain.
func (s *Signer) Sign(tx *types.Transaction) (*types.Transaction, error) {
	signed, err := types.SignTx(tx, s.signer, s.key)
	if err != nil {
		return nil, fmt.Errorf("sign tx: %w", err)
	}
	return signed, nil
}
