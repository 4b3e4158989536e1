// Package stub provides a recording Relay for tests.
package stub

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"trigger-keeper/internal/bridge"
	"trigger-keeper/internal/domain"
)

// ErrRelayDown is the default scripted failure.
var ErrRelayDown = errors.New("relay down")

// Relay implements bridge.Relay by recording instructions.
type Relay struct {
	mu           sync.Mutex
	instructions []bridge.Instruction
	failures     []error
	unconfirmed  int
	seq          uint64
}

// NewRelay creates a new stub relay.
func NewRelay() *Relay {
	return &Relay{}
}

// FailNext makes the next n submissions fail with err (ErrRelayDown when nil).
func (r *Relay) FailNext(n int, err error) {
	if err == nil {
		err = ErrRelayDown
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := 0; i < n; i++ {
		r.failures = append(r.failures, err)
	}
}

// UnconfirmNext makes the next n submissions record the instruction and then
// report it broadcast without a receipt.
func (r *Relay) UnconfirmNext(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unconfirmed += n
}

// Submit records the instruction unless a failure is scripted.
func (r *Relay) Submit(_ context.Context, in bridge.Instruction) (bridge.Receipt, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.failures) > 0 {
		err := r.failures[0]
		r.failures = r.failures[1:]
		return bridge.Receipt{}, err
	}

	copied := bridge.Instruction{
		Data:      append([]byte(nil), in.Data...),
		Value:     new(big.Int).Set(in.Value),
		DepositTo: in.DepositTo,
	}
	r.instructions = append(r.instructions, copied)
	r.seq++
	hash := fmt.Sprintf("0xstub%04d", r.seq)
	if r.unconfirmed > 0 {
		r.unconfirmed--
		return bridge.Receipt{TxHash: hash}, fmt.Errorf("%w: %s: receipt wait: %v", domain.ErrRelayUnconfirmed, hash, context.DeadlineExceeded)
	}
	return bridge.Receipt{TxHash: hash, BlockNumber: r.seq}, nil
}

// Instructions returns the accepted instructions in submission order.
func (r *Relay) Instructions() []bridge.Instruction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bridge.Instruction(nil), r.instructions...)
}

var _ bridge.Relay = (*Relay)(nil)
