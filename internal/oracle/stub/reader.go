// Package stub provides a settable in-memory oracle for tests.
package stub

import (
	"context"
	"fmt"
	"sync"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/oracle"
)

// Reader implements oracle.Reader from a map of feed index to price.
type Reader struct {
	mu     sync.RWMutex
	prices map[uint32]uint64
	fail   map[uint32]bool
	reads  map[uint32]int
}

// NewReader creates a new stub reader.
func NewReader() *Reader {
	return &Reader{
		prices: make(map[uint32]uint64),
		fail:   make(map[uint32]bool),
		reads:  make(map[uint32]int),
	}
}

// Set sets the price for index (6 decimals).
func (r *Reader) Set(index uint32, price uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prices[index] = price
	delete(r.fail, index)
}

// Fail makes reads of index return domain.ErrOracleUnavailable.
func (r *Reader) Fail(index uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[index] = true
}

// Reads returns how many times index was read.
func (r *Reader) Reads(index uint32) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reads[index]
}

// CurrentPrice returns the stored price.
func (r *Reader) CurrentPrice(_ context.Context, index uint32) (oracle.Price, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.reads[index]++
	p, ok := r.prices[index]
	if r.fail[index] || !ok || p == 0 {
		return oracle.Price{}, fmt.Errorf("%w: index %d", domain.ErrOracleUnavailable, index)
	}
	return oracle.Price{Value: p, Decimals: domain.PriceDecimals}, nil
}

var _ oracle.Reader = (*Reader)(nil)
