package swap

import (
	"errors"
	"math/big"
	"testing"

	"trigger-keeper/internal/domain"
)

func TestQuoteMinOutput_Identity(t *testing.T) {
	amount := big.NewInt(123_456_789)
	got, err := QuoteMinOutput(amount, 2_000_000, 2_000_000, 0)
	if err != nil {
		t.Fatalf("QuoteMinOutput: %v", err)
	}
	if got.Cmp(amount) != 0 {
		t.Errorf("equal prices and zero slippage: got %s, want %s", got, amount)
	}
}

func TestQuoteMinOutput_Example(t *testing.T) {
	// 1000 units at 2.0 into an asset at 4.0 with 1% slippage
	got, err := QuoteMinOutput(big.NewInt(1000), 2_000_000, 4_000_000, 100)
	if err != nil {
		t.Fatalf("QuoteMinOutput: %v", err)
	}
	if got.Int64() != 495 {
		t.Errorf("got %s, want 495", got)
	}
}

func TestQuoteMinOutput_RoundsDown(t *testing.T) {
	// 10 * 1 * 9999 / (3 * 10000) = 3.333
	got, err := QuoteMinOutput(big.NewInt(10), 1, 3, 1)
	if err != nil {
		t.Fatalf("QuoteMinOutput: %v", err)
	}
	if got.Int64() != 3 {
		t.Errorf("got %s, want 3", got)
	}
}

func TestQuoteMinOutput_MonotoneInSlippage(t *testing.T) {
	amount := big.NewInt(987_654_321)
	prev, _ := QuoteMinOutput(amount, 1_234_567, 7_654_321, 0)
	for bps := uint32(1); bps <= domain.MaxSlippageBps; bps += 7 {
		got, err := QuoteMinOutput(amount, 1_234_567, 7_654_321, bps)
		if err != nil {
			t.Fatalf("bps %d: %v", bps, err)
		}
		if got.Cmp(prev) > 0 {
			t.Fatalf("bps %d: output %s exceeds output %s at lower slippage", bps, got, prev)
		}
		prev = got
	}
}

func TestQuoteMinOutput_TightBound(t *testing.T) {
	amounts := []int64{1, 7, 999, 1_000_003, 45_000_000_000}
	prices := [][2]uint64{{1, 1}, {3, 7}, {65_000_000_000, 1_000_000}, {1_000_000, 65_000_000_000}}
	for _, a := range amounts {
		for _, p := range prices {
			for _, bps := range []uint32{0, 1, 50, 5000} {
				amount := big.NewInt(a)
				got, err := QuoteMinOutput(amount, p[0], p[1], bps)
				if err != nil {
					t.Fatalf("QuoteMinOutput: %v", err)
				}
				// got*toPrice*10000 <= amount*fromPrice*(10000-bps) < (got+1)*toPrice*10000
				exact := new(big.Int).Mul(amount, new(big.Int).SetUint64(p[0]))
				exact.Mul(exact, big.NewInt(int64(10000-bps)))
				lo := new(big.Int).Mul(got, new(big.Int).SetUint64(p[1]*10000))
				hi := new(big.Int).Mul(new(big.Int).Add(got, big.NewInt(1)), new(big.Int).SetUint64(p[1]*10000))
				if lo.Cmp(exact) > 0 || hi.Cmp(exact) <= 0 {
					t.Errorf("amount=%d prices=%v bps=%d: %s is not the floor", a, p, bps, got)
				}
			}
		}
	}
}

func TestQuoteMinOutput_LargeValues(t *testing.T) {
	amount, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	got, err := QuoteMinOutput(amount, ^uint64(0), 1, 0)
	if err != nil {
		t.Fatalf("QuoteMinOutput: %v", err)
	}
	want := new(big.Int).Mul(amount, new(big.Int).SetUint64(^uint64(0)))
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestQuoteMinOutputScaled(t *testing.T) {
	// 1000 USDC (6 decimals) into BTC (8 decimals) at 50000 with 1%
	got, err := QuoteMinOutputScaled(big.NewInt(1_000_000_000), 1_000_000, 50_000_000_000, 100, 6, 8)
	if err != nil {
		t.Fatalf("QuoteMinOutputScaled: %v", err)
	}
	if got.Int64() != 1_980_000 {
		t.Errorf("got %s, want 1980000", got)
	}
}

func TestQuoteMinOutput_RejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		amount *big.Int
		from   uint64
		to     uint64
		bps    uint32
	}{
		{"nil amount", nil, 1, 1, 0},
		{"zero amount", big.NewInt(0), 1, 1, 0},
		{"negative amount", big.NewInt(-1), 1, 1, 0},
		{"zero from price", big.NewInt(1), 0, 1, 0},
		{"zero to price", big.NewInt(1), 1, 0, 0},
		{"slippage over cap", big.NewInt(1), 1, 1, domain.MaxSlippageBps + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := QuoteMinOutput(tt.amount, tt.from, tt.to, tt.bps); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}
