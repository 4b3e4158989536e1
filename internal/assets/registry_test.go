package assets

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"trigger-keeper/internal/auth"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/storage/memory"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	stranger = common.HexToAddress("0x0000000000000000000000000000000000000bad")
)

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	log := logger.Discard().WithComponent("test")
	acl := auth.New(memory.NewRoleStore(), log)
	if err := acl.Bootstrap(context.Background(), []domain.Address{operator}, nil); err != nil {
		t.Fatalf("Bootstrap failed: %v", err)
	}
	return NewRegistry(memory.NewAssetStore(), acl, nil, log)
}

func TestRegistry_UpsertAndResolve(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	saved, err := r.Upsert(ctx, operator, domain.AssetEntry{Symbol: " btc ", TokenIndex: 197, PriceIndex: 142, MarketIndex: 10107, Decimals: 8})
	if err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	if saved.Symbol != "BTC" || saved.UpdatedBy != operator || saved.UpdatedAt == 0 {
		t.Errorf("unexpected saved entry: %+v", saved)
	}

	got, err := r.Resolve(ctx, "Btc")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if got.PriceIndex != 142 || got.MarketIndex != 10107 {
		t.Errorf("unexpected entry: %+v", got)
	}

	// newer entry supersedes
	if _, err := r.Upsert(ctx, operator, domain.AssetEntry{Symbol: "BTC", TokenIndex: 197, PriceIndex: 3, Decimals: 8}); err != nil {
		t.Fatalf("second Upsert failed: %v", err)
	}
	got, _ = r.Resolve(ctx, "BTC")
	if got.PriceIndex != 3 {
		t.Errorf("expected superseded price index 3, got %d", got.PriceIndex)
	}
}

func TestRegistry_UpsertRequiresOperator(t *testing.T) {
	r := newRegistry(t)
	_, err := r.Upsert(context.Background(), stranger, domain.AssetEntry{Symbol: "ETH"})
	if !errors.Is(err, domain.ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRegistry_RejectsBadEntries(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	for _, e := range []domain.AssetEntry{
		{Symbol: ""},
		{Symbol: "BT-C"},
		{Symbol: "AVERYLONGSYMBOLNAME"},
		{Symbol: "ETH", Decimals: 30},
	} {
		if _, err := r.Upsert(ctx, operator, e); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("Upsert(%+v): expected ErrInvalidInput, got %v", e, err)
		}
	}
}

func TestRegistry_ResolveUnregistered(t *testing.T) {
	r := newRegistry(t)
	if _, err := r.Resolve(context.Background(), "DOGE"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRegistry_SeedKeepsExisting(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	if _, err := r.Upsert(ctx, operator, domain.AssetEntry{Symbol: "USDC", Pegged: true, Decimals: 6}); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}
	err := r.Seed(ctx, []domain.AssetEntry{
		{Symbol: "usdc", Decimals: 8},
		{Symbol: "HYPE", TokenIndex: 150, PriceIndex: 107, Native: true, Decimals: 18},
	})
	if err != nil {
		t.Fatalf("Seed failed: %v", err)
	}

	list, err := r.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 || list[0].Symbol != "HYPE" || list[1].Symbol != "USDC" {
		t.Fatalf("unexpected list: %+v", list)
	}
	if list[1].Decimals != 6 {
		t.Errorf("seed overwrote existing USDC entry: %+v", list[1])
	}
}
