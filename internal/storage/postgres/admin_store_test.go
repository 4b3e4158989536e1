package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

func TestAssetStore_UpsertAndList(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewAssetStore(pool)

	require.NoError(t, store.Upsert(ctx, &domain.AssetEntry{
		Symbol: "BTC", TokenIndex: 3, PriceIndex: 3, MarketIndex: 3, Decimals: 8, UpdatedAt: 1, UpdatedBy: alice,
	}))
	require.NoError(t, store.Upsert(ctx, &domain.AssetEntry{
		Symbol: "USDC", TokenIndex: 0, PriceIndex: 0, Decimals: 6, Pegged: true, UpdatedAt: 1, UpdatedBy: alice,
	}))
	require.NoError(t, store.Upsert(ctx, &domain.AssetEntry{
		Symbol: "BTC", TokenIndex: 197, PriceIndex: 142, MarketIndex: 10107, Decimals: 8, UpdatedAt: 2, UpdatedBy: bob,
	}))

	btc, err := store.GetBySymbol(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, uint64(197), btc.TokenIndex)
	assert.Equal(t, uint32(142), btc.PriceIndex)
	assert.Equal(t, uint32(10107), btc.MarketIndex)
	assert.Equal(t, bob, btc.UpdatedBy)

	all, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "BTC", all[0].Symbol)
	assert.True(t, all[1].Pegged)

	_, err = store.GetBySymbol(ctx, "DOGE")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRoleStore_GrantRevokeHas(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRoleStore(pool)

	ok, err := store.Has(ctx, bob, domain.CapabilityExecutor)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Grant(ctx, &domain.RoleGrant{
		Account: bob, Capability: domain.CapabilityExecutor, GrantedBy: alice, GrantedAt: 1,
	}))
	ok, err = store.Has(ctx, bob, domain.CapabilityExecutor)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Revoke(ctx, bob, domain.CapabilityExecutor, alice, 2))
	ok, err = store.Has(ctx, bob, domain.CapabilityExecutor)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Grant(ctx, &domain.RoleGrant{
		Account: bob, Capability: domain.CapabilityExecutor, GrantedBy: alice, GrantedAt: 3,
	}))
	ok, _ = store.Has(ctx, bob, domain.CapabilityExecutor)
	assert.True(t, ok, "re-grant reactivates")

	err = store.Revoke(ctx, alice, domain.CapabilityOperator, alice, 4)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	grants, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, grants, 1)
}
