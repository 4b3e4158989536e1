package postgres

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/storage"
)

func TestSwapStore_InstantSwapInsertAndGet(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewSwapStore(pool)

	swap := &domain.Swap{
		User:         bob,
		FromAsset:    "HYPE",
		ToAsset:      "USDC",
		FromAmount:   big.NewInt(5_000_000_000_000_000_000),
		MinOutput:    big.NewInt(123_450_000),
		FromPrice:    24_690000,
		ToPrice:      1_000000,
		SlippageBps:  50,
		ActionID:     1,
		Payload:      []byte{0x01, 0x00, 0x00, 0x01, 0xff},
		FundingValue: big.NewInt(5_001_000_000_000_000_000),
		TxHash:       "0xabc",
		Timestamp:    1700000000000,
		Completed:    true,
	}
	require.NoError(t, store.Insert(ctx, swap))
	assert.NotZero(t, swap.ID)

	got, err := store.GetByID(ctx, swap.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), got.TriggerID)
	assert.Equal(t, bob, got.User)
	assert.Equal(t, 0, swap.FundingValue.Cmp(got.FundingValue))
	assert.Equal(t, swap.Payload, got.Payload)
	assert.Equal(t, "0xabc", got.TxHash)

	byUser, err := store.GetByUser(ctx, bob)
	require.NoError(t, err)
	assert.Len(t, byUser, 1)

	_, err = store.GetByID(ctx, swap.ID+10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSwapStore_DuplicateTriggerSwap(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	triggers := NewTriggerStore(pool)
	store := NewSwapStore(pool)

	tr := newTestTrigger(alice)
	require.NoError(t, triggers.Insert(ctx, tr))

	require.NoError(t, store.Insert(ctx, issueSwap(tr)))
	err := store.Insert(ctx, issueSwap(tr))
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
