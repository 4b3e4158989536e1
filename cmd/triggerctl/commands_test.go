package main

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/storage/memory"
)

var (
	operator = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	owner    = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

type testCLI struct {
	*cli
	buf      *bytes.Buffer
	triggers *memory.TriggerStore
	attempts *memory.ExecutionAttemptStore
}

func newTestCLI(t *testing.T) *testCLI {
	t.Helper()
	buf := &bytes.Buffer{}
	swaps := memory.NewSwapStore()
	triggers := memory.NewTriggerStore(swaps)
	attempts := memory.NewExecutionAttemptStore()

	c := newCLI(triggers, swaps, memory.NewAssetStore(), memory.NewRoleStore(), buf, logger.Discard().WithComponent("test"))
	c.attempts = attempts
	c.observations = memory.NewPriceObservationStore()
	c.now = func() int64 { return 1_700_000_000_000 }
	require.NoError(t, c.acl.Bootstrap(context.Background(), []domain.Address{operator}, nil))
	return &testCLI{cli: c, buf: buf, triggers: triggers, attempts: attempts}
}

func (c *testCLI) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	c.buf.Reset()
	err := c.dispatch(context.Background(), args)
	return c.buf.String(), err
}

func TestAssets(t *testing.T) {
	c := newTestCLI(t)

	_, err := c.run(t, "assets", "upsert", "-as", owner.Hex(), "-symbol", "btc", "-token-index", "197", "-price-index", "3", "-market-index", "10142", "-decimals", "8")
	assert.ErrorIs(t, err, domain.ErrUnauthorized)

	out, err := c.run(t, "assets", "upsert", "-as", operator.Hex(), "-symbol", "btc", "-token-index", "197", "-price-index", "3", "-market-index", "10142", "-decimals", "8")
	require.NoError(t, err)
	assert.Contains(t, out, "asset BTC written")

	out, err = c.run(t, "assets", "list")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[1], "BTC")
	assert.Contains(t, lines[1], "10142")
}

func TestRoles(t *testing.T) {
	c := newTestCLI(t)

	_, err := c.run(t, "roles", "grant", "-as", operator.Hex(), "-account", owner.Hex(), "-capability", "executor")
	require.NoError(t, err)

	out, err := c.run(t, "roles", "list")
	require.NoError(t, err)
	assert.Contains(t, out, owner.Hex())

	_, err = c.run(t, "roles", "revoke", "-as", operator.Hex(), "-account", operator.Hex(), "-capability", "operator")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = c.run(t, "roles", "grant", "-as", operator.Hex(), "-capability", "executor")
	assert.ErrorIs(t, err, errUsage)
}

func TestTriggers(t *testing.T) {
	c := newTestCLI(t)
	ctx := context.Background()
	require.NoError(t, c.triggers.Insert(ctx, &domain.Trigger{
		Owner:          owner,
		InputAsset:     "USDC",
		TargetAsset:    "BTC",
		ReferenceAsset: "BTC",
		InputAmount:    big.NewInt(1_000_000_000),
		TriggerPrice:   100_000_500_000,
		Direction:      domain.DirectionAbove,
		SlippageBps:    50,
		Status:         domain.TriggerStatusActive,
		FeePaid:        big.NewInt(5_000),
		CreatedAt:      1_699_990_000_000,
		ExpiresAt:      1_699_999_000_000,
	}))

	out, err := c.run(t, "triggers", "list", "-owner", owner.Hex())
	require.NoError(t, err)
	assert.Contains(t, out, "expired")
	assert.Contains(t, out, "above 100000.5")

	color.NoColor = true
	out, err = c.run(t, "triggers", "show", "-id", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "1000000000 USDC -> BTC")
	assert.Contains(t, out, "status:     expired")

	_, err = c.run(t, "triggers", "show", "-id", "9")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttempts(t *testing.T) {
	c := newTestCLI(t)
	require.NoError(t, c.attempts.InsertBulk(context.Background(), []*domain.ExecutionAttempt{
		{AttemptID: "a1", CycleID: "c1", TriggerID: 7, Attempt: 1, Outcome: domain.OutcomeRetrying, ErrorKind: domain.KindBridgeCallFailed, Error: "relay down", Timestamp: 1},
		{AttemptID: "a2", CycleID: "c1", TriggerID: 7, Attempt: 2, Outcome: domain.OutcomeExecuted, Timestamp: 2},
	}))

	out, err := c.run(t, "attempts", "-trigger", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "bridge_call_failed")
	assert.Contains(t, out, "executed")
}

func TestDispatchErrors(t *testing.T) {
	c := newTestCLI(t)

	for _, args := range [][]string{
		{"bogus"},
		{"assets"},
		{"assets", "delete"},
		{"triggers", "list"},
		{"prices"},
		{"assets", "upsert", "-nope"},
	} {
		_, err := c.run(t, args...)
		assert.True(t, errors.Is(err, errUsage), "args %v: %v", args, err)
	}
}
