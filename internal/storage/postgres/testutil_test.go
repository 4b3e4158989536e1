package postgres

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"trigger-keeper/internal/domain"
)

// setupTestDB starts a throwaway PostgreSQL container, applies the schema and
// registers cleanup on t.
func setupTestDB(t *testing.T) (*Pool, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("keeper"),
		postgres.WithUsername("keeper"),
		postgres.WithPassword("keeper"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err, "start postgres container")

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn, 4)
	require.NoError(t, err)

	applySchema(t, pool)

	return pool, func() {
		pool.Close()
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	}
}

// applySchema runs the migration files from the source tree in one
// transaction. The migrations package imports this one, so it cannot be used.
func applySchema(t *testing.T, pool *Pool) {
	t.Helper()

	root, err := os.Getwd()
	require.NoError(t, err)
	for {
		if _, err := os.Stat(filepath.Join(root, "go.mod")); err == nil {
			break
		}
		parent := filepath.Dir(root)
		require.NotEqual(t, root, parent, "go.mod not found above test directory")
		root = parent
	}

	files, err := filepath.Glob(filepath.Join(root, "internal", "storage", "migrations", "postgres", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	err = pool.InTx(context.Background(), func(tx pgx.Tx) error {
		for _, file := range files {
			script, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(context.Background(), string(script)); err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(file), err)
			}
		}
		return nil
	})
	require.NoError(t, err)
}

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

// newTestTrigger returns an active trigger owned by owner.
func newTestTrigger(owner common.Address) *domain.Trigger {
	return &domain.Trigger{
		Owner:          owner,
		InputAsset:     "USDC",
		TargetAsset:    "BTC",
		ReferenceAsset: "BTC",
		InputAmount:    new(big.Int).Mul(big.NewInt(1000), big.NewInt(1_000_000_000_000_000_000)),
		TriggerPrice:   100000_000000,
		Direction:      domain.DirectionAbove,
		SlippageBps:    100,
		Status:         domain.TriggerStatusActive,
		FeePaid:        big.NewInt(1_000_000_000_000_000),
		CreatedAt:      1700000000000,
		ExpiresAt:      1700086400000,
		UpdatedAt:      1700000000000,
	}
}
