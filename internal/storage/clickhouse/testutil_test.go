package clickhouse

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupTestDB starts a ClickHouse server, applies the audit schema to its
// "audit" database and returns a connection plus cleanup.
func setupTestDB(t *testing.T) (*Conn, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.Run(ctx, "clickhouse/clickhouse-server:24.1-alpine",
		testcontainers.WithExposedPorts("9000/tcp"),
		testcontainers.WithEnv(map[string]string{
			"CLICKHOUSE_DB":       "audit",
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		}),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("9000/tcp").WithStartupTimeout(90*time.Second),
		),
	)
	require.NoError(t, err, "start clickhouse container")

	endpoint, err := container.PortEndpoint(ctx, "9000/tcp", "clickhouse")
	require.NoError(t, err)

	conn, err := NewConn(ctx, endpoint+"/audit")
	require.NoError(t, err)

	runMigrations(t, conn)

	return conn, func() {
		conn.Close()
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("terminate clickhouse container: %v", err)
		}
	}
}

// runMigrations applies the ClickHouse migration scripts from the source tree.
func runMigrations(t *testing.T, conn *Conn) {
	t.Helper()

	files, err := filepath.Glob(filepath.Join(findMigrationsDir(t), "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		script, err := os.ReadFile(file)
		require.NoError(t, err)
		require.NoError(t, conn.ExecScript(context.Background(), string(script)), "apply %s", filepath.Base(file))
	}
}

// findMigrationsDir walks up to the module root and returns the ClickHouse migrations directory.
func findMigrationsDir(t *testing.T) string {
	t.Helper()

	dir, err := os.Getwd()
	require.NoError(t, err)

	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return filepath.Join(dir, "internal", "storage", "migrations", "clickhouse")
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find project root (go.mod)")
		}
		dir = parent
	}
}
