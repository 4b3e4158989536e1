// Package main provides triggerctl, the operator CLI for the keeper's
// databases: migrations, asset registry, capabilities and audit queries.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"trigger-keeper/internal/assets"
	"trigger-keeper/internal/auth"
	"trigger-keeper/internal/config"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/storage"
	chstore "trigger-keeper/internal/storage/clickhouse"
	"trigger-keeper/internal/storage/migrations"
	pgstore "trigger-keeper/internal/storage/postgres"
)

const usage = `usage: triggerctl [-config path] <command> [flags]

commands:
  migrate                     apply PostgreSQL and ClickHouse migrations
  assets list                 list registered assets
  assets upsert  -as ADDR ... write an asset entry (operator only)
  roles list                  list capability grants
  roles grant    -as ADDR -account ADDR -capability NAME
  roles revoke   -as ADDR -account ADDR -capability NAME
  triggers list  -owner ADDR  list an owner's triggers
  triggers show  -id N        show one trigger and its swap
  attempts       -trigger N   show execution attempts for a trigger
  prices         -asset SYM   show recent price observations
`

// errUsage marks argument errors; main prints usage for them.
var errUsage = errors.New("invalid arguments")

// cli holds the stores a command may touch. Audit stores are nil when
// ClickHouse is not configured.
type cli struct {
	triggers     storage.TriggerStore
	swaps        storage.SwapStore
	assets       *assets.Registry
	acl          *auth.ACL
	observations storage.PriceObservationStore
	attempts     storage.ExecutionAttemptStore
	out          io.Writer
	now          func() int64
}

func main() {
	configPath := flag.String("config", os.Getenv("KEEPER_CONFIG"), "Path to YAML config file")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Storage.PostgresDSN == "" {
		fmt.Fprintln(os.Stderr, "Error: storage.postgres_dsn (or POSTGRES_DSN) is required")
		os.Exit(1)
	}

	logRoot := logger.Get()
	if err := logRoot.Configure("warn", "text", "stderr", 0); err != nil {
		fmt.Fprintf(os.Stderr, "Error configuring logging: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err = run(ctx, cfg, flag.Args(), os.Stdout, logRoot.WithComponent("triggerctl"))
	if errors.Is(err, errUsage) {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n%s", err, usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer, log *logger.Entry) error {
	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	if args[0] == "migrate" {
		return migrate(ctx, pool, cfg.Storage.ClickhouseDSN, out)
	}

	c := newCLI(pgstore.NewTriggerStore(pool), pgstore.NewSwapStore(pool), pgstore.NewAssetStore(pool),
		pgstore.NewRoleStore(pool), out, log)

	if cfg.Storage.ClickhouseDSN != "" && (args[0] == "attempts" || args[0] == "prices") {
		conn, err := chstore.NewConn(ctx, cfg.Storage.ClickhouseDSN)
		if err != nil {
			return err
		}
		defer conn.Close()
		c.observations = chstore.NewPriceObservationStore(conn)
		c.attempts = chstore.NewExecutionAttemptStore(conn)
	}

	return c.dispatch(ctx, args)
}

func migrate(ctx context.Context, pool *pgstore.Pool, clickhouseDSN string, out io.Writer) error {
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "postgres: up to date")
	}
	for _, f := range applied {
		fmt.Fprintf(out, "postgres: applied %s\n", f)
	}

	if clickhouseDSN == "" {
		fmt.Fprintln(out, "clickhouse: skipped (no dsn)")
		return nil
	}
	conn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		return fmt.Errorf("clickhouse migrations: %w", err)
	}
	defer conn.Close()
	fmt.Fprintln(out, "clickhouse: schema ensured")
	return nil
}
