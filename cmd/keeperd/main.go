// Package main runs the trigger keeper service:
// - HTTP API for trigger lifecycle, instant swaps and admin operations
// - Execution worker polling prices and executing qualifying triggers
// - Health, status and Prometheus metrics endpoints
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"trigger-keeper/internal/alert"
	"trigger-keeper/internal/api"
	"trigger-keeper/internal/assets"
	"trigger-keeper/internal/auth"
	"trigger-keeper/internal/bridge"
	"trigger-keeper/internal/config"
	"trigger-keeper/internal/domain"
	"trigger-keeper/internal/evm"
	"trigger-keeper/internal/keeper"
	"trigger-keeper/internal/logger"
	"trigger-keeper/internal/observability"
	"trigger-keeper/internal/oracle"
	"trigger-keeper/internal/registry"
	"trigger-keeper/internal/storage"
	chstore "trigger-keeper/internal/storage/clickhouse"
	"trigger-keeper/internal/storage/memory"
	"trigger-keeper/internal/storage/migrations"
	pgstore "trigger-keeper/internal/storage/postgres"
	"trigger-keeper/internal/swap"
)

// Server holds all components of the keeper service.
type Server struct {
	cfg    *config.Config
	log    *logger.Entry
	stores *allStores

	acl      *auth.ACL
	assets   *assets.Registry
	engine   *swap.Engine
	registry *registry.Registry
	worker   *keeper.Worker
	hub      *api.Hub
	evm      *evm.Client

	started time.Time
}

// allStores holds all storage implementations.
type allStores struct {
	triggers     storage.TriggerStore
	swaps        storage.SwapStore
	assets       storage.AssetStore
	roles        storage.RoleStore
	observations storage.PriceObservationStore
	attempts     storage.ExecutionAttemptStore
}

func main() {
	configPath := flag.String("config", os.Getenv("KEEPER_CONFIG"), "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logRoot := logger.Get()
	if err := logRoot.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAgeDays); err != nil {
		fmt.Fprintf(os.Stderr, "configure logging: %v\n", err)
		os.Exit(1)
	}
	log := logRoot.WithComponent("keeperd")

	ctx, cancel := context.WithCancel(context.Background())

	stores, cleanup, err := createStores(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create stores")
	}
	defer cleanup()

	server, err := newServer(ctx, cfg, stores, log)
	if err != nil {
		log.WithError(err).Fatal("failed to assemble server")
	}
	defer server.evm.Close()

	done := make(chan error, 1)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("initiating graceful shutdown")
		cancel()

		select {
		case sig := <-sigCh:
			log.WithField("signal", sig.String()).Warn("second signal, forcing immediate shutdown")
			os.Exit(1)
		case <-time.After(30 * time.Second):
			log.Error("graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	err = server.Run(ctx)
	done <- err
	cancel()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("server error")
	}
	log.Info("shutdown complete")
}

// createStores opens memory or PostgreSQL/ClickHouse stores and applies migrations.
func createStores(ctx context.Context, cfg *config.Config, log *logger.Entry) (*allStores, func(), error) {
	if cfg.Storage.UseMemory {
		swaps := memory.NewSwapStore()
		stores := &allStores{
			triggers:     memory.NewTriggerStore(swaps),
			swaps:        swaps,
			assets:       memory.NewAssetStore(),
			roles:        memory.NewRoleStore(),
			observations: memory.NewPriceObservationStore(),
			attempts:     memory.NewExecutionAttemptStore(),
		}
		log.Warn("using in-memory storage, state is lost on restart")
		return stores, func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.Storage.PostgresDSN, cfg.Storage.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}
	if len(applied) > 0 {
		log.WithField("files", applied).Info("postgres migrations applied")
	}

	chConn, err := migrations.RunClickhouseMigrations(ctx, cfg.Storage.ClickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &allStores{
		// PostgreSQL stores (lifecycle state)
		triggers: pgstore.NewTriggerStore(pool),
		swaps:    pgstore.NewSwapStore(pool),
		assets:   pgstore.NewAssetStore(pool),
		roles:    pgstore.NewRoleStore(pool),

		// ClickHouse stores (audit)
		observations: chstore.NewPriceObservationStore(chConn),
		attempts:     chstore.NewExecutionAttemptStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}
	return stores, cleanup, nil
}

// newServer wires the execution-layer client, the services and the worker.
func newServer(ctx context.Context, cfg *config.Config, stores *allStores, log *logger.Entry) (*Server, error) {
	if cfg.EVM.RPCEndpoint == "" {
		return nil, errors.New("evm.rpc_endpoint is required")
	}
	key := os.Getenv(cfg.EVM.PrivateKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("relay key env %s is empty", cfg.EVM.PrivateKeyEnv)
	}

	client, err := evm.Dial(ctx, cfg.EVM.RPCEndpoint,
		evm.WithTimeout(cfg.EVM.Timeout),
		evm.WithMaxRetries(cfg.EVM.MaxRetries),
		evm.WithRetryDelay(cfg.EVM.RetryDelay),
		evm.WithMaxDelay(cfg.EVM.MaxDelay),
	)
	if err != nil {
		return nil, err
	}
	chainID, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("query chain id: %w", err)
	}
	if chainID.Cmp(big.NewInt(cfg.EVM.ChainID)) != 0 {
		client.Close()
		return nil, fmt.Errorf("endpoint chain id %s does not match configured %d", chainID, cfg.EVM.ChainID)
	}
	signer, err := evm.NewSigner(key, chainID)
	if err != nil {
		client.Close()
		return nil, err
	}

	root := logger.Get()
	hub := api.NewHub(root.WithComponent("api"))

	notifier := alert.Multi{
		alert.NewLogNotifier(root.WithComponent("keeperd")),
		alert.NewWebhookNotifier(cfg.Alerts.WebhookURL, cfg.Alerts.Timeout),
	}

	acl := auth.New(stores.roles, root.WithComponent("auth"), auth.WithEvents(hub))
	assetRegistry := assets.NewRegistry(stores.assets, acl, hub, root.WithComponent("assets"))

	prices := oracle.NewPrecompileReader(client, common.HexToAddress(cfg.EVM.OraclePrecompile))
	relay := evm.NewRelay(client, signer, evm.RelayConfig{
		Contract:       common.HexToAddress(cfg.EVM.ExecutorContract),
		GasLimit:       cfg.EVM.GasLimit,
		ReceiptTimeout: cfg.EVM.ReceiptTimeout,
		ReceiptPoll:    cfg.EVM.ReceiptPoll,
	}, root.WithComponent("evm"))

	engine := swap.NewEngine(swap.Config{
		ProtocolFee:    cfg.Swap.ProtocolFee.Value(),
		MaxSlippageBps: cfg.Swap.MaxSlippageBps,
	}, assetRegistry, prices, bridge.New(relay, root.WithComponent("bridge")), stores.swaps, notifier, hub, root.WithComponent("swap"))

	triggers := registry.New(registry.Config{
		CreationFee:    cfg.Registry.CreationFee.Value(),
		MinDuration:    cfg.Registry.MinDuration,
		MaxDuration:    cfg.Registry.MaxDuration,
		MaxSlippageBps: cfg.Swap.MaxSlippageBps,
	}, stores.triggers, assetRegistry, prices, acl, engine, root.WithComponent("registry"), registry.WithEvents(hub))

	s := &Server{
		cfg:      cfg,
		log:      log,
		stores:   stores,
		acl:      acl,
		assets:   assetRegistry,
		engine:   engine,
		registry: triggers,
		hub:      hub,
		evm:      client,
		started:  time.Now(),
	}

	if err := s.bootstrap(ctx); err != nil {
		client.Close()
		return nil, err
	}

	if cfg.Keeper.Enabled {
		s.worker = keeper.New(keeper.Config{
			Interval:       cfg.Keeper.Interval,
			Concurrency:    cfg.Keeper.Concurrency,
			MaxAttempts:    cfg.Keeper.MaxAttempts,
			InitialBackoff: cfg.Keeper.InitialBackoff,
			MaxBackoff:     cfg.Keeper.MaxBackoff,
			CallTimeout:    cfg.Keeper.CallTimeout,
			OracleRPS:      cfg.Keeper.OracleRPS,
			OracleBurst:    cfg.Keeper.OracleBurst,
			Executor:       common.HexToAddress(cfg.Keeper.Executor),
		}, triggers, assetRegistry, prices, stores.observations, stores.attempts, notifier, root.WithComponent("keeper"))
	}

	log.WithFields(logger.Fields{
		"chain_id":     chainID.String(),
		"relay_sender": signer.Address().Hex(),
		"executor":     cfg.EVM.ExecutorContract,
		"keeper":       cfg.Keeper.Enabled,
	}).Info("keeper service assembled")
	return s, nil
}

// bootstrap seeds capabilities and asset entries from configuration.
func (s *Server) bootstrap(ctx context.Context) error {
	operators := make([]domain.Address, 0, len(s.cfg.Bootstrap.Operators))
	for _, a := range s.cfg.Bootstrap.Operators {
		operators = append(operators, common.HexToAddress(a))
	}
	executors := make([]domain.Address, 0, len(s.cfg.Bootstrap.Executors)+1)
	for _, a := range s.cfg.Bootstrap.Executors {
		executors = append(executors, common.HexToAddress(a))
	}
	if s.cfg.Keeper.Enabled {
		executors = append(executors, common.HexToAddress(s.cfg.Keeper.Executor))
	}
	if err := s.acl.Bootstrap(ctx, operators, executors); err != nil {
		return fmt.Errorf("bootstrap capabilities: %w", err)
	}

	entries := make([]domain.AssetEntry, 0, len(s.cfg.Bootstrap.Assets))
	for _, a := range s.cfg.Bootstrap.Assets {
		entries = append(entries, domain.AssetEntry{
			Symbol:      a.Symbol,
			TokenIndex:  a.TokenIndex,
			PriceIndex:  a.PriceIndex,
			MarketIndex: a.MarketIndex,
			Decimals:    a.Decimals,
			Native:      a.Native,
			Pegged:      a.Pegged,
		})
	}
	if err := s.assets.Seed(ctx, entries); err != nil {
		return fmt.Errorf("bootstrap assets: %w", err)
	}
	return nil
}

// Run serves HTTP and runs the worker until ctx is cancelled or the HTTP
// server fails. It returns after the worker and background loops stop.
func (s *Server) Run(ctx context.Context) error {
	runCtx, stop := context.WithCancel(ctx)
	defer stop()

	httpServer := &http.Server{
		Addr:              s.cfg.HTTP.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.log.WithField("addr", s.cfg.HTTP.Listen).Info("starting HTTP server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	if s.worker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.worker.Run(runCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.trackUptime(runCtx)
	}()

	var runErr error
	select {
	case <-runCtx.Done():
	case runErr = <-errCh:
		s.log.WithError(runErr).Error("http server failed, stopping")
	}
	stop()

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		s.log.WithError(err).Warn("http shutdown")
	}
	wg.Wait()

	if runErr != nil {
		return runErr
	}
	return ctx.Err()
}

func (s *Server) trackUptime(ctx context.Context) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.RecordUptime(time.Since(s.started))
		}
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)

	apiServer := api.NewServer(s.registry, s.engine, s.assets, s.acl, s.hub, logger.Get().WithComponent("api"),
		api.WithSignatureWindow(s.cfg.HTTP.SignatureWindow))
	mux.Handle("/", apiServer.Handler())
	return mux
}

// StatusResponse is the JSON response for /status.
type StatusResponse struct {
	Status      string         `json:"status"`
	Uptime      string         `json:"uptime"`
	Started     time.Time      `json:"started"`
	Keeper      *keeper.Status `json:"keeper,omitempty"`
	Subscribers int            `json:"event_subscribers"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{
		Status:      "running",
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		Started:     s.started,
		Subscribers: s.hub.Subscribers(),
	}
	if s.worker != nil {
		st := s.worker.Status()
		resp.Keeper = &st
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
