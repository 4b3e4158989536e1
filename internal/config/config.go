// Package config loads keeper configuration from YAML, .env and the environment.
package config

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Registry  RegistryConfig  `yaml:"registry"`
	Swap      SwapConfig      `yaml:"swap"`
	Keeper    KeeperConfig    `yaml:"keeper"`
	EVM       EVMConfig       `yaml:"evm"`
	Storage   StorageConfig   `yaml:"storage"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	HTTP      HTTPConfig      `yaml:"http"`
	Logging   LoggingConfig   `yaml:"logging"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
}

type RegistryConfig struct {
	CreationFee BigInt        `yaml:"creation_fee"` // native base units
	MinDuration time.Duration `yaml:"min_duration"`
	MaxDuration time.Duration `yaml:"max_duration"`
}

type SwapConfig struct {
	ProtocolFee    BigInt `yaml:"protocol_fee"` // native base units
	MaxSlippageBps uint32 `yaml:"max_slippage_bps"`
}

type KeeperConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Interval       time.Duration `yaml:"interval"`
	Concurrency    int           `yaml:"concurrency"`
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	CallTimeout    time.Duration `yaml:"call_timeout"`
	OracleRPS      float64       `yaml:"oracle_rps"`
	OracleBurst    int           `yaml:"oracle_burst"`
	Executor       string        `yaml:"executor"` // address holding the executor capability
}

type EVMConfig struct {
	RPCEndpoint      string        `yaml:"rpc_endpoint"`
	ChainID          int64         `yaml:"chain_id"`
	PrivateKeyEnv    string        `yaml:"private_key_env"` // name of the env var holding the relay key
	ExecutorContract string        `yaml:"executor_contract"`
	OraclePrecompile string        `yaml:"oracle_precompile"`
	GasLimit         uint64        `yaml:"gas_limit"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	ReceiptTimeout   time.Duration `yaml:"receipt_timeout"`
	ReceiptPoll      time.Duration `yaml:"receipt_poll"`
}

type StorageConfig struct {
	UseMemory     bool   `yaml:"use_memory"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	MaxConns      int32  `yaml:"max_conns"`
}

type AlertsConfig struct {
	WebhookURL string        `yaml:"webhook_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

type HTTPConfig struct {
	Listen          string        `yaml:"listen"`
	SignatureWindow time.Duration `yaml:"signature_window"` // allowed request timestamp skew
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type BootstrapConfig struct {
	Operators []string      `yaml:"operators"`
	Executors []string      `yaml:"executors"`
	Assets    []AssetConfig `yaml:"assets"`
}

type AssetConfig struct {
	Symbol      string `yaml:"symbol"`
	TokenIndex  uint64 `yaml:"token_index"`
	PriceIndex  uint32 `yaml:"price_index"`
	MarketIndex uint32 `yaml:"market_index"`
	Decimals    uint8  `yaml:"decimals"`
	Native      bool   `yaml:"native"`
	Pegged      bool   `yaml:"pegged"`
}

// RelayBudget is the longest a relay submission may take: nonce and gas
// price reads, the broadcast, then the receipt wait.
func (e EVMConfig) RelayBudget() time.Duration {
	return 3*e.Timeout + e.ReceiptTimeout
}

// BigInt is a base-10 integer amount in YAML.
type BigInt struct {
	*big.Int
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *BigInt) UnmarshalYAML(node *yaml.Node) error {
	v, ok := new(big.Int).SetString(strings.ReplaceAll(node.Value, "_", ""), 10)
	if !ok {
		return fmt.Errorf("line %d: invalid integer amount %q", node.Line, node.Value)
	}
	b.Int = v
	return nil
}

// Value returns the amount, zero when unset.
func (b BigInt) Value() *big.Int {
	if b.Int == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(b.Int)
}

// Default returns the configuration used when no file overrides a field.
func Default() Config {
	return Config{
		Registry: RegistryConfig{
			CreationFee: BigInt{big.NewInt(1_000_000_000_000_000)}, // 0.001 native
			MinDuration: time.Hour,
			MaxDuration: 30 * 24 * time.Hour,
		},
		Swap: SwapConfig{
			ProtocolFee:    BigInt{big.NewInt(100_000_000_000_000)},
			MaxSlippageBps: 5000,
		},
		Keeper: KeeperConfig{
			Enabled:        true,
			Interval:       15 * time.Second,
			Concurrency:    8,
			MaxAttempts:    4,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
			CallTimeout:    2 * time.Minute,
			OracleRPS:      20,
			OracleBurst:    5,
		},
		EVM: EVMConfig{
			ChainID:          999,
			PrivateKeyEnv:    "KEEPER_PRIVATE_KEY",
			OraclePrecompile: "0x0000000000000000000000000000000000000807",
			GasLimit:         500_000,
			Timeout:          10 * time.Second,
			MaxRetries:       3,
			RetryDelay:       time.Second,
			MaxDelay:         10 * time.Second,
			ReceiptTimeout:   60 * time.Second,
			ReceiptPoll:      2 * time.Second,
		},
		Storage: StorageConfig{
			MaxConns: 10,
		},
		Alerts: AlertsConfig{
			Timeout: 10 * time.Second,
		},
		HTTP: HTTPConfig{
			Listen:          ":8080",
			SignatureWindow: 5 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load reads .env (if present), then the YAML file at path (if non-empty),
// then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnv(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"POSTGRES_DSN", &cfg.Storage.PostgresDSN},
		{"CLICKHOUSE_DSN", &cfg.Storage.ClickhouseDSN},
		{"EVM_RPC_ENDPOINT", &cfg.EVM.RPCEndpoint},
		{"EXECUTOR_CONTRACT", &cfg.EVM.ExecutorContract},
		{"ALERT_WEBHOOK_URL", &cfg.Alerts.WebhookURL},
		{"HTTP_LISTEN", &cfg.HTTP.Listen},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(os.Getenv(o.env)); v != "" {
			*o.target = v
		}
	}
	if os.Getenv("USE_MEMORY") == "true" {
		cfg.Storage.UseMemory = true
	}
}

func validateConfig(cfg *Config) error {
	if cfg.Registry.CreationFee.Value().Sign() < 0 {
		return fmt.Errorf("registry.creation_fee must not be negative")
	}
	if cfg.Registry.MinDuration <= 0 {
		return fmt.Errorf("registry.min_duration must be greater than 0")
	}
	if cfg.Registry.MaxDuration < cfg.Registry.MinDuration {
		return fmt.Errorf("registry.max_duration must be >= registry.min_duration")
	}

	if cfg.Swap.ProtocolFee.Value().Sign() < 0 {
		return fmt.Errorf("swap.protocol_fee must not be negative")
	}
	if cfg.Swap.MaxSlippageBps == 0 || cfg.Swap.MaxSlippageBps > 5000 {
		return fmt.Errorf("swap.max_slippage_bps must be in (0, 5000]")
	}

	if cfg.Keeper.Enabled {
		if cfg.Keeper.Interval <= 0 {
			return fmt.Errorf("keeper.interval must be greater than 0")
		}
		if cfg.Keeper.Concurrency <= 0 {
			return fmt.Errorf("keeper.concurrency must be greater than 0")
		}
		if cfg.Keeper.MaxAttempts <= 0 {
			return fmt.Errorf("keeper.max_attempts must be greater than 0")
		}
		if cfg.Keeper.CallTimeout <= 0 {
			return fmt.Errorf("keeper.call_timeout must be greater than 0")
		}
		if cfg.Keeper.OracleRPS <= 0 {
			return fmt.Errorf("keeper.oracle_rps must be greater than 0")
		}
		if !common.IsHexAddress(cfg.Keeper.Executor) {
			return fmt.Errorf("keeper.executor must be a hex address")
		}
	}

	if cfg.EVM.RPCEndpoint != "" {
		if !common.IsHexAddress(cfg.EVM.ExecutorContract) {
			return fmt.Errorf("evm.executor_contract must be a hex address")
		}
		if !common.IsHexAddress(cfg.EVM.OraclePrecompile) {
			return fmt.Errorf("evm.oracle_precompile must be a hex address")
		}
		if cfg.EVM.ChainID <= 0 {
			return fmt.Errorf("evm.chain_id must be greater than 0")
		}
		if cfg.Keeper.Enabled && cfg.Keeper.CallTimeout <= cfg.EVM.RelayBudget() {
			return fmt.Errorf("keeper.call_timeout (%s) must exceed 3*evm.timeout + evm.receipt_timeout (%s)",
				cfg.Keeper.CallTimeout, cfg.EVM.RelayBudget())
		}
	}

	if cfg.HTTP.SignatureWindow <= 0 {
		return fmt.Errorf("http.signature_window must be greater than 0")
	}

	if !cfg.Storage.UseMemory && (cfg.Storage.PostgresDSN == "" || cfg.Storage.ClickhouseDSN == "") {
		return fmt.Errorf("storage.postgres_dsn and storage.clickhouse_dsn are required unless storage.use_memory is set")
	}

	for _, addr := range append(append([]string{}, cfg.Bootstrap.Operators...), cfg.Bootstrap.Executors...) {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("bootstrap address %q is not a hex address", addr)
		}
	}
	seen := make(map[string]bool)
	for _, a := range cfg.Bootstrap.Assets {
		if a.Symbol == "" {
			return fmt.Errorf("bootstrap.assets: symbol is required")
		}
		if seen[a.Symbol] {
			return fmt.Errorf("bootstrap.assets: duplicate symbol %s", a.Symbol)
		}
		seen[a.Symbol] = true
	}

	return nil
}
