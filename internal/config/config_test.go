package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
registry:
  creation_fee: "2_000_000_000_000_000"
  min_duration: 30m
  max_duration: 168h
swap:
  protocol_fee: "0"
  max_slippage_bps: 1000
keeper:
  enabled: true
  interval: 5s
  concurrency: 4
  max_attempts: 3
  initial_backoff: 100ms
  max_backoff: 2s
  call_timeout: 10s
  oracle_rps: 10
  oracle_burst: 2
  executor: "0x00000000000000000000000000000000000e0e0e"
storage:
  use_memory: true
bootstrap:
  operators: ["0x00000000000000000000000000000000000a11ce"]
  assets:
    - {symbol: USDC, token_index: 0, price_index: 0, decimals: 6, pegged: true}
    - {symbol: BTC, token_index: 197, price_index: 142, market_index: 10107, decimals: 8}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keeper.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_ParsesFile(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "2000000000000000", cfg.Registry.CreationFee.Value().String())
	assert.Equal(t, 30*time.Minute, cfg.Registry.MinDuration)
	assert.Equal(t, 168*time.Hour, cfg.Registry.MaxDuration)
	assert.Equal(t, uint32(1000), cfg.Swap.MaxSlippageBps)
	assert.Equal(t, 5*time.Second, cfg.Keeper.Interval)
	assert.Equal(t, 100*time.Millisecond, cfg.Keeper.InitialBackoff)
	require.Len(t, cfg.Bootstrap.Assets, 2)
	assert.Equal(t, uint32(10107), cfg.Bootstrap.Assets[1].MarketIndex)
	assert.True(t, cfg.Bootstrap.Assets[0].Pegged)

	// untouched sections keep defaults
	assert.Equal(t, ":8080", cfg.HTTP.Listen)
	assert.Equal(t, 5*time.Minute, cfg.HTTP.SignatureWindow)
	assert.Equal(t, "0x0000000000000000000000000000000000000807", cfg.EVM.OraclePrecompile)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HTTP_LISTEN", ":9999")
	t.Setenv("POSTGRES_DSN", "postgres://x")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Listen)
	assert.Equal(t, "postgres://x", cfg.Storage.PostgresDSN)
}

func TestLoad_DefaultsFitRelayBudget(t *testing.T) {
	t.Chdir(t.TempDir())
	body := "keeper: {executor: \"0x00000000000000000000000000000000000e0e0e\"}\nstorage: {use_memory: true}\n" +
		"evm: {rpc_endpoint: \"http://localhost:8545\", executor_contract: \"0x00000000000000000000000000000000000e0e0e\"}"
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)
	assert.Greater(t, cfg.Keeper.CallTimeout, cfg.EVM.RelayBudget())
	assert.Equal(t, 90*time.Second, cfg.EVM.RelayBudget())
}

func TestLoad_Validation(t *testing.T) {
	t.Chdir(t.TempDir())

	tests := []struct {
		name string
		body string
	}{
		{"max below min", "registry: {min_duration: 2h, max_duration: 1h}\nkeeper: {enabled: false}\nstorage: {use_memory: true}"},
		{"slippage over cap", "swap: {max_slippage_bps: 6000}\nkeeper: {enabled: false}\nstorage: {use_memory: true}"},
		{"missing executor", "storage: {use_memory: true}"},
		{"missing dsn", "keeper: {enabled: false}"},
		{"bad amount", "registry: {creation_fee: ten}\nkeeper: {enabled: false}\nstorage: {use_memory: true}"},
		{"call timeout under relay budget", "keeper: {call_timeout: 30s, executor: \"0x00000000000000000000000000000000000e0e0e\"}\nstorage: {use_memory: true}\nevm: {rpc_endpoint: \"http://localhost:8545\", executor_contract: \"0x00000000000000000000000000000000000e0e0e\", timeout: 10s, receipt_timeout: 60s}"},
		{"zero signature window", "http: {signature_window: 0s}\nkeeper: {enabled: false}\nstorage: {use_memory: true}"},
		{"duplicate asset", "keeper: {enabled: false}\nstorage: {use_memory: true}\nbootstrap: {assets: [{symbol: BTC}, {symbol: BTC}]}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}
