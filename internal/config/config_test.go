package config

import (
	"os"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		old, had := os.LookupEnv(k)
		os.Unsetenv(k)
		t.Cleanup(func() {
			if had {
				os.Setenv(k, old)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "BASE_URL", "EMAIL_ENABLED", "SWAP_GRACE_PERIOD_SECONDS", "STABLECOIN_FIXED_USD_ASSETS", "ETHEREUM_RPC")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.BaseURL)
	assert.False(t, cfg.EmailEnabled)
	assert.Equal(t, int64(30), int64(cfg.SwapGracePeriod.Seconds()))
	assert.Empty(t, cfg.StablecoinFixedUSDAssets)
}

func TestLoadParsesChainConfigAndFee(t *testing.T) {
	clearEnv(t, "ETHEREUM_RPC", "ETHEREUM_ERC20_FEE")
	os.Setenv("ETHEREUM_RPC", "https://rpc.example/eth")
	os.Setenv("ETHEREUM_ERC20_FEE", "0.25")

	cfg, err := Load()
	require.NoError(t, err)
	chain, ok := cfg.Chains["ethereum"]
	require.True(t, ok)
	assert.Equal(t, "https://rpc.example/eth", chain.RPCEndpoint)
	assert.True(t, chain.ERC20FixedFee.Equal(decimal.RequireFromString("0.25")))
}

func TestLoadParsesStablecoinAllowList(t *testing.T) {
	clearEnv(t, "STABLECOIN_FIXED_USD_ASSETS")
	os.Setenv("STABLECOIN_FIXED_USD_ASSETS", "ERC20:0xUSDC, ERC20:0xUSDT")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"ERC20:0xUSDC", "ERC20:0xUSDT"}, cfg.StablecoinFixedUSDAssets)
}

func TestLoadRejectsInvalidFee(t *testing.T) {
	clearEnv(t, "ETHEREUM_RPC", "ETHEREUM_ERC20_FEE")
	os.Setenv("ETHEREUM_RPC", "https://rpc.example/eth")
	os.Setenv("ETHEREUM_ERC20_FEE", "not-a-number")

	_, err := Load()
	assert.Error(t, err)
}
