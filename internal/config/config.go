// Package config loads the broker's runtime configuration from environment
// variables. There is no encrypted config file here — every setting that
// matters at startup is plain env, read once and held in a flat struct for
// the lifetime of the process.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ChainConfig is one chain's RPC endpoint and optional fixed ERC20 fee,
// assembled from the {CHAIN}_RPC and {CHAIN}_ERC20_FEE env vars.
type ChainConfig struct {
	ChainID      string
	RPCEndpoint  string
	ERC20FixedFee decimal.Decimal
}

// Config is the broker's complete runtime configuration.
type Config struct {
	// BaseURL is the externally reachable origin used to build party link
	// URLs (/d/{dealId}/{a|b}/{token}) and invite emails.
	BaseURL string

	// TankWalletPrivateKey, when set, makes the gas tank coordinator
	// available. Left unset in deployments that don't fund escrows from an
	// operator wallet.
	TankWalletPrivateKey string

	// Chains maps chain id to its RPC endpoint and fee override, one entry
	// per {CHAIN}_RPC variable found in the environment.
	Chains map[string]ChainConfig

	// EmailEnabled toggles whether otc.sendInvite actually dispatches mail
	// or only records the attempt.
	EmailEnabled bool

	// StablecoinFixedUSDAssets lists asset codes that use FIXED_USD_NATIVE
	// commission pricing instead of the default PERCENT_BPS policy.
	StablecoinFixedUSDAssets []string

	// SwapGracePeriod overrides engine.DefaultSwapGracePeriod.
	SwapGracePeriod time.Duration

	// ListenAddr is the RPC server's bind address.
	ListenAddr string
}

// Load reads Config from the process environment, applying the same
// defaults a production deployment ships with.
func Load() (*Config, error) {
	cfg := &Config{
		BaseURL:              envOrDefault("BASE_URL", "http://localhost:8080"),
		TankWalletPrivateKey: os.Getenv("TANK_WALLET_PRIVATE_KEY"),
		Chains:               map[string]ChainConfig{},
		EmailEnabled:         envBool("EMAIL_ENABLED", false),
		ListenAddr:           envOrDefault("LISTEN_ADDR", ":8080"),
	}

	if raw := os.Getenv("STABLECOIN_FIXED_USD_ASSETS"); raw != "" {
		for _, code := range strings.Split(raw, ",") {
			if code = strings.TrimSpace(code); code != "" {
				cfg.StablecoinFixedUSDAssets = append(cfg.StablecoinFixedUSDAssets, code)
			}
		}
	}

	gracePeriodSeconds := envInt("SWAP_GRACE_PERIOD_SECONDS", 30)
	cfg.SwapGracePeriod = time.Duration(gracePeriodSeconds) * time.Second

	for _, chainID := range knownChainIDs() {
		rpcKey := strings.ToUpper(chainID) + "_RPC"
		endpoint := os.Getenv(rpcKey)
		if endpoint == "" {
			continue
		}
		cc := ChainConfig{ChainID: chainID, RPCEndpoint: endpoint}
		if feeRaw := os.Getenv(strings.ToUpper(chainID) + "_ERC20_FEE"); feeRaw != "" {
			fee, err := decimal.NewFromString(feeRaw)
			if err != nil {
				return nil, fmt.Errorf("config: invalid %s_ERC20_FEE %q: %w", strings.ToUpper(chainID), feeRaw, err)
			}
			cc.ERC20FixedFee = fee
		}
		cfg.Chains[chainID] = cc
	}

	return cfg, nil
}

// knownChainIDs lists the chain ids the loader scans {CHAIN}_RPC for. A
// production deployment adds to this list as new chains are onboarded in
// the coin registry.
func knownChainIDs() []string {
	return []string{"ethereum", "polygon", "bitcoin", "litecoin", "solana"}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
