// Package adapterregistry manages ChainAdapter instances for every chain the
// broker supports, handling lazy initialization, caching, and routing by
// chain id.
package adapterregistry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/evm"
	"github.com/otcswap/broker/internal/chainadapter/provider"
	"github.com/otcswap/broker/internal/chainadapter/rpc"
	solanaadapter "github.com/otcswap/broker/internal/chainadapter/solana"
	"github.com/otcswap/broker/internal/chainadapter/txstore"
	"github.com/otcswap/broker/internal/chainadapter/utxo"
)

// ChainConfig describes how to reach and size a single chain integration.
type ChainConfig struct {
	ChainID          string
	RPCEndpoint      string
	NetworkID        int64 // EVM only
	Network          string // UTXO only: "mainnet", "testnet3", "regtest"
	MinConfirmations int
	Category         string // "EVM", "UTXO" or "Solana"
}

// Service manages ChainAdapter instances for every configured chain.
//
// Thread Safety: all methods are safe for concurrent use; adapters are
// created lazily on first access and cached for the lifetime of the service.
type Service struct {
	configs     map[string]ChainConfig
	keys        chainadapter.KeySource
	priceSource provider.BlockchainProvider
	txStore     txstore.TransactionStateStore

	mu       sync.RWMutex
	adapters map[string]chainadapter.ChainAdapter
}

// NewService creates a chain adapter registry. txStore may be nil, in which
// case an in-memory store is used (not durable across restarts).
func NewService(configs []ChainConfig, keys chainadapter.KeySource, priceSource provider.BlockchainProvider, txStore txstore.TransactionStateStore) *Service {
	if txStore == nil {
		txStore = txstore.NewMemoryTxStore()
	}
	byID := make(map[string]ChainConfig, len(configs))
	for _, c := range configs {
		byID[c.ChainID] = c
	}
	return &Service{
		configs:     byID,
		keys:        keys,
		priceSource: priceSource,
		txStore:     txStore,
		adapters:    make(map[string]chainadapter.ChainAdapter),
	}
}

// GetAdapter returns the ChainAdapter for chainID, constructing it on first use.
func (s *Service) GetAdapter(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error) {
	s.mu.RLock()
	if adapter, ok := s.adapters[chainID]; ok {
		s.mu.RUnlock()
		return adapter, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if adapter, ok := s.adapters[chainID]; ok {
		return adapter, nil
	}

	cfg, ok := s.configs[chainID]
	if !ok {
		return nil, fmt.Errorf("unsupported chain id: %s", chainID)
	}

	rpcClient, err := rpc.NewHTTPRPCClient([]string{cfg.RPCEndpoint}, 30*time.Second, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client for %s: %w", chainID, err)
	}

	var adapter chainadapter.ChainAdapter
	switch cfg.Category {
	case "EVM":
		adapter = ethereum.NewEVMAdapter(cfg.ChainID, cfg.NetworkID, rpcClient, s.txStore, s.keys, s.priceSource, cfg.MinConfirmations, nil)
	case "UTXO":
		adapter, err = bitcoin.NewBitcoinAdapter(rpcClient, s.txStore, s.keys, s.priceSource, cfg.Network, cfg.MinConfirmations)
		if err != nil {
			return nil, fmt.Errorf("failed to create bitcoin adapter for %s: %w", chainID, err)
		}
	case "Solana":
		adapter = solanaadapter.NewSolanaAdapter(rpcClient, s.txStore, s.keys, s.priceSource, cfg.MinConfirmations)
	default:
		return nil, fmt.Errorf("unsupported chain category %q for chain %s", cfg.Category, chainID)
	}

	s.adapters[chainID] = adapter
	return adapter, nil
}

// SupportedChains returns the chain ids this registry is configured for.
func (s *Service) SupportedChains() []string {
	ids := make([]string, 0, len(s.configs))
	for id := range s.configs {
		ids = append(ids, id)
	}
	return ids
}
