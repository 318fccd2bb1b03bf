package adapterregistry

import (
	"context"
	"testing"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/txstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKeySource(t *testing.T) chainadapter.KeySource {
	t.Helper()
	keys, err := chainadapter.NewMnemonicKeySource(
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		"",
	)
	require.NoError(t, err)
	return keys
}

func TestGetAdapterCachesInstance(t *testing.T) {
	svc := NewService([]ChainConfig{
		{ChainID: "ethereum", RPCEndpoint: "http://127.0.0.1:8545", NetworkID: 1, Category: "EVM", MinConfirmations: 12},
	}, testKeySource(t), nil, txstore.NewMemoryTxStore())

	a1, err := svc.GetAdapter(context.Background(), "ethereum")
	require.NoError(t, err)
	a2, err := svc.GetAdapter(context.Background(), "ethereum")
	require.NoError(t, err)

	assert.Same(t, a1, a2)
	assert.Equal(t, "ethereum", a1.ChainID())
}

func TestGetAdapterUnsupportedChain(t *testing.T) {
	svc := NewService(nil, testKeySource(t), nil, nil)

	_, err := svc.GetAdapter(context.Background(), "dogecoin")
	require.Error(t, err)
}

func TestGetAdapterBuildsBitcoinAdapter(t *testing.T) {
	svc := NewService([]ChainConfig{
		{ChainID: "bitcoin-testnet", RPCEndpoint: "http://127.0.0.1:18332", Network: "testnet3", Category: "UTXO", MinConfirmations: 2},
	}, testKeySource(t), nil, txstore.NewMemoryTxStore())

	adapter, err := svc.GetAdapter(context.Background(), "bitcoin-testnet")
	require.NoError(t, err)
	assert.Equal(t, "bitcoin-testnet", adapter.ChainID())
	assert.Equal(t, "UTXO", adapter.Capabilities().Category)
}

func TestSupportedChains(t *testing.T) {
	svc := NewService([]ChainConfig{
		{ChainID: "ethereum", Category: "EVM"},
		{ChainID: "bitcoin", Category: "UTXO"},
	}, testKeySource(t), nil, nil)

	assert.ElementsMatch(t, []string{"ethereum", "bitcoin"}, svc.SupportedChains())
}
