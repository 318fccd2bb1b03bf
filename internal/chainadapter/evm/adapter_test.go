package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/rpc"
	"github.com/otcswap/broker/internal/chainadapter/txstore"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMissingTraceAPI = errors.New("method not found")

func newTestAdapter(t *testing.T) (*EVMAdapter, *rpc.MockRPCClient) {
	t.Helper()
	client := rpc.NewMockRPCClient()
	keys, err := chainadapter.NewMnemonicKeySource(
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		"",
	)
	require.NoError(t, err)

	adapter := NewEVMAdapter("ethereum", 1, client, txstore.NewMemoryTxStore(), keys, nil, 12, nil)
	return adapter, client
}

func TestValidateAddress(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	assert.True(t, adapter.ValidateAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"))
	assert.False(t, adapter.ValidateAddress("not-an-address"))
	assert.False(t, adapter.ValidateAddress("0x1234"))
}

func TestGenerateEscrowDeterministic(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	e1, err := adapter.GenerateEscrow(ctx, "ETH", "deal-1", "A")
	require.NoError(t, err)
	e2, err := adapter.GenerateEscrow(ctx, "ETH", "deal-1", "A")
	require.NoError(t, err)

	assert.Equal(t, e1.Address, e2.Address, "escrow generation must be deterministic for the same (dealId, side)")
	assert.True(t, adapter.ValidateAddress(e1.Address))
}

func TestGenerateEscrowDiffersAcrossDeals(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	eA, err := adapter.GenerateEscrow(ctx, "ETH", "deal-1", "A")
	require.NoError(t, err)
	eB, err := adapter.GenerateEscrow(ctx, "ETH", "deal-1", "B")
	require.NoError(t, err)
	eOther, err := adapter.GenerateEscrow(ctx, "ETH", "deal-2", "A")
	require.NoError(t, err)

	assert.NotEqual(t, eA.Address, eB.Address)
	assert.NotEqual(t, eA.Address, eOther.Address)
}

func TestGetTxConfirmationsReorg(t *testing.T) {
	adapter, client := newTestAdapter(t)
	client.SetResponse("eth_getTransactionByHash", nil)

	confs, err := adapter.GetTxConfirmations(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.Equal(t, -1, confs, "absent transaction must report -1 confirmations")
}

func TestGetTxConfirmationsMempool(t *testing.T) {
	adapter, client := newTestAdapter(t)
	client.SetResponse("eth_getTransactionByHash", map[string]string{"hash": "0xdead"})
	client.SetResponse("eth_getTransactionReceipt", nil)

	confs, err := adapter.GetTxConfirmations(context.Background(), "0xdead")
	require.NoError(t, err)
	assert.Equal(t, 0, confs)
}

func TestSubmitTransferIsIdempotent(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	store := txstore.NewMemoryTxStore()
	adapter.txStore = store

	err := store.Set("intent-1", &txstore.TxState{Key: "intent-1", Txid: "0xabc123", Status: txstore.TxStatusPending})
	require.NoError(t, err)

	escrow, err := adapter.GenerateEscrow(context.Background(), "ETH", "deal-1", "A")
	require.NoError(t, err)

	result, err := adapter.SubmitTransfer(context.Background(), &chainadapter.TransferRequest{
		IntentID:  "intent-1",
		From:      escrow,
		To:        "0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1",
		AssetCode: "ETH",
	})
	require.NoError(t, err)
	assert.Equal(t, "0xabc123", result.Txid, "resubmitting a known intent id must return the original txid")
}

func TestQuoteNativeForUSDRequiresPriceSource(t *testing.T) {
	adapter, _ := newTestAdapter(t)

	_, err := adapter.QuoteNativeForUSD(context.Background(), decimal.NewFromInt(100))
	require.Error(t, err)
	chainErr, ok := err.(*chainadapter.ChainError)
	require.True(t, ok)
	assert.Equal(t, chainadapter.ErrCodeOracleUnavailable, chainErr.Code)
}

func TestGetInternalTransactionsParsesCallTraces(t *testing.T) {
	adapter, client := newTestAdapter(t)
	client.SetResponse("trace_transaction", []map[string]interface{}{
		{
			"type": "call",
			"action": map[string]interface{}{
				"from":  "0xbroker",
				"to":    "0xcounterparty",
				"value": "0xde0b6b3a7640000", // 1 ETH
			},
		},
		{
			// Zero-value call, e.g. a plain contract invocation with no
			// native transfer; must not be surfaced as a transfer.
			"type": "call",
			"action": map[string]interface{}{
				"from":  "0xbroker",
				"to":    "0xother",
				"value": "0x0",
			},
		},
		{
			// Not a call frame (e.g. a CREATE); irrelevant to payouts.
			"type": "create",
			"action": map[string]interface{}{
				"from":  "0xbroker",
				"to":    "0xnew",
				"value": "0x1",
			},
		},
	})

	transfers, err := adapter.GetInternalTransactions(context.Background(), "0xtx")
	require.NoError(t, err)
	require.Len(t, transfers, 1)
	assert.Equal(t, "0xbroker", transfers[0].From)
	assert.Equal(t, "0xcounterparty", transfers[0].To)
	assert.Equal(t, "ETH", transfers[0].Asset)
	assert.True(t, transfers[0].Amount.Equal(decimal.NewFromInt(1)))
}

func TestGetInternalTransactionsToleratesMissingTraceAPI(t *testing.T) {
	adapter, client := newTestAdapter(t)
	client.SetError("trace_transaction", errMissingTraceAPI)

	transfers, err := adapter.GetInternalTransactions(context.Background(), "0xtx")
	require.NoError(t, err)
	assert.Nil(t, transfers)
}

func TestERC20UnitsToDecimal(t *testing.T) {
	sixDecimalUnits, _ := new(big.Int).SetString("1500000", 10) // 1.5 USDC
	assert.True(t, decimal.NewFromFloat(1.5).Equal(erc20UnitsToDecimal(sixDecimalUnits, 6)))

	eighteenDecimalUnits, _ := new(big.Int).SetString("2000000000000000000", 10) // 2 tokens
	assert.True(t, decimal.NewFromInt(2).Equal(erc20UnitsToDecimal(eighteenDecimalUnits, 18)))
}

func TestGenerateEscrowRecordsTokenForERC20Asset(t *testing.T) {
	adapter, _ := newTestAdapter(t)
	ctx := context.Background()

	escrow, err := adapter.GenerateEscrow(ctx, "ERC20:0x1111111111111111111111111111111111111111", "deal-1", "A")
	require.NoError(t, err)

	adapter.tokenMu.RLock()
	tokenAddr, isToken := adapter.tokenByEscrow[strings.ToLower(escrow.Address)]
	adapter.tokenMu.RUnlock()
	require.True(t, isToken, "GenerateEscrow must record the token address for a non-native asset code")
	assert.Equal(t, "0x1111111111111111111111111111111111111111", tokenAddr)
}

func TestERC20DecimalsCachesAfterFirstLookup(t *testing.T) {
	adapter, client := newTestAdapter(t)
	client.SetResponse("eth_call", "0x6")

	ctx := context.Background()
	first := adapter.erc20Decimals(ctx, "0x1111111111111111111111111111111111111111")
	assert.Equal(t, int32(6), first)

	calls := client.GetCallCount("eth_call")
	second := adapter.erc20Decimals(ctx, "0x1111111111111111111111111111111111111111")
	assert.Equal(t, int32(6), second)
	assert.Equal(t, calls, client.GetCallCount("eth_call"), "a cached token's decimals must not trigger another eth_call")
}

func TestERC20DecimalsDefaultsOnError(t *testing.T) {
	adapter, client := newTestAdapter(t)
	client.SetError("eth_call", assert.AnError)

	d := adapter.erc20Decimals(context.Background(), "0x2222222222222222222222222222222222222222")
	assert.Equal(t, int32(18), d, "an unresolvable decimals() call must fall back to 18")
}
