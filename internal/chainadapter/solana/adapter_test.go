package solana

import (
	"context"
	"testing"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/rpc"
	"github.com/otcswap/broker/internal/chainadapter/txstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSolanaAdapter(t *testing.T) (*SolanaAdapter, *rpc.MockRPCClient) {
	t.Helper()
	client := rpc.NewMockRPCClient()
	keys, err := chainadapter.NewMnemonicKeySource(
		"abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about",
		"",
	)
	require.NoError(t, err)

	adapter := NewSolanaAdapter(client, txstore.NewMemoryTxStore(), keys, nil, 32)
	return adapter, client
}

func TestSolanaValidateAddress(t *testing.T) {
	adapter, _ := newTestSolanaAdapter(t)

	assert.False(t, adapter.ValidateAddress("not-an-address"))
	assert.False(t, adapter.ValidateAddress("0x90F8bf6A479f320ead074411a4B0e7944Ea8c9C1"))
}

func TestSolanaGenerateEscrowDeterministic(t *testing.T) {
	adapter, _ := newTestSolanaAdapter(t)
	ctx := context.Background()

	e1, err := adapter.GenerateEscrow(ctx, "SOL", "deal-1", "A")
	require.NoError(t, err)
	e2, err := adapter.GenerateEscrow(ctx, "SOL", "deal-1", "A")
	require.NoError(t, err)

	assert.Equal(t, e1.Address, e2.Address)
	assert.True(t, adapter.ValidateAddress(e1.Address))
}

func TestSolanaGenerateEscrowDiffersAcrossSides(t *testing.T) {
	adapter, _ := newTestSolanaAdapter(t)
	ctx := context.Background()

	eA, err := adapter.GenerateEscrow(ctx, "SOL", "deal-1", "A")
	require.NoError(t, err)
	eB, err := adapter.GenerateEscrow(ctx, "SOL", "deal-1", "B")
	require.NoError(t, err)

	assert.NotEqual(t, eA.Address, eB.Address)
}

func TestSolanaGetTxConfirmationsAbsent(t *testing.T) {
	adapter, client := newTestSolanaAdapter(t)
	client.SetResponse("getSignatureStatuses", map[string]interface{}{"value": []interface{}{nil}})

	confs, err := adapter.GetTxConfirmations(context.Background(), "sig123")
	require.NoError(t, err)
	assert.Equal(t, -1, confs)
}

func TestSolanaGetTxConfirmationsFinalized(t *testing.T) {
	adapter, client := newTestSolanaAdapter(t)
	client.SetResponse("getSignatureStatuses", map[string]interface{}{
		"value": []interface{}{
			map[string]interface{}{"slot": 100, "confirmations": nil, "confirmationStatus": "finalized"},
		},
	})

	confs, err := adapter.GetTxConfirmations(context.Background(), "sig123")
	require.NoError(t, err)
	assert.Equal(t, 32, confs)
}

func TestSolanaSubmitTransferIsIdempotent(t *testing.T) {
	adapter, _ := newTestSolanaAdapter(t)
	store := txstore.NewMemoryTxStore()
	adapter.txStore = store

	require.NoError(t, store.Set("intent-1", &txstore.TxState{Key: "intent-1", Txid: "sig-abc", Status: txstore.TxStatusPending}))

	escrow, err := adapter.GenerateEscrow(context.Background(), "SOL", "deal-1", "A")
	require.NoError(t, err)

	result, err := adapter.SubmitTransfer(context.Background(), &chainadapter.TransferRequest{
		IntentID:  "intent-1",
		From:      escrow,
		To:        escrow.Address,
		AssetCode: "SOL",
	})
	require.NoError(t, err)
	assert.Equal(t, "sig-abc", result.Txid)
}

func TestSolanaApproveBrokerForTokenUnsupported(t *testing.T) {
	adapter, _ := newTestSolanaAdapter(t)
	escrow, err := adapter.GenerateEscrow(context.Background(), "SOL", "deal-1", "A")
	require.NoError(t, err)

	err = adapter.ApproveBrokerForToken(context.Background(), escrow, "mint-address")
	require.Error(t, err)
	chainErr, ok := err.(*chainadapter.ChainError)
	require.True(t, ok)
	assert.Equal(t, chainadapter.ErrCodeUnsupportedOp, chainErr.Code)
}

func TestSolanaListDepositsEmptyWhenZeroBalance(t *testing.T) {
	adapter, client := newTestSolanaAdapter(t)
	client.SetResponse("getBalance", map[string]interface{}{"value": 0})

	escrow, err := adapter.GenerateEscrow(context.Background(), "SOL", "deal-1", "A")
	require.NoError(t, err)

	deposits, err := adapter.ListDeposits(context.Background(), escrow, nil)
	require.NoError(t, err)
	assert.Empty(t, deposits)
}

func TestSolanaListDepositsReportsBalance(t *testing.T) {
	adapter, client := newTestSolanaAdapter(t)
	client.SetResponse("getBalance", map[string]interface{}{"value": 2_000_000_000})

	escrow, err := adapter.GenerateEscrow(context.Background(), "SOL", "deal-1", "A")
	require.NoError(t, err)

	deposits, err := adapter.ListDeposits(context.Background(), escrow, nil)
	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, "SOL", deposits[0].AssetCode)
	assert.Equal(t, "2", deposits[0].Amount.String()) // 2_000_000_000 lamports = 2 SOL
}
