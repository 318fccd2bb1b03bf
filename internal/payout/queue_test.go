package payout

import (
	"context"
	"testing"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct{ intents map[string]*Intent }

func newMemStore() *memStore { return &memStore{intents: map[string]*Intent{}} }

func (m *memStore) Save(i *Intent) error { m.intents[i.ID] = i; return nil }
func (m *memStore) Get(id string) (*Intent, error) {
	i, ok := m.intents[id]
	if !ok {
		return nil, nil
	}
	return i, nil
}
func (m *memStore) ListByQueueKey(queueKey string) ([]*Intent, error) {
	var out []*Intent
	for _, i := range m.intents {
		if i.QueueKey() == queueKey {
			out = append(out, i)
		}
	}
	return out, nil
}

type fakeAdapter struct {
	chainID      string
	minConf      int
	submitErr    error
	confirmations int
}

func (f *fakeAdapter) ChainID() string { return f.chainID }
func (f *fakeAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{ChainID: f.chainID, MinConfirmations: f.minConf}
}
func (f *fakeAdapter) ValidateAddress(string) bool { return true }
func (f *fakeAdapter) GenerateEscrow(context.Context, string, string, string) (*chainadapter.Escrow, error) {
	return nil, nil
}
func (f *fakeAdapter) ListDeposits(context.Context, *chainadapter.Escrow, *time.Time) ([]chainadapter.RawDeposit, error) {
	return nil, nil
}
func (f *fakeAdapter) GetTxConfirmations(context.Context, string) (int, error) {
	return f.confirmations, nil
}
func (f *fakeAdapter) SubmitTransfer(ctx context.Context, req *chainadapter.TransferRequest) (*chainadapter.TransferResult, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &chainadapter.TransferResult{Txid: "tx-" + req.IntentID, SubmittedAt: time.Now()}, nil
}
func (f *fakeAdapter) QuoteNativeForUSD(context.Context, decimal.Decimal) (*chainadapter.NativeQuote, error) {
	return nil, nil
}
func (f *fakeAdapter) ApproveBrokerForToken(context.Context, *chainadapter.Escrow, string) error {
	return nil
}
func (f *fakeAdapter) GetInternalTransactions(context.Context, string) ([]chainadapter.InternalTransfer, error) {
	return nil, nil
}

func TestQueueSubmitsAndCompletes(t *testing.T) {
	store := newMemStore()
	adapter := &fakeAdapter{chainID: "alpha-mainnet", minConf: 1, confirmations: 1}
	q := NewQueue(store, func(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error) { return adapter, nil })

	intent := &Intent{ID: "0001", DealID: "deal-1", ChainID: "alpha-mainnet", FromEscrow: "escrow-a", ToAddress: "dest", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Purpose: PurposeSwapPayout}
	require.NoError(t, q.Enqueue(intent))

	require.NoError(t, q.ProcessQueueKey(context.Background(), intent.QueueKey()))
	assert.Equal(t, StatusSubmitted, store.intents["0001"].Status)

	require.NoError(t, q.ProcessQueueKey(context.Background(), intent.QueueKey()))
	assert.Equal(t, StatusCompleted, store.intents["0001"].Status)
}

func TestQueueRetriesTransientFailure(t *testing.T) {
	store := newMemStore()
	adapter := &fakeAdapter{chainID: "alpha-mainnet", minConf: 1, submitErr: chainadapter.NewRetryableError(chainadapter.ErrCodeRPCTimeout, "timeout", nil, nil)}
	q := NewQueue(store, func(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error) { return adapter, nil })

	intent := &Intent{ID: "0001", DealID: "deal-1", ChainID: "alpha-mainnet", FromEscrow: "escrow-a", ToAddress: "dest", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Purpose: PurposeSwapPayout}
	require.NoError(t, q.Enqueue(intent))

	require.NoError(t, q.ProcessQueueKey(context.Background(), intent.QueueKey()))
	saved := store.intents["0001"]
	assert.Equal(t, StatusPending, saved.Status)
	assert.Equal(t, 1, saved.RetryCount)
	assert.False(t, saved.NextRetryAt.IsZero())
}

func TestQueuePermanentFailureMarksFailed(t *testing.T) {
	store := newMemStore()
	adapter := &fakeAdapter{chainID: "alpha-mainnet", minConf: 1, submitErr: chainadapter.NewNonRetryableError(chainadapter.ErrCodeInsufficientFunds, "no funds", nil)}
	q := NewQueue(store, func(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error) { return adapter, nil })

	intent := &Intent{ID: "0001", DealID: "deal-1", ChainID: "alpha-mainnet", FromEscrow: "escrow-a", ToAddress: "dest", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Purpose: PurposeSwapPayout}
	require.NoError(t, q.Enqueue(intent))

	require.NoError(t, q.ProcessQueueKey(context.Background(), intent.QueueKey()))
	assert.Equal(t, StatusFailed, store.intents["0001"].Status)
}
