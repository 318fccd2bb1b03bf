package engine

import (
	"context"
	"testing"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/commission"
	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/payout"
	"github.com/otcswap/broker/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	chainID string
	caps    *chainadapter.Capabilities
}

func (s *stubAdapter) ChainID() string                          { return s.chainID }
func (s *stubAdapter) Capabilities() *chainadapter.Capabilities { return s.caps }
func (s *stubAdapter) ValidateAddress(string) bool              { return true }
func (s *stubAdapter) GenerateEscrow(ctx context.Context, assetCode, dealID, side string) (*chainadapter.Escrow, error) {
	return &chainadapter.Escrow{Address: "escrow-" + dealID + "-" + side, KeyRef: "key-" + dealID + "-" + side}, nil
}
func (s *stubAdapter) ListDeposits(context.Context, *chainadapter.Escrow, *time.Time) ([]chainadapter.RawDeposit, error) {
	return nil, nil
}
func (s *stubAdapter) GetTxConfirmations(context.Context, string) (int, error) { return 0, nil }
func (s *stubAdapter) SubmitTransfer(context.Context, *chainadapter.TransferRequest) (*chainadapter.TransferResult, error) {
	return &chainadapter.TransferResult{Txid: "tx", SubmittedAt: time.Now()}, nil
}
func (s *stubAdapter) QuoteNativeForUSD(ctx context.Context, usdAmount decimal.Decimal) (*chainadapter.NativeQuote, error) {
	return &chainadapter.NativeQuote{NativeAmount: usdAmount.Div(decimal.NewFromInt(2000)), RateUSD: decimal.NewFromInt(2000), QuotedAt: time.Now()}, nil
}
func (s *stubAdapter) ApproveBrokerForToken(context.Context, *chainadapter.Escrow, string) error {
	return nil
}
func (s *stubAdapter) GetInternalTransactions(context.Context, string) ([]chainadapter.InternalTransfer, error) {
	return nil, nil
}

type resolverFunc func(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error)

func (f resolverFunc) GetAdapter(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error) {
	return f(ctx, chainID)
}

func newTestEngine() (*Engine, store.DealStore, *store.MemoryPayoutStore) {
	return newTestEngineWithPlanner(commission.NewPlanner(nil, nil))
}

func newTestEngineWithPlanner(planner *commission.Planner) (*Engine, store.DealStore, *store.MemoryPayoutStore) {
	adapters := map[string]chainadapter.ChainAdapter{
		"alpha-mainnet": &stubAdapter{chainID: "alpha-mainnet", caps: &chainadapter.Capabilities{Category: "UTXO", MinConfirmations: 6, NativeSymbol: "ALPHA"}},
		"ethereum":      &stubAdapter{chainID: "ethereum", caps: &chainadapter.Capabilities{Category: "EVM", MinConfirmations: 12, SupportsTokens: true, SupportsBrokerTx: true, NativeSymbol: "ETH"}},
	}
	resolver := resolverFunc(func(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error) {
		return adapters[chainID], nil
	})

	deals := store.NewMemoryDealStore()
	payoutStore := store.NewMemoryPayoutStore()
	queue := payout.NewQueue(payoutStore, func(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error) {
		return adapters[chainID], nil
	})
	operatorAddr := func(chainID string) string { return "operator-" + chainID }

	eng := New(deals, resolver, planner, queue, operatorAddr)
	return eng, deals, payoutStore
}

func newLockedDeal(t *testing.T, deals store.DealStore) *deal.Deal {
	t.Helper()
	specA := deal.AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	specB := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ETH", Amount: decimal.NewFromInt(1)}
	d := deal.NewDeal("deal-1", "test", specA, specB, 3600)
	require.NoError(t, d.FillPartyDetails(deal.SideA, "payback-a", "recipient-a", ""))
	require.NoError(t, d.FillPartyDetails(deal.SideB, "payback-b", "recipient-b", ""))
	require.NoError(t, deals.Create(d))
	return d
}

func TestEnterCollectionGeneratesEscrowsAndFreezesCommission(t *testing.T) {
	eng, deals, _ := newTestEngine()
	newLockedDeal(t, deals)

	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageCollection, d.Stage)
	assert.Equal(t, "escrow-deal-1-A", d.Escrow[deal.SideA].Address)
	assert.Equal(t, "escrow-deal-1-B", d.Escrow[deal.SideB].Address)
	assert.Equal(t, deal.ModePercentBps, d.CommissionPlan[deal.SideA].Mode)
	assert.True(t, d.CommissionPlan[deal.SideB].GasBufferApplies)
	assert.False(t, d.CommissionPlan[deal.SideA].GasBufferApplies)
	assert.NotNil(t, d.ExpiresAt)
}

func TestEnterCollectionNoopsWhenNotBothLocked(t *testing.T) {
	eng, deals, _ := newTestEngine()
	specA := deal.AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	specB := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ETH", Amount: decimal.NewFromInt(1)}
	d := deal.NewDeal("deal-2", "test", specA, specB, 3600)
	require.NoError(t, d.FillPartyDetails(deal.SideA, "payback-a", "recipient-a", ""))
	require.NoError(t, deals.Create(d))

	require.NoError(t, eng.EnterCollection(context.Background(), "deal-2"))

	got, err := deals.Get("deal-2")
	require.NoError(t, err)
	assert.Equal(t, deal.StageCreated, got.Stage)
}

func collectFully(t *testing.T, deals store.DealStore, dealID string) {
	t.Helper()
	d, err := deals.Get(dealID)
	require.NoError(t, err)
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.RequireFromString("10.03"), Txid: "txA", Confirmations: 6, Status: deal.DepositConfirmed})
	d.RecordDeposit(deal.SideB, deal.Deposit{AssetCode: "ETH", Amount: decimal.RequireFromString("1.005"), Txid: "txB", Confirmations: 12, Status: deal.DepositConfirmed})
	require.NoError(t, deals.Save(d))
}

func TestCheckSufficiencyEntersWaitingWhenBothSidesSufficient(t *testing.T) {
	eng, deals, _ := newTestEngine()
	newLockedDeal(t, deals)
	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))
	collectFully(t, deals, "deal-1")

	require.NoError(t, eng.CheckSufficiency("deal-1"))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageWaiting, d.Stage)
}

// TestCheckSufficiencyEntersWaitingForFixedUSDNativeSide guards against
// keying the frozen native commission requirement under a literal "NATIVE":
// ListDeposits always reports native credits under the chain's real asset
// code, so a stablecoin side's deposit must be recorded under that same
// code for CheckSufficiency to ever see it as satisfied.
func TestCheckSufficiencyEntersWaitingForFixedUSDNativeSide(t *testing.T) {
	eng, deals, _ := newTestEngineWithPlanner(commission.NewPlanner([]string{"ERC20:0xUSDC"}, nil))

	specA := deal.AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	specB := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ERC20:0xUSDC", Amount: decimal.NewFromInt(100)}
	d := deal.NewDeal("deal-stable", "test", specA, specB, 3600)
	require.NoError(t, d.FillPartyDetails(deal.SideA, "payback-a", "recipient-a", ""))
	require.NoError(t, d.FillPartyDetails(deal.SideB, "payback-b", "recipient-b", ""))
	require.NoError(t, deals.Create(d))

	require.NoError(t, eng.EnterCollection(context.Background(), "deal-stable"))

	frozen, err := deals.Get("deal-stable")
	require.NoError(t, err)
	planB := frozen.CommissionPlan[deal.SideB]
	require.Equal(t, deal.ModeFixedUSDNative, planB.Mode)
	require.Equal(t, "ETH", planB.NativeAssetCode, "the stub adapter's QuoteNativeForUSD prices USDC commission in ETH")

	frozen.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.RequireFromString("10.03"), Txid: "txA", Confirmations: 6, Status: deal.DepositConfirmed})
	frozen.RecordDeposit(deal.SideB, deal.Deposit{AssetCode: planB.NativeAssetCode, Amount: planB.NativeFixed, Txid: "txB", Confirmations: 12, Status: deal.DepositConfirmed})
	require.NoError(t, deals.Save(frozen))

	require.NoError(t, eng.CheckSufficiency("deal-stable"))

	got, err := deals.Get("deal-stable")
	require.NoError(t, err)
	assert.Equal(t, deal.StageWaiting, got.Stage, "a confirmed deposit under the adapter's native asset code must satisfy the FIXED_USD_NATIVE requirement")
}

func TestCheckSufficiencyRevertsOnTimeoutWithoutSufficiency(t *testing.T) {
	eng, deals, payoutStore := newTestEngine()
	newLockedDeal(t, deals)
	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.RequireFromString("10.03"), Txid: "txA", Confirmations: 6, Status: deal.DepositConfirmed})
	past := time.Now().Add(-time.Second)
	d.ExpiresAt = &past
	require.NoError(t, deals.Save(d))

	require.NoError(t, eng.CheckSufficiency("deal-1"))

	got, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageReverted, got.Stage)

	intents := payoutStore.ByDeal("deal-1")
	require.Len(t, intents, 1)
	assert.Equal(t, payout.PurposeTimeoutRefund, intents[0].Purpose)
}

func TestCheckReorgRollsBackWaitingToCollection(t *testing.T) {
	eng, deals, _ := newTestEngine()
	newLockedDeal(t, deals)
	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))
	collectFully(t, deals, "deal-1")
	require.NoError(t, eng.CheckSufficiency("deal-1"))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	state := d.SideState[deal.SideA]
	state.Deposits[0].Status = deal.DepositOrphaned
	d.SideState[deal.SideA] = state
	require.NoError(t, deals.Save(d))

	require.NoError(t, eng.CheckReorg("deal-1"))

	got, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageCollection, got.Stage)
}

func TestCheckGracePeriodAdvancesToSwapAndEnqueuesPayouts(t *testing.T) {
	eng, deals, payoutStore := newTestEngine()
	eng.GracePeriod = 0
	newLockedDeal(t, deals)
	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))
	collectFully(t, deals, "deal-1")
	require.NoError(t, eng.CheckSufficiency("deal-1"))

	require.NoError(t, eng.CheckGracePeriod("deal-1"))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageSwap, d.Stage)

	intents := payoutStore.ByDeal("deal-1")
	assert.NotEmpty(t, intents)
	var sawSwapPayout bool
	for _, i := range intents {
		if i.Purpose == payout.PurposeSwapPayout {
			sawSwapPayout = true
		}
	}
	assert.True(t, sawSwapPayout)
}

func TestCheckGracePeriodWaitsBeforeElapsed(t *testing.T) {
	eng, deals, _ := newTestEngine()
	eng.GracePeriod = time.Hour
	newLockedDeal(t, deals)
	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))
	collectFully(t, deals, "deal-1")
	require.NoError(t, eng.CheckSufficiency("deal-1"))

	require.NoError(t, eng.CheckGracePeriod("deal-1"))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageWaiting, d.Stage)
}

func TestCheckSwapCompletionClosesOnceAllPayoutsComplete(t *testing.T) {
	eng, deals, _ := newTestEngine()
	eng.GracePeriod = 0
	newLockedDeal(t, deals)
	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))
	collectFully(t, deals, "deal-1")
	require.NoError(t, eng.CheckSufficiency("deal-1"))
	require.NoError(t, eng.CheckGracePeriod("deal-1"))

	intents := []*payout.Intent{
		{Purpose: payout.PurposeSwapPayout, Status: payout.StatusCompleted},
		{Purpose: payout.PurposeOpCommission, Status: payout.StatusCompleted},
	}
	require.NoError(t, eng.CheckSwapCompletion("deal-1", intents))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageClosed, d.Stage)
}

func TestCheckSwapCompletionWaitsForIncompletePayouts(t *testing.T) {
	eng, deals, _ := newTestEngine()
	eng.GracePeriod = 0
	newLockedDeal(t, deals)
	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))
	collectFully(t, deals, "deal-1")
	require.NoError(t, eng.CheckSufficiency("deal-1"))
	require.NoError(t, eng.CheckGracePeriod("deal-1"))

	intents := []*payout.Intent{
		{Purpose: payout.PurposeSwapPayout, Status: payout.StatusSubmitted},
		{Purpose: payout.PurposeOpCommission, Status: payout.StatusCompleted},
	}
	require.NoError(t, eng.CheckSwapCompletion("deal-1", intents))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageSwap, d.Stage)
}

func TestCheckSwapFailureReverts(t *testing.T) {
	eng, deals, _ := newTestEngine()
	eng.GracePeriod = 0
	newLockedDeal(t, deals)
	require.NoError(t, eng.EnterCollection(context.Background(), "deal-1"))
	collectFully(t, deals, "deal-1")
	require.NoError(t, eng.CheckSufficiency("deal-1"))
	require.NoError(t, eng.CheckGracePeriod("deal-1"))

	intents := []*payout.Intent{
		{Purpose: payout.PurposeSwapPayout, Status: payout.StatusFailed},
	}
	require.NoError(t, eng.CheckSwapFailure("deal-1", intents))

	d, err := deals.Get("deal-1")
	require.NoError(t, err)
	assert.Equal(t, deal.StageReverted, d.Stage)
}
