package watcher

import (
	"testing"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/deal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func newTestDeal() *deal.Deal {
	specA := deal.AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	specB := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100)}
	return deal.NewDeal("deal-1", "test", specA, specB, 3600)
}

func TestReconcileNewDepositUnconfirmed(t *testing.T) {
	d := newTestDeal()
	Reconcile(d, deal.SideA, []chainadapter.RawDeposit{
		{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", BlockHeight: 0, Confirmations: 0, ObservedAt: time.Now()},
	}, 6)

	deps := d.SideState[deal.SideA].Deposits
	assert.Len(t, deps, 1)
	assert.Equal(t, deal.DepositUnconfirmed, deps[0].Status)
}

func TestReconcileCrossesConfirmationThreshold(t *testing.T) {
	d := newTestDeal()
	Reconcile(d, deal.SideA, []chainadapter.RawDeposit{
		{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", BlockHeight: 100, Confirmations: 2, ObservedAt: time.Now()},
	}, 6)
	assert.Equal(t, deal.DepositPending, d.SideState[deal.SideA].Deposits[0].Status)

	Reconcile(d, deal.SideA, []chainadapter.RawDeposit{
		{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", BlockHeight: 100, Confirmations: 6, ObservedAt: time.Now()},
	}, 6)
	assert.Equal(t, deal.DepositConfirmed, d.SideState[deal.SideA].Deposits[0].Status)
	assert.True(t, d.CollectedConfirmed(deal.SideA, "ALPHA").Equal(decimal.NewFromInt(10)))
}

func TestReconcileOrphansMissingDeposit(t *testing.T) {
	d := newTestDeal()
	Reconcile(d, deal.SideA, []chainadapter.RawDeposit{
		{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", BlockHeight: 100, Confirmations: 6, ObservedAt: time.Now()},
	}, 6)
	assert.Equal(t, deal.DepositConfirmed, d.SideState[deal.SideA].Deposits[0].Status)

	Reconcile(d, deal.SideA, []chainadapter.RawDeposit{}, 6)
	assert.Equal(t, deal.DepositOrphaned, d.SideState[deal.SideA].Deposits[0].Status)
	assert.True(t, d.CollectedConfirmed(deal.SideA, "ALPHA").IsZero())
}

func TestReconcileSyntheticDepositGetsPlaceholderTxid(t *testing.T) {
	d := newTestDeal()
	Reconcile(d, deal.SideB, []chainadapter.RawDeposit{
		{AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100), Txid: "", IsSynthetic: true, Confirmations: 1, BlockHeight: 100, ObservedAt: time.Now()},
	}, 12)
	deps := d.SideState[deal.SideB].Deposits
	assert.Len(t, deps, 1)
	assert.True(t, deps[0].IsSynthetic)
	assert.NotEmpty(t, deps[0].Txid)
	assert.Equal(t, deal.ResolutionPending, deps[0].ResolutionStatus)
}

func TestResolveSyntheticSuccess(t *testing.T) {
	d := newTestDeal()
	Reconcile(d, deal.SideB, []chainadapter.RawDeposit{
		{AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100), IsSynthetic: true, Confirmations: 1, ObservedAt: time.Now()},
	}, 12)
	placeholder := d.SideState[deal.SideB].Deposits[0].Txid

	ResolveSynthetic(d, deal.SideB, placeholder, "0xrealtx", true)
	dep := d.SideState[deal.SideB].Deposits[0]
	assert.False(t, dep.IsSynthetic)
	assert.Equal(t, "0xrealtx", dep.Txid)
	assert.Equal(t, deal.ResolutionResolved, dep.ResolutionStatus)
}

func TestResolveSyntheticExhaustsBudget(t *testing.T) {
	d := newTestDeal()
	Reconcile(d, deal.SideB, []chainadapter.RawDeposit{
		{AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100), IsSynthetic: true, Confirmations: 1, ObservedAt: time.Now()},
	}, 12)
	placeholder := d.SideState[deal.SideB].Deposits[0].Txid

	for i := 0; i < len(ResolutionRetrySchedule); i++ {
		ResolveSynthetic(d, deal.SideB, placeholder, "", false)
	}
	dep := d.SideState[deal.SideB].Deposits[0]
	assert.Equal(t, deal.ResolutionFailed, dep.ResolutionStatus)
}
