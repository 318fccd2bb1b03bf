package payout

import (
	"testing"
	"time"

	"github.com/otcswap/broker/internal/deal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildWaitingDeal(t *testing.T) *deal.Deal {
	t.Helper()
	specA := deal.AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	specB := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100)}
	d := deal.NewDeal("deal-1", "test", specA, specB, 3600)
	require.NoError(t, d.FillPartyDetails(deal.SideA, "payback-a", "recipient-a", ""))
	require.NoError(t, d.FillPartyDetails(deal.SideB, "payback-b", "recipient-b", ""))
	require.NoError(t, d.EnterCollection(time.Now()))

	d.CommissionPlan[deal.SideA] = deal.CommissionPlan{Mode: deal.ModePercentBps, Currency: deal.CurrencyAsset, PercentBps: 30}
	d.CommissionPlan[deal.SideB] = deal.CommissionPlan{Mode: deal.ModePercentBps, Currency: deal.CurrencyAsset, PercentBps: 30}
	d.Escrow[deal.SideA] = deal.Escrow{Address: "escrow-a", KeyRef: "m/44'/0'/0'/0/1"}
	d.Escrow[deal.SideB] = deal.Escrow{Address: "escrow-b", KeyRef: "m/44'/60'/0'/0/1"}
	return d
}

func operatorAddrFixture(chainID string) string { return "operator-" + chainID }

func TestPlanSwapHappyPath(t *testing.T) {
	d := buildWaitingDeal(t)
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.RequireFromString("10.03"), Txid: "tx1", Status: deal.DepositConfirmed})

	intents, err := PlanSwap(d, deal.SideA, operatorAddrFixture)
	require.NoError(t, err)
	require.Len(t, intents, 2, "happy path has a swap payout and a commission, no surplus")

	swap := intents[0]
	assert.Equal(t, PurposeSwapPayout, swap.Purpose)
	assert.True(t, swap.Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "recipient-b", swap.ToAddress)

	commissionIntent := intents[1]
	assert.Equal(t, PurposeOpCommission, commissionIntent.Purpose)
	assert.True(t, commissionIntent.Amount.Equal(decimal.RequireFromString("0.03")))
	assert.Equal(t, "operator-alpha-mainnet", commissionIntent.ToAddress)
}

func TestPlanSwapOverpaymentEmitsSurplusRefund(t *testing.T) {
	d := buildWaitingDeal(t)
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.NewFromInt(12), Txid: "tx1", Status: deal.DepositConfirmed})

	intents, err := PlanSwap(d, deal.SideA, operatorAddrFixture)
	require.NoError(t, err)
	require.Len(t, intents, 3)

	surplus := intents[2]
	assert.Equal(t, PurposeSurplusRefund, surplus.Purpose)
	assert.True(t, surplus.Amount.Equal(decimal.RequireFromString("1.97")), "surplus = 12 - 10 - 0.03")
	assert.Equal(t, "payback-a", surplus.ToAddress)
}

func TestPlanTimeoutRefund(t *testing.T) {
	d := buildWaitingDeal(t)
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", Status: deal.DepositConfirmed})

	intent, err := PlanTimeoutRefund(d, deal.SideA)
	require.NoError(t, err)
	require.NotNil(t, intent)
	assert.Equal(t, PurposeTimeoutRefund, intent.Purpose)
	assert.True(t, intent.Amount.Equal(decimal.NewFromInt(10)))
	assert.Equal(t, "payback-a", intent.ToAddress)
}

func TestPlanTimeoutRefundNoDepositsReturnsNil(t *testing.T) {
	d := buildWaitingDeal(t)
	intent, err := PlanTimeoutRefund(d, deal.SideB)
	require.NoError(t, err)
	assert.Nil(t, intent)
}

func TestPlanSwapFixedUSDNativeUsesRealNativeAssetCode(t *testing.T) {
	d := buildWaitingDeal(t)
	d.CommissionPlan[deal.SideB] = deal.CommissionPlan{
		Mode: deal.ModeFixedUSDNative, Currency: deal.CurrencyNative,
		NativeFixed: decimal.RequireFromString("0.005"), NativeAssetCode: "ETH",
	}
	d.RecordDeposit(deal.SideB, deal.Deposit{AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100), Txid: "tx-trade", Status: deal.DepositConfirmed})
	d.RecordDeposit(deal.SideB, deal.Deposit{AssetCode: "ETH", Amount: decimal.RequireFromString("0.005"), Txid: "tx-commission", Status: deal.DepositConfirmed})

	intents, err := PlanSwap(d, deal.SideB, operatorAddrFixture)
	require.NoError(t, err)

	var commissionIntent *Intent
	for _, i := range intents {
		if i.Purpose == PurposeOpCommission {
			commissionIntent = i
		}
	}
	require.NotNil(t, commissionIntent)
	assert.Equal(t, "ETH", commissionIntent.AssetCode, "the commission intent must carry the adapter's real native asset code, not a placeholder")

	for _, dep := range d.SideState[deal.SideB].Deposits {
		assert.True(t, dep.AccountedFor, "both the trade deposit and the exactly-matching native commission deposit must be marked accounted for")
	}

	strayIntents, err := PlanClosureSurplusRefund(d, deal.SideB)
	require.NoError(t, err)
	assert.Empty(t, strayIntents, "a native commission deposit that exactly matches NativeFixed must not be treated as a stray post-closure credit")
}

func TestPlanSwapMarksConfirmedDepositsAccountedFor(t *testing.T) {
	d := buildWaitingDeal(t)
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.RequireFromString("10.03"), Txid: "tx1", Status: deal.DepositConfirmed})

	_, err := PlanSwap(d, deal.SideA, operatorAddrFixture)
	require.NoError(t, err)

	assert.True(t, d.SideState[deal.SideA].Deposits[0].AccountedFor, "a deposit PlanSwap already consumed or refunded as surplus must not be re-examined by closure surveillance")
}

func TestPlanClosureSurplusRefundIgnoresDepositsPlanSwapAlreadyAccountedFor(t *testing.T) {
	d := buildWaitingDeal(t)
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.RequireFromString("10.03"), Txid: "tx1", Status: deal.DepositConfirmed})
	_, err := PlanSwap(d, deal.SideA, operatorAddrFixture)
	require.NoError(t, err)

	intents, err := PlanClosureSurplusRefund(d, deal.SideA)
	require.NoError(t, err)
	assert.Empty(t, intents, "deposits already settled by PlanSwap must not be refunded again post-closure")
}

func TestPlanClosureSurplusRefundCoversStrayPostClosureDeposit(t *testing.T) {
	d := buildWaitingDeal(t)
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.RequireFromString("10.03"), Txid: "tx1", Status: deal.DepositConfirmed})
	_, err := PlanSwap(d, deal.SideA, operatorAddrFixture)
	require.NoError(t, err)

	// A stray deposit reconciled after the deal already closed.
	d.RecordDeposit(deal.SideA, deal.Deposit{AssetCode: "ALPHA", Amount: decimal.NewFromInt(5), Txid: "tx-stray", Status: deal.DepositConfirmed})

	intents, err := PlanClosureSurplusRefund(d, deal.SideA)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, PurposeSurplusRefund, intents[0].Purpose)
	assert.True(t, intents[0].Amount.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, "payback-a", intents[0].ToAddress)

	again, err := PlanClosureSurplusRefund(d, deal.SideA)
	require.NoError(t, err)
	assert.Empty(t, again, "a stray deposit already queued for refund must not be refunded twice by a repeated surveillance poll")
}
