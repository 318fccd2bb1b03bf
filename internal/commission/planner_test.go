package commission

import (
	"context"
	"testing"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/deal"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{ rate decimal.Decimal }

func (s *stubAdapter) ChainID() string { return "ethereum" }
func (s *stubAdapter) Capabilities() *chainadapter.Capabilities {
	return &chainadapter.Capabilities{ChainID: "ethereum", NativeSymbol: "ETH"}
}
func (s *stubAdapter) ValidateAddress(string) bool              { return true }
func (s *stubAdapter) GenerateEscrow(context.Context, string, string, string) (*chainadapter.Escrow, error) {
	return nil, nil
}
func (s *stubAdapter) ListDeposits(context.Context, *chainadapter.Escrow, *time.Time) ([]chainadapter.RawDeposit, error) {
	return nil, nil
}
func (s *stubAdapter) GetTxConfirmations(context.Context, string) (int, error) { return 0, nil }
func (s *stubAdapter) SubmitTransfer(context.Context, *chainadapter.TransferRequest) (*chainadapter.TransferResult, error) {
	return nil, nil
}
func (s *stubAdapter) QuoteNativeForUSD(ctx context.Context, usdAmount decimal.Decimal) (*chainadapter.NativeQuote, error) {
	return &chainadapter.NativeQuote{NativeAmount: usdAmount.Div(s.rate), RateUSD: s.rate, QuotedAt: time.Now()}, nil
}
func (s *stubAdapter) ApproveBrokerForToken(context.Context, *chainadapter.Escrow, string) error {
	return nil
}
func (s *stubAdapter) GetInternalTransactions(context.Context, string) ([]chainadapter.InternalTransfer, error) {
	return nil, nil
}

func TestPlanDefaultsToPercentBps(t *testing.T) {
	p := NewPlanner(nil, nil)
	spec := deal.AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	plan, err := p.Plan(context.Background(), &stubAdapter{}, spec, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, deal.ModePercentBps, plan.Mode)
	assert.Equal(t, int64(DefaultPercentBps), plan.PercentBps)
}

func TestPlanStablecoinUsesOracleQuote(t *testing.T) {
	p := NewPlanner([]string{"ERC20:0xUSDC"}, nil)
	spec := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ERC20:0xUSDC", Amount: decimal.NewFromInt(100)}
	adapter := &stubAdapter{rate: decimal.NewFromInt(2000)}
	plan, err := p.Plan(context.Background(), adapter, spec, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.Equal(t, deal.ModeFixedUSDNative, plan.Mode)
	assert.Equal(t, deal.CurrencyNative, plan.Currency)
	assert.True(t, plan.NativeFixed.Equal(decimal.RequireFromString("0.0005")))
	assert.Equal(t, "ETH", plan.NativeAssetCode, "the frozen plan must record the adapter's real native asset code, not a placeholder")
}

// TestFixedUSDNativeSufficiencyUsesAdapterNativeSymbol guards against keying
// the native requirement under a literal "NATIVE": ListDeposits always
// labels native deposits with the chain's real symbol, so IsSufficient must
// check collected amounts under that same symbol to ever pass.
func TestFixedUSDNativeSufficiencyUsesAdapterNativeSymbol(t *testing.T) {
	p := NewPlanner([]string{"ERC20:0xUSDC"}, nil)
	spec := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ERC20:0xUSDC", Amount: decimal.NewFromInt(100)}
	adapter := &stubAdapter{rate: decimal.NewFromInt(2000)}
	plan, err := p.Plan(context.Background(), adapter, spec, decimal.NewFromInt(1))
	require.NoError(t, err)

	required := RequiredByAsset(spec, plan, false)
	_, hasLiteralNative := required["NATIVE"]
	assert.False(t, hasLiteralNative, "requirement must not be keyed under the literal string NATIVE")
	assert.True(t, required["ETH"].Equal(plan.NativeFixed), "requirement must be keyed under the adapter's real native asset code")

	d := &deal.Deal{
		SideState: map[deal.Side]deal.SideState{
			deal.SideA: {Deposits: []deal.Deposit{{AssetCode: "ETH", Amount: plan.NativeFixed, Status: deal.DepositConfirmed}}},
		},
	}
	assert.True(t, d.IsSufficient(deal.SideA, required), "a confirmed ETH deposit must satisfy a FIXED_USD_NATIVE requirement priced in ETH")
}

func TestRequiredByAssetHappyPathScenario(t *testing.T) {
	specA := deal.AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	planA := deal.CommissionPlan{Mode: deal.ModePercentBps, Currency: deal.CurrencyAsset, PercentBps: 30}
	reqA := RequiredByAsset(specA, planA, false)
	assert.True(t, reqA["ALPHA"].Equal(decimal.RequireFromString("10.03")))

	specB := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100)}
	planB := deal.CommissionPlan{Mode: deal.ModePercentBps, Currency: deal.CurrencyAsset, PercentBps: 30}
	reqB := RequiredByAsset(specB, planB, false)
	assert.True(t, reqB["ERC20:0xT"].Equal(decimal.RequireFromString("100.30")))
}

func TestRequiredByAssetIncludesGasBufferForNativeEVMSwap(t *testing.T) {
	spec := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ETH", Amount: decimal.NewFromInt(1)}
	plan := deal.CommissionPlan{Mode: deal.ModePercentBps, Currency: deal.CurrencyAsset, PercentBps: 30}
	req := RequiredByAsset(spec, plan, true)
	expected := decimal.NewFromInt(1).Add(decimal.RequireFromString("0.003")).Add(GasBufferNativeEVM)
	assert.True(t, req["ETH"].Equal(expected))
}

func TestCommissionAmount(t *testing.T) {
	spec := deal.AssetSpec{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	plan := deal.CommissionPlan{Currency: deal.CurrencyAsset, PercentBps: 30}
	assert.True(t, CommissionAmount(spec, plan).Equal(decimal.RequireFromString("0.03")))
}
