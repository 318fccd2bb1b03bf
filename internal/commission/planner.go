// Package commission computes each side's commission terms and the total
// amount its escrow must collect.
package commission

import (
	"context"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/dealerr"
	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/money"
	"github.com/shopspring/decimal"
)

// DefaultPercentBps is the commission rate applied to every asset that is
// not on the stablecoin fixed-USD allow-list.
const DefaultPercentBps = 30

// GasBufferNativeEVM is added to a side's required amount only when that
// side's escrow must itself pay outbound gas for a native-asset swap.
var GasBufferNativeEVM = decimal.RequireFromString("0.002")

// Planner prices each side's commission requirement. StablecoinAssets names
// asset codes that use FIXED_USD_NATIVE instead of the default PERCENT_BPS
// policy; it is populated from STABLECOIN_FIXED_USD_ASSETS.
type Planner struct {
	StablecoinAssets map[string]bool
	// ERC20FixedFees maps chainID -> fixed fee amount (in swap currency),
	// sourced from {CHAIN}_ERC20_FEE.
	ERC20FixedFees map[string]decimal.Decimal
	// FixedUSDAmount is the USD notional frozen into a FIXED_USD_NATIVE
	// commission at COLLECTION entry.
	FixedUSDAmount decimal.Decimal
}

// DefaultFixedUSDAmount is used when the operator hasn't overridden it.
var DefaultFixedUSDAmount = decimal.RequireFromString("10.00")

func NewPlanner(stablecoinAssets []string, erc20FixedFees map[string]decimal.Decimal) *Planner {
	set := make(map[string]bool, len(stablecoinAssets))
	for _, a := range stablecoinAssets {
		set[a] = true
	}
	if erc20FixedFees == nil {
		erc20FixedFees = map[string]decimal.Decimal{}
	}
	return &Planner{StablecoinAssets: set, ERC20FixedFees: erc20FixedFees, FixedUSDAmount: DefaultFixedUSDAmount}
}

// Plan produces the CommissionPlan for one side's AssetSpec. For
// FIXED_USD_NATIVE assets this calls adapter.QuoteNativeForUSD and freezes
// the result; the caller must not call Plan again for the same side
// afterward (the freeze is irreversible per spec).
func (p *Planner) Plan(ctx context.Context, adapter chainadapter.ChainAdapter, spec deal.AssetSpec, usdFixed decimal.Decimal) (deal.CommissionPlan, error) {
	if !p.StablecoinAssets[spec.AssetCode] {
		plan := deal.CommissionPlan{
			Mode:       deal.ModePercentBps,
			Currency:   deal.CurrencyAsset,
			PercentBps: DefaultPercentBps,
		}
		if spec.IsToken() {
			plan.ERC20FixedFee = p.ERC20FixedFees[spec.ChainID]
		}
		return plan, nil
	}

	quote, err := adapter.QuoteNativeForUSD(ctx, usdFixed)
	if err != nil {
		return deal.CommissionPlan{}, dealerr.FromChainError(err)
	}
	return deal.CommissionPlan{
		Mode:            deal.ModeFixedUSDNative,
		Currency:        deal.CurrencyNative,
		USDFixed:        money.RoundUSD(usdFixed),
		NativeFixed:     quote.NativeAmount,
		NativeAssetCode: adapter.Capabilities().NativeSymbol,
		OracleQuote:     quote.RateUSD,
	}, nil
}

// RequiredByAsset computes how much of each asset a side's escrow must
// collect, given its AssetSpec and frozen CommissionPlan.
//
// isNativeEVMSwap indicates the swap asset is the chain's native coin on an
// EVM chain, the only case where the escrow itself pays outbound gas and so
// needs the gas buffer included in what it collects.
func RequiredByAsset(spec deal.AssetSpec, plan deal.CommissionPlan, isNativeEVMSwap bool) deal.RequiredByAsset {
	tradeAssetAmount := spec.Amount

	if plan.Currency == deal.CurrencyAsset {
		tradeAssetAmount = tradeAssetAmount.Add(money.FeeFromBps(spec.Amount, plan.PercentBps))
	}
	if !plan.ERC20FixedFee.IsZero() {
		tradeAssetAmount = tradeAssetAmount.Add(plan.ERC20FixedFee)
	}
	if isNativeEVMSwap {
		tradeAssetAmount = tradeAssetAmount.Add(GasBufferNativeEVM)
	}

	required := deal.RequiredByAsset{spec.AssetCode: tradeAssetAmount}

	if plan.Currency == deal.CurrencyNative && !plan.NativeFixed.IsZero() {
		// The native asset may or may not be the same as AssetCode (e.g. an
		// ERC20 swap priced in ETH); either way it's tracked as its own
		// required-asset entry, keyed by the adapter's actual native asset
		// code (ListDeposits never reports deposits as the literal
		// "NATIVE"), so collection sufficiency covers it too.
		nativeCode := plan.NativeAssetCode
		if nativeCode == "" {
			// Plan always sets NativeAssetCode for CurrencyNative; this only
			// guards against a plan constructed by hand (e.g. in a test).
			nativeCode = "NATIVE"
		}
		required[nativeCode] = plan.NativeFixed
	}

	return required
}

// CommissionAmount returns the fee portion of a side's requirement, in the
// currency the plan specifies — used by the payout planner to size the
// OP_COMMISSION intent.
func CommissionAmount(spec deal.AssetSpec, plan deal.CommissionPlan) decimal.Decimal {
	if plan.Currency == deal.CurrencyNative {
		return plan.NativeFixed
	}
	return money.FeeFromBps(spec.Amount, plan.PercentBps)
}
