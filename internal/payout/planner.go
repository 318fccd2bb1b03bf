package payout

import (
	"sort"

	"github.com/otcswap/broker/internal/commission"
	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/util"
	"github.com/shopspring/decimal"
)

// OperatorAddress resolves the operator-owned commission-collection address
// for a chain.
type OperatorAddress func(chainID string) string

// markAccountedUpTo flags confirmed, not-yet-accounted deposits of assetCode
// as AccountedFor until their cumulative amount reaches amount. It stops
// short of flagging more than amount covers, leaving any genuine excess
// deposit open for the post-closure surveillance poll to refund.
func markAccountedUpTo(state *deal.SideState, assetCode string, amount decimal.Decimal) {
	remaining := amount
	for i := range state.Deposits {
		if !remaining.IsPositive() {
			return
		}
		dep := &state.Deposits[i]
		if dep.AssetCode != assetCode || dep.Status != deal.DepositConfirmed || dep.AccountedFor {
			continue
		}
		dep.AccountedFor = true
		remaining = remaining.Sub(dep.Amount)
	}
}

// PlanSwap emits the payout intents for one side at WAITING -> SWAP entry:
// the swap payout to the counterparty, the operator commission, any surplus
// refund, and an optional gas reimbursement.
func PlanSwap(d *deal.Deal, side deal.Side, operatorAddr OperatorAddress) ([]*Intent, error) {
	spec := d.Spec[side]
	plan := d.CommissionPlan[side]
	escrow := d.Escrow[side]
	counterparty := d.PartyDetails[side.Other()]
	payback := d.PartyDetails[side]

	var intents []*Intent

	commissionAmount := commission.CommissionAmount(spec, plan)
	swapAmount := spec.Amount

	id, err := util.NewID()
	if err != nil {
		return nil, err
	}
	intents = append(intents, &Intent{
		ID: id, DealID: d.ID, ChainID: spec.ChainID, FromEscrow: escrow.Address, FromKeyRef: escrow.KeyRef,
		ToAddress: counterparty.RecipientAddress, AssetCode: spec.AssetCode, Amount: swapAmount,
		Purpose: PurposeSwapPayout, Status: StatusPending,
	})

	commissionAsset := spec.AssetCode
	if plan.Currency == deal.CurrencyNative {
		// plan.NativeAssetCode is the adapter's real native asset code (e.g.
		// "ETH"), the same code deposits are recorded under — not a
		// hardcoded placeholder, so this intent's AssetCode and the
		// AccountedFor bookkeeping below both match the actual ledger.
		commissionAsset = plan.NativeAssetCode
	}
	if commissionAmount.IsPositive() {
		id, err := util.NewID()
		if err != nil {
			return nil, err
		}
		intents = append(intents, &Intent{
			ID: id, DealID: d.ID, ChainID: spec.ChainID, FromEscrow: escrow.Address, FromKeyRef: escrow.KeyRef,
			ToAddress: operatorAddr(spec.ChainID), AssetCode: commissionAsset, Amount: commissionAmount,
			Purpose: PurposeOpCommission, Status: StatusPending,
		})
	}

	confirmed := d.CollectedConfirmed(side, spec.AssetCode)
	consumed := swapAmount
	if commissionAsset == spec.AssetCode {
		consumed = consumed.Add(commissionAmount)
	}
	if surplus := confirmed.Sub(consumed); surplus.IsPositive() {
		id, err := util.NewID()
		if err != nil {
			return nil, err
		}
		intents = append(intents, &Intent{
			ID: id, DealID: d.ID, ChainID: spec.ChainID, FromEscrow: escrow.Address, FromKeyRef: escrow.KeyRef,
			ToAddress: payback.PaybackAddress, AssetCode: spec.AssetCode, Amount: surplus,
			Purpose: PurposeSurplusRefund, Status: StatusPending,
		})
	}

	if d.GasReimbursement != nil && d.GasReimbursement.Enabled && d.GasReimbursement.EscrowSide == side {
		id, err := util.NewID()
		if err != nil {
			return nil, err
		}
		intents = append(intents, &Intent{
			ID: id, DealID: d.ID, ChainID: spec.ChainID, FromEscrow: escrow.Address, FromKeyRef: escrow.KeyRef,
			ToAddress: operatorAddr(spec.ChainID), AssetCode: "NATIVE", Amount: decimal.Zero,
			Purpose: PurposeGasReimbursement, Status: StatusPending,
		})
	}

	// The whole confirmed trade-asset balance is now spoken for: consumed by
	// the swap/commission payout, or queued above as surplus. A separately
	// denominated commission (FIXED_USD_NATIVE) only has its exact
	// commissionAmount spoken for; anything beyond that in commissionAsset
	// is left unmarked for the post-closure surveillance poll to catch.
	state := d.SideState[side]
	markAccountedUpTo(&state, spec.AssetCode, confirmed)
	if commissionAsset != spec.AssetCode {
		markAccountedUpTo(&state, commissionAsset, commissionAmount)
	}
	d.SideState[side] = state

	return intents, nil
}

// PlanTimeoutRefund emits one TIMEOUT_REFUND intent for a side's entire
// confirmed balance when COLLECTION expires without sufficiency.
func PlanTimeoutRefund(d *deal.Deal, side deal.Side) (*Intent, error) {
	spec := d.Spec[side]
	escrow := d.Escrow[side]
	payback := d.PartyDetails[side]

	confirmed := d.CollectedConfirmed(side, spec.AssetCode)
	if !confirmed.IsPositive() {
		return nil, nil
	}

	id, err := util.NewID()
	if err != nil {
		return nil, err
	}

	state := d.SideState[side]
	markAccountedUpTo(&state, spec.AssetCode, confirmed)
	d.SideState[side] = state

	return &Intent{
		ID: id, DealID: d.ID, ChainID: spec.ChainID, FromEscrow: escrow.Address, FromKeyRef: escrow.KeyRef,
		ToAddress: payback.PaybackAddress, AssetCode: spec.AssetCode, Amount: confirmed,
		Purpose: PurposeTimeoutRefund, Status: StatusPending,
	}, nil
}

// PlanClosureSurplusRefund emits SURPLUS_REFUND intents for any deposit on
// side that is CONFIRMED but was never accounted for by PlanSwap or
// PlanTimeoutRefund — the post-closure stray-deposit case: a credit that
// lands on a CLOSED/REVERTED deal's escrow after it already settled.
// Covered deposits are flagged ClosureRefundQueued so a repeated call from
// the surveillance poll never refunds the same credit twice.
func PlanClosureSurplusRefund(d *deal.Deal, side deal.Side) ([]*Intent, error) {
	spec := d.Spec[side]
	escrow := d.Escrow[side]
	payback := d.PartyDetails[side]

	state := d.SideState[side]
	strayByAsset := map[string]decimal.Decimal{}
	for i := range state.Deposits {
		dep := &state.Deposits[i]
		if dep.Status != deal.DepositConfirmed || dep.AccountedFor || dep.ClosureRefundQueued {
			continue
		}
		strayByAsset[dep.AssetCode] = strayByAsset[dep.AssetCode].Add(dep.Amount)
		dep.ClosureRefundQueued = true
	}
	d.SideState[side] = state

	if len(strayByAsset) == 0 {
		return nil, nil
	}

	assetCodes := make([]string, 0, len(strayByAsset))
	for assetCode := range strayByAsset {
		assetCodes = append(assetCodes, assetCode)
	}
	sort.Strings(assetCodes)

	var intents []*Intent
	for _, assetCode := range assetCodes {
		amount := strayByAsset[assetCode]
		if !amount.IsPositive() {
			continue
		}
		id, err := util.NewID()
		if err != nil {
			return nil, err
		}
		intents = append(intents, &Intent{
			ID: id, DealID: d.ID, ChainID: spec.ChainID, FromEscrow: escrow.Address, FromKeyRef: escrow.KeyRef,
			ToAddress: payback.PaybackAddress, AssetCode: assetCode, Amount: amount,
			Purpose: PurposeSurplusRefund, Status: StatusPending,
		})
	}
	return intents, nil
}
