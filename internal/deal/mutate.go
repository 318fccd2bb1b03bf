package deal

import (
	"time"

	"github.com/otcswap/broker/internal/dealerr"
	"github.com/shopspring/decimal"
)

// FillPartyDetails records one side's addresses and locks them. It is the
// only way PartyDetails is ever written, so lock enforcement lives in one
// place.
func (d *Deal) FillPartyDetails(side Side, payback, recipient, email string) error {
	if d.Stage != StageCreated {
		return dealerr.New(dealerr.InvalidTransition, "party details can only be filled while the deal is in CREATED")
	}
	if existing, ok := d.PartyDetails[side]; ok && existing.Locked {
		return dealerr.New(dealerr.InvalidTransition, "party details for this side are already locked")
	}
	now := time.Now()
	d.PartyDetails[side] = PartyDetails{
		PaybackAddress:   payback,
		RecipientAddress: recipient,
		Email:            email,
		FilledAt:         &now,
		Locked:           true,
	}
	d.AddEvent("party details filled for side " + string(side))
	return nil
}

// Cancel moves the deal to REVERTED. Only legal while CREATED, since no
// escrow can hold funds before COLLECTION.
func (d *Deal) Cancel() error {
	if d.Stage != StageCreated {
		return dealerr.New(dealerr.InvalidTransition, "cancellation is only allowed while the deal is in CREATED")
	}
	d.Stage = StageReverted
	d.AddEvent("deal cancelled by party request")
	return nil
}

// EnterCollection transitions CREATED -> COLLECTION, setting ExpiresAt.
// Escrow generation and commission freezing are the engine's responsibility;
// this method only enforces the guard and timer invariant.
func (d *Deal) EnterCollection(now time.Time) error {
	if d.Stage != StageCreated {
		return dealerr.New(dealerr.InvalidTransition, "deal is not in CREATED")
	}
	if !d.BothPartiesLocked() {
		return dealerr.New(dealerr.InvalidTransition, "both parties must lock their details before collection begins")
	}
	expires := now.Add(time.Duration(d.TimeoutSeconds) * time.Second)
	d.Stage = StageCollection
	d.ExpiresAt = &expires
	d.AddEvent("entered COLLECTION")
	return nil
}

// RequiredByAsset sums, for a side's CommissionPlan and AssetSpec, how much
// of each asset the escrow must collect. This is the Commission Planner's
// published result, attached to the deal as the source of truth for
// sufficiency checks.
type RequiredByAsset map[string]decimal.Decimal

// CollectedConfirmed sums confirmed, non-orphaned deposits of assetCode for
// a side.
func (d *Deal) CollectedConfirmed(side Side, assetCode string) decimal.Decimal {
	total := decimal.Zero
	for _, dep := range d.SideState[side].Deposits {
		if dep.AssetCode != assetCode || dep.Status != DepositConfirmed {
			continue
		}
		total = total.Add(dep.Amount)
	}
	return total
}

// IsSufficient reports whether every required asset for side has been
// confirmed in at least the required amount.
func (d *Deal) IsSufficient(side Side, required RequiredByAsset) bool {
	for asset, amount := range required {
		if d.CollectedConfirmed(side, asset).LessThan(amount) {
			return false
		}
	}
	return true
}

// EnterWaiting transitions COLLECTION -> WAITING once both sides are fully
// collected, recording the trade and commission lock timestamps.
func (d *Deal) EnterWaiting(requiredA, requiredB RequiredByAsset) error {
	if d.Stage != StageCollection {
		return dealerr.New(dealerr.InvalidTransition, "deal is not in COLLECTION")
	}
	if !d.IsSufficient(SideA, requiredA) || !d.IsSufficient(SideB, requiredB) {
		return dealerr.New(dealerr.InvalidTransition, "both sides must be fully collected before entering WAITING")
	}
	now := time.Now()
	for _, side := range []Side{SideA, SideB} {
		state := d.SideState[side]
		state.Locks = Locks{TradeLockedAt: &now, CommissionLockedAt: &now}
		d.SideState[side] = state
	}
	d.Stage = StageWaiting
	d.AddEvent("entered WAITING")
	return nil
}

// RollbackToCollection demotes WAITING -> COLLECTION after a reorg drops a
// side below sufficiency. The timer resumes because ExpiresAt is untouched.
func (d *Deal) RollbackToCollection(side Side) error {
	if d.Stage != StageWaiting {
		return dealerr.New(dealerr.InvalidTransition, "deal is not in WAITING")
	}
	state := d.SideState[side]
	state.Locks = Locks{}
	d.SideState[side] = state
	d.Stage = StageCollection
	d.AddEvent("rolled back to COLLECTION after reorg on side " + string(side))
	return nil
}

// EnterSwap transitions WAITING -> SWAP after the grace period has elapsed
// with both sides still sufficient.
func (d *Deal) EnterSwap() error {
	if d.Stage != StageWaiting {
		return dealerr.New(dealerr.InvalidTransition, "deal is not in WAITING")
	}
	d.Stage = StageSwap
	d.AddEvent("entered SWAP")
	return nil
}

// Close transitions SWAP -> CLOSED. The engine verifies every SWAP_PAYOUT
// intent is COMPLETED before calling this.
func (d *Deal) Close() error {
	if d.Stage != StageSwap {
		return dealerr.New(dealerr.InvalidTransition, "deal is not in SWAP")
	}
	d.Stage = StageClosed
	d.AddEvent("deal CLOSED")
	return nil
}

// Revert transitions the deal to REVERTED from any non-terminal stage except
// SWAP purely due to timeout (SWAP deals only revert on a fatal adapter
// error, never wall-clock expiry — enforced by the caller choosing not to
// invoke this path from a timeout check while in SWAP).
func (d *Deal) Revert(reason string) error {
	if d.Stage == StageClosed || d.Stage == StageReverted {
		return dealerr.New(dealerr.InvalidTransition, "deal is already terminal")
	}
	d.Stage = StageReverted
	d.AddEvent("deal REVERTED: " + reason)
	return nil
}

// RecordDeposit appends or updates a deposit entry under the deal's own
// mutation path, keeping CollectedByAsset in sync.
func (d *Deal) RecordDeposit(side Side, dep Deposit) {
	state := d.SideState[side]
	for i := range state.Deposits {
		if state.Deposits[i].Txid == dep.Txid {
			state.Deposits[i] = dep
			d.SideState[side] = state
			d.recomputeCollected(side)
			return
		}
	}
	state.Deposits = append(state.Deposits, dep)
	d.SideState[side] = state
	d.recomputeCollected(side)
}

func (d *Deal) recomputeCollected(side Side) {
	state := d.SideState[side]
	totals := map[string]decimal.Decimal{}
	for _, dep := range state.Deposits {
		if dep.Status == DepositOrphaned {
			continue
		}
		totals[dep.AssetCode] = totals[dep.AssetCode].Add(dep.Amount)
	}
	state.CollectedByAsset = totals
	d.SideState[side] = state
	d.touch()
}
