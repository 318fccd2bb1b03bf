// Package gastank implements the EVM-only gas tank coordinator: funding a
// freshly generated escrow with native gas before a token approval or
// transfer, and deciding (ReclaimSurplus) whether a residual balance is worth
// a GAS_REFUND_TO_TANK transfer. The package does not send that refund itself.
package gastank

import (
	"context"
	"fmt"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/shopspring/decimal"
)

// SafetyFactor multiplies the raw gas estimate before funding, per the
// coordinator's minimum-2x requirement.
var SafetyFactor = decimal.NewFromInt(2)

// DustThreshold is the residual native balance below which a
// GAS_REFUND_TO_TANK is not worth the cost of its own transaction.
var DustThreshold = decimal.RequireFromString("0.0005")

// Tank funds EVM escrows from an operator-owned native wallet.
type Tank struct {
	// Escrow is the operator's own escrow-like handle: its address and
	// keyRef are used as the `from` of funding transfers.
	Escrow   *chainadapter.Escrow
	Adapter  chainadapter.ChainAdapter
	// Available is false when TANK_WALLET_PRIVATE_KEY was not configured;
	// dependent operations still proceed and may fail for insufficient gas.
	Available bool
	// PollInterval is how often FundEscrow checks for confirmation; defaults
	// to 5s when zero.
	PollInterval time.Duration
}

// EstimateFunding computes the native amount to send an escrow before it can
// issue an approval or transfer, at gasUnits * gasPriceWei * SafetyFactor.
func EstimateFunding(gasUnits, gasPriceWei decimal.Decimal) decimal.Decimal {
	return gasUnits.Mul(gasPriceWei).Mul(SafetyFactor)
}

// FundEscrow sends gasAmount of native asset from the tank to escrow and
// waits for at least one confirmation before returning, so the dependent
// operation (approval/transfer) is guaranteed to land in a funded state.
func (t *Tank) FundEscrow(ctx context.Context, intentID string, escrow *chainadapter.Escrow, gasAmount decimal.Decimal) error {
	if !t.Available {
		return fmt.Errorf("gastank: unavailable, operator wallet not configured")
	}
	result, err := t.Adapter.SubmitTransfer(ctx, &chainadapter.TransferRequest{
		IntentID: intentID, From: t.Escrow, To: escrow.Address, AssetCode: "NATIVE", Amount: gasAmount,
	})
	if err != nil {
		return err
	}
	return t.waitForConfirmation(ctx, result.Txid, 1)
}

func (t *Tank) waitForConfirmation(ctx context.Context, txid string, minConfs int) error {
	interval := t.PollInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		confs, err := t.Adapter.GetTxConfirmations(ctx, txid)
		if err != nil {
			return err
		}
		if confs >= minConfs {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ReclaimSurplus returns whether a GAS_REFUND_TO_TANK transfer is warranted
// for a residual native balance.
func ReclaimSurplus(residual decimal.Decimal) bool {
	return residual.GreaterThan(DustThreshold)
}
