// Package watcher polls chain adapters for deposits to an escrow and
// reconciles them into a deal's deposit ledger.
package watcher

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/deal"
)

// ResolutionRetrySchedule is the bounded retry schedule for resolving a
// synthetic deposit's real originating transaction: five attempts whose
// intervals sum to 18.5 minutes.
var ResolutionRetrySchedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// MutateDeal applies a reconciliation result to a deal under the deal's own
// lock; engine.Engine supplies this by wrapping its per-deal mutex.
type MutateDeal func(dealID string, fn func(d *deal.Deal)) error

// Watcher polls one escrow's deposits on a bounded cadence, backing off on
// adapter errors, and reconciles results into the owning deal.
type Watcher struct {
	adapter chainadapter.ChainAdapter
	mutate  MutateDeal
	// PollInterval is the steady-state cadence; backoff grows from here on
	// adapter error, capped at MaxBackoff.
	PollInterval time.Duration
	MaxBackoff   time.Duration
}

func NewWatcher(adapter chainadapter.ChainAdapter, mutate MutateDeal) *Watcher {
	return &Watcher{adapter: adapter, mutate: mutate, PollInterval: 10 * time.Second, MaxBackoff: 5 * time.Minute}
}

// Run polls escrow until ctx is cancelled, reconciling each poll's results
// into dealID's ledger for side.
func (w *Watcher) Run(ctx context.Context, dealID string, side deal.Side, escrow *chainadapter.Escrow) {
	backoff := w.PollInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		deposits, err := w.adapter.ListDeposits(ctx, escrow, nil)
		if err != nil {
			log.Printf("watcher: listDeposits failed for deal=%s side=%s: %v", dealID, side, err)
			backoff *= 2
			if backoff > w.MaxBackoff {
				backoff = w.MaxBackoff
			}
			continue
		}
		backoff = w.PollInterval

		if err := w.mutate(dealID, func(d *deal.Deal) {
			Reconcile(d, side, deposits, w.adapter.Capabilities().MinConfirmations)
		}); err != nil {
			log.Printf("watcher: reconcile failed for deal=%s side=%s: %v", dealID, side, err)
		}
	}
}

// Reconcile merges a batch of RawDeposit observations into d's ledger for
// side, applying the confirmation and orphan transitions.
func Reconcile(d *deal.Deal, side deal.Side, raw []chainadapter.RawDeposit, minConfRequired int) {
	seen := make(map[string]bool, len(raw))
	for _, rd := range raw {
		seen[rd.Txid] = true
		status := deal.DepositPending
		if rd.BlockHeight == 0 {
			status = deal.DepositUnconfirmed
		}
		if rd.Confirmations >= minConfRequired {
			status = deal.DepositConfirmed
		}

		dep := deal.Deposit{
			AssetCode:       rd.AssetCode,
			Amount:          rd.Amount,
			Txid:            rd.Txid,
			BlockHeight:     int64(rd.BlockHeight),
			ObservedAt:      rd.ObservedAt,
			Confirmations:   rd.Confirmations,
			MinConfRequired: minConfRequired,
			Status:          status,
			IsSynthetic:     rd.IsSynthetic,
		}
		if rd.IsSynthetic {
			dep.Txid = syntheticTxid(side, rd)
			dep.OriginalTxid = ""
			dep.ResolutionStatus = deal.ResolutionPending
		}
		d.RecordDeposit(side, dep)
	}

	// Any previously PENDING/CONFIRMED deposit now absent from the adapter's
	// report (conf == -1 is reported as simply missing from raw) is orphaned.
	state := d.SideState[side]
	for i := range state.Deposits {
		dep := &state.Deposits[i]
		if dep.IsSynthetic {
			continue
		}
		if !seen[dep.Txid] && (dep.Status == deal.DepositPending || dep.Status == deal.DepositConfirmed) {
			dep.Status = deal.DepositOrphaned
		}
	}
	d.SideState[side] = state
}

// syntheticTxid deterministically names a placeholder deposit record so
// repeated synthetic observations of the same balance collapse onto one
// ledger entry instead of accumulating duplicates.
func syntheticTxid(side deal.Side, rd chainadapter.RawDeposit) string {
	return fmt.Sprintf("synthetic:%s:%s:%s", side, rd.AssetCode, rd.Amount.String())
}

// ResolveSynthetic attempts to replace a synthetic deposit's placeholder
// txid with its real originating transaction, advancing the bounded retry
// budget on failure.
func ResolveSynthetic(d *deal.Deal, side deal.Side, placeholderTxid string, realTxid string, resolved bool) {
	state := d.SideState[side]
	for i := range state.Deposits {
		dep := &state.Deposits[i]
		if dep.Txid != placeholderTxid || !dep.IsSynthetic {
			continue
		}
		if dep.FirstAttemptAt.IsZero() {
			dep.FirstAttemptAt = time.Now()
		}
		dep.ResolutionAttempts++

		if resolved {
			dep.Txid = realTxid
			dep.OriginalTxid = realTxid
			dep.IsSynthetic = false
			dep.ResolutionStatus = deal.ResolutionResolved
			break
		}

		if dep.ResolutionAttempts >= len(ResolutionRetrySchedule) {
			dep.ResolutionStatus = deal.ResolutionFailed
		}
		break
	}
	d.SideState[side] = state
}
