// Package engine drives every deal through its state machine: transitions,
// timeout handling, reorg rollback, and payout planning. All mutation goes
// through Deal's own methods; Engine's job is to sequence calls to those
// methods and the chain adapters around the deal's lock without ever
// holding that lock across a network call.
package engine

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/commission"
	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/payout"
	"github.com/otcswap/broker/internal/store"
)

// DefaultSwapGracePeriod is how long both sides must remain fully collected
// in WAITING before advancing to SWAP, long enough to absorb one more
// confirmation-poll cycle in case a deposit is still settling. Configurable
// via SWAP_GRACE_PERIOD_SECONDS.
var DefaultSwapGracePeriod = 30 * time.Second

// AdapterResolver returns the chain adapter responsible for chainID. Both
// adapterregistry.Service and test stubs satisfy it.
type AdapterResolver interface {
	GetAdapter(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error)
}

// Engine coordinates every deal's transitions. One Engine instance serves
// the whole broker; per-deal serialization is provided by per-ID mutexes
// held only for the duration of a single transition.
type Engine struct {
	deals        store.DealStore
	adapters     AdapterResolver
	planner      *commission.Planner
	queue        *payout.Queue
	operatorAddr payout.OperatorAddress
	GracePeriod  time.Duration

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// waitingSince tracks when a deal most recently became fully sufficient
	// in WAITING, so the grace period can be evaluated without a persisted
	// deal field for it. Lost on restart, meaning a deal mid-grace-period at
	// crash time simply restarts its grace period the first time
	// CheckGracePeriod runs for it — harmless since the period only delays,
	// never skips, SWAP.
	waitingMu    sync.Mutex
	waitingSince map[string]time.Time
}

func New(deals store.DealStore, adapters AdapterResolver, planner *commission.Planner, queue *payout.Queue, operatorAddr payout.OperatorAddress) *Engine {
	return &Engine{
		deals: deals, adapters: adapters, planner: planner, queue: queue, operatorAddr: operatorAddr,
		GracePeriod:  DefaultSwapGracePeriod,
		locks:        make(map[string]*sync.Mutex),
		waitingSince: make(map[string]time.Time),
	}
}

func (e *Engine) lockFor(dealID string) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	m, ok := e.locks[dealID]
	if !ok {
		m = &sync.Mutex{}
		e.locks[dealID] = m
	}
	return m
}

// WithDeal loads dealID, holds its lock while fn runs, and saves the result
// if fn did not return an error. fn must be pure bookkeeping over the Deal
// in memory — no network calls inside the lock.
func (e *Engine) WithDeal(dealID string, fn func(d *deal.Deal) error) error {
	mu := e.lockFor(dealID)
	mu.Lock()
	defer mu.Unlock()

	d, err := e.deals.Get(dealID)
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	return e.deals.Save(d)
}

func requiredByAssetFor(d *deal.Deal, side deal.Side) deal.RequiredByAsset {
	spec := d.Spec[side]
	plan := d.CommissionPlan[side]
	return commission.RequiredByAsset(spec, plan, plan.GasBufferApplies)
}

// EnterCollection runs CREATED -> COLLECTION: generates escrows via chain
// adapters and freezes any FIXED_USD_NATIVE commissions. All adapter calls
// happen before the deal lock is taken; the lock is reacquired only to
// apply the results, so a slow adapter never blocks other operations on
// this deal. Concurrent callers racing this method will redundantly
// generate escrows, but GenerateEscrow is required to be deterministic per
// (dealId, side), and only the first EnterCollection to reacquire the lock
// actually advances the stage — the rest observe StageCreated no longer
// holds and return nil.
func (e *Engine) EnterCollection(ctx context.Context, dealID string) error {
	d, err := e.deals.Get(dealID)
	if err != nil {
		return err
	}
	if d.Stage != deal.StageCreated || !d.BothPartiesLocked() {
		return nil
	}

	escrows := map[deal.Side]*chainadapter.Escrow{}
	plans := map[deal.Side]deal.CommissionPlan{}
	for _, side := range []deal.Side{deal.SideA, deal.SideB} {
		spec := d.Spec[side]
		adapter, err := e.adapters.GetAdapter(ctx, spec.ChainID)
		if err != nil {
			return err
		}
		escrow, err := adapter.GenerateEscrow(ctx, spec.AssetCode, dealID, string(side))
		if err != nil {
			return err
		}
		escrows[side] = escrow

		plan, err := e.planner.Plan(ctx, adapter, spec, e.planner.FixedUSDAmount)
		if err != nil {
			return err
		}
		caps := adapter.Capabilities()
		plan.GasBufferApplies = !spec.IsToken() && caps.Category == "EVM"
		plans[side] = plan

		if spec.IsToken() && caps.SupportsBrokerTx {
			if err := adapter.ApproveBrokerForToken(ctx, escrow, tokenAddressOf(spec.AssetCode)); err != nil {
				log.Printf("engine: broker approval failed for deal=%s side=%s: %v", dealID, side, err)
			}
		}
	}

	return e.WithDeal(dealID, func(d *deal.Deal) error {
		if d.Stage != deal.StageCreated {
			return nil
		}
		for _, side := range []deal.Side{deal.SideA, deal.SideB} {
			d.Escrow[side] = deal.Escrow{Address: escrows[side].Address, KeyRef: escrows[side].KeyRef}
			d.CommissionPlan[side] = plans[side]
		}
		return d.EnterCollection(time.Now())
	})
}

// tokenAddressOf extracts the contract address portion of a typed asset
// code such as "ERC20:0xabc...".
func tokenAddressOf(assetCode string) string {
	for i := 0; i < len(assetCode); i++ {
		if assetCode[i] == ':' {
			return assetCode[i+1:]
		}
	}
	return assetCode
}

// CheckSufficiency evaluates COLLECTION -> WAITING and the COLLECTION ->
// REVERTED timeout guard. Call this after every deposit reconciliation.
func (e *Engine) CheckSufficiency(dealID string) error {
	return e.WithDeal(dealID, func(d *deal.Deal) error {
		if d.Stage != deal.StageCollection {
			return nil
		}
		requiredA := requiredByAssetFor(d, deal.SideA)
		requiredB := requiredByAssetFor(d, deal.SideB)

		if d.IsSufficient(deal.SideA, requiredA) && d.IsSufficient(deal.SideB, requiredB) {
			if err := d.EnterWaiting(requiredA, requiredB); err != nil {
				return err
			}
			e.waitingMu.Lock()
			e.waitingSince[dealID] = time.Now()
			e.waitingMu.Unlock()
			return nil
		}

		if d.ExpiresAt != nil && time.Now().After(*d.ExpiresAt) {
			return e.revertWithTimeoutRefunds(d)
		}
		return nil
	})
}

func (e *Engine) revertWithTimeoutRefunds(d *deal.Deal) error {
	for _, side := range []deal.Side{deal.SideA, deal.SideB} {
		intent, err := payout.PlanTimeoutRefund(d, side)
		if err != nil {
			return err
		}
		if intent != nil {
			if err := e.queue.Enqueue(intent); err != nil {
				return err
			}
		}
	}
	return d.Revert("collection window expired without sufficiency")
}

// CheckReorg evaluates the WAITING -> COLLECTION rollback after a watcher
// orphans a deposit that drops a side below sufficiency.
func (e *Engine) CheckReorg(dealID string) error {
	return e.WithDeal(dealID, func(d *deal.Deal) error {
		if d.Stage != deal.StageWaiting {
			return nil
		}
		requiredA := requiredByAssetFor(d, deal.SideA)
		requiredB := requiredByAssetFor(d, deal.SideB)

		if !d.IsSufficient(deal.SideA, requiredA) {
			e.clearWaitingSince(dealID)
			return d.RollbackToCollection(deal.SideA)
		}
		if !d.IsSufficient(deal.SideB, requiredB) {
			e.clearWaitingSince(dealID)
			return d.RollbackToCollection(deal.SideB)
		}
		return nil
	})
}

func (e *Engine) clearWaitingSince(dealID string) {
	e.waitingMu.Lock()
	delete(e.waitingSince, dealID)
	e.waitingMu.Unlock()
}

// CheckGracePeriod evaluates WAITING -> SWAP once GracePeriod has elapsed
// since the deal most recently became sufficient, emitting each side's
// payout intents onto the queue.
func (e *Engine) CheckGracePeriod(dealID string) error {
	e.waitingMu.Lock()
	since, ok := e.waitingSince[dealID]
	if !ok {
		// No start time recorded (e.g. after a restart): start the grace period now
		e.waitingSince[dealID] = time.Now()
	}
	e.waitingMu.Unlock()
	if !ok || time.Since(since) < e.GracePeriod {
		return nil
	}

	var intents []*payout.Intent
	err := e.WithDeal(dealID, func(d *deal.Deal) error {
		if d.Stage != deal.StageWaiting {
			return nil
		}
		if err := d.EnterSwap(); err != nil {
			return err
		}
		for _, side := range []deal.Side{deal.SideA, deal.SideB} {
			sideIntents, err := payout.PlanSwap(d, side, e.operatorAddr)
			if err != nil {
				return err
			}
			intents = append(intents, sideIntents...)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.clearWaitingSince(dealID)

	for _, intent := range intents {
		if intent.Amount.Sign() == 0 && intent.Purpose == payout.PurposeGasReimbursement {
			// Gas reimbursement amount is filled in by the gas tank
			// coordinator once it knows the residual; skip enqueuing a
			// zero-amount placeholder here.
			continue
		}
		if err := e.queue.Enqueue(intent); err != nil {
			return err
		}
	}
	return nil
}

// CheckSwapCompletion evaluates SWAP -> CLOSED once every SWAP_PAYOUT and
// OP_COMMISSION intent belonging to dealID has COMPLETED. The caller
// supplies the deal's current intents (e.g. from the payout store) since
// Engine does not itself track intent ownership.
func (e *Engine) CheckSwapCompletion(dealID string, intents []*payout.Intent) error {
	for _, i := range intents {
		if i.Purpose != payout.PurposeSwapPayout && i.Purpose != payout.PurposeOpCommission {
			continue
		}
		if i.Status != payout.StatusCompleted {
			return nil
		}
	}
	return e.WithDeal(dealID, func(d *deal.Deal) error {
		if d.Stage != deal.StageSwap {
			return nil
		}
		return d.Close()
	})
}

// CheckSwapFailure reverts a SWAP-stage deal when one of its payout intents
// has permanently FAILED — the only path by which a deal leaves SWAP
// without closing, since SWAP deals never revert on wall-clock timeout.
func (e *Engine) CheckSwapFailure(dealID string, intents []*payout.Intent) error {
	failed := false
	for _, i := range intents {
		if (i.Purpose == payout.PurposeSwapPayout || i.Purpose == payout.PurposeOpCommission) && i.Status == payout.StatusFailed {
			failed = true
		}
	}
	if !failed {
		return nil
	}
	return e.WithDeal(dealID, func(d *deal.Deal) error {
		if d.Stage != deal.StageSwap {
			return nil
		}
		return d.Revert("a payout intent permanently failed during settlement")
	})
}
