package payout

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/dealerr"
)

// BackoffSchedule is the capped exponential backoff applied to
// AdapterTransient submission failures, per escrow queue key.
var BackoffSchedule = []time.Duration{
	5 * time.Second,
	15 * time.Second,
	45 * time.Second,
	2 * time.Minute,
	5 * time.Minute,
}

// MaxBackoff is the ceiling retained once the schedule is exhausted.
const MaxBackoff = 15 * time.Minute

func backoffFor(retryCount int) time.Duration {
	if retryCount <= 0 {
		return BackoffSchedule[0]
	}
	if retryCount-1 < len(BackoffSchedule) {
		return BackoffSchedule[retryCount-1]
	}
	return MaxBackoff
}

// Store is the minimal persistence contract the queue needs for intents.
type Store interface {
	Save(i *Intent) error
	Get(id string) (*Intent, error)
	ListByQueueKey(queueKey string) ([]*Intent, error)
}

// AdapterResolver returns the chain adapter responsible for an intent's
// chain. It lets the queue stay independent of the adapter registry's
// concrete type.
type AdapterResolver func(ctx context.Context, chainID string) (chainadapter.ChainAdapter, error)

// Queue serializes submission of PayoutIntents per (chainId, fromEscrow),
// enforcing at most one SUBMITTED intent per escrow at a time.
type Queue struct {
	store    Store
	resolve  AdapterResolver
	mu       sync.Mutex
	inFlight map[string]bool // queueKey -> a submitter goroutine currently owns it
}

func NewQueue(store Store, resolve AdapterResolver) *Queue {
	return &Queue{store: store, resolve: resolve, inFlight: make(map[string]bool)}
}

// Enqueue persists a new intent in PENDING state before any submission is
// attempted, satisfying the "persisted before any submission attempt"
// invariant.
func (q *Queue) Enqueue(i *Intent) error {
	if i.Status == "" {
		i.Status = StatusPending
	}
	now := time.Now()
	i.CreatedAt, i.UpdatedAt = now, now
	return q.store.Save(i)
}

// ProcessQueueKey drives every PENDING/retry-ready intent for one
// (chainId, fromEscrow) queue key to completion or failure, one at a time
// and in intent-id order. It returns immediately if another goroutine is
// already draining this key.
func (q *Queue) ProcessQueueKey(ctx context.Context, queueKey string) error {
	q.mu.Lock()
	if q.inFlight[queueKey] {
		q.mu.Unlock()
		return nil
	}
	q.inFlight[queueKey] = true
	q.mu.Unlock()
	defer func() {
		q.mu.Lock()
		delete(q.inFlight, queueKey)
		q.mu.Unlock()
	}()

	intents, err := q.store.ListByQueueKey(queueKey)
	if err != nil {
		return err
	}
	sort.Slice(intents, func(i, j int) bool { return intents[i].ID < intents[j].ID })

	for _, intent := range intents {
		if err := q.drive(ctx, intent); err != nil {
			return err
		}
		if intent.Status == StatusSubmitted {
			// Later intents wait until this one completes or fails
			break
		}
	}
	return nil
}

// drive advances a single intent: submits if PENDING/retry-ready, polls
// confirmations if SUBMITTED, and leaves it untouched otherwise.
func (q *Queue) drive(ctx context.Context, intent *Intent) error {
	switch intent.Status {
	case StatusCompleted, StatusFailed:
		return nil
	case StatusPending:
		if !intent.NextRetryAt.IsZero() && time.Now().Before(intent.NextRetryAt) {
			return nil
		}
		return q.submit(ctx, intent)
	case StatusSubmitted:
		return q.pollConfirmations(ctx, intent)
	}
	return nil
}

func (q *Queue) submit(ctx context.Context, intent *Intent) error {
	adapter, err := q.resolve(ctx, intent.ChainID)
	if err != nil {
		return err
	}

	result, err := adapter.SubmitTransfer(ctx, &chainadapter.TransferRequest{
		IntentID:  intent.ID,
		From:      &chainadapter.Escrow{Address: intent.FromEscrow, KeyRef: intent.FromKeyRef},
		To:        intent.ToAddress,
		AssetCode: intent.AssetCode,
		Amount:    intent.Amount,
	})
	if err != nil {
		de := dealerr.FromChainError(err)
		if de.Code.Retryable() {
			intent.RetryCount++
			intent.NextRetryAt = time.Now().Add(backoffFor(intent.RetryCount))
			intent.UpdatedAt = time.Now()
			return q.store.Save(intent)
		}
		intent.Status = StatusFailed
		intent.UpdatedAt = time.Now()
		return q.store.Save(intent)
	}

	intent.Status = StatusSubmitted
	intent.SubmittedTx = &SubmittedTx{
		Txid:             result.Txid,
		SubmittedAt:      result.SubmittedAt,
		AdditionalTxids:  result.AdditionalTxids,
		RequiredConfirms: adapter.Capabilities().MinConfirmations,
	}
	intent.UpdatedAt = time.Now()
	return q.store.Save(intent)
}

func (q *Queue) pollConfirmations(ctx context.Context, intent *Intent) error {
	adapter, err := q.resolve(ctx, intent.ChainID)
	if err != nil {
		return err
	}
	confs, err := adapter.GetTxConfirmations(ctx, intent.SubmittedTx.Txid)
	if err != nil {
		// Transient polling failures don't move the intent; it is retried
		// on the next drive pass.
		return nil
	}
	intent.SubmittedTx.Confirms = confs
	intent.UpdatedAt = time.Now()

	if confs >= intent.SubmittedTx.RequiredConfirms {
		intent.Status = StatusCompleted
		if intent.Purpose == PurposeBrokerSwap || intent.Purpose == PurposeBrokerRefund {
			// Best-effort enrichment; failure never blocks COMPLETED.
			if internal, err := adapter.GetInternalTransactions(ctx, intent.SubmittedTx.Txid); err == nil {
				intent.SubmittedTx.InternalTransfers = internal
			}
		}
	}
	return q.store.Save(intent)
}
