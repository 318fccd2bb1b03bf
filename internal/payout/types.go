// Package payout defines PayoutIntent and the per-escrow serialized queue
// that submits and tracks outbound transfers.
package payout

import (
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/shopspring/decimal"
)

// Purpose classifies why a PayoutIntent exists.
type Purpose string

const (
	PurposeSwapPayout      Purpose = "SWAP_PAYOUT"
	PurposeOpCommission    Purpose = "OP_COMMISSION"
	PurposeTimeoutRefund   Purpose = "TIMEOUT_REFUND"
	PurposeSurplusRefund   Purpose = "SURPLUS_REFUND"
	PurposeGasReimbursement Purpose = "GAS_REIMBURSEMENT"
	PurposeGasRefundToTank Purpose = "GAS_REFUND_TO_TANK"
	PurposeBrokerSwap      Purpose = "BROKER_SWAP"
	PurposeBrokerRefund    Purpose = "BROKER_REFUND"
)

// Status is a PayoutIntent's submission lifecycle state.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusSubmitted Status = "SUBMITTED"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// SubmittedTx records what happened once an intent was handed to the chain
// adapter.
type SubmittedTx struct {
	Txid              string    `json:"txid"`
	SubmittedAt       time.Time `json:"submittedAt"`
	Confirms          int       `json:"confirms"`
	RequiredConfirms  int       `json:"requiredConfirms"`
	AdditionalTxids   []string  `json:"additionalTxids,omitempty"`
	// InternalTransfers holds child transfers surfaced by the chain adapter
	// for BROKER_SWAP/BROKER_REFUND intents, once the submission reaches its
	// required confirmations.
	InternalTransfers []chainadapter.InternalTransfer `json:"internalTransfers,omitempty"`
}

// Intent is a single planned outbound transfer from an escrow.
type Intent struct {
	ID            string          `json:"id"`
	DealID        string          `json:"dealId"`
	ChainID       string          `json:"chainId"`
	FromEscrow    string          `json:"fromEscrow"`
	FromKeyRef    string          `json:"fromKeyRef"`
	ToAddress     string          `json:"toAddress"`
	AssetCode     string          `json:"assetCode"`
	Amount        decimal.Decimal `json:"amount"`
	Purpose       Purpose         `json:"purpose"`
	Status        Status          `json:"status"`
	SubmittedTx   *SubmittedTx    `json:"submittedTx,omitempty"`
	PayoutGroupID string          `json:"payoutGroupId,omitempty"`

	// RetryCount and NextRetryAt drive the queue's capped exponential
	// backoff for AdapterTransient submission failures.
	RetryCount  int       `json:"retryCount"`
	NextRetryAt time.Time `json:"nextRetryAt,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// QueueKey identifies the serialization domain an intent belongs to: all
// intents from the same escrow on the same chain are submitted one at a
// time, in intent-id order.
func (i Intent) QueueKey() string { return i.ChainID + "|" + i.FromEscrow }
