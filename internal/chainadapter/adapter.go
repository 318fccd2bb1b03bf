// Package chainadapter defines the capability contract every blockchain
// integration must satisfy. The engine is polymorphic over this interface;
// it holds no chain-specific logic of its own.
package chainadapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ChainAdapter is the unified interface for cross-chain escrow operations.
// All blockchain-specific implementations (UTXO, EVM, Solana, ...) MUST
// implement this interface.
//
// Contract guarantees:
//   - Every method returns a *ChainError for classification when it fails.
//   - Context cancellation is respected.
//   - Implementations are safe for concurrent use by multiple goroutines.
type ChainAdapter interface {
	// ChainID returns the identifier this adapter serves (e.g. "ethereum").
	ChainID() string

	// Capabilities reports confirmation depth and feature flags. The core
	// trusts these values; it does not second-guess adapter-declared
	// confirmation requirements.
	Capabilities() *Capabilities

	// ValidateAddress is pure and side-effect free.
	ValidateAddress(address string) bool

	// GenerateEscrow derives a deposit address and opaque key handle for a
	// given deal side. MUST be deterministic per (dealId, side) and MUST
	// NOT reuse an address across deals.
	GenerateEscrow(ctx context.Context, assetCode, dealID, side string) (*Escrow, error)

	// ListDeposits returns observed credits to escrow since the given
	// cursor (nil for all history). blockHeight 0 means still in the
	// mempool. Implementations may return synthetic entries when balance
	// is observable but the originating transfer is not yet indexed.
	ListDeposits(ctx context.Context, escrow *Escrow, since *time.Time) ([]RawDeposit, error)

	// GetTxConfirmations returns -1 if the transaction can no longer be
	// found (reorg), 0 if it is in the mempool, and >=1 once mined.
	GetTxConfirmations(ctx context.Context, txid string) (int, error)

	// SubmitTransfer sends a signed transfer from escrow funds. It is
	// idempotent over the PayoutIntent id: calling it twice for the same
	// intent id returns the original submission's result instead of
	// double-spending. UTXO chains may return additional txids when a
	// single logical payout requires more than one on-chain transaction.
	SubmitTransfer(ctx context.Context, req *TransferRequest) (*TransferResult, error)

	// QuoteNativeForUSD converts a USD amount into this chain's native
	// asset and records the quote used, so a FIXED_USD_NATIVE commission
	// can be frozen for the life of a deal.
	QuoteNativeForUSD(ctx context.Context, usdAmount decimal.Decimal) (*NativeQuote, error)

	// ApproveBrokerForToken issues a one-time allowance so a broker
	// contract can move ERC20 tokens out of the escrow. EVM-only; non-EVM
	// adapters return an ErrCodeUnsupportedOp error.
	ApproveBrokerForToken(ctx context.Context, escrow *Escrow, tokenAddr string) error

	// GetInternalTransactions returns internal transfers emitted by a
	// broker contract call. EVM broker-call chains only; may return an
	// empty slice until the indexer catches up.
	GetInternalTransactions(ctx context.Context, txid string) ([]InternalTransfer, error)
}

// Escrow is a deposit address generated for one side of a deal, plus an
// opaque handle the adapter uses to recover signing material.
type Escrow struct {
	Address string
	KeyRef  string
}

// RawDeposit is an adapter-observed credit to an escrow address, prior to
// reconciliation into the deal's deposit ledger.
type RawDeposit struct {
	AssetCode     string
	Amount        decimal.Decimal
	Txid          string
	BlockHeight   uint64 // 0 = still in mempool
	Confirmations int
	IsSynthetic   bool
	ObservedAt    time.Time
}

// TransferRequest describes a single outbound escrow transfer.
type TransferRequest struct {
	IntentID  string // idempotency key; same id must never double-submit
	From      *Escrow
	To        string
	AssetCode string
	Amount    decimal.Decimal
}

// TransferResult is the adapter's record of a submitted transfer.
type TransferResult struct {
	Txid            string
	AdditionalTxids []string // UTXO chains may split a payout across txs
	SubmittedAt     time.Time
}

// NativeQuote is a recorded USD->native conversion used to freeze a
// FIXED_USD_NATIVE commission.
type NativeQuote struct {
	NativeAmount decimal.Decimal
	QuotedAt     time.Time
	Source       string // oracle/provider identifier, for audit
	RateUSD      decimal.Decimal
}

// InternalTransfer is a value movement emitted by a broker contract call
// that isn't itself a top-level transaction (EVM internal tx / trace).
type InternalTransfer struct {
	From   string
	To     string
	Amount decimal.Decimal
	Asset  string
}

// Capabilities reports what an adapter supports and the confirmation depth
// the core should require before treating a deposit as final.
type Capabilities struct {
	ChainID          string
	Category         string // "UTXO", "EVM", "Solana"
	SupportsTokens   bool   // ERC20/SPL style typed asset references
	SupportsBrokerTx bool   // approveBrokerForToken / getInternalTransactions
	MinConfirmations int
	// NativeSymbol is the asset code this adapter's ListDeposits uses for
	// the chain's native coin (e.g. "ETH", "BTC", "SOL"). Callers that need
	// to track collection against the native asset, rather than the swap's
	// AssetCode, must key by this value rather than assuming a fixed string.
	NativeSymbol string
}
