// Package deal holds the broker's core data model: the Deal aggregate, its
// per-side state, and the deposit and payout records nested inside it. All
// mutation goes through Deal's own methods so that invariants (lock
// enforcement, monotonic stage progression, append-only events) hold no
// matter which caller — engine, watcher, or RPC server — is driving it.
package deal

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side identifies one of the two parties to a deal.
type Side string

const (
	SideA Side = "A"
	SideB Side = "B"
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == SideA {
		return SideB
	}
	return SideA
}

// Stage is a deal's position in its lifecycle state machine.
type Stage string

const (
	StageCreated   Stage = "CREATED"
	StageCollection Stage = "COLLECTION"
	StageWaiting   Stage = "WAITING"
	StageSwap      Stage = "SWAP"
	StageClosed    Stage = "CLOSED"
	StageReverted  Stage = "REVERTED"
)

// AssetSpec names one side's asset and the amount the trade calls for.
type AssetSpec struct {
	ChainID   string          `json:"chainId"`
	AssetCode string          `json:"assetCode"`
	Amount    decimal.Decimal `json:"amount"`
}

// IsToken reports whether AssetCode names a typed token reference
// (ERC20:<address> or SPL:<address>) rather than a chain-native symbol.
func (a AssetSpec) IsToken() bool {
	return len(a.AssetCode) > 6 && (a.AssetCode[:6] == "ERC20:" || a.AssetCode[:4] == "SPL:")
}

// PartyDetails is the address and contact information a party supplies for
// its side of the deal.
type PartyDetails struct {
	PaybackAddress   string     `json:"paybackAddress"`
	RecipientAddress string     `json:"recipientAddress"`
	Email            string     `json:"email,omitempty"`
	FilledAt         *time.Time `json:"filledAt,omitempty"`
	Locked           bool       `json:"locked"`
}

// Escrow is the broker-generated deposit address for one side, and the
// opaque reference the chain adapter needs to sign from it.
type Escrow struct {
	Address string `json:"address"`
	KeyRef  string `json:"keyRef"`
}

// CommissionMode selects how a side's commission requirement is denominated.
type CommissionMode string

const (
	ModePercentBps     CommissionMode = "PERCENT_BPS"
	ModeFixedUSDNative CommissionMode = "FIXED_USD_NATIVE"
)

// CommissionCurrency selects whether a commission is paid in the swap asset
// or the chain's native asset.
type CommissionCurrency string

const (
	CurrencyAsset  CommissionCurrency = "ASSET"
	CurrencyNative CommissionCurrency = "NATIVE"
)

// CommissionPlan is the frozen commission terms for one side of a deal.
type CommissionPlan struct {
	Mode        CommissionMode     `json:"mode"`
	Currency    CommissionCurrency `json:"currency"`
	PercentBps  int64              `json:"percentBps,omitempty"`
	USDFixed    decimal.Decimal    `json:"usdFixed,omitempty"`
	NativeFixed decimal.Decimal    `json:"nativeFixed,omitempty"`
	// NativeAssetCode is the adapter-reported asset code (e.g. "ETH", "BTC")
	// that NativeFixed is denominated in and that deposits must be tracked
	// under for collection sufficiency. Set whenever Currency is
	// CurrencyNative; never a hardcoded placeholder.
	NativeAssetCode string          `json:"nativeAssetCode,omitempty"`
	OracleQuote     decimal.Decimal `json:"oracleQuote,omitempty"`
	ERC20FixedFee   decimal.Decimal `json:"erc20FixedFee,omitempty"`
	// GasBufferApplies is set at COLLECTION entry when this side's asset is
	// the native coin of an EVM chain, the one case where the escrow itself
	// must pay outbound gas and so needs the buffer folded into collection.
	GasBufferApplies bool `json:"gasBufferApplies,omitempty"`
}

// DepositStatus is a deposit's confirmation lifecycle state.
type DepositStatus string

const (
	DepositUnconfirmed DepositStatus = "UNCONFIRMED"
	DepositPending     DepositStatus = "PENDING"
	DepositConfirmed   DepositStatus = "CONFIRMED"
	DepositOrphaned    DepositStatus = "ORPHANED"
)

// ResolutionStatus tracks a synthetic deposit's progress toward having its
// real originating transaction identified.
type ResolutionStatus string

const (
	ResolutionPending  ResolutionStatus = "pending"
	ResolutionResolved ResolutionStatus = "resolved"
	ResolutionFailed   ResolutionStatus = "failed"
)

// Deposit is an observed credit to an escrow.
type Deposit struct {
	AssetCode        string           `json:"assetCode"`
	Amount           decimal.Decimal  `json:"amount"`
	Txid             string           `json:"txid"`
	BlockHeight      int64            `json:"blockHeight,omitempty"`
	ObservedAt       time.Time        `json:"observedAt"`
	Confirmations    int              `json:"confirmations"`
	MinConfRequired  int              `json:"minConfRequired"`
	Status           DepositStatus    `json:"status"`
	IsSynthetic      bool             `json:"isSynthetic"`
	OriginalTxid     string           `json:"originalTxid,omitempty"`
	ResolutionStatus ResolutionStatus `json:"resolutionStatus,omitempty"`
	// ResolutionAttempts counts synthetic-resolution polls performed so far,
	// compared against the watcher's retry schedule.
	ResolutionAttempts int       `json:"resolutionAttempts,omitempty"`
	FirstAttemptAt     time.Time `json:"firstAttemptAt,omitempty"`
	// AccountedFor marks a deposit already netted into a swap, timeout, or
	// revert payout plan, so the post-closure surveillance poll knows not
	// to treat it as a stray credit.
	AccountedFor bool `json:"accountedFor,omitempty"`
	// ClosureRefundQueued marks a deposit the post-closure surveillance
	// poll has already queued a SURPLUS_REFUND for, so a repeated poll
	// within the 24h surveillance window never refunds it twice.
	ClosureRefundQueued bool `json:"closureRefundQueued,omitempty"`
}

// Locks records when a side's trade and commission amounts became frozen.
type Locks struct {
	TradeLockedAt      *time.Time `json:"tradeLockedAt,omitempty"`
	CommissionLockedAt *time.Time `json:"commissionLockedAt,omitempty"`
}

// SideState is everything the engine tracks about one side's collection
// progress.
type SideState struct {
	Deposits         []Deposit                  `json:"deposits"`
	CollectedByAsset map[string]decimal.Decimal `json:"collectedByAsset"`
	Locks            Locks                      `json:"locks"`
}

// Event is one entry in a deal's append-only audit trail.
type Event struct {
	Seq     int64     `json:"seq"`
	Instant time.Time `json:"instant"`
	Message string    `json:"message"`
}

// GasReimbursementStatus tracks progress of an optional gas-tank refund.
type GasReimbursementStatus string

const (
	GasPendingCalculation GasReimbursementStatus = "PENDING_CALCULATION"
	GasCalculated         GasReimbursementStatus = "CALCULATED"
	GasReimbursed         GasReimbursementStatus = "REIMBURSED"
)

// GasReimbursement describes whether a side's gas-tank subsidy is tracked
// for refund back to the operator.
type GasReimbursement struct {
	Enabled    bool                    `json:"enabled"`
	EscrowSide Side                    `json:"escrowSide"`
	Status     GasReimbursementStatus  `json:"status"`
}

// Deal is the broker's unit of work: a two-sided swap between parties on
// distinct chains.
type Deal struct {
	ID             string                  `json:"id"`
	Name           string                  `json:"name"`
	Spec           map[Side]AssetSpec      `json:"spec"`
	TimeoutSeconds int                     `json:"timeoutSeconds"`
	Stage          Stage                   `json:"stage"`
	ExpiresAt      *time.Time              `json:"expiresAt,omitempty"`
	PartyDetails   map[Side]PartyDetails   `json:"partyDetails"`
	Escrow         map[Side]Escrow         `json:"escrow"`
	CommissionPlan map[Side]CommissionPlan `json:"commissionPlan"`
	SideState      map[Side]SideState      `json:"sideState"`
	Events         []Event                 `json:"events"`
	GasReimbursement *GasReimbursement     `json:"gasReimbursement,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Version is incremented on every persisted mutation and used for
	// optimistic concurrency in the store.
	Version int64 `json:"version"`
}

// NewDeal constructs a fresh deal in CREATED stage with empty per-side state.
func NewDeal(id, name string, sideA, sideB AssetSpec, timeoutSeconds int) *Deal {
	now := time.Now()
	d := &Deal{
		ID:             id,
		Name:           name,
		Spec:           map[Side]AssetSpec{SideA: sideA, SideB: sideB},
		TimeoutSeconds: timeoutSeconds,
		Stage:          StageCreated,
		PartyDetails:   map[Side]PartyDetails{},
		Escrow:         map[Side]Escrow{},
		CommissionPlan: map[Side]CommissionPlan{},
		SideState: map[Side]SideState{
			SideA: {CollectedByAsset: map[string]decimal.Decimal{}},
			SideB: {CollectedByAsset: map[string]decimal.Decimal{}},
		},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	return d
}

// AddEvent appends a message to the deal's ordered event log. Seq is derived
// from the current log length so it survives a reload from persisted state
// without needing its own stored counter.
func (d *Deal) AddEvent(message string) {
	d.Events = append(d.Events, Event{Seq: int64(len(d.Events)) + 1, Instant: time.Now(), Message: message})
	d.touch()
}

func (d *Deal) touch() {
	d.UpdatedAt = time.Now()
	d.Version++
}

// BothPartiesLocked reports whether both sides have submitted and locked
// their party details, the precondition for CREATED -> COLLECTION.
func (d *Deal) BothPartiesLocked() bool {
	a, okA := d.PartyDetails[SideA]
	b, okB := d.PartyDetails[SideB]
	return okA && okB && a.Locked && b.Locked
}
