package rpcserver

import (
	"encoding/json"
	"time"

	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/payout"
)

// rpcRequest is a JSON-RPC 2.0 request envelope.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcResponse is a JSON-RPC 2.0 response envelope. Result and Error are
// mutually exclusive.
type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// rpcError follows JSON-RPC 2.0's error object shape. Every domain error the
// broker produces is surfaced under the single reserved server-error code
// -32603, with the broker's own dealerr.Code carried in Data for clients
// that want to branch on it.
type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

const internalErrorCode = -32603
const parseErrorCode = -32700
const methodNotFoundCode = -32601

// AssetSpecParam mirrors deal.AssetSpec for JSON request bodies, keeping the
// wire format decoupled from the internal struct's field tags.
type AssetSpecParam struct {
	ChainID   string  `json:"chainId"`
	AssetCode string  `json:"assetCode"`
	Amount    string  `json:"amount"`
}

// createDealParams is otc.createDeal's request body.
type createDealParams struct {
	Name           string         `json:"name"`
	SideA          AssetSpecParam `json:"sideA"`
	SideB          AssetSpecParam `json:"sideB"`
	TimeoutSeconds int            `json:"timeoutSeconds"`
}

type createDealResult struct {
	DealID   string `json:"dealId"`
	DealName string `json:"dealName"`
	LinkA    string `json:"linkA"`
	LinkB    string `json:"linkB"`
}

type fillPartyDetailsParams struct {
	DealID           string `json:"dealId"`
	Party            string `json:"party"`
	PaybackAddress   string `json:"paybackAddress"`
	RecipientAddress string `json:"recipientAddress"`
	Email            string `json:"email"`
	Token            string `json:"token"`
}

type okResult struct {
	OK bool `json:"ok"`
}

type statusParams struct {
	DealID string `json:"dealId"`
}

type cancelDealParams struct {
	DealID string `json:"dealId"`
	Token  string `json:"token"`
}

type sendInviteParams struct {
	DealID string `json:"dealId"`
	Party  string `json:"party"`
	Email  string `json:"email"`
	Link   string `json:"link"`
}

type sendInviteResult struct {
	Sent  bool   `json:"sent"`
	Email string `json:"email"`
}

type setPriceParams struct {
	ChainID string `json:"chainId"`
	Pair    string `json:"pair"`
	Price   string `json:"price"`
}

type setPriceResult struct {
	OK   bool      `json:"ok"`
	AsOf time.Time `json:"asOf"`
}

type getChainConfigParams struct {
	ChainID string `json:"chainId"`
}

// ChainConfigEntry is one chain's client-facing endpoint hint.
type ChainConfigEntry struct {
	ChainID      string `json:"chainId"`
	NativeSymbol string `json:"nativeSymbol"`
	Category     string `json:"category"`
}

// instruction is one line of a side's deposit instructions in the status
// projection: what asset, how much, and where to send it.
type instruction struct {
	AssetCode string `json:"assetCode"`
	Amount    string `json:"amount"`
	To        string `json:"to"`
}

// collectionView reports one side's deposit ledger in the status projection.
type collectionView struct {
	Deposits         []deal.Deposit             `json:"deposits"`
	CollectedByAsset map[string]string          `json:"collectedByAsset"`
}

// statusProjection is otc.status's full result object.
type statusProjection struct {
	Stage          deal.Stage                  `json:"stage"`
	TimeoutSeconds int                         `json:"timeoutSeconds"`
	ExpiresAt      *time.Time                  `json:"expiresAt,omitempty"`
	Instructions   map[deal.Side][]instruction `json:"instructions"`
	Collection     map[deal.Side]collectionView `json:"collection"`
	Events         []deal.Event                `json:"events"`
	PartyDetails   map[deal.Side]deal.PartyDetails `json:"partyDetails"`
	Spec           map[deal.Side]deal.AssetSpec    `json:"spec"`
	CommissionPlan map[deal.Side]deal.CommissionPlan `json:"commissionPlan"`
	Escrow         map[deal.Side]deal.Escrow      `json:"escrow"`
	Transactions   []*payout.SubmittedTx          `json:"transactions"`
	Payouts        []*payout.Intent               `json:"payouts"`
	RPCEndpoints   map[string]string               `json:"rpcEndpoints"`
}
