// Package solana implements the chain adapter contract for Solana.
package solana

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/rpc"
)

// RPCHelper wraps the generic JSON-RPC client with Solana's method set.
// Solana's RPC surface is JSON-RPC 2.0 like Ethereum's, so the same
// transport abstraction serves both; only the method names and result
// shapes differ.
type RPCHelper struct {
	client rpc.RPCClient
}

func NewRPCHelper(client rpc.RPCClient) *RPCHelper {
	return &RPCHelper{client: client}
}

type balanceResult struct {
	Value uint64 `json:"value"`
}

// GetBalance returns an address's lamport balance.
func (r *RPCHelper) GetBalance(ctx context.Context, address string) (uint64, error) {
	result, err := r.client.Call(ctx, "getBalance", []interface{}{address})
	if err != nil {
		return 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, fmt.Sprintf("getBalance RPC failed: %s", err.Error()), nil, err)
	}
	var parsed balanceResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getBalance result", err)
	}
	return parsed.Value, nil
}

type blockhashValue struct {
	Blockhash            string `json:"blockhash"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

type blockhashResult struct {
	Value blockhashValue `json:"value"`
}

// GetLatestBlockhash returns the blockhash a new transaction must reference.
func (r *RPCHelper) GetLatestBlockhash(ctx context.Context) (string, uint64, error) {
	result, err := r.client.Call(ctx, "getLatestBlockhash", []interface{}{})
	if err != nil {
		return "", 0, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, fmt.Sprintf("getLatestBlockhash RPC failed: %s", err.Error()), nil, err)
	}
	var parsed blockhashResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return "", 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getLatestBlockhash result", err)
	}
	return parsed.Value.Blockhash, parsed.Value.LastValidBlockHeight, nil
}

// SendTransaction broadcasts a base64-encoded signed transaction and
// returns its signature (Solana's transaction identifier).
func (r *RPCHelper) SendTransaction(ctx context.Context, base64Tx string) (string, error) {
	result, err := r.client.Call(ctx, "sendTransaction", []interface{}{
		base64Tx,
		map[string]interface{}{"encoding": "base64"},
	})
	if err != nil {
		return "", chainadapter.NewRetryableError("ERR_BROADCAST_FAILED", fmt.Sprintf("sendTransaction RPC failed: %s", err.Error()), nil, err)
	}
	var signature string
	if err := json.Unmarshal(result, &signature); err != nil {
		return "", chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse sendTransaction result", err)
	}
	return signature, nil
}

// SignatureStatus is one entry of getSignatureStatuses' value array; a nil
// entry means the node has no record of that signature.
type SignatureStatus struct {
	Slot               uint64          `json:"slot"`
	Confirmations      *uint64         `json:"confirmations"`
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err"`
}

type signatureStatusesResult struct {
	Value []*SignatureStatus `json:"value"`
}

// GetSignatureStatus looks up one transaction signature's confirmation
// state, searching beyond the node's recent-status cache.
func (r *RPCHelper) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	result, err := r.client.Call(ctx, "getSignatureStatuses", []interface{}{
		[]string{signature},
		map[string]interface{}{"searchTransactionHistory": true},
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, fmt.Sprintf("getSignatureStatuses RPC failed: %s", err.Error()), nil, err)
	}
	var parsed signatureStatusesResult
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getSignatureStatuses result", err)
	}
	if len(parsed.Value) == 0 {
		return nil, nil
	}
	return parsed.Value[0], nil
}

type signatureInfo struct {
	Signature string          `json:"signature"`
	Slot      uint64          `json:"slot"`
	Err       json.RawMessage `json:"err"`
	BlockTime *int64          `json:"blockTime"`
}

// GetSignaturesForAddress lists recent signatures touching an address,
// newest first, the closest Solana analogue to a deposit scan.
func (r *RPCHelper) GetSignaturesForAddress(ctx context.Context, address string, limit int) ([]signatureInfo, error) {
	result, err := r.client.Call(ctx, "getSignaturesForAddress", []interface{}{
		address,
		map[string]interface{}{"limit": limit},
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(chainadapter.ErrCodeRPCUnavailable, fmt.Sprintf("getSignaturesForAddress RPC failed: %s", err.Error()), nil, err)
	}
	var parsed []signatureInfo
	if err := json.Unmarshal(result, &parsed); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse getSignaturesForAddress result", err)
	}
	return parsed, nil
}
