// Package ethereum - RPC helper functions for Ethereum adapter
package ethereum

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/otcswap/broker/internal/chainadapter/rpc"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// RPCHelper provides helper functions for Ethereum RPC operations
type RPCHelper struct {
	client rpc.RPCClient
}

// NewRPCHelper creates a new Ethereum RPC helper
func NewRPCHelper(client rpc.RPCClient) *RPCHelper {
	return &RPCHelper{
		client: client,
	}
}

// GetTransactionCount retrieves the nonce for an address
func (r *RPCHelper) GetTransactionCount(ctx context.Context, address string) (uint64, error) {
	// Call eth_getTransactionCount with "pending" to get the next nonce
	result, err := r.client.Call(ctx, "eth_getTransactionCount", []interface{}{
		address,
		"pending",
	})
	if err != nil {
		return 0, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getTransactionCount RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	// Parse hex result
	var nonceHex string
	if err := json.Unmarshal(result, &nonceHex); err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse nonce: %s", err.Error()),
			err,
		)
	}

	// Convert hex to uint64
	nonce, err := hexutil.DecodeUint64(nonceHex)
	if err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to decode nonce hex: %s", err.Error()),
			err,
		)
	}

	return nonce, nil
}

// EstimateGas estimates gas for a transaction
func (r *RPCHelper) EstimateGas(ctx context.Context, from, to string, value *big.Int, data []byte) (uint64, error) {
	// Build transaction object for gas estimation
	txObj := map[string]interface{}{
		"from": from,
		"to":   to,
	}

	if value != nil && value.Cmp(big.NewInt(0)) > 0 {
		txObj["value"] = hexutil.EncodeBig(value)
	}

	if len(data) > 0 {
		txObj["data"] = hexutil.Encode(data)
	}

	// Call eth_estimateGas
	result, err := r.client.Call(ctx, "eth_estimateGas", []interface{}{txObj})
	if err != nil {
		return 0, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_estimateGas RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	// Parse hex result
	var gasHex string
	if err := json.Unmarshal(result, &gasHex); err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to parse gas estimate: %s", err.Error()),
			err,
		)
	}

	// Convert hex to uint64
	gas, err := hexutil.DecodeUint64(gasHex)
	if err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			fmt.Sprintf("failed to decode gas hex: %s", err.Error()),
			err,
		)
	}

	return gas, nil
}

// GetBaseFee retrieves the current base fee from the latest block (EIP-1559)
func (r *RPCHelper) GetBaseFee(ctx context.Context) (*big.Int, error) {
	// Call eth_getBlockByNumber with "latest"
	result, err := r.client.Call(ctx, "eth_getBlockByNumber", []interface{}{
		"latest",
		false, // Don't include full transactions
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			"eth_getBlockByNumber RPC failed",
			nil,
			err,
		)
	}

	// Parse block result
	var block struct {
		BaseFeePerGas string `json:"baseFeePerGas"`
	}

	if err := json.Unmarshal(result, &block); err != nil {
		return nil, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to parse block",
			err,
		)
	}

	// Decode base fee
	if block.BaseFeePerGas == "" {
		// Pre-London fork, no base fee
		return big.NewInt(0), nil
	}

	baseFee, err := hexutil.DecodeBig(block.BaseFeePerGas)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to decode base fee",
			err,
		)
	}

	return baseFee, nil
}

// GetFeeHistory retrieves historical fee data for priority fee estimation
func (r *RPCHelper) GetFeeHistory(ctx context.Context, blockCount int) (*big.Int, error) {
	// Call eth_feeHistory
	result, err := r.client.Call(ctx, "eth_feeHistory", []interface{}{
		hexutil.EncodeUint64(uint64(blockCount)),
		"latest",
		[]int{50}, // 50th percentile (median)
	})
	if err != nil {
		return nil, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			"eth_feeHistory RPC failed",
			nil,
			err,
		)
	}

	// Parse fee history
	var feeHistory struct {
		Reward [][]string `json:"reward"`
	}

	if err := json.Unmarshal(result, &feeHistory); err != nil {
		return nil, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to parse fee history",
			err,
		)
	}

	if len(feeHistory.Reward) == 0 {
		// No data, return default 2 Gwei
		return big.NewInt(2e9), nil
	}

	// Average the per-block reward samples of recent blocks
	var sum *big.Int = big.NewInt(0)
	count := 0

	for _, rewards := range feeHistory.Reward {
		if len(rewards) > 0 {
			priorityFee, err := hexutil.DecodeBig(rewards[0])
			if err == nil {
				sum.Add(sum, priorityFee)
				count++
			}
		}
	}

	if count == 0 {
		return big.NewInt(2e9), nil // Default 2 Gwei
	}

	avgPriorityFee := new(big.Int).Div(sum, big.NewInt(int64(count)))
	return avgPriorityFee, nil
}

// GetBalance retrieves the native balance of an address, in wei.
func (r *RPCHelper) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	result, err := r.client.Call(ctx, "eth_getBalance", []interface{}{address, "latest"})
	if err != nil {
		return nil, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getBalance RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse balance", err)
	}

	balance, err := hexutil.DecodeBig(balanceHex)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode balance hex", err)
	}
	return balance, nil
}

// balanceOfSelector is the 4-byte selector for ERC20's balanceOf(address).
const balanceOfSelector = "0x70a08231"

// GetERC20Balance calls balanceOf(address) on tokenAddr via eth_call.
func (r *RPCHelper) GetERC20Balance(ctx context.Context, tokenAddr, address string) (*big.Int, error) {
	data := balanceOfSelector + padAddressTopic(address)[2:]
	call := map[string]interface{}{"to": tokenAddr, "data": data}

	result, err := r.client.Call(ctx, "eth_call", []interface{}{call, "latest"})
	if err != nil {
		return nil, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_call balanceOf failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var balanceHex string
	if err := json.Unmarshal(result, &balanceHex); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse erc20 balance", err)
	}
	balance, err := hexutil.DecodeBig(balanceHex)
	if err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode erc20 balance hex", err)
	}
	return balance, nil
}

// decimalsSelector is the 4-byte selector for ERC20's decimals().
const decimalsSelector = "0x313ce567"

// GetERC20Decimals calls decimals() on tokenAddr via eth_call.
func (r *RPCHelper) GetERC20Decimals(ctx context.Context, tokenAddr string) (int32, error) {
	call := map[string]interface{}{"to": tokenAddr, "data": decimalsSelector}

	result, err := r.client.Call(ctx, "eth_call", []interface{}{call, "latest"})
	if err != nil {
		return 0, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_call decimals failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var hex string
	if err := json.Unmarshal(result, &hex); err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse decimals", err)
	}
	n, err := hexutil.DecodeBig(hex)
	if err != nil {
		return 0, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to decode decimals hex", err)
	}
	return int32(n.Int64()), nil
}

// GetTransactionByHash returns nil, nil if the transaction is not found.
func (r *RPCHelper) GetTransactionByHash(ctx context.Context, txHash string) (json.RawMessage, error) {
	result, err := r.client.Call(ctx, "eth_getTransactionByHash", []interface{}{txHash})
	if err != nil {
		return nil, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getTransactionByHash RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}
	if string(result) == "null" {
		return nil, nil
	}
	return result, nil
}

// TxReceipt is the subset of an eth_getTransactionReceipt response used for
// confirmation tracking.
type TxReceipt struct {
	Status      string `json:"status"`
	BlockNumber string `json:"blockNumber"`
	BlockHash   string `json:"blockHash"`
}

// GetTransactionReceipt returns nil, nil if the receipt isn't available yet.
func (r *RPCHelper) GetTransactionReceipt(ctx context.Context, txHash string) (*TxReceipt, error) {
	result, err := r.client.Call(ctx, "eth_getTransactionReceipt", []interface{}{txHash})
	if err != nil {
		return nil, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getTransactionReceipt RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}
	if string(result) == "null" {
		return nil, nil
	}

	var receipt TxReceipt
	if err := json.Unmarshal(result, &receipt); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse receipt", err)
	}
	return &receipt, nil
}

// SendRawTransaction broadcasts a signed, RLP-encoded transaction.
func (r *RPCHelper) SendRawTransaction(ctx context.Context, rawTxHex string) (string, error) {
	result, err := r.client.Call(ctx, "eth_sendRawTransaction", []interface{}{rawTxHex})
	if err != nil {
		return "", chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_sendRawTransaction RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var txHash string
	if err := json.Unmarshal(result, &txHash); err != nil {
		return "", chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse tx hash", err)
	}
	return txHash, nil
}

// LogEntry is one eth_getLogs result row.
type LogEntry struct {
	Address     string   `json:"address"`
	Topics      []string `json:"topics"`
	Data        string   `json:"data"`
	BlockNumber string   `json:"blockNumber"`
	TxHash      string   `json:"transactionHash"`
}

// GetLogs queries ERC20 Transfer events (or any topic-filtered log) emitted
// to the given contract address since fromBlock.
func (r *RPCHelper) GetLogs(ctx context.Context, contractAddr string, topics []string, fromBlock uint64) ([]LogEntry, error) {
	filter := map[string]interface{}{
		"address":   contractAddr,
		"topics":    topics,
		"fromBlock": hexutil.EncodeUint64(fromBlock),
		"toBlock":   "latest",
	}

	result, err := r.client.Call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		return nil, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			fmt.Sprintf("eth_getLogs RPC failed: %s", err.Error()),
			nil,
			err,
		)
	}

	var logs []LogEntry
	if err := json.Unmarshal(result, &logs); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse logs", err)
	}
	return logs, nil
}

// CallTrace is one trace_transaction result entry, the subset needed to
// surface child transfers moved by a broker contract call.
type CallTrace struct {
	Type   string `json:"type"`
	Action struct {
		From  string `json:"from"`
		To    string `json:"to"`
		Value string `json:"value"`
	} `json:"action"`
}

// GetCallTraces returns txHash's call traces via trace_transaction. Many
// providers don't expose the trace API; that failure is reported as
// nil, nil rather than an error so callers can treat it as "not available"
// instead of a hard failure.
func (r *RPCHelper) GetCallTraces(ctx context.Context, txHash string) ([]CallTrace, error) {
	result, err := r.client.Call(ctx, "trace_transaction", []interface{}{txHash})
	if err != nil {
		return nil, nil
	}
	var traces []CallTrace
	if err := json.Unmarshal(result, &traces); err != nil {
		return nil, chainadapter.NewNonRetryableError("ERR_RPC_PARSE", "failed to parse call traces", err)
	}
	return traces, nil
}

// GetBlockNumber retrieves the current block number
func (r *RPCHelper) GetBlockNumber(ctx context.Context) (uint64, error) {
	result, err := r.client.Call(ctx, "eth_blockNumber", nil)
	if err != nil {
		return 0, chainadapter.NewRetryableError(
			chainadapter.ErrCodeRPCUnavailable,
			"eth_blockNumber RPC failed",
			nil,
			err,
		)
	}

	var blockHex string
	if err := json.Unmarshal(result, &blockHex); err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to parse block number",
			err,
		)
	}

	blockNumber, err := hexutil.DecodeUint64(blockHex)
	if err != nil {
		return 0, chainadapter.NewNonRetryableError(
			"ERR_RPC_PARSE",
			"failed to decode block number hex",
			err,
		)
	}

	return blockNumber, nil
}
