// Package ethereum - Transaction builder implementation
package ethereum

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/otcswap/broker/internal/chainadapter"
)

const erc20TransferSelector = "a9059cbb" // keccak256("transfer(address,uint256)")[:4]

// TransactionBuilder builds native-ETH and ERC20 transfer transactions for
// escrow payouts.
type TransactionBuilder struct {
	chainID *big.Int
}

func NewTransactionBuilder(chainID int64) *TransactionBuilder {
	return &TransactionBuilder{chainID: big.NewInt(chainID)}
}

// BuildNativeTransfer constructs an unsigned EIP-1559 native ETH transfer.
func (tb *TransactionBuilder) BuildNativeTransfer(
	ctx context.Context,
	from, to string,
	amount *big.Int,
	nonce, gasLimit uint64,
	maxFeePerGas, maxPriorityFeePerGas *big.Int,
) (*types.Transaction, error) {
	if !tb.isValidAddress(from) {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "invalid from address: "+from, nil)
	}
	if !tb.isValidAddress(to) {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "invalid to address: "+to, nil)
	}
	if amount == nil || amount.Sign() < 0 {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAmount, "amount must be non-negative", nil)
	}

	toAddr := common.HexToAddress(to)
	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   tb.chainID,
		Nonce:     nonce,
		GasFeeCap: maxFeePerGas,
		GasTipCap: maxPriorityFeePerGas,
		Gas:       gasLimit,
		To:        &toAddr,
		Value:     amount,
	}), nil
}

// BuildERC20Transfer constructs an unsigned EIP-1559 ERC20 transfer call.
func (tb *TransactionBuilder) BuildERC20Transfer(
	ctx context.Context,
	tokenAddr, to string,
	amount *big.Int,
	nonce, gasLimit uint64,
	maxFeePerGas, maxPriorityFeePerGas *big.Int,
) (*types.Transaction, error) {
	if !tb.isValidAddress(tokenAddr) || !tb.isValidAddress(to) {
		return nil, chainadapter.NewNonRetryableError(chainadapter.ErrCodeInvalidAddress, "invalid token or recipient address", nil)
	}

	toAddr := common.HexToAddress(to)
	tokenAddress := common.HexToAddress(tokenAddr)

	data := encodeERC20Transfer(toAddr, amount)

	return types.NewTx(&types.DynamicFeeTx{
		ChainID:   tb.chainID,
		Nonce:     nonce,
		GasFeeCap: maxFeePerGas,
		GasTipCap: maxPriorityFeePerGas,
		Gas:       gasLimit,
		To:        &tokenAddress,
		Value:     big.NewInt(0),
		Data:      data,
	}), nil
}

func encodeERC20Transfer(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	selector, _ := hexDecode(erc20TransferSelector)
	data = append(data, selector...)
	data = append(data, make([]byte, 12)...)
	data = append(data, to.Bytes()...)
	amountBytes := amount.Bytes()
	data = append(data, make([]byte, 32-len(amountBytes))...)
	data = append(data, amountBytes...)
	return data
}

func hexDecode(s string) ([]byte, error) {
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		var b byte
		for j := 0; j < 2; j++ {
			c := s[i*2+j]
			b <<= 4
			switch {
			case c >= '0' && c <= '9':
				b |= c - '0'
			case c >= 'a' && c <= 'f':
				b |= c - 'a' + 10
			}
		}
		out[i] = b
	}
	return out, nil
}

// isValidAddress checks if an Ethereum address is valid.
func (tb *TransactionBuilder) isValidAddress(addr string) bool {
	if !strings.HasPrefix(addr, "0x") || len(addr) != 42 {
		return false
	}
	return common.IsHexAddress(addr)
}

// ValidateChecksum validates EIP-55 checksummed address.
func (tb *TransactionBuilder) ValidateChecksum(addr string) bool {
	return common.HexToAddress(addr).Hex() == addr
}
