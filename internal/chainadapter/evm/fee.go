// Package ethereum - gas price helper for escrow payout submission
package ethereum

import (
	"context"
	"math/big"
)

// FeeEstimator computes EIP-1559 fee parameters for a transfer. The broker
// submits payouts at a fixed moderate speed; it doesn't need the user-facing
// slow/normal/fast tiers a wallet would offer.
type FeeEstimator struct {
	rpcHelper *RPCHelper
	chainID   uint64
}

func NewFeeEstimator(rpcHelper *RPCHelper, chainID uint64) *FeeEstimator {
	return &FeeEstimator{rpcHelper: rpcHelper, chainID: chainID}
}

// Gas1559 returns (maxFeePerGas, maxPriorityFeePerGas) for a payout
// transaction, falling back to conservative defaults if the node can't
// supply fee history.
func (f *FeeEstimator) Gas1559(ctx context.Context) (maxFeePerGas, maxPriorityFeePerGas *big.Int, err error) {
	baseFee, err := f.rpcHelper.GetBaseFee(ctx)
	if err != nil {
		baseFee = big.NewInt(30e9)
	}

	priorityFee, err := f.rpcHelper.GetFeeHistory(ctx, 10)
	if err != nil {
		priorityFee = big.NewInt(2e9)
	}

	maxFeePerGas = new(big.Int).Mul(baseFee, big.NewInt(2))
	maxFeePerGas.Add(maxFeePerGas, priorityFee)
	return maxFeePerGas, priorityFee, nil
}
