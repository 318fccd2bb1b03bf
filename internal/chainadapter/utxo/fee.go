// Package bitcoin - fee rate helper for escrow payout submission
package bitcoin

import "context"

// FeeEstimator resolves a sat/byte fee rate for escrow payouts, falling back
// to a conservative rate if the node's smart-fee estimate is unavailable.
type FeeEstimator struct {
	rpcHelper *RPCHelper
	network   string
}

// NewFeeEstimator creates a new Bitcoin fee estimator.
func NewFeeEstimator(rpcHelper *RPCHelper, network string) *FeeEstimator {
	return &FeeEstimator{rpcHelper: rpcHelper, network: network}
}

// FeeRateSatPerByte returns the fee rate to use for a payout transaction,
// targeting confirmation within about 3 blocks.
func (f *FeeEstimator) FeeRateSatPerByte(ctx context.Context) int64 {
	rate, err := f.rpcHelper.EstimateSmartFee(ctx, 3)
	if err != nil || rate <= 0 {
		return 20
	}
	return rate
}
