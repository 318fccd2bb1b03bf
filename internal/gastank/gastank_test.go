package gastank

import (
	"context"
	"testing"
	"time"

	"github.com/otcswap/broker/internal/chainadapter"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	confirmSequence []int
	call            int
}

func (s *stubAdapter) ChainID() string                          { return "ethereum" }
func (s *stubAdapter) Capabilities() *chainadapter.Capabilities { return &chainadapter.Capabilities{} }
func (s *stubAdapter) ValidateAddress(string) bool              { return true }
func (s *stubAdapter) GenerateEscrow(context.Context, string, string, string) (*chainadapter.Escrow, error) {
	return nil, nil
}
func (s *stubAdapter) ListDeposits(context.Context, *chainadapter.Escrow, *time.Time) ([]chainadapter.RawDeposit, error) {
	return nil, nil
}
func (s *stubAdapter) GetTxConfirmations(context.Context, string) (int, error) {
	c := s.confirmSequence[s.call]
	if s.call < len(s.confirmSequence)-1 {
		s.call++
	}
	return c, nil
}
func (s *stubAdapter) SubmitTransfer(context.Context, *chainadapter.TransferRequest) (*chainadapter.TransferResult, error) {
	return &chainadapter.TransferResult{Txid: "0xfund", SubmittedAt: time.Now()}, nil
}
func (s *stubAdapter) QuoteNativeForUSD(context.Context, decimal.Decimal) (*chainadapter.NativeQuote, error) {
	return nil, nil
}
func (s *stubAdapter) ApproveBrokerForToken(context.Context, *chainadapter.Escrow, string) error {
	return nil
}
func (s *stubAdapter) GetInternalTransactions(context.Context, string) ([]chainadapter.InternalTransfer, error) {
	return nil, nil
}

func TestEstimateFundingAppliesSafetyFactor(t *testing.T) {
	result := EstimateFunding(decimal.NewFromInt(21000), decimal.RequireFromString("0.00000002"))
	assert.True(t, result.Equal(decimal.RequireFromString("0.00084")))
}

func TestFundEscrowUnavailable(t *testing.T) {
	tank := &Tank{Available: false}
	err := tank.FundEscrow(context.Background(), "intent-1", &chainadapter.Escrow{Address: "0xescrow"}, decimal.NewFromInt(1))
	require.Error(t, err)
}

func TestFundEscrowWaitsForConfirmation(t *testing.T) {
	adapter := &stubAdapter{confirmSequence: []int{0, 0, 1}}
	tank := &Tank{Available: true, Adapter: adapter, Escrow: &chainadapter.Escrow{Address: "0xtank"}, PollInterval: time.Millisecond}
	err := tank.FundEscrow(context.Background(), "intent-1", &chainadapter.Escrow{Address: "0xescrow"}, decimal.NewFromInt(1))
	require.NoError(t, err)
}

func TestReclaimSurplus(t *testing.T) {
	assert.True(t, ReclaimSurplus(decimal.RequireFromString("0.001")))
	assert.False(t, ReclaimSurplus(decimal.RequireFromString("0.0001")))
}
