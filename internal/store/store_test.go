package store

import (
	"os"
	"testing"
	"time"

	"github.com/otcswap/broker/internal/deal"
	"github.com/otcswap/broker/internal/payout"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDeal() *deal.Deal {
	specA := deal.AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	specB := deal.AssetSpec{ChainID: "ethereum", AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100)}
	return deal.NewDeal("deal-1", "test", specA, specB, 3600)
}

func TestMemoryDealStoreVersionConflict(t *testing.T) {
	s := NewMemoryDealStore()
	d := sampleDeal()
	require.NoError(t, s.Create(d))

	stale := sampleDeal()
	stale.Version = 0
	err := s.Save(stale)
	require.ErrorIs(t, err, ErrVersionConflict)
}

func TestMemoryDealStoreActiveExcludesOldTerminalDeals(t *testing.T) {
	s := NewMemoryDealStore()
	d := sampleDeal()
	require.NoError(t, s.Create(d))

	active, err := s.Active(time.Now())
	require.NoError(t, err)
	assert.Len(t, active, 1)

	d.Stage = deal.StageClosed
	d.UpdatedAt = time.Now().Add(-25 * time.Hour)
	require.NoError(t, s.Save(d))

	active, err = s.Active(time.Now())
	require.NoError(t, err)
	assert.Len(t, active, 0)
}

func TestFileDealStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileDealStore(dir)
	require.NoError(t, err)

	d := sampleDeal()
	require.NoError(t, d.FillPartyDetails(deal.SideA, "pb-a", "rc-a", ""))
	require.NoError(t, s.Create(d))

	reloaded, err := NewFileDealStore(dir)
	require.NoError(t, err)
	got, err := reloaded.Get(d.ID)
	require.NoError(t, err)
	assert.Equal(t, "pb-a", got.PartyDetails[deal.SideA].PaybackAddress)
	assert.True(t, got.PartyDetails[deal.SideA].Locked)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestMemoryTokenStore(t *testing.T) {
	s := NewMemoryTokenStore()
	tok := &Token{Token: "abc123", DealID: "deal-1", Party: deal.SideA, CreatedAt: time.Now()}
	require.NoError(t, s.Create(tok))

	got, err := s.Get("abc123")
	require.NoError(t, err)
	assert.Equal(t, "deal-1", got.DealID)

	require.NoError(t, s.MarkUsed("abc123", time.Now()))
	got2, _ := s.Get("abc123")
	assert.NotNil(t, got2.UsedAt)
}

func TestMemoryPayoutStoreListByQueueKey(t *testing.T) {
	s := NewMemoryPayoutStore()
	i1 := &payout.Intent{ID: "1", ChainID: "ethereum", FromEscrow: "escrow-a", DealID: "deal-1"}
	i2 := &payout.Intent{ID: "2", ChainID: "ethereum", FromEscrow: "escrow-b", DealID: "deal-1"}
	require.NoError(t, s.Save(i1))
	require.NoError(t, s.Save(i2))

	list, err := s.ListByQueueKey("ethereum|escrow-a")
	require.NoError(t, err)
	assert.Len(t, list, 1)
	assert.Equal(t, "1", list[0].ID)
}
