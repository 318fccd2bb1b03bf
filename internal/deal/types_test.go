package deal

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHappyPathDeal() *Deal {
	sideA := AssetSpec{ChainID: "alpha-mainnet", AssetCode: "ALPHA", Amount: decimal.NewFromInt(10)}
	sideB := AssetSpec{ChainID: "ethereum", AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100)}
	return NewDeal("deal-1", "test deal", sideA, sideB, 3600)
}

func TestFillPartyDetailsLocksAndRejectsSecondFill(t *testing.T) {
	d := newHappyPathDeal()
	require.NoError(t, d.FillPartyDetails(SideA, "payback-a", "recipient-a", ""))
	assert.True(t, d.PartyDetails[SideA].Locked)

	err := d.FillPartyDetails(SideA, "other-payback", "other-recipient", "")
	require.Error(t, err)
	de, ok := err.(interface{ Error() string })
	require.True(t, ok)
	_ = de
	assert.Equal(t, "payback-a", d.PartyDetails[SideA].PaybackAddress, "first submission's address must be preserved byte-for-byte")
}

func TestBothPartiesLockedAndEnterCollection(t *testing.T) {
	d := newHappyPathDeal()
	require.NoError(t, d.FillPartyDetails(SideA, "pb-a", "rc-a", ""))
	assert.False(t, d.BothPartiesLocked())
	require.NoError(t, d.FillPartyDetails(SideB, "pb-b", "rc-b", ""))
	assert.True(t, d.BothPartiesLocked())

	require.NoError(t, d.EnterCollection(time.Now()))
	assert.Equal(t, StageCollection, d.Stage)
	require.NotNil(t, d.ExpiresAt)
}

func TestCancelOnlyAllowedInCreated(t *testing.T) {
	d := newHappyPathDeal()
	require.NoError(t, d.Cancel())
	assert.Equal(t, StageReverted, d.Stage)

	d2 := newHappyPathDeal()
	require.NoError(t, d2.FillPartyDetails(SideA, "pb-a", "rc-a", ""))
	require.NoError(t, d2.FillPartyDetails(SideB, "pb-b", "rc-b", ""))
	require.NoError(t, d2.EnterCollection(time.Now()))
	require.Error(t, d2.Cancel())
}

func TestRecordDepositAndCollectedConfirmed(t *testing.T) {
	d := newHappyPathDeal()
	d.RecordDeposit(SideA, Deposit{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", Status: DepositConfirmed})
	assert.True(t, d.CollectedConfirmed(SideA, "ALPHA").Equal(decimal.NewFromInt(10)))

	d.RecordDeposit(SideA, Deposit{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", Status: DepositOrphaned})
	assert.True(t, d.CollectedConfirmed(SideA, "ALPHA").IsZero(), "orphaned deposit must not count toward confirmed total")
}

func TestIsSufficient(t *testing.T) {
	d := newHappyPathDeal()
	required := RequiredByAsset{"ALPHA": decimal.NewFromInt(10)}
	assert.False(t, d.IsSufficient(SideA, required))

	d.RecordDeposit(SideA, Deposit{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", Status: DepositConfirmed})
	assert.True(t, d.IsSufficient(SideA, required))
}

func TestEnterWaitingRequiresBothSidesSufficient(t *testing.T) {
	d := newHappyPathDeal()
	require.NoError(t, d.FillPartyDetails(SideA, "pb-a", "rc-a", ""))
	require.NoError(t, d.FillPartyDetails(SideB, "pb-b", "rc-b", ""))
	require.NoError(t, d.EnterCollection(time.Now()))

	requiredA := RequiredByAsset{"ALPHA": decimal.NewFromInt(10)}
	requiredB := RequiredByAsset{"ERC20:0xT": decimal.NewFromInt(100)}

	require.Error(t, d.EnterWaiting(requiredA, requiredB))

	d.RecordDeposit(SideA, Deposit{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", Status: DepositConfirmed})
	d.RecordDeposit(SideB, Deposit{AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100), Txid: "tx2", Status: DepositConfirmed})

	require.NoError(t, d.EnterWaiting(requiredA, requiredB))
	assert.Equal(t, StageWaiting, d.Stage)
	require.NotNil(t, d.SideState[SideA].Locks.TradeLockedAt)
}

func TestRollbackToCollectionClearsLocksAndKeepsExpiresAt(t *testing.T) {
	d := newHappyPathDeal()
	require.NoError(t, d.FillPartyDetails(SideA, "pb-a", "rc-a", ""))
	require.NoError(t, d.FillPartyDetails(SideB, "pb-b", "rc-b", ""))
	require.NoError(t, d.EnterCollection(time.Now()))
	originalExpiry := *d.ExpiresAt

	requiredA := RequiredByAsset{"ALPHA": decimal.NewFromInt(10)}
	requiredB := RequiredByAsset{"ERC20:0xT": decimal.NewFromInt(100)}
	d.RecordDeposit(SideA, Deposit{AssetCode: "ALPHA", Amount: decimal.NewFromInt(10), Txid: "tx1", Status: DepositConfirmed})
	d.RecordDeposit(SideB, Deposit{AssetCode: "ERC20:0xT", Amount: decimal.NewFromInt(100), Txid: "tx2", Status: DepositConfirmed})
	require.NoError(t, d.EnterWaiting(requiredA, requiredB))

	require.NoError(t, d.RollbackToCollection(SideA))
	assert.Equal(t, StageCollection, d.Stage)
	assert.Equal(t, originalExpiry, *d.ExpiresAt, "expiresAt must be immutable across the reorg rollback")
	assert.Nil(t, d.SideState[SideA].Locks.TradeLockedAt)
}

func TestCloseRequiresSwapStage(t *testing.T) {
	d := newHappyPathDeal()
	require.Error(t, d.Close())
}

func TestAssetSpecIsToken(t *testing.T) {
	assert.True(t, AssetSpec{AssetCode: "ERC20:0xabc"}.IsToken())
	assert.True(t, AssetSpec{AssetCode: "SPL:abc"}.IsToken())
	assert.False(t, AssetSpec{AssetCode: "ETH"}.IsToken())
}
