package assetlease

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	var newLease = func(id LeaseID, tokenID string, lender, borrower AccountID, state LeaseState) *Lease {
		return &Lease{
			ID:              id,
			Asset:           AssetRef{Contract: "nft.test", TokenID: tokenID},
			LenderID:        lender,
			BorrowerID:      borrower,
			PaymentContract: "ft.test",
			StartTime:       time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
			EndTime:         time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC),
			Price:           big.NewInt(10000),
			Payout:          Payout{lender: big.NewInt(10000)},
			State:           state,
		}
	}

	t.Run("should insert and get lease", func(t *testing.T) {
		// Arrange
		var sut = newRegistry()

		// Act
		var err = sut.insert(newLease("l1", "t1", "alice", "bob", LeaseStatePending))

		// Assert
		require.NoError(t, err)
		lease, getErr := sut.get("l1")
		require.NoError(t, getErr)
		assert.Equal(t, LeaseID("l1"), lease.ID)
	})

	t.Run("should reject duplicate lease id and duplicate asset", func(t *testing.T) {
		// Arrange
		var sut = newRegistry()
		require.NoError(t, sut.insert(newLease("l1", "t1", "alice", "bob", LeaseStatePending)))

		// Act & Assert
		assert.ErrorIs(t, sut.insert(newLease("l1", "t2", "alice", "bob", LeaseStatePending)), ErrDuplicateListing)
		assert.ErrorIs(t, sut.insert(newLease("l2", "t1", "alice", "bob", LeaseStatePending)), ErrDuplicateListing)
	})

	t.Run("should keep indices consistent across insert and remove", func(t *testing.T) {
		// Arrange
		var sut = newRegistry()
		require.NoError(t, sut.insert(newLease("l1", "t1", "alice", "bob", LeaseStatePending)))
		require.NoError(t, sut.insert(newLease("l2", "t2", "alice", "carol", LeaseStatePending)))

		// Act
		require.NoError(t, sut.remove("l1"))

		// Assert
		assert.Len(t, sut.leasesByLender("alice"), 1)
		assert.Empty(t, sut.leasesByBorrower("bob"))
		_, exists := sut.leaseByAsset(AssetRef{Contract: "nft.test", TokenID: "t1"})
		assert.False(t, exists, "asset becomes leasable again")
		_, err := sut.get("l1")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("should return leases sorted by id", func(t *testing.T) {
		// Arrange
		var sut = newRegistry()
		require.NoError(t, sut.insert(newLease("l2", "t2", "alice", "bob", LeaseStatePending)))
		require.NoError(t, sut.insert(newLease("l1", "t1", "alice", "bob", LeaseStatePending)))

		// Act
		var leases = sut.leasesByLender("alice")

		// Assert
		require.Len(t, leases, 2)
		assert.Equal(t, LeaseID("l1"), leases[0].ID)
		assert.Equal(t, LeaseID("l2"), leases[1].ID)
	})

	t.Run("should track active leases through markActive", func(t *testing.T) {
		// Arrange
		var sut = newRegistry()
		require.NoError(t, sut.insert(newLease("l1", "t1", "alice", "bob", LeaseStatePending)))
		assert.Empty(t, sut.activeLeasesByLender("alice"))

		// Act
		require.NoError(t, sut.markActive("l1"))

		// Assert
		assert.Len(t, sut.activeLeasesByLender("alice"), 1)
		assert.Equal(t, []LeaseID{"l1"}, sut.activeLeaseIDs())
	})

	t.Run("should seed active mirrors when inserting an already-active lease", func(t *testing.T) {
		// Arrange: rebuild-from-storage path
		var sut = newRegistry()

		// Act
		require.NoError(t, sut.insert(newLease("l1", "t1", "alice", "bob", LeaseStateActive)))

		// Assert
		assert.Len(t, sut.activeLeasesByLender("alice"), 1)
	})

	t.Run("should move lender indices on reassignLender", func(t *testing.T) {
		// Arrange
		var sut = newRegistry()
		require.NoError(t, sut.insert(newLease("l1", "t1", "alice", "bob", LeaseStatePending)))
		require.NoError(t, sut.markActive("l1"))

		// Act
		require.NoError(t, sut.reassignLender("l1", "alice", "carol"))

		// Assert
		assert.Empty(t, sut.leasesByLender("alice"))
		assert.Empty(t, sut.activeLeasesByLender("alice"))
		assert.Len(t, sut.leasesByLender("carol"), 1)
		assert.Len(t, sut.activeLeasesByLender("carol"), 1)

		lease, err := sut.get("l1")
		require.NoError(t, err)
		assert.Equal(t, AccountID("carol"), lease.LenderID)
	})

	t.Run("should reject reassign from the wrong holder", func(t *testing.T) {
		// Arrange
		var sut = newRegistry()
		require.NoError(t, sut.insert(newLease("l1", "t1", "alice", "bob", LeaseStatePending)))

		// Act & Assert
		assert.ErrorIs(t, sut.reassignLender("l1", "mallory", "carol"), ErrWrongCaller)
		assert.ErrorIs(t, sut.reassignLender("l9", "alice", "carol"), ErrNotFound)
	})
}
