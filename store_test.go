package assetlease

import (
	"context"
	"math/big"
	"testing"
	"time"

	"go-assetlease/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateTablePrefix(t *testing.T) {
	t.Run("should accept PostgreSQL-safe identifiers", func(t *testing.T) {
		for _, prefix := range []string{"assetlease", "a", "lease_v2", "x9"} {
			assert.NoError(t, ValidateTablePrefix(prefix), "prefix %q should be valid", prefix)
		}
	})

	t.Run("should reject unsafe identifiers", func(t *testing.T) {
		for _, prefix := range []string{"", "9lease", "Lease", "lease-v2", "lease; DROP TABLE"} {
			assert.Error(t, ValidateTablePrefix(prefix), "prefix %q should be rejected", prefix)
		}
	})
}

func TestLeaseStore(t *testing.T) {
	var (
		newCtx = func() context.Context {
			return context.Background()
		}
		newStore = func(t *testing.T) *leaseStore {
			var db = database.SetupTestDatabase(t)
			store, err := openLeaseStore(db, "test_assetlease")
			require.NoError(t, err)
			return store
		}
		newLease = func(id LeaseID) *Lease {
			return &Lease{
				ID:              id,
				Asset:           AssetRef{Contract: "nft.test", TokenID: "token_1"},
				LenderID:        "alice.test",
				BorrowerID:      "bob.test",
				PaymentContract: "ft.test",
				ApprovalID:      7,
				StartTime:       time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
				EndTime:         time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC),
				Price:           big.NewInt(10000),
				Payout:          Payout{"alice.test": big.NewInt(9500), "guild.test": big.NewInt(500)},
				State:           LeaseStateActive,
				CustodyHeld:     true,
			}
		}
	)

	t.Run("should reject an invalid table prefix", func(t *testing.T) {
		// Arrange
		var db = database.SetupTestDatabase(t)

		// Act
		_, err := openLeaseStore(db, "not a prefix")

		// Assert
		assert.ErrorIs(t, err, ErrInvalidTablePrefix)
	})

	t.Run("should round trip a lease", func(t *testing.T) {
		// Arrange
		var (
			sut   = newStore(t)
			ctx   = newCtx()
			lease = newLease("lease_1")
		)

		// Act
		require.NoError(t, sut.SaveLease(ctx, lease))
		var leases, err = sut.ListLeases(ctx)

		// Assert
		require.NoError(t, err)
		require.Len(t, leases, 1)
		assert.Equal(t, lease, leases[0])
	})

	t.Run("should delete a lease", func(t *testing.T) {
		// Arrange
		var (
			sut = newStore(t)
			ctx = newCtx()
		)
		require.NoError(t, sut.SaveLease(ctx, newLease("lease_1")))

		// Act
		require.NoError(t, sut.DeleteLease(ctx, "lease_1"))

		// Assert
		var leases, err = sut.ListLeases(ctx)
		require.NoError(t, err)
		assert.Empty(t, leases)
	})

	t.Run("should round trip a listing", func(t *testing.T) {
		// Arrange
		var (
			sut     = newStore(t)
			ctx     = newCtx()
			listing = &Listing{
				OwnerID:         "alice.test",
				ApprovalID:      7,
				Asset:           AssetRef{Contract: "nft.test", TokenID: "token_1"},
				PaymentContract: "ft.test",
				Price:           big.NewInt(10000),
				StartTime:       time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
				EndTime:         time.Date(2026, 6, 2, 12, 0, 0, 0, time.UTC),
				Payout:          Payout{"alice.test": big.NewInt(10000)},
			}
		)

		// Act
		require.NoError(t, sut.SaveListing(ctx, listing))
		var listings, err = sut.ListListings(ctx)

		// Assert
		require.NoError(t, err)
		require.Len(t, listings, 1)
		assert.Equal(t, listing, listings[0])

		require.NoError(t, sut.DeleteListing(ctx, listing.Asset))
		listings, err = sut.ListListings(ctx)
		require.NoError(t, err)
		assert.Empty(t, listings)
	})

	t.Run("should rebuild contract registry from stored leases", func(t *testing.T) {
		// Arrange
		var (
			ctx = newCtx()
			db  = database.SetupTestDatabase(t)
		)

		store, err := openLeaseStore(db, defaultTablePrefix)
		require.NoError(t, err)
		require.NoError(t, store.SaveLease(ctx, newLease("lease_1")))

		// Act: a fresh contract instance starts over the same database
		var sut = NewContract(db, "rental.test", "admin.test",
			WithScheduler(&manualScheduler{}),
		)
		require.NoError(t, sut.Start(ctx))

		// Assert
		lease, getErr := sut.Lease("lease_1")
		require.NoError(t, getErr)
		assert.Equal(t, LeaseStateActive, lease.State)
		assert.Len(t, sut.ActiveLeasesByLender("alice.test"), 1)
		assert.Equal(t, 1, sut.ReceiptTotalSupply(), "receipts come back with active leases")
	})
}
