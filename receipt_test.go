package assetlease

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReceiptReceiver records receipt notifications and can ask for the
// transfer to be reverted.
type fakeReceiptReceiver struct {
	revert   bool
	err      error
	received []string
}

func (f *fakeReceiptReceiver) OnReceiptReceived(ctx context.Context, sender, previousOwner AccountID, tokenID string, message []byte) (bool, error) {
	f.received = append(f.received, tokenID)
	return f.revert, f.err
}

func TestReceipts(t *testing.T) {
	const (
		contractID = AccountID("rental.test")
		adminID    = AccountID("admin.test")
		custodyID  = AccountID("nft.test")
		paymentID  = AccountID("ft.test")
		lenderID   = AccountID("alice.test")
		borrowerID = AccountID("bob.test")
		buyerID    = AccountID("carol.test")
		tokenID    = "token_1"
	)

	type fixture struct {
		sut       *Contract
		scheduler *manualScheduler
		clock     *fixedClock
		receiver  *fakeReceiptReceiver
		leaseID   LeaseID
	}

	var (
		newCtx = func() context.Context {
			return context.Background()
		}
		// newFixture builds a contract with one active lease.
		newFixture = func(t *testing.T) *fixture {
			var (
				scheduler = &manualScheduler{}
				clock     = &fixedClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
				custody   = newFakeCustody(custodyID, contractID)
				payment   = newFakePayment(paymentID, contractID)
				receiver  = &fakeReceiptReceiver{}
			)

			var sut = NewContract(nil, contractID, adminID,
				WithScheduler(scheduler),
				WithClock(clock.now),
				WithIDGenerator(&seqIDs{}),
				WithCustodyService(custodyID, custody),
				WithPaymentService(paymentID, payment),
				WithReceiptReceiver(buyerID, receiver),
			)
			require.NoError(t, sut.Start(newCtx()))
			require.NoError(t, sut.AddAllowedPaymentContracts(adminID, big.NewInt(1), []AccountID{paymentID}))

			custody.owners[tokenID] = lenderID
			custody.receivers[contractID] = sut

			var message = NewLeaseTermsMessage(borrowerID, paymentID, "10000", clock.t, clock.t.Add(24*time.Hour))
			leaseID, err := sut.OnAssetApproved(newCtx(), custodyID, tokenID, lenderID, 7, message)
			require.NoError(t, err)

			_, err = sut.OnPaymentReceived(newCtx(), paymentID, borrowerID, big.NewInt(10000), NewPayLeaseMessage(leaseID))
			require.NoError(t, err)
			scheduler.runAll(newCtx())

			return &fixture{sut: sut, scheduler: scheduler, clock: clock, receiver: receiver, leaseID: leaseID}
		}
	)

	t.Run("should expose one receipt per active lease", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)

		// Act
		var receipts = f.sut.ReceiptsForOwner(lenderID)

		// Assert
		assert.Equal(t, 1, f.sut.ReceiptTotalSupply())
		require.Len(t, receipts, 1)
		assert.Equal(t, receiptIDForLease(f.leaseID), receipts[0].TokenID)
		assert.Equal(t, lenderID, receipts[0].OwnerID)
		assert.Equal(t, f.leaseID, receipts[0].LeaseID)
	})

	t.Run("should not expose a receipt for a pending lease", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)
		f.clock.advance(25 * time.Hour)
		require.NoError(t, f.sut.ClaimBack(newCtx(), lenderID, f.leaseID))
		f.scheduler.runAll(newCtx())

		// Act
		_, err := f.sut.ReceiptByID(receiptIDForLease(f.leaseID))

		// Assert
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Zero(t, f.sut.ReceiptTotalSupply())
	})

	t.Run("should transfer receipt and move the lender claim with it", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)
		var receiptID = receiptIDForLease(f.leaseID)

		// Act
		require.NoError(t, f.sut.TransferReceipt(newCtx(), lenderID, receiptID, buyerID))

		// Assert
		receipt, err := f.sut.ReceiptByID(receiptID)
		require.NoError(t, err)
		assert.Equal(t, buyerID, receipt.OwnerID)

		assert.Empty(t, f.sut.ActiveLeasesByLender(lenderID))
		require.Len(t, f.sut.ActiveLeasesByLender(buyerID), 1)

		lease, err := f.sut.Lease(f.leaseID)
		require.NoError(t, err)
		assert.Equal(t, buyerID, lease.LenderID)
		assert.Equal(t, borrowerID, lease.BorrowerID, "borrower is untouched by receipt transfers")
	})

	t.Run("should let the new holder claim back after transfer", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)
		require.NoError(t, f.sut.TransferReceipt(newCtx(), lenderID, receiptIDForLease(f.leaseID), buyerID))
		f.clock.advance(25 * time.Hour)

		// Act
		var oldHolderErr = f.sut.ClaimBack(newCtx(), lenderID, f.leaseID)
		var newHolderErr = f.sut.ClaimBack(newCtx(), buyerID, f.leaseID)

		// Assert
		assert.ErrorIs(t, oldHolderErr, ErrWrongCaller)
		require.NoError(t, newHolderErr)
	})

	t.Run("should reject transfers by anyone but the holder", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)

		// Act
		var err = f.sut.TransferReceipt(newCtx(), borrowerID, receiptIDForLease(f.leaseID), buyerID)

		// Assert
		assert.ErrorIs(t, err, ErrWrongCaller)
	})

	t.Run("should reject transfer to self and to unknown receipts", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)

		// Act
		var selfErr = f.sut.TransferReceipt(newCtx(), lenderID, receiptIDForLease(f.leaseID), lenderID)
		var unknownErr = f.sut.TransferReceipt(newCtx(), lenderID, "nonsense_lender", buyerID)

		// Assert
		assert.ErrorIs(t, selfErr, ErrSelfTransfer)
		assert.ErrorIs(t, unknownErr, ErrNotFound)
	})

	t.Run("should notify the new holder on transfer-and-notify", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)
		var receiptID = receiptIDForLease(f.leaseID)

		// Act
		require.NoError(t, f.sut.TransferReceiptAndNotify(newCtx(), lenderID, receiptID, buyerID, []byte(`{}`)))
		f.scheduler.runAll(newCtx())

		// Assert
		assert.Equal(t, []string{receiptID}, f.receiver.received)
		receipt, err := f.sut.ReceiptByID(receiptID)
		require.NoError(t, err)
		assert.Equal(t, buyerID, receipt.OwnerID)
	})

	t.Run("should restore the previous holder when the receiver reverts", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)
		f.receiver.revert = true
		var receiptID = receiptIDForLease(f.leaseID)

		// Act
		require.NoError(t, f.sut.TransferReceiptAndNotify(newCtx(), lenderID, receiptID, buyerID, []byte(`{}`)))
		f.scheduler.runAll(newCtx())

		// Assert
		receipt, err := f.sut.ReceiptByID(receiptID)
		require.NoError(t, err)
		assert.Equal(t, lenderID, receipt.OwnerID)
		require.Len(t, f.sut.ActiveLeasesByLender(lenderID), 1)
		assert.Empty(t, f.sut.ActiveLeasesByLender(buyerID))
	})

	t.Run("should restore the previous holder when the receiver is unreachable", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)
		var receiptID = receiptIDForLease(f.leaseID)

		// Act
		require.NoError(t, f.sut.TransferReceiptAndNotify(newCtx(), lenderID, receiptID, AccountID("stranger.test"), []byte(`{}`)))
		f.scheduler.runAll(newCtx())

		// Assert
		receipt, err := f.sut.ReceiptByID(receiptID)
		require.NoError(t, err)
		assert.Equal(t, lenderID, receipt.OwnerID)
	})

	t.Run("should restore the previous holder when the notification errors", func(t *testing.T) {
		// Arrange
		var f = newFixture(t)
		f.receiver.err = errors.New("receiver exploded")
		var receiptID = receiptIDForLease(f.leaseID)

		// Act
		require.NoError(t, f.sut.TransferReceiptAndNotify(newCtx(), lenderID, receiptID, buyerID, []byte(`{}`)))
		f.scheduler.runAll(newCtx())

		// Assert
		receipt, err := f.sut.ReceiptByID(receiptID)
		require.NoError(t, err)
		assert.Equal(t, lenderID, receipt.OwnerID)
	})
}
