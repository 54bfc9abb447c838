package assetlease

import (
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages(t *testing.T) {
	var (
		start = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		end   = start.Add(24 * time.Hour)
	)

	t.Run("should parse lease terms round trip", func(t *testing.T) {
		// Arrange
		var raw = NewLeaseTermsMessage("bob.test", "ft.test", "10000", start, end)

		// Act
		msg, err := parseLeaseTermsMessage(raw)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, AccountID("bob.test"), msg.BorrowerID)
		assert.Equal(t, AccountID("ft.test"), msg.PaymentContract)
		assert.Equal(t, "10000", msg.Price)
		assert.Equal(t, start, timeFromNano(msg.StartTsNano))
		assert.Equal(t, end, timeFromNano(msg.EndTsNano))
	})

	t.Run("should reject unknown and missing kinds", func(t *testing.T) {
		_, unknownErr := parseLeaseTermsMessage([]byte(`{"kind":"bogus"}`))
		_, missingErr := parseLeaseTermsMessage([]byte(`{}`))
		_, garbageErr := parseLeaseTermsMessage([]byte(`not json`))

		assert.ErrorIs(t, unknownErr, ErrBadMessage)
		assert.ErrorIs(t, missingErr, ErrBadMessage)
		assert.ErrorIs(t, garbageErr, ErrBadMessage)
	})

	t.Run("should reject lease terms with bad amounts", func(t *testing.T) {
		for _, price := range []string{"", "abc", "-5", "1.5"} {
			_, err := parseLeaseTermsMessage(NewLeaseTermsMessage("bob.test", "ft.test", price, start, end))
			assert.ErrorIs(t, err, ErrBadMessage, "price %q should be rejected", price)
		}
	})

	t.Run("should reject an empty or inverted lease window", func(t *testing.T) {
		_, invertedErr := parseLeaseTermsMessage(NewLeaseTermsMessage("bob.test", "ft.test", "10", end, start))
		_, emptyErr := parseLeaseTermsMessage(NewLeaseTermsMessage("bob.test", "ft.test", "10", start, start))

		assert.ErrorIs(t, invertedErr, ErrBadMessage)
		assert.ErrorIs(t, emptyErr, ErrBadMessage)
	})

	t.Run("should parse transfer messages by kind", func(t *testing.T) {
		// Arrange
		var (
			activateRaw = encodeMessage(&ActivateLeaseMessage{Kind: msgKindActivateLease, LeaseID: "lease_1"})
			holdRaw     = encodeMessage(&CustodyHoldMessage{Kind: msgKindCustodyHold})
		)

		// Act
		activate, activateErr := parseTransferMessage(activateRaw)
		hold, holdErr := parseTransferMessage(holdRaw)

		// Assert
		require.NoError(t, activateErr)
		require.IsType(t, &ActivateLeaseMessage{}, activate)
		assert.Equal(t, LeaseID("lease_1"), activate.(*ActivateLeaseMessage).LeaseID)

		require.NoError(t, holdErr)
		assert.IsType(t, &CustodyHoldMessage{}, hold)
	})

	t.Run("should reject activation without a lease id", func(t *testing.T) {
		_, err := parseTransferMessage([]byte(`{"kind":"activate_lease"}`))
		assert.ErrorIs(t, err, ErrBadMessage)
	})

	t.Run("should parse payment messages by kind", func(t *testing.T) {
		// Arrange
		var finalizeRaw = encodeMessage(&FinalizeListingMessage{
			Kind:          msgKindFinalizeListing,
			AssetContract: "nft.test",
			AssetID:       "token_1",
			BorrowerID:    "bob.test",
			Price:         "10000",
			StartTsNano:   start.UnixNano(),
			EndTsNano:     end.UnixNano(),
			Payout:        map[string]string{"alice.test": "10000"},
		})

		// Act
		pay, payErr := parsePaymentMessage(NewPayLeaseMessage("lease_1"))
		finalize, finalizeErr := parsePaymentMessage(finalizeRaw)

		// Assert
		require.NoError(t, payErr)
		require.IsType(t, &PayLeaseMessage{}, pay)

		require.NoError(t, finalizeErr)
		require.IsType(t, &FinalizeListingMessage{}, finalize)
		assert.Equal(t, "10000", finalize.(*FinalizeListingMessage).Payout["alice.test"])
	})

	t.Run("should reject finalize without payout", func(t *testing.T) {
		var raw = encodeMessage(&FinalizeListingMessage{
			Kind:          msgKindFinalizeListing,
			AssetContract: "nft.test",
			AssetID:       "token_1",
			BorrowerID:    "bob.test",
			Price:         "10000",
			StartTsNano:   start.UnixNano(),
			EndTsNano:     end.UnixNano(),
		})

		_, err := parsePaymentMessage(raw)
		assert.ErrorIs(t, err, ErrBadMessage)
	})

	t.Run("should round trip payout fields", func(t *testing.T) {
		// Arrange
		var payout = Payout{"alice.test": big.NewInt(9500), "guild.test": big.NewInt(500)}

		// Act
		var restored, err = parsePayoutField(payoutField(payout))

		// Assert
		require.NoError(t, err)
		assert.Equal(t, payout, restored)
	})
}
