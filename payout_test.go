package assetlease

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPayout(t *testing.T) {
	t.Run("should accept payout matching the price exactly", func(t *testing.T) {
		var payout = Payout{"alice": big.NewInt(9500), "guild": big.NewInt(500)}
		assert.NoError(t, validatePayout(payout, big.NewInt(10000)))
	})

	t.Run("should tolerate one minimal unit of rounding drift", func(t *testing.T) {
		assert.NoError(t, validatePayout(Payout{"alice": big.NewInt(9999)}, big.NewInt(10000)))
		assert.NoError(t, validatePayout(Payout{"alice": big.NewInt(10001)}, big.NewInt(10000)))
	})

	t.Run("should reject payout deviating by more than one unit", func(t *testing.T) {
		assert.ErrorIs(t, validatePayout(Payout{"alice": big.NewInt(9998)}, big.NewInt(10000)), ErrPayoutMismatch)
		assert.ErrorIs(t, validatePayout(Payout{"alice": big.NewInt(10002)}, big.NewInt(10000)), ErrPayoutMismatch)
	})

	t.Run("should synthesize lender-only payout without a custody service", func(t *testing.T) {
		// Act
		payout, err := resolvePayout(context.Background(), nil, "token_1", big.NewInt(10000), "alice")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, Payout{"alice": big.NewInt(10000)}, payout)
	})

	t.Run("should degrade to lender-only payout on query failure or empty split", func(t *testing.T) {
		// Arrange
		var failing = newFakeCustody("nft.test", "rental.test")
		failing.payoutErr = errors.New("down")
		var empty = newFakeCustody("nft.test", "rental.test")

		// Act
		failedPayout, failedErr := resolvePayout(context.Background(), failing, "token_1", big.NewInt(10000), "alice")
		emptyPayout, emptyErr := resolvePayout(context.Background(), empty, "token_1", big.NewInt(10000), "alice")

		// Assert
		require.NoError(t, failedErr)
		assert.Equal(t, Payout{"alice": big.NewInt(10000)}, failedPayout)
		require.NoError(t, emptyErr)
		assert.Equal(t, Payout{"alice": big.NewInt(10000)}, emptyPayout)
	})

	t.Run("should fail on a mismatched split rather than degrade", func(t *testing.T) {
		// Arrange
		var custody = newFakeCustody("nft.test", "rental.test")
		custody.payout = Payout{"alice": big.NewInt(5000)}

		// Act
		_, err := resolvePayout(context.Background(), custody, "token_1", big.NewInt(10000), "alice")

		// Assert
		assert.ErrorIs(t, err, ErrPayoutMismatch)
	})

	t.Run("should deep copy on clone", func(t *testing.T) {
		// Arrange
		var payout = Payout{"alice": big.NewInt(100)}

		// Act
		var cp = payout.clone()
		cp["alice"].Add(cp["alice"], big.NewInt(1))

		// Assert
		assert.Equal(t, big.NewInt(100), payout["alice"])
	})
}
