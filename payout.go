package assetlease

import (
	"context"
	"fmt"
	"math/big"
)

// payoutTolerance is the maximum rounding drift (in minimal units) allowed
// between a price and the sum of its payout amounts.
var payoutTolerance = big.NewInt(1)

// maxPayoutRecipients bounds the royalty splits we ask a custody contract for.
const maxPayoutRecipients = 10

// Payout maps each recipient to the amount it receives when the rent is
// distributed at claim-back.
type Payout map[AccountID]*big.Int

// total sums all payout amounts.
func (p Payout) total() *big.Int {
	var sum = new(big.Int)
	for _, amount := range p {
		sum.Add(sum, amount)
	}
	return sum
}

// clone returns a deep copy of the payout.
func (p Payout) clone() Payout {
	if p == nil {
		return nil
	}
	var cp = make(Payout, len(p))
	for recipient, amount := range p {
		cp[recipient] = new(big.Int).Set(amount)
	}
	return cp
}

// validatePayout checks that the payout amounts sum to the price within the
// tolerance of one minimal unit.
func validatePayout(p Payout, price *big.Int) error {
	var diff = new(big.Int).Sub(price, p.total())
	if diff.Abs(diff).Cmp(payoutTolerance) > 0 {
		return fmt.Errorf("payout sums to %s for price %s: %w", p.total(), price, ErrPayoutMismatch)
	}
	return nil
}

// fallbackPayout routes the full price to the lender. It is synthesized
// whenever an asset exposes no royalty split, so distribution at claim-back
// never needs a special case.
func fallbackPayout(lender AccountID, price *big.Int) Payout {
	return Payout{lender: new(big.Int).Set(price)}
}

// resolvePayout queries the asset's royalty-split capability for the agreed
// price. A failed or unavailable query degrades to a 100%-to-lender payout;
// a split that does not sum to the price fails the whole creation.
func resolvePayout(ctx context.Context, custody CustodyService, tokenID string, price *big.Int, lender AccountID) (Payout, error) {
	if custody == nil {
		return fallbackPayout(lender, price), nil
	}

	var maxRecipients = maxPayoutRecipients
	payout, err := custody.PayoutQuery(ctx, tokenID, new(big.Int).Set(price), &maxRecipients)
	if err != nil || len(payout) == 0 {
		return fallbackPayout(lender, price), nil
	}

	if err := validatePayout(payout, price); err != nil {
		return nil, err
	}
	return payout.clone(), nil
}
