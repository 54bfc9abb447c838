package assetlease

import (
	"fmt"
	"time"
)

// The lease state machine. Guards live here, not in callers: activation of
// an already-active lease and claim-back of anything but an expired active
// lease are rejected regardless of who asks.

// activate moves a pending lease to active. It fires only after the custody
// transfer has provably completed; a second activation is rejected so the
// same lease can never be paid for or moved into custody twice.
func (l *Lease) activate() error {
	if l.State != LeaseStatePending {
		return fmt.Errorf("lease %s is %s, not pending: %w", l.ID, l.State, ErrWrongState)
	}
	if !l.CustodyHeld {
		return fmt.Errorf("lease %s asset is not in custody: %w", l.ID, ErrWrongState)
	}

	l.State = LeaseStateActive
	return nil
}

// checkClaimBack verifies that a claim-back may proceed: the lease is
// active, its window has passed, and the caller is the lender or the
// registry admin.
func (l *Lease) checkClaimBack(caller, admin AccountID, now time.Time) error {
	if l.State != LeaseStateActive {
		return fmt.Errorf("lease %s is %s, not active: %w", l.ID, l.State, ErrWrongState)
	}
	if l.claimInFlight {
		return fmt.Errorf("lease %s claim-back already in flight: %w", l.ID, ErrWrongState)
	}
	if !now.After(l.EndTime) {
		return fmt.Errorf("lease %s ends at %s: %w", l.ID, l.EndTime.Format(time.RFC3339), ErrNotExpired)
	}
	if caller != l.LenderID && caller != admin {
		return fmt.Errorf("%s may not claim back lease %s: %w", caller, l.ID, ErrWrongCaller)
	}
	return nil
}
