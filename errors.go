package assetlease

import "errors"

var (
	// ErrNotFound is returned when no lease or listing exists for the given key.
	ErrNotFound = errors.New("not found")

	// ErrWrongCaller is returned when an entry point is invoked by an account
	// that is not permitted to invoke it.
	ErrWrongCaller = errors.New("wrong caller")

	// ErrWrongState is returned when an operation is attempted in a lease
	// state it is not valid for, including double activation and double
	// claim-back.
	ErrWrongState = errors.New("wrong lease state")

	// ErrAmountMismatch is returned when a received payment does not equal
	// the agreed price.
	ErrAmountMismatch = errors.New("amount does not match the agreed price")

	// ErrNotExpired is returned when claim-back is attempted before the
	// lease end time has passed.
	ErrNotExpired = errors.New("lease has not expired yet")

	// ErrDuplicateListing is returned when an asset already has a listing
	// or an open lease.
	ErrDuplicateListing = errors.New("asset is already listed or leased")

	// ErrPayoutMismatch is returned when a royalty split does not sum to the
	// price within tolerance. This is a pricing-integrity violation and
	// fails the whole creation.
	ErrPayoutMismatch = errors.New("payout does not sum to the price")

	// ErrNotAllowed is returned when a custody or payment contract is not on
	// the allow-list.
	ErrNotAllowed = errors.New("contract is not allowed")

	// ErrBadMessage is returned when an inter-contract message payload is
	// malformed or of an unknown kind.
	ErrBadMessage = errors.New("malformed message")

	// ErrBadDeposit is returned when an admin call does not attach exactly
	// one minimal unit as confirmation.
	ErrBadDeposit = errors.New("requires a deposit of exactly 1")

	// ErrSelfTransfer is returned when a receipt transfer names its current
	// holder as the new owner.
	ErrSelfTransfer = errors.New("receipt is already held by this account")
)
