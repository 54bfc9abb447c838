package assetlease

import (
	"math/big"
	"time"
)

// AccountID identifies an account or contract in the surrounding network.
type AccountID string

// LeaseID is an opaque unique identifier for a lease.
type LeaseID string

// AssetRef identifies a single custodied asset by the custody contract
// holding it and the token id within that contract.
type AssetRef struct {
	Contract AccountID
	TokenID  string
}

// LeaseState tracks where a lease is in its lifecycle.
type LeaseState string

const (
	// LeaseStatePending means the lease terms are agreed but the asset has
	// not yet moved into the contract's custody.
	LeaseStatePending LeaseState = "pending"
	// LeaseStateActive means the asset is in custody and the lease is live.
	// An active lease is removed outright at claim-back, never transitioned.
	LeaseStateActive LeaseState = "active"
)

// Lease records the conditions of a single lease.
type Lease struct {
	ID              LeaseID
	Asset           AssetRef
	LenderID        AccountID
	BorrowerID      AccountID
	PaymentContract AccountID
	ApprovalID      uint64
	StartTime       time.Time
	EndTime         time.Time
	Price           *big.Int
	Payout          Payout
	State           LeaseState

	// CustodyHeld is set once the asset has provably moved into the
	// contract's custody.
	CustodyHeld bool

	// claimInFlight blocks a second claim-back while the reverse custody
	// transfer is still pending; a duplicate would double pay the rent.
	claimInFlight bool
}

// Listing is an advertised lease offer prior to borrower acceptance.
// At most one listing exists per asset at a time.
type Listing struct {
	OwnerID         AccountID
	ApprovalID      uint64
	Asset           AssetRef
	PaymentContract AccountID
	Price           *big.Int
	StartTime       time.Time
	EndTime         time.Time
	Payout          Payout
}

// Receipt describes an ownership receipt token. One exists per active
// lease and its holder is always the lease's current lender.
type Receipt struct {
	TokenID string
	OwnerID AccountID
	LeaseID LeaseID
}

// custodyHold marks an asset that was pushed into the contract's custody
// ahead of lease creation (the first leg of a listing acceptance).
type custodyHold struct {
	Asset       AssetRef
	OwnerID     AccountID
	InitiatorID AccountID
	ReceivedAt  time.Time

	releaseInFlight bool
}

// clone returns a deep copy so callers cannot mutate registry state.
func (l *Lease) clone() *Lease {
	var cp = *l
	cp.Price = new(big.Int).Set(l.Price)
	cp.Payout = l.Payout.clone()
	return &cp
}

// clone returns a deep copy of a listing.
func (l *Listing) clone() *Listing {
	var cp = *l
	cp.Price = new(big.Int).Set(l.Price)
	cp.Payout = l.Payout.clone()
	return &cp
}
