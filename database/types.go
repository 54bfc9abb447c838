package database

import "time"

// LeaseRecord represents a lease record in the database.
type LeaseRecord struct {
	LeaseID         string
	AssetContract   string
	AssetID         string
	LenderID        string
	BorrowerID      string
	PaymentContract string
	ApprovalID      int64
	StartTime       time.Time
	EndTime         time.Time
	Price           string
	Payout          []byte
	State           string
	CustodyHeld     bool
}

// ListingRecord represents a marketplace listing record in the database.
type ListingRecord struct {
	AssetContract   string
	AssetID         string
	OwnerID         string
	PaymentContract string
	ApprovalID      int64
	StartTime       time.Time
	EndTime         time.Time
	Price           string
	Payout          []byte
}
