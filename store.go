package assetlease

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"go-assetlease/database"
)

const defaultTablePrefix = "assetlease"

var (
	// ErrInvalidTablePrefix is returned when the table prefix contains invalid characters
	ErrInvalidTablePrefix = errors.New("table prefix must contain only lowercase letters, numbers, and underscores, and start with a letter")

	// validTablePrefixPattern validates PostgreSQL-safe identifiers
	validTablePrefixPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
)

// ValidateTablePrefix checks if the prefix is valid for use as a PostgreSQL identifier.
func ValidateTablePrefix(prefix string) error {
	if prefix == "" {
		return errors.New("table prefix cannot be empty")
	}
	if !validTablePrefixPattern.MatchString(prefix) {
		return ErrInvalidTablePrefix
	}
	return nil
}

// leaseStore handles all database operations for leases and listings.
type leaseStore struct {
	queries *database.Queries
}

// openLeaseStore validates the prefix, runs migrations, and returns a store.
func openLeaseStore(db *sql.DB, prefix string) (*leaseStore, error) {
	if err := ValidateTablePrefix(prefix); err != nil {
		return nil, fmt.Errorf("invalid table prefix: %w", err)
	}

	if err := database.Migrate(db, prefix); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &leaseStore{
		queries: database.NewQueries(db, prefix),
	}, nil
}

// ListLeases returns all stored leases.
func (ls *leaseStore) ListLeases(ctx context.Context) ([]*Lease, error) {
	var records, err = ls.queries.ListLeases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}

	var leases = make([]*Lease, len(records))
	for i, record := range records {
		lease, err := leaseFromRecord(record)
		if err != nil {
			return nil, err
		}
		leases[i] = lease
	}

	return leases, nil
}

// SaveLease writes a lease to the database.
func (ls *leaseStore) SaveLease(ctx context.Context, lease *Lease) error {
	record, err := leaseToRecord(lease)
	if err != nil {
		return err
	}

	if err := ls.queries.SetLease(ctx, record); err != nil {
		return fmt.Errorf("failed to save lease %s: %w", lease.ID, err)
	}

	return nil
}

// DeleteLease removes a lease from the database.
func (ls *leaseStore) DeleteLease(ctx context.Context, id LeaseID) error {
	if err := ls.queries.DeleteLease(ctx, string(id)); err != nil {
		return fmt.Errorf("failed to delete lease %s: %w", id, err)
	}
	return nil
}

// ListListings returns all stored listings.
func (ls *leaseStore) ListListings(ctx context.Context) ([]*Listing, error) {
	var records, err = ls.queries.ListListings(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}

	var listings = make([]*Listing, len(records))
	for i, record := range records {
		listing, err := listingFromRecord(record)
		if err != nil {
			return nil, err
		}
		listings[i] = listing
	}

	return listings, nil
}

// SaveListing writes a listing to the database.
func (ls *leaseStore) SaveListing(ctx context.Context, listing *Listing) error {
	record, err := listingToRecord(listing)
	if err != nil {
		return err
	}

	if err := ls.queries.SetListing(ctx, record); err != nil {
		return fmt.Errorf("failed to save listing %s/%s: %w", listing.Asset.Contract, listing.Asset.TokenID, err)
	}

	return nil
}

// DeleteListing removes a listing from the database.
func (ls *leaseStore) DeleteListing(ctx context.Context, asset AssetRef) error {
	if err := ls.queries.DeleteListing(ctx, string(asset.Contract), asset.TokenID); err != nil {
		return fmt.Errorf("failed to delete listing %s/%s: %w", asset.Contract, asset.TokenID, err)
	}
	return nil
}

func leaseToRecord(lease *Lease) (*database.LeaseRecord, error) {
	payout, err := json.Marshal(payoutField(lease.Payout))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payout for lease %s: %w", lease.ID, err)
	}

	return &database.LeaseRecord{
		LeaseID:         string(lease.ID),
		AssetContract:   string(lease.Asset.Contract),
		AssetID:         lease.Asset.TokenID,
		LenderID:        string(lease.LenderID),
		BorrowerID:      string(lease.BorrowerID),
		PaymentContract: string(lease.PaymentContract),
		ApprovalID:      int64(lease.ApprovalID),
		StartTime:       lease.StartTime,
		EndTime:         lease.EndTime,
		Price:           lease.Price.String(),
		Payout:          payout,
		State:           string(lease.State),
		CustodyHeld:     lease.CustodyHeld,
	}, nil
}

func leaseFromRecord(record *database.LeaseRecord) (*Lease, error) {
	price, err := parseAmount(record.Price)
	if err != nil {
		return nil, fmt.Errorf("stored lease %s has a bad price: %w", record.LeaseID, err)
	}

	var rawPayout map[string]string
	if err := json.Unmarshal(record.Payout, &rawPayout); err != nil {
		return nil, fmt.Errorf("stored lease %s has a bad payout: %w", record.LeaseID, err)
	}
	payout, err := parsePayoutField(rawPayout)
	if err != nil {
		return nil, fmt.Errorf("stored lease %s has a bad payout: %w", record.LeaseID, err)
	}

	return &Lease{
		ID:              LeaseID(record.LeaseID),
		Asset:           AssetRef{Contract: AccountID(record.AssetContract), TokenID: record.AssetID},
		LenderID:        AccountID(record.LenderID),
		BorrowerID:      AccountID(record.BorrowerID),
		PaymentContract: AccountID(record.PaymentContract),
		ApprovalID:      uint64(record.ApprovalID),
		StartTime:       record.StartTime.UTC(),
		EndTime:         record.EndTime.UTC(),
		Price:           price,
		Payout:          payout,
		State:           LeaseState(record.State),
		CustodyHeld:     record.CustodyHeld,
	}, nil
}

func listingToRecord(listing *Listing) (*database.ListingRecord, error) {
	payout, err := json.Marshal(payoutField(listing.Payout))
	if err != nil {
		return nil, fmt.Errorf("failed to encode payout for listing %s/%s: %w", listing.Asset.Contract, listing.Asset.TokenID, err)
	}

	return &database.ListingRecord{
		AssetContract:   string(listing.Asset.Contract),
		AssetID:         listing.Asset.TokenID,
		OwnerID:         string(listing.OwnerID),
		PaymentContract: string(listing.PaymentContract),
		ApprovalID:      int64(listing.ApprovalID),
		StartTime:       listing.StartTime,
		EndTime:         listing.EndTime,
		Price:           listing.Price.String(),
		Payout:          payout,
	}, nil
}

func listingFromRecord(record *database.ListingRecord) (*Listing, error) {
	price, err := parseAmount(record.Price)
	if err != nil {
		return nil, fmt.Errorf("stored listing %s/%s has a bad price: %w", record.AssetContract, record.AssetID, err)
	}

	var rawPayout map[string]string
	if err := json.Unmarshal(record.Payout, &rawPayout); err != nil {
		return nil, fmt.Errorf("stored listing %s/%s has a bad payout: %w", record.AssetContract, record.AssetID, err)
	}
	payout, err := parsePayoutField(rawPayout)
	if err != nil {
		return nil, fmt.Errorf("stored listing %s/%s has a bad payout: %w", record.AssetContract, record.AssetID, err)
	}

	return &Listing{
		Asset:           AssetRef{Contract: AccountID(record.AssetContract), TokenID: record.AssetID},
		OwnerID:         AccountID(record.OwnerID),
		PaymentContract: AccountID(record.PaymentContract),
		ApprovalID:      uint64(record.ApprovalID),
		StartTime:       record.StartTime.UTC(),
		EndTime:         record.EndTime.UTC(),
		Price:           price,
		Payout:          payout,
	}, nil
}
