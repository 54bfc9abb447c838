package database

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is an interface that both sql.DB and sql.Tx implement.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Queries provides table-aware database operations.
type Queries struct {
	db        DBTX
	tableName string
}

// NewQueries creates a new Queries instance with the given table name.
func NewQueries(db DBTX, tableName string) *Queries {
	return &Queries{
		db:        db,
		tableName: tableName,
	}
}

var (
	getLeasesSQL = `
SELECT lease_id, asset_contract, asset_id, lender_id, borrower_id, payment_contract,
       approval_id, start_time, end_time, price, payout, state, custody_held
FROM %s_leases
ORDER BY lease_id ASC;`

	getLeaseSQL = `
SELECT lease_id, asset_contract, asset_id, lender_id, borrower_id, payment_contract,
       approval_id, start_time, end_time, price, payout, state, custody_held
FROM %s_leases
WHERE lease_id = $1;`

	setLeaseSQL = `
INSERT INTO %s_leases (lease_id, asset_contract, asset_id, lender_id, borrower_id,
                       payment_contract, approval_id, start_time, end_time, price,
                       payout, state, custody_held)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (lease_id)
DO UPDATE SET
    lender_id = EXCLUDED.lender_id,
    borrower_id = EXCLUDED.borrower_id,
    payment_contract = EXCLUDED.payment_contract,
    approval_id = EXCLUDED.approval_id,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    price = EXCLUDED.price,
    payout = EXCLUDED.payout,
    state = EXCLUDED.state,
    custody_held = EXCLUDED.custody_held;`

	deleteLeaseSQL = `
DELETE FROM %s_leases
WHERE lease_id = $1;`

	getListingsSQL = `
SELECT asset_contract, asset_id, owner_id, payment_contract, approval_id,
       start_time, end_time, price, payout
FROM %s_listings
ORDER BY asset_contract ASC, asset_id ASC;`

	getListingSQL = `
SELECT asset_contract, asset_id, owner_id, payment_contract, approval_id,
       start_time, end_time, price, payout
FROM %s_listings
WHERE asset_contract = $1 AND asset_id = $2;`

	setListingSQL = `
INSERT INTO %s_listings (asset_contract, asset_id, owner_id, payment_contract,
                         approval_id, start_time, end_time, price, payout)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (asset_contract, asset_id)
DO UPDATE SET
    owner_id = EXCLUDED.owner_id,
    payment_contract = EXCLUDED.payment_contract,
    approval_id = EXCLUDED.approval_id,
    start_time = EXCLUDED.start_time,
    end_time = EXCLUDED.end_time,
    price = EXCLUDED.price,
    payout = EXCLUDED.payout;`

	deleteListingSQL = `
DELETE FROM %s_listings
WHERE asset_contract = $1 AND asset_id = $2;`
)

// ListLeases returns all leases, ordered by lease id.
func (q *Queries) ListLeases(ctx context.Context) ([]*LeaseRecord, error) {
	var (
		query     = fmt.Sprintf(getLeasesSQL, q.tableName)
		rows, err = q.db.QueryContext(ctx, query)
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list leases: %w", err)
	}
	defer rows.Close()

	var leases []*LeaseRecord
	for rows.Next() {
		var lease LeaseRecord
		if err := rows.Scan(&lease.LeaseID, &lease.AssetContract, &lease.AssetID,
			&lease.LenderID, &lease.BorrowerID, &lease.PaymentContract, &lease.ApprovalID,
			&lease.StartTime, &lease.EndTime, &lease.Price, &lease.Payout,
			&lease.State, &lease.CustodyHeld); err != nil {
			return nil, fmt.Errorf("failed to scan lease: %w", err)
		}
		leases = append(leases, &lease)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return leases, nil
}

// GetLease retrieves a single lease by id.
func (q *Queries) GetLease(ctx context.Context, leaseID string) (*LeaseRecord, error) {
	var (
		query = fmt.Sprintf(getLeaseSQL, q.tableName)
		lease LeaseRecord
		err   = q.db.QueryRowContext(ctx, query, leaseID).Scan(
			&lease.LeaseID, &lease.AssetContract, &lease.AssetID,
			&lease.LenderID, &lease.BorrowerID, &lease.PaymentContract, &lease.ApprovalID,
			&lease.StartTime, &lease.EndTime, &lease.Price, &lease.Payout,
			&lease.State, &lease.CustodyHeld,
		)
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lease: %w", err)
	}

	return &lease, nil
}

// SetLease inserts or updates a lease.
func (q *Queries) SetLease(ctx context.Context, lease *LeaseRecord) error {
	var query = fmt.Sprintf(setLeaseSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query,
		lease.LeaseID, lease.AssetContract, lease.AssetID, lease.LenderID,
		lease.BorrowerID, lease.PaymentContract, lease.ApprovalID,
		lease.StartTime, lease.EndTime, lease.Price, lease.Payout,
		lease.State, lease.CustodyHeld,
	)
	if err != nil {
		return fmt.Errorf("failed to set lease: %w", err)
	}
	return nil
}

// DeleteLease removes a lease by id.
func (q *Queries) DeleteLease(ctx context.Context, leaseID string) error {
	var query = fmt.Sprintf(deleteLeaseSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query, leaseID)
	if err != nil {
		return fmt.Errorf("failed to delete lease: %w", err)
	}
	return nil
}

// ListListings returns all listings, ordered by asset.
func (q *Queries) ListListings(ctx context.Context) ([]*ListingRecord, error) {
	var (
		query     = fmt.Sprintf(getListingsSQL, q.tableName)
		rows, err = q.db.QueryContext(ctx, query)
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	defer rows.Close()

	var listings []*ListingRecord
	for rows.Next() {
		var listing ListingRecord
		if err := rows.Scan(&listing.AssetContract, &listing.AssetID, &listing.OwnerID,
			&listing.PaymentContract, &listing.ApprovalID, &listing.StartTime,
			&listing.EndTime, &listing.Price, &listing.Payout); err != nil {
			return nil, fmt.Errorf("failed to scan listing: %w", err)
		}
		listings = append(listings, &listing)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return listings, nil
}

// GetListing retrieves a single listing by asset.
func (q *Queries) GetListing(ctx context.Context, assetContract, assetID string) (*ListingRecord, error) {
	var (
		query   = fmt.Sprintf(getListingSQL, q.tableName)
		listing ListingRecord
		err     = q.db.QueryRowContext(ctx, query, assetContract, assetID).Scan(
			&listing.AssetContract, &listing.AssetID, &listing.OwnerID,
			&listing.PaymentContract, &listing.ApprovalID, &listing.StartTime,
			&listing.EndTime, &listing.Price, &listing.Payout,
		)
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}

	return &listing, nil
}

// SetListing inserts or updates a listing.
func (q *Queries) SetListing(ctx context.Context, listing *ListingRecord) error {
	var query = fmt.Sprintf(setListingSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query,
		listing.AssetContract, listing.AssetID, listing.OwnerID,
		listing.PaymentContract, listing.ApprovalID, listing.StartTime,
		listing.EndTime, listing.Price, listing.Payout,
	)
	if err != nil {
		return fmt.Errorf("failed to set listing: %w", err)
	}
	return nil
}

// DeleteListing removes a listing by asset.
func (q *Queries) DeleteListing(ctx context.Context, assetContract, assetID string) error {
	var query = fmt.Sprintf(deleteListingSQL, q.tableName)
	_, err := q.db.ExecContext(ctx, query, assetContract, assetID)
	if err != nil {
		return fmt.Errorf("failed to delete listing: %w", err)
	}
	return nil
}
