package database

import (
	"database/sql"
	"fmt"
)

var (
	createLeasesTableSQL = `
CREATE TABLE IF NOT EXISTS %s_leases (
    lease_id          VARCHAR       NOT NULL,
    asset_contract    VARCHAR       NOT NULL,
    asset_id          VARCHAR       NOT NULL,
    lender_id         VARCHAR       NOT NULL,
    borrower_id       VARCHAR       NOT NULL,
    payment_contract  VARCHAR       NOT NULL,
    approval_id       BIGINT        NOT NULL,
    start_time        TIMESTAMPTZ   NOT NULL,
    end_time          TIMESTAMPTZ   NOT NULL,
    price             VARCHAR       NOT NULL,
    payout            JSONB         NOT NULL,
    state             VARCHAR       NOT NULL,
    custody_held      BOOLEAN       NOT NULL,

    PRIMARY KEY (lease_id)
);`

	createLeasesIndexSQL = `
CREATE UNIQUE INDEX IF NOT EXISTS %s_leases_asset_idx
ON %s_leases (asset_contract, asset_id);`

	createListingsTableSQL = `
CREATE TABLE IF NOT EXISTS %s_listings (
    asset_contract    VARCHAR       NOT NULL,
    asset_id          VARCHAR       NOT NULL,
    owner_id          VARCHAR       NOT NULL,
    payment_contract  VARCHAR       NOT NULL,
    approval_id       BIGINT        NOT NULL,
    start_time        TIMESTAMPTZ   NOT NULL,
    end_time          TIMESTAMPTZ   NOT NULL,
    price             VARCHAR       NOT NULL,
    payout            JSONB         NOT NULL,

    PRIMARY KEY (asset_contract, asset_id)
);`

	createListingsIndexSQL = `
CREATE INDEX IF NOT EXISTS %s_listings_owner_idx
ON %s_listings (owner_id);`
)

// Migrate creates the leases and listings tables with indexes.
func Migrate(db *sql.DB, tableName string) error {
	if err := createLeasesTable(db, tableName); err != nil {
		return err
	}

	if err := createLeasesIndex(db, tableName); err != nil {
		return err
	}

	if err := createListingsTable(db, tableName); err != nil {
		return err
	}

	if err := createListingsIndex(db, tableName); err != nil {
		return err
	}

	return nil
}

func createLeasesTable(db *sql.DB, tableName string) error {
	var query = fmt.Sprintf(createLeasesTableSQL, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create leases table: %w", err)
	}
	return nil
}

func createLeasesIndex(db *sql.DB, tableName string) error {
	var (
		indexName = fmt.Sprintf("%s_leases_asset_idx", tableName)
		query     = fmt.Sprintf(createLeasesIndexSQL, indexName, tableName)
	)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create leases index: %w", err)
	}
	return nil
}

func createListingsTable(db *sql.DB, tableName string) error {
	var query = fmt.Sprintf(createListingsTableSQL, tableName)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create listings table: %w", err)
	}
	return nil
}

func createListingsIndex(db *sql.DB, tableName string) error {
	var (
		indexName = fmt.Sprintf("%s_listings_owner_idx", tableName)
		query     = fmt.Sprintf(createListingsIndexSQL, indexName, tableName)
	)
	if _, err := db.Exec(query); err != nil {
		return fmt.Errorf("failed to create listings index: %w", err)
	}
	return nil
}
