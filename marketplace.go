package assetlease

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sort"
	"sync"
)

// Marketplace is the listing escrow. It advertises lease offers and, on
// acceptance, runs the same custody-then-payment choreography one level up:
// the asset is forwarded into the lease contract's custody first, the rent
// second, and the listing is consumed only when both legs have confirmed.
type Marketplace struct {
	mu         sync.Mutex
	accountID  AccountID
	ownerID    AccountID
	treasuryID AccountID

	// rentalContract is the lease contract listings settle against.
	rentalContract AccountID

	listings           map[AssetRef]*Listing
	listingsByOwner    map[AccountID]map[AssetRef]struct{}
	listingsByContract map[AccountID]map[AssetRef]struct{}

	allowedCustodyContracts map[AccountID]struct{}
	allowedPaymentContracts map[AccountID]struct{}

	db           *sql.DB
	store        *leaseStore
	tablePrefix  string
	scheduler    Scheduler
	ownScheduler *serialScheduler
	options      options
}

// NewMarketplace creates the listing escrow contract. The db may be nil, in
// which case listings are not persisted across restarts.
func NewMarketplace(db *sql.DB, accountID, ownerID, treasuryID, rentalContract AccountID, opts ...Option) *Marketplace {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	var m = &Marketplace{
		accountID:               accountID,
		ownerID:                 ownerID,
		treasuryID:              treasuryID,
		rentalContract:          rentalContract,
		listings:                make(map[AssetRef]*Listing),
		listingsByOwner:         make(map[AccountID]map[AssetRef]struct{}),
		listingsByContract:      make(map[AccountID]map[AssetRef]struct{}),
		allowedCustodyContracts: make(map[AccountID]struct{}),
		allowedPaymentContracts: make(map[AccountID]struct{}),
		db:                      db,
		tablePrefix:             defaultTablePrefix,
		scheduler:               options.scheduler,
		options:                 options,
	}

	if m.scheduler == nil {
		m.ownScheduler = newSerialScheduler()
		m.scheduler = m.ownScheduler
	}

	return m
}

// Start runs migrations, reloads stored listings, and starts the background
// scheduler.
func (m *Marketplace) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.db != nil {
		store, err := openLeaseStore(m.db, m.tablePrefix)
		if err != nil {
			return err
		}
		m.store = store

		listings, err := store.ListListings(ctx)
		if err != nil {
			return fmt.Errorf("failed to load listings: %w", err)
		}
		for _, listing := range listings {
			m.insertListingLocked(listing)
		}

		m.options.logger.Info("listings reloaded from storage",
			"marketplace_id", m.accountID,
			"listings", len(listings))
	}

	if m.ownScheduler != nil {
		m.ownScheduler.start(ctx)
	}

	return nil
}

// Stop shuts down the background scheduler.
func (m *Marketplace) Stop() {
	if m.ownScheduler != nil {
		m.ownScheduler.stop()
	}
}

// ------------------ Notification entry points -----------------

// OnAssetApproved handles an approval notification from a custody contract
// and creates a listing. The asset identity comes from the caller and token
// id; the terms come from the attached message.
func (m *Marketplace) OnAssetApproved(ctx context.Context, caller AccountID, tokenID string, ownerID AccountID, approvalID uint64, message []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller == m.accountID {
		return fmt.Errorf("approval must come from a custody contract: %w", ErrWrongCaller)
	}
	if _, allowed := m.allowedCustodyContracts[caller]; !allowed {
		return fmt.Errorf("custody contract %s: %w", caller, ErrNotAllowed)
	}

	msg, err := parseListingTermsMessage(message)
	if err != nil {
		return err
	}
	if _, allowed := m.allowedPaymentContracts[msg.PaymentContract]; !allowed {
		return fmt.Errorf("payment contract %s: %w", msg.PaymentContract, ErrNotAllowed)
	}

	var asset = AssetRef{Contract: caller, TokenID: tokenID}
	if _, exists := m.listings[asset]; exists {
		return fmt.Errorf("asset %s/%s: %w", asset.Contract, asset.TokenID, ErrDuplicateListing)
	}

	// Price was validated during parsing.
	price, _ := parseAmount(msg.Price)

	payout, err := resolvePayout(ctx, m.options.custodyServices[caller], tokenID, price, ownerID)
	if err != nil {
		return err
	}

	var listing = &Listing{
		OwnerID:         ownerID,
		ApprovalID:      approvalID,
		Asset:           asset,
		PaymentContract: msg.PaymentContract,
		Price:           price,
		StartTime:       timeFromNano(msg.StartTsNano),
		EndTime:         timeFromNano(msg.EndTsNano),
		Payout:          payout,
	}

	if m.store != nil {
		if err := m.store.SaveListing(ctx, listing); err != nil {
			return err
		}
	}
	m.insertListingLocked(listing)

	m.options.logger.Info("listing created",
		"asset_contract", asset.Contract,
		"asset_id", asset.TokenID,
		"owner_id", ownerID,
		"price", price)

	return nil
}

// CancelListing removes a listing. Only the listing owner or the
// marketplace admin may cancel.
func (m *Marketplace) CancelListing(ctx context.Context, caller, assetContract AccountID, tokenID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var asset = AssetRef{Contract: assetContract, TokenID: tokenID}
	listing, exists := m.listings[asset]
	if !exists {
		return fmt.Errorf("listing %s/%s: %w", assetContract, tokenID, ErrNotFound)
	}
	if caller != listing.OwnerID && caller != m.ownerID {
		return fmt.Errorf("%s may not cancel this listing: %w", caller, ErrWrongCaller)
	}

	m.removeListingLocked(ctx, listing)
	m.options.logger.Info("listing cancelled", "asset_contract", assetContract, "asset_id", tokenID)
	return nil
}

// OnPaymentReceived handles a payment accepting a listing. The payer
// becomes the borrower. The returned amount is whatever was not consumed;
// a rejected acceptance refunds in full.
func (m *Marketplace) OnPaymentReceived(ctx context.Context, caller, sender AccountID, amount *big.Int, message []byte) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var refund = new(big.Int).Set(amount)

	msg, err := parseAcceptListingMessage(message)
	if err != nil {
		return refund, err
	}

	var asset = AssetRef{Contract: msg.AssetContract, TokenID: msg.AssetID}
	listing, exists := m.listings[asset]
	if !exists {
		return refund, fmt.Errorf("listing %s/%s: %w", asset.Contract, asset.TokenID, ErrNotFound)
	}
	if caller != listing.PaymentContract {
		return refund, fmt.Errorf("payment came from %s, listing expects %s: %w", caller, listing.PaymentContract, ErrWrongCaller)
	}
	if amount.Cmp(listing.Price) != 0 {
		return refund, fmt.Errorf("got %s, want %s: %w", amount, listing.Price, ErrAmountMismatch)
	}

	var custody = m.options.custodyServices[asset.Contract]
	if custody == nil {
		return refund, fmt.Errorf("custody contract %s is unreachable: %w", asset.Contract, ErrNotAllowed)
	}

	// Leg 1: forward the asset into the lease contract's custody. The rent
	// follows only after this leg confirms.
	var (
		approvalID = listing.ApprovalID
		rental     = m.rentalContract
		payload    = encodeMessage(&CustodyHoldMessage{Kind: msgKindCustodyHold})
		borrower   = sender
	)

	m.scheduler.Schedule(
		func(ctx context.Context) Outcome {
			revert, err := custody.TransferAndNotify(ctx, rental, asset.TokenID, &approvalID, nil, payload)
			return Outcome{Err: err, Revert: revert}
		},
		func(ctx context.Context, out Outcome) {
			m.resolveCustodyForward(ctx, m.accountID, asset, borrower, out)
		},
	)

	m.options.logger.Info("listing acceptance started",
		"asset_contract", asset.Contract,
		"asset_id", asset.TokenID,
		"borrower_id", borrower,
		"amount", amount)

	return big.NewInt(0), nil
}

// resolveCustodyForward observes leg 1 of an acceptance. On failure the
// listing stays intact and the payer is refunded; on success the rent is
// forwarded to the lease contract.
func (m *Marketplace) resolveCustodyForward(ctx context.Context, caller AccountID, asset AssetRef, borrower AccountID, out Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.accountID {
		m.options.logger.Warn("ignoring forged custody forward completion", "caller", caller)
		return
	}

	listing, exists := m.listings[asset]
	if !exists {
		m.options.logger.Error("custody forward resolved for unknown listing",
			"asset_contract", asset.Contract,
			"asset_id", asset.TokenID)
		return
	}

	if out.Err != nil || out.Revert {
		m.options.logger.Warn("custody forward failed, refunding borrower",
			"asset_contract", asset.Contract,
			"asset_id", asset.TokenID,
			"error", out.Err,
			"reverted", out.Revert)
		m.refundPayment(listing.PaymentContract, borrower, listing.Price, "listing custody forward failed")
		return
	}

	// Leg 2: forward the rent with the agreed terms and the payout that was
	// resolved at listing time.
	var payment = m.options.paymentServices[listing.PaymentContract]
	if payment == nil {
		m.options.logger.Error("payment contract unreachable after custody forward",
			"payment_contract", listing.PaymentContract)
		return
	}

	var (
		rental  = m.rentalContract
		amount  = new(big.Int).Set(listing.Price)
		payload = encodeMessage(&FinalizeListingMessage{
			Kind:          msgKindFinalizeListing,
			AssetContract: asset.Contract,
			AssetID:       asset.TokenID,
			BorrowerID:    borrower,
			Price:         listing.Price.String(),
			StartTsNano:   listing.StartTime.UnixNano(),
			EndTsNano:     listing.EndTime.UnixNano(),
			Payout:        payoutField(listing.Payout),
		})
	)

	m.scheduler.Schedule(
		func(ctx context.Context) Outcome {
			unused, err := payment.TransferAndNotify(ctx, rental, amount, nil, payload)
			return Outcome{Err: err, Unused: unused}
		},
		func(ctx context.Context, out Outcome) {
			m.resolveAcceptance(ctx, m.accountID, asset, borrower, out)
		},
	)
}

// resolveAcceptance is the combined-step monitor for both legs of an
// acceptance. Only when the rent forwarding confirms is the listing
// consumed; otherwise it stays queryable for retry.
func (m *Marketplace) resolveAcceptance(ctx context.Context, caller AccountID, asset AssetRef, borrower AccountID, out Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if caller != m.accountID {
		m.options.logger.Warn("ignoring forged acceptance completion", "caller", caller)
		return
	}

	listing, exists := m.listings[asset]
	if !exists {
		m.options.logger.Error("acceptance resolved for unknown listing",
			"asset_contract", asset.Contract,
			"asset_id", asset.TokenID)
		return
	}

	if out.Err != nil {
		// A failed forwarding call returns the full amount to us.
		m.options.logger.Warn("rent forwarding failed, refunding borrower",
			"asset_contract", asset.Contract,
			"asset_id", asset.TokenID,
			"error", out.Err)
		m.refundPayment(listing.PaymentContract, borrower, listing.Price, "listing finalize failed")
		return
	}
	if out.Unused != nil && out.Unused.Sign() > 0 {
		// The lease contract bounced some or all of the rent back to us;
		// return it to the borrower and keep the listing.
		m.options.logger.Warn("lease contract rejected forwarded rent, refunding borrower",
			"asset_contract", asset.Contract,
			"asset_id", asset.TokenID,
			"unused", out.Unused)
		m.refundPayment(listing.PaymentContract, borrower, out.Unused, "listing finalize rejected")
		return
	}

	m.removeListingLocked(ctx, listing)

	m.options.logger.Info("listing accepted",
		"asset_contract", asset.Contract,
		"asset_id", asset.TokenID,
		"borrower_id", borrower)
}

// refundPayment schedules a transfer returning funds to a payer.
func (m *Marketplace) refundPayment(paymentContract, payer AccountID, amount *big.Int, reason string) {
	var payment = m.options.paymentServices[paymentContract]
	if payment == nil {
		m.options.logger.Error("cannot refund, payment contract unreachable",
			"payment_contract", paymentContract,
			"payer", payer)
		return
	}

	var (
		to     = payer
		value  = new(big.Int).Set(amount)
		logger = m.options.logger
	)
	m.scheduler.Schedule(
		func(ctx context.Context) Outcome {
			return Outcome{Err: payment.Transfer(ctx, to, value, &reason)}
		},
		func(ctx context.Context, out Outcome) {
			if out.Err != nil {
				logger.Error("refund failed", "payer", to, "amount", value, "error", out.Err)
			}
		},
	)
}

// ------------------ Queries -----------------

// ListingByAsset returns the listing covering an asset, if any.
func (m *Marketplace) ListingByAsset(assetContract AccountID, tokenID string) (*Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	listing, exists := m.listings[AssetRef{Contract: assetContract, TokenID: tokenID}]
	if !exists {
		return nil, fmt.Errorf("listing %s/%s: %w", assetContract, tokenID, ErrNotFound)
	}
	return listing.clone(), nil
}

// ListingsByOwner returns all listings created by an owner.
func (m *Marketplace) ListingsByOwner(owner AccountID) []*Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectListings(m.listingsByOwner[owner])
}

// ListingsByCustodyContract returns all listings whose asset lives on the
// given custody contract.
func (m *Marketplace) ListingsByCustodyContract(contract AccountID) []*Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.collectListings(m.listingsByContract[contract])
}

func (m *Marketplace) collectListings(set map[AssetRef]struct{}) []*Listing {
	var refs = make([]AssetRef, 0, len(set))
	for ref := range set {
		refs = append(refs, ref)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Contract != refs[j].Contract {
			return refs[i].Contract < refs[j].Contract
		}
		return refs[i].TokenID < refs[j].TokenID
	})

	var listings = make([]*Listing, len(refs))
	for i, ref := range refs {
		listings[i] = m.listings[ref].clone()
	}
	return listings
}

// AllowedCustodyContracts lists the allow-listed custody contracts.
func (m *Marketplace) AllowedCustodyContracts() []AccountID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedAccounts(m.allowedCustodyContracts)
}

// AllowedPaymentContracts lists the allow-listed payment contracts.
func (m *Marketplace) AllowedPaymentContracts() []AccountID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return sortedAccounts(m.allowedPaymentContracts)
}

// ------------------ Admin -----------------

// SetTreasury changes the treasury account. Owner only; requires a
// confirmation deposit of exactly one minimal unit.
func (m *Marketplace) SetTreasury(caller AccountID, deposit *big.Int, treasury AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAdmin(caller, deposit); err != nil {
		return err
	}
	m.treasuryID = treasury
	return nil
}

// AddAllowedCustodyContracts adds custody contracts to the allow-list.
func (m *Marketplace) AddAllowedCustodyContracts(caller AccountID, deposit *big.Int, ids []AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAdmin(caller, deposit); err != nil {
		return err
	}
	for _, id := range ids {
		m.allowedCustodyContracts[id] = struct{}{}
	}
	return nil
}

// RemoveAllowedCustodyContracts removes custody contracts from the
// allow-list. Existing listings are unaffected.
func (m *Marketplace) RemoveAllowedCustodyContracts(caller AccountID, deposit *big.Int, ids []AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAdmin(caller, deposit); err != nil {
		return err
	}
	for _, id := range ids {
		delete(m.allowedCustodyContracts, id)
	}
	return nil
}

// AddAllowedPaymentContracts adds payment contracts to the allow-list.
func (m *Marketplace) AddAllowedPaymentContracts(caller AccountID, deposit *big.Int, ids []AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAdmin(caller, deposit); err != nil {
		return err
	}
	for _, id := range ids {
		m.allowedPaymentContracts[id] = struct{}{}
	}
	return nil
}

// RemoveAllowedPaymentContracts removes payment contracts from the
// allow-list.
func (m *Marketplace) RemoveAllowedPaymentContracts(caller AccountID, deposit *big.Int, ids []AccountID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkAdmin(caller, deposit); err != nil {
		return err
	}
	for _, id := range ids {
		delete(m.allowedPaymentContracts, id)
	}
	return nil
}

func (m *Marketplace) checkAdmin(caller AccountID, deposit *big.Int) error {
	if caller != m.ownerID {
		return fmt.Errorf("%s is not the marketplace owner: %w", caller, ErrWrongCaller)
	}
	if deposit == nil || deposit.Cmp(big.NewInt(1)) != 0 {
		return ErrBadDeposit
	}
	return nil
}

// ------------------ Internal helpers -----------------

func (m *Marketplace) insertListingLocked(listing *Listing) {
	m.listings[listing.Asset] = listing

	var byOwner, ownerExists = m.listingsByOwner[listing.OwnerID]
	if !ownerExists {
		byOwner = make(map[AssetRef]struct{})
		m.listingsByOwner[listing.OwnerID] = byOwner
	}
	byOwner[listing.Asset] = struct{}{}

	var byContract, contractExists = m.listingsByContract[listing.Asset.Contract]
	if !contractExists {
		byContract = make(map[AssetRef]struct{})
		m.listingsByContract[listing.Asset.Contract] = byContract
	}
	byContract[listing.Asset] = struct{}{}
}

func (m *Marketplace) removeListingLocked(ctx context.Context, listing *Listing) {
	delete(m.listings, listing.Asset)

	var byOwner = m.listingsByOwner[listing.OwnerID]
	delete(byOwner, listing.Asset)
	if len(byOwner) == 0 {
		delete(m.listingsByOwner, listing.OwnerID)
	}

	var byContract = m.listingsByContract[listing.Asset.Contract]
	delete(byContract, listing.Asset)
	if len(byContract) == 0 {
		delete(m.listingsByContract, listing.Asset.Contract)
	}

	if m.store != nil {
		if err := m.store.DeleteListing(ctx, listing.Asset); err != nil {
			m.options.logger.Error("failed to delete stored listing",
				"asset_contract", listing.Asset.Contract,
				"asset_id", listing.Asset.TokenID,
				"error", err)
		}
	}
}
