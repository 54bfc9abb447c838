package assetlease

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"sort"
	"sync"
)

// Contract is the lease escrow contract. It custodies leased assets, holds
// the rent until claim-back, and keeps the lease registry consistent across
// the multi-step handshakes with custody and payment contracts.
//
// Every entry point runs to completion under a single lock before the next
// one is processed. External calls never run under that lock; they are
// scheduled, and their outcomes come back through self-only continuations.
type Contract struct {
	mu        sync.Mutex
	accountID AccountID
	ownerID   AccountID

	registry *registry
	holds    map[AssetRef]*custodyHold

	allowedPaymentContracts map[AccountID]struct{}

	db           *sql.DB
	store        *leaseStore
	tablePrefix  string
	scheduler    Scheduler
	ownScheduler *serialScheduler
	options      options
}

// NewContract creates the lease contract. The db may be nil, in which case
// nothing is persisted across restarts. Start must be called before the
// contract processes notifications.
func NewContract(db *sql.DB, accountID, ownerID AccountID, opts ...Option) *Contract {
	var options = defaultOptions()
	for _, opt := range opts {
		opt(&options)
	}

	var c = &Contract{
		accountID:               accountID,
		ownerID:                 ownerID,
		registry:                newRegistry(),
		holds:                   make(map[AssetRef]*custodyHold),
		allowedPaymentContracts: make(map[AccountID]struct{}),
		db:                      db,
		tablePrefix:             defaultTablePrefix,
		scheduler:               options.scheduler,
		options:                 options,
	}

	if c.scheduler == nil {
		c.ownScheduler = newSerialScheduler()
		c.scheduler = c.ownScheduler
	}

	return c
}

// Start runs migrations, rebuilds the registry from stored records, and
// starts the background scheduler.
func (c *Contract) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db != nil {
		store, err := openLeaseStore(c.db, c.tablePrefix)
		if err != nil {
			return err
		}
		c.store = store

		leases, err := store.ListLeases(ctx)
		if err != nil {
			return fmt.Errorf("failed to load leases: %w", err)
		}
		for _, l := range leases {
			if err := c.registry.insert(l); err != nil {
				return fmt.Errorf("failed to rebuild registry: %w", err)
			}
		}

		c.options.logger.Info("registry rebuilt from storage",
			"contract_id", c.accountID,
			"leases", len(leases))
	}

	if c.ownScheduler != nil {
		c.ownScheduler.start(ctx)
	}

	return nil
}

// Stop shuts down the background scheduler. Already-queued external calls
// still complete.
func (c *Contract) Stop() {
	if c.ownScheduler != nil {
		c.ownScheduler.stop()
	}
}

// AccountID returns the contract's own account identity.
func (c *Contract) AccountID() AccountID {
	return c.accountID
}

// ------------------ Notification entry points -----------------

// OnAssetApproved handles an approval notification from a custody contract.
// The attached message carries the lease terms; a new pending lease is
// recorded with a resolved payout. The custody transfer itself happens
// later, when the borrower pays.
func (c *Contract) OnAssetApproved(ctx context.Context, caller AccountID, tokenID string, ownerID AccountID, approvalID uint64, message []byte) (LeaseID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := parseLeaseTermsMessage(message)
	if err != nil {
		return "", err
	}

	if caller == c.accountID {
		return "", fmt.Errorf("approval must come from a custody contract: %w", ErrWrongCaller)
	}
	if _, allowed := c.allowedPaymentContracts[msg.PaymentContract]; !allowed {
		return "", fmt.Errorf("payment contract %s: %w", msg.PaymentContract, ErrNotAllowed)
	}

	var asset = AssetRef{Contract: caller, TokenID: tokenID}
	if _, exists := c.registry.leaseByAsset(asset); exists {
		return "", fmt.Errorf("asset %s/%s: %w", asset.Contract, asset.TokenID, ErrDuplicateListing)
	}

	// Price was validated during parsing.
	price, _ := parseAmount(msg.Price)

	payout, err := resolvePayout(ctx, c.custodyFor(caller), tokenID, price, ownerID)
	if err != nil {
		return "", err
	}

	var lease = &Lease{
		ID:              c.options.idGenerator.NewLeaseID(),
		Asset:           asset,
		LenderID:        ownerID,
		BorrowerID:      msg.BorrowerID,
		PaymentContract: msg.PaymentContract,
		ApprovalID:      approvalID,
		StartTime:       timeFromNano(msg.StartTsNano),
		EndTime:         timeFromNano(msg.EndTsNano),
		Price:           price,
		Payout:          payout,
		State:           LeaseStatePending,
	}

	if err := c.registry.insert(lease); err != nil {
		return "", err
	}
	if err := c.persistLease(ctx, lease); err != nil {
		// Creation is atomic: nothing may remain observable on failure.
		_ = c.registry.remove(lease.ID)
		return "", err
	}

	c.options.logger.Info("lease created",
		"lease_id", lease.ID,
		"asset_contract", asset.Contract,
		"asset_id", asset.TokenID,
		"lender_id", lease.LenderID,
		"borrower_id", lease.BorrowerID,
		"price", lease.Price)

	return lease.ID, nil
}

// OnPaymentReceived handles a payment notification. The returned amount is
// whatever was not consumed; the payment contract refunds it to the sender.
// A rejected payment refunds in full.
func (c *Contract) OnPaymentReceived(ctx context.Context, caller, sender AccountID, amount *big.Int, message []byte) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var refund = new(big.Int).Set(amount)

	msg, err := parsePaymentMessage(message)
	if err != nil {
		return refund, err
	}

	switch m := msg.(type) {
	case *PayLeaseMessage:
		if err := c.acceptLeasePayment(ctx, caller, sender, amount, m.LeaseID); err != nil {
			return refund, err
		}
	case *FinalizeListingMessage:
		if err := c.finalizeListing(ctx, caller, sender, amount, m); err != nil {
			return refund, err
		}
	}

	return big.NewInt(0), nil
}

// acceptLeasePayment is the payment-push side of the direct flow: the
// borrower paid the rent, so pull the asset into custody using the stored
// approval. Activation happens only when the custody contract confirms the
// transfer back through OnAssetReceived.
func (c *Contract) acceptLeasePayment(ctx context.Context, caller, sender AccountID, amount *big.Int, leaseID LeaseID) error {
	lease, err := c.registry.get(leaseID)
	if err != nil {
		return err
	}

	if lease.State != LeaseStatePending {
		return fmt.Errorf("lease %s is %s: %w", leaseID, lease.State, ErrWrongState)
	}
	if caller != lease.PaymentContract {
		return fmt.Errorf("payment came from %s, lease expects %s: %w", caller, lease.PaymentContract, ErrWrongCaller)
	}
	if sender != lease.BorrowerID {
		return fmt.Errorf("%s is not the borrower of lease %s: %w", sender, leaseID, ErrWrongCaller)
	}
	if amount.Cmp(lease.Price) != 0 {
		return fmt.Errorf("got %s, want %s: %w", amount, lease.Price, ErrAmountMismatch)
	}

	var custody = c.custodyFor(lease.Asset.Contract)
	if custody == nil {
		return fmt.Errorf("custody contract %s is unreachable: %w", lease.Asset.Contract, ErrNotAllowed)
	}

	var (
		approvalID = lease.ApprovalID
		tokenID    = lease.Asset.TokenID
		payload    = encodeMessage(&ActivateLeaseMessage{Kind: msgKindActivateLease, LeaseID: leaseID})
	)

	c.scheduler.Schedule(
		func(ctx context.Context) Outcome {
			revert, err := custody.TransferAndNotify(ctx, c.accountID, tokenID, &approvalID, nil, payload)
			return Outcome{Err: err, Revert: revert}
		},
		func(ctx context.Context, out Outcome) {
			c.resolveCustodyPull(ctx, c.accountID, leaseID, sender, out)
		},
	)

	c.options.logger.Info("rent received, pulling asset into custody",
		"lease_id", leaseID,
		"borrower_id", sender,
		"amount", amount)

	return nil
}

// resolveCustodyPull observes the outcome of the custody pull issued by
// acceptLeasePayment. On failure the lease stays pending and the rent is
// sent back to the payer.
func (c *Contract) resolveCustodyPull(ctx context.Context, caller AccountID, leaseID LeaseID, payer AccountID, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.accountID {
		c.options.logger.Warn("ignoring forged custody pull completion", "caller", caller)
		return
	}

	lease, err := c.registry.get(leaseID)
	if err != nil {
		c.options.logger.Error("custody pull resolved for unknown lease", "lease_id", leaseID, "error", err)
		return
	}

	if out.Err == nil && !out.Revert {
		// Activation already happened inside the transfer notification.
		if lease.State != LeaseStateActive {
			c.options.logger.Error("custody pull completed but lease is not active", "lease_id", leaseID)
		}
		return
	}

	c.options.logger.Warn("custody pull failed, refunding rent",
		"lease_id", leaseID,
		"payer", payer,
		"error", out.Err,
		"reverted", out.Revert)

	c.refundPayment(lease.PaymentContract, payer, lease.Price, "lease custody pull failed")
}

// finalizeListing is the second leg of a listing acceptance: the
// marketplace forwarded the rent after the asset arrived under a custody
// hold. Only the account that escrowed the hold may finalize it; the terms
// still in flight are whatever that account forwards. Both legs have now
// succeeded, so the lease is created with the forwarded payout and
// activated in one step.
func (c *Contract) finalizeListing(ctx context.Context, caller, sender AccountID, amount *big.Int, msg *FinalizeListingMessage) error {
	var asset = AssetRef{Contract: msg.AssetContract, TokenID: msg.AssetID}

	hold, held := c.holds[asset]
	if !held {
		return fmt.Errorf("no custody hold for %s/%s: %w", asset.Contract, asset.TokenID, ErrNotFound)
	}
	if sender != hold.InitiatorID {
		return fmt.Errorf("finalize sent by %s, hold was escrowed by %s: %w", sender, hold.InitiatorID, ErrWrongCaller)
	}
	if hold.releaseInFlight {
		return fmt.Errorf("hold for %s/%s is being released: %w", asset.Contract, asset.TokenID, ErrWrongState)
	}

	if _, allowed := c.allowedPaymentContracts[caller]; !allowed {
		return fmt.Errorf("payment contract %s: %w", caller, ErrNotAllowed)
	}

	// Price and payout were syntax-checked during parsing.
	price, _ := parseAmount(msg.Price)
	if amount.Cmp(price) != 0 {
		return fmt.Errorf("got %s, want %s: %w", amount, price, ErrAmountMismatch)
	}
	payout, err := parsePayoutField(msg.Payout)
	if err != nil {
		return err
	}
	if err := validatePayout(payout, price); err != nil {
		return err
	}

	var lease = &Lease{
		ID:              c.options.idGenerator.NewLeaseID(),
		Asset:           asset,
		LenderID:        hold.OwnerID,
		BorrowerID:      msg.BorrowerID,
		PaymentContract: caller,
		StartTime:       timeFromNano(msg.StartTsNano),
		EndTime:         timeFromNano(msg.EndTsNano),
		Price:           price,
		Payout:          payout,
		State:           LeaseStatePending,
		CustodyHeld:     true,
	}

	if err := c.registry.insert(lease); err != nil {
		return err
	}
	if err := c.activateLease(ctx, lease); err != nil {
		_ = c.registry.remove(lease.ID)
		return err
	}

	delete(c.holds, asset)
	return nil
}

// OnAssetReceived handles a transfer notification from a custody contract.
// The returned bool asks the custody contract to revert the transfer.
func (c *Contract) OnAssetReceived(ctx context.Context, caller, sender, previousOwner AccountID, tokenID string, message []byte) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg, err := parseTransferMessage(message)
	if err != nil {
		return true, err
	}

	switch m := msg.(type) {
	case *ActivateLeaseMessage:
		return c.receiveActivationTransfer(ctx, caller, sender, tokenID, m.LeaseID)
	case *CustodyHoldMessage:
		return c.receiveCustodyHold(caller, sender, previousOwner, tokenID)
	}

	return true, fmt.Errorf("unhandled transfer message: %w", ErrBadMessage)
}

// receiveActivationTransfer completes the direct flow. Only transfers the
// contract initiated for itself may activate a lease; anything else is a
// forged completion notification.
func (c *Contract) receiveActivationTransfer(ctx context.Context, caller, sender AccountID, tokenID string, leaseID LeaseID) (bool, error) {
	if sender != c.accountID {
		return true, fmt.Errorf("activation transfer sent by %s, not by this contract: %w", sender, ErrWrongCaller)
	}

	lease, err := c.registry.get(leaseID)
	if err != nil {
		return true, err
	}
	if caller != lease.Asset.Contract || tokenID != lease.Asset.TokenID {
		return true, fmt.Errorf("transfer of %s/%s does not match lease %s: %w", caller, tokenID, leaseID, ErrBadMessage)
	}
	if lease.State != LeaseStatePending {
		return true, fmt.Errorf("lease %s is %s: %w", leaseID, lease.State, ErrWrongState)
	}

	lease.CustodyHeld = true
	if err := c.activateLease(ctx, lease); err != nil {
		lease.CustodyHeld = false
		return true, err
	}

	return false, nil
}

// receiveCustodyHold records a pre-lease escrow push (the first leg of a
// listing acceptance). Any sender may escrow an asset it controls; the
// previous owner is remembered as the lender-to-be and the sender as the
// only account allowed to finalize the hold.
func (c *Contract) receiveCustodyHold(caller, sender, previousOwner AccountID, tokenID string) (bool, error) {
	var asset = AssetRef{Contract: caller, TokenID: tokenID}

	if hold, exists := c.holds[asset]; exists {
		// A retried acceptance pushes an asset the contract already holds.
		// Confirm the push for the original initiator so the retry can
		// proceed to its payment leg instead of stranding the hold.
		if sender == hold.InitiatorID && !hold.releaseInFlight {
			return false, nil
		}
		return true, fmt.Errorf("asset %s/%s is already held: %w", asset.Contract, asset.TokenID, ErrDuplicateListing)
	}
	if _, leased := c.registry.leaseByAsset(asset); leased {
		return true, fmt.Errorf("asset %s/%s: %w", asset.Contract, asset.TokenID, ErrDuplicateListing)
	}

	c.holds[asset] = &custodyHold{
		Asset:       asset,
		OwnerID:     previousOwner,
		InitiatorID: sender,
		ReceivedAt:  c.options.now(),
	}

	c.options.logger.Info("custody hold recorded",
		"asset_contract", asset.Contract,
		"asset_id", asset.TokenID,
		"owner_id", previousOwner,
		"initiator_id", sender)

	return false, nil
}

// ReleaseCustodyHold returns a held asset to its owner when the acceptance
// that escrowed it was abandoned. Only the asset's owner or the contract
// admin may release; the hold is removed once the custody contract confirms
// the return transfer.
func (c *Contract) ReleaseCustodyHold(ctx context.Context, caller, assetContract AccountID, tokenID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var asset = AssetRef{Contract: assetContract, TokenID: tokenID}
	hold, held := c.holds[asset]
	if !held {
		return fmt.Errorf("no custody hold for %s/%s: %w", assetContract, tokenID, ErrNotFound)
	}
	if caller != hold.OwnerID && caller != c.ownerID {
		return fmt.Errorf("%s may not release this hold: %w", caller, ErrWrongCaller)
	}
	if hold.releaseInFlight {
		return fmt.Errorf("hold release for %s/%s already in flight: %w", assetContract, tokenID, ErrWrongState)
	}

	var custody = c.custodyFor(assetContract)
	if custody == nil {
		return fmt.Errorf("custody contract %s is unreachable: %w", assetContract, ErrNotAllowed)
	}

	hold.releaseInFlight = true

	var (
		owner = hold.OwnerID
		memo  = fmt.Sprintf("release of held asset %s/%s", assetContract, tokenID)
	)

	c.scheduler.Schedule(
		func(ctx context.Context) Outcome {
			return Outcome{Err: custody.Transfer(ctx, owner, tokenID, nil, &memo)}
		},
		func(ctx context.Context, out Outcome) {
			c.resolveHoldRelease(ctx, c.accountID, asset, out)
		},
	)

	c.options.logger.Info("custody hold release started",
		"asset_contract", assetContract,
		"asset_id", tokenID,
		"caller", caller)

	return nil
}

// resolveHoldRelease observes the return transfer of a released hold. On
// failure the hold stays recorded so the release can be retried.
func (c *Contract) resolveHoldRelease(ctx context.Context, caller AccountID, asset AssetRef, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.accountID {
		c.options.logger.Warn("ignoring forged hold release completion", "caller", caller)
		return
	}

	hold, held := c.holds[asset]
	if !held {
		c.options.logger.Error("hold release resolved for unknown hold",
			"asset_contract", asset.Contract,
			"asset_id", asset.TokenID)
		return
	}

	hold.releaseInFlight = false

	if out.Err != nil {
		c.options.logger.Warn("hold release transfer failed, hold kept",
			"asset_contract", asset.Contract,
			"asset_id", asset.TokenID,
			"error", out.Err)
		return
	}

	delete(c.holds, asset)

	c.options.logger.Info("custody hold released",
		"asset_contract", asset.Contract,
		"asset_id", asset.TokenID,
		"owner_id", hold.OwnerID)
}

// activateLease runs the state machine transition and seeds the active
// mirrors. The ownership receipt comes into existence here; its id is
// derived from the lease id, so nothing extra is minted.
func (c *Contract) activateLease(ctx context.Context, lease *Lease) error {
	if err := lease.activate(); err != nil {
		return err
	}
	if err := c.registry.markActive(lease.ID); err != nil {
		return err
	}
	if err := c.persistLease(ctx, lease); err != nil {
		// Custody already moved; the registry stays authoritative and the
		// durable copy catches up on the next write.
		c.options.logger.Error("failed to persist activated lease", "lease_id", lease.ID, "error", err)
	}

	c.options.logger.Info("lease activated",
		"lease_id", lease.ID,
		"receipt_id", receiptIDForLease(lease.ID),
		"lender_id", lease.LenderID,
		"borrower_id", lease.BorrowerID)

	return nil
}

// ClaimBack returns the asset to the lender after the lease expired and
// distributes the rent per the stored payout. The lease is deleted only
// after the custody contract confirms the reverse transfer.
func (c *Contract) ClaimBack(ctx context.Context, caller AccountID, leaseID LeaseID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	lease, err := c.registry.get(leaseID)
	if err != nil {
		return err
	}
	if err := lease.checkClaimBack(caller, c.ownerID, c.options.now()); err != nil {
		return err
	}

	var custody = c.custodyFor(lease.Asset.Contract)
	if custody == nil {
		return fmt.Errorf("custody contract %s is unreachable: %w", lease.Asset.Contract, ErrNotAllowed)
	}

	lease.claimInFlight = true

	var (
		lender  = lease.LenderID
		tokenID = lease.Asset.TokenID
		memo    = fmt.Sprintf("claim-back of lease %s", leaseID)
	)

	c.scheduler.Schedule(
		func(ctx context.Context) Outcome {
			return Outcome{Err: custody.Transfer(ctx, lender, tokenID, nil, &memo)}
		},
		func(ctx context.Context, out Outcome) {
			c.resolveClaimBack(ctx, c.accountID, leaseID, out)
		},
	)

	c.options.logger.Info("claim-back started", "lease_id", leaseID, "caller", caller)
	return nil
}

// resolveClaimBack observes the reverse custody transfer. On failure the
// lease stays active and undeleted so claim-back can be retried; on success
// the payout is distributed and the lease removed, receipt included.
func (c *Contract) resolveClaimBack(ctx context.Context, caller AccountID, leaseID LeaseID, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.accountID {
		c.options.logger.Warn("ignoring forged claim-back completion", "caller", caller)
		return
	}

	lease, err := c.registry.get(leaseID)
	if err != nil {
		c.options.logger.Error("claim-back resolved for unknown lease", "lease_id", leaseID, "error", err)
		return
	}

	lease.claimInFlight = false

	if out.Err != nil {
		c.options.logger.Warn("reverse custody transfer failed, lease stays active",
			"lease_id", leaseID,
			"error", out.Err)
		return
	}

	c.distributePayout(lease)

	_ = c.registry.remove(leaseID)
	if err := c.deleteLeaseRecord(ctx, leaseID); err != nil {
		c.options.logger.Error("failed to delete stored lease", "lease_id", leaseID, "error", err)
	}

	c.options.logger.Info("lease closed",
		"lease_id", leaseID,
		"lender_id", lease.LenderID,
		"recipients", len(lease.Payout))
}

// distributePayout requests one payment transfer per recipient. Individual
// failures are surfaced per recipient and do not block lease removal; the
// transfers have all been requested.
func (c *Contract) distributePayout(lease *Lease) {
	var payment = c.paymentFor(lease.PaymentContract)
	if payment == nil {
		c.options.logger.Error("payment contract unreachable, rent kept in contract",
			"lease_id", lease.ID,
			"payment_contract", lease.PaymentContract)
		return
	}

	var recipients = make([]AccountID, 0, len(lease.Payout))
	for recipient := range lease.Payout {
		recipients = append(recipients, recipient)
	}
	sort.Slice(recipients, func(i, j int) bool { return recipients[i] < recipients[j] })

	var memo = fmt.Sprintf("payout of lease %s", lease.ID)
	for _, recipient := range recipients {
		var (
			to     = recipient
			amount = new(big.Int).Set(lease.Payout[recipient])
		)
		c.scheduler.Schedule(
			func(ctx context.Context) Outcome {
				return Outcome{Err: payment.Transfer(ctx, to, amount, &memo)}
			},
			func(ctx context.Context, out Outcome) {
				if out.Err != nil {
					c.options.logger.Error("payout transfer failed",
						"lease_id", lease.ID,
						"recipient", to,
						"amount", amount,
						"error", out.Err)
				}
			},
		)
	}
}

// refundPayment schedules a transfer returning funds to a payer.
func (c *Contract) refundPayment(paymentContract, payer AccountID, amount *big.Int, reason string) {
	var payment = c.paymentFor(paymentContract)
	if payment == nil {
		c.options.logger.Error("cannot refund, payment contract unreachable",
			"payment_contract", paymentContract,
			"payer", payer)
		return
	}

	var (
		to     = payer
		value  = new(big.Int).Set(amount)
		logger = c.options.logger
	)
	c.scheduler.Schedule(
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

// Lease returns a copy of the lease with the given id.
func (c *Contract) Lease(id LeaseID) (*Lease, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lease, err := c.registry.get(id)
	if err != nil {
		return nil, err
	}
	return lease.clone(), nil
}

// LeasesByLender returns all leases lent by the account.
func (c *Contract) LeasesByLender(lender AccountID) []*Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneLeases(c.registry.leasesByLender(lender))
}

// LeasesByBorrower returns all leases borrowed by the account.
func (c *Contract) LeasesByBorrower(borrower AccountID) []*Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneLeases(c.registry.leasesByBorrower(borrower))
}

// ActiveLeasesByLender returns the lender's active leases.
func (c *Contract) ActiveLeasesByLender(lender AccountID) []*Lease {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneLeases(c.registry.activeLeasesByLender(lender))
}

// BorrowerOf returns the borrower of the asset's lease, if one exists.
func (c *Contract) BorrowerOf(assetContract AccountID, tokenID string) (AccountID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lease, exists := c.registry.leaseByAsset(AssetRef{Contract: assetContract, TokenID: tokenID})
	if !exists {
		return "", false
	}
	return lease.BorrowerID, true
}

// CurrentUserOf returns who currently has the right of use: the borrower
// while an active lease is inside its window, the lender otherwise.
func (c *Contract) CurrentUserOf(assetContract AccountID, tokenID string) (AccountID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lease, exists := c.registry.leaseByAsset(AssetRef{Contract: assetContract, TokenID: tokenID})
	if !exists {
		return "", false
	}

	var now = c.options.now()
	if lease.State == LeaseStateActive && !now.Before(lease.StartTime) && now.Before(lease.EndTime) {
		return lease.BorrowerID, true
	}
	return lease.LenderID, true
}

// ------------------ Admin -----------------

// AddAllowedPaymentContracts adds payment contracts to the allow-list.
// Owner only; requires a confirmation deposit of exactly one minimal unit.
func (c *Contract) AddAllowedPaymentContracts(caller AccountID, deposit *big.Int, ids []AccountID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAdmin(caller, deposit); err != nil {
		return err
	}
	for _, id := range ids {
		c.allowedPaymentContracts[id] = struct{}{}
	}
	return nil
}

// RemoveAllowedPaymentContracts removes payment contracts from the
// allow-list. Existing leases keep their payment contract.
func (c *Contract) RemoveAllowedPaymentContracts(caller AccountID, deposit *big.Int, ids []AccountID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkAdmin(caller, deposit); err != nil {
		return err
	}
	for _, id := range ids {
		delete(c.allowedPaymentContracts, id)
	}
	return nil
}

// AllowedPaymentContracts lists the allow-listed payment contracts.
func (c *Contract) AllowedPaymentContracts() []AccountID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return sortedAccounts(c.allowedPaymentContracts)
}

func (c *Contract) checkAdmin(caller AccountID, deposit *big.Int) error {
	if caller != c.ownerID {
		return fmt.Errorf("%s is not the contract owner: %w", caller, ErrWrongCaller)
	}
	if deposit == nil || deposit.Cmp(big.NewInt(1)) != 0 {
		return ErrBadDeposit
	}
	return nil
}

// ------------------ Internal helpers -----------------

func (c *Contract) custodyFor(id AccountID) CustodyService {
	return c.options.custodyServices[id]
}

func (c *Contract) paymentFor(id AccountID) PaymentService {
	return c.options.paymentServices[id]
}

func (c *Contract) persistLease(ctx context.Context, lease *Lease) error {
	if c.store == nil {
		return nil
	}
	return c.store.SaveLease(ctx, lease)
}

func (c *Contract) deleteLeaseRecord(ctx context.Context, id LeaseID) error {
	if c.store == nil {
		return nil
	}
	return c.store.DeleteLease(ctx, id)
}

func cloneLeases(leases []*Lease) []*Lease {
	var clones = make([]*Lease, len(leases))
	for i, lease := range leases {
		clones[i] = lease.clone()
	}
	return clones
}

func sortedAccounts(set map[AccountID]struct{}) []AccountID {
	var accounts = make([]AccountID, 0, len(set))
	for id := range set {
		accounts = append(accounts, id)
	}
	sort.Slice(accounts, func(i, j int) bool { return accounts[i] < accounts[j] })
	return accounts
}
