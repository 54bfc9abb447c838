package assetlease

import (
	"context"
	"fmt"
	"strings"
)

// Ownership receipts. One receipt exists per active lease; its holder is
// always the lease's current lender, so transferring the receipt is how a
// lender sells the claim on an active lease's proceeds and the eventual
// claim-back right.
//
// The token id is a pure function of the lease id, so no extra index is
// needed in either direction.

const receiptIDSuffix = "_lender"

// receiptIDForLease derives the receipt token id for a lease.
func receiptIDForLease(id LeaseID) string {
	return string(id) + receiptIDSuffix
}

// leaseIDForReceipt inverts receiptIDForLease.
func leaseIDForReceipt(tokenID string) (LeaseID, error) {
	if !strings.HasSuffix(tokenID, receiptIDSuffix) {
		return "", fmt.Errorf("receipt %s: %w", tokenID, ErrNotFound)
	}
	return LeaseID(strings.TrimSuffix(tokenID, receiptIDSuffix)), nil
}

// TransferReceipt moves an ownership receipt to a new holder. Only the
// current holder may transfer, and transferring to oneself is rejected.
// The lease record and both lender-side indices move in the same step; the
// borrower is untouched.
func (c *Contract) TransferReceipt(ctx context.Context, caller AccountID, tokenID string, newOwner AccountID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.transferReceiptLocked(ctx, caller, tokenID, newOwner)
}

// TransferReceiptAndNotify transfers the receipt and notifies the new
// holder. If the holder signals a revert, the previous holder is restored
// exactly as it was. This is the only place locally committed state is
// rolled back, and only ever on that explicit signal.
func (c *Contract) TransferReceiptAndNotify(ctx context.Context, caller AccountID, tokenID string, newOwner AccountID, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.transferReceiptLocked(ctx, caller, tokenID, newOwner); err != nil {
		return err
	}

	var (
		receiver      = c.options.receiptReceivers[newOwner]
		previousOwner = caller
	)

	c.scheduler.Schedule(
		func(ctx context.Context) Outcome {
			if receiver == nil {
				return Outcome{Err: fmt.Errorf("receipt receiver %s is unreachable: %w", newOwner, ErrNotAllowed)}
			}
			revert, err := receiver.OnReceiptReceived(ctx, c.accountID, previousOwner, tokenID, message)
			return Outcome{Err: err, Revert: revert}
		},
		func(ctx context.Context, out Outcome) {
			c.resolveReceiptTransfer(ctx, c.accountID, tokenID, previousOwner, newOwner, out)
		},
	)

	return nil
}

// resolveReceiptTransfer observes the new holder's notification. A failed
// or reverted notification restores the previous holder atomically.
func (c *Contract) resolveReceiptTransfer(ctx context.Context, caller AccountID, tokenID string, previousOwner, newOwner AccountID, out Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.accountID {
		c.options.logger.Warn("ignoring forged receipt transfer completion", "caller", caller)
		return
	}

	if out.Err == nil && !out.Revert {
		return
	}

	leaseID, err := leaseIDForReceipt(tokenID)
	if err != nil {
		c.options.logger.Error("receipt transfer resolved for bad token id", "token_id", tokenID, "error", err)
		return
	}

	if err := c.registry.reassignLender(leaseID, newOwner, previousOwner); err != nil {
		c.options.logger.Error("failed to revert receipt transfer",
			"token_id", tokenID,
			"error", err)
		return
	}

	if lease, getErr := c.registry.get(leaseID); getErr == nil {
		if persistErr := c.persistLease(ctx, lease); persistErr != nil {
			c.options.logger.Error("failed to persist reverted receipt transfer", "lease_id", leaseID, "error", persistErr)
		}
	}

	c.options.logger.Info("receipt transfer reverted",
		"token_id", tokenID,
		"restored_owner", previousOwner,
		"error", out.Err,
		"reverted", out.Revert)
}

func (c *Contract) transferReceiptLocked(ctx context.Context, caller AccountID, tokenID string, newOwner AccountID) error {
	leaseID, err := leaseIDForReceipt(tokenID)
	if err != nil {
		return err
	}

	lease, err := c.registry.get(leaseID)
	if err != nil {
		return err
	}
	if lease.State != LeaseStateActive {
		return fmt.Errorf("receipt %s: lease is not active: %w", tokenID, ErrNotFound)
	}
	if caller != lease.LenderID {
		return fmt.Errorf("%s does not hold receipt %s: %w", caller, tokenID, ErrWrongCaller)
	}
	if newOwner == caller {
		return fmt.Errorf("receipt %s: %w", tokenID, ErrSelfTransfer)
	}

	if err := c.registry.reassignLender(leaseID, caller, newOwner); err != nil {
		return err
	}
	if err := c.persistLease(ctx, lease); err != nil {
		c.options.logger.Error("failed to persist receipt transfer", "lease_id", leaseID, "error", err)
	}

	c.options.logger.Info("receipt transferred",
		"token_id", tokenID,
		"from", caller,
		"to", newOwner)

	return nil
}

// ------------------ Enumeration queries -----------------

// ReceiptTotalSupply returns the number of receipts in existence, which is
// exactly the number of active leases.
func (c *Contract) ReceiptTotalSupply() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.registry.activeIDs)
}

// ReceiptsForOwner returns the receipts held by an account.
func (c *Contract) ReceiptsForOwner(owner AccountID) []Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()

	var leases = c.registry.activeLeasesByLender(owner)
	var receipts = make([]Receipt, len(leases))
	for i, lease := range leases {
		receipts[i] = Receipt{
			TokenID: receiptIDForLease(lease.ID),
			OwnerID: lease.LenderID,
			LeaseID: lease.ID,
		}
	}
	return receipts
}

// ReceiptByID returns a single receipt by its token id.
func (c *Contract) ReceiptByID(tokenID string) (Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	leaseID, err := leaseIDForReceipt(tokenID)
	if err != nil {
		return Receipt{}, err
	}

	lease, err := c.registry.get(leaseID)
	if err != nil {
		return Receipt{}, err
	}
	if lease.State != LeaseStateActive {
		return Receipt{}, fmt.Errorf("receipt %s: lease is not active: %w", tokenID, ErrNotFound)
	}

	return Receipt{
		TokenID: tokenID,
		OwnerID: lease.LenderID,
		LeaseID: lease.ID,
	}, nil
}
