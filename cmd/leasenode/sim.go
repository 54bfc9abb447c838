package main

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	assetlease "go-assetlease"
)

// assetReceiver is the transfer notification surface of the lease contract.
type assetReceiver interface {
	OnAssetReceived(ctx context.Context, caller, sender, previousOwner assetlease.AccountID, tokenID string, message []byte) (bool, error)
}

// paymentReceiver is the payment notification surface of a contract.
type paymentReceiver interface {
	OnPaymentReceived(ctx context.Context, caller, sender assetlease.AccountID, amount *big.Int, message []byte) (*big.Int, error)
}

// simAssets is an in-process stand-in for a custody (NFT) contract. It
// tracks token ownership and royalty configuration and notifies registered
// receiver contracts on transfers, the way the real contract would.
type simAssets struct {
	accountID assetlease.AccountID

	mu        sync.Mutex
	owners    map[string]assetlease.AccountID
	royalties map[string]map[assetlease.AccountID]int64 // basis points
	receivers map[assetlease.AccountID]assetReceiver
}

func newSimAssets(accountID assetlease.AccountID) *simAssets {
	return &simAssets{
		accountID: accountID,
		owners:    make(map[string]assetlease.AccountID),
		royalties: make(map[string]map[assetlease.AccountID]int64),
		receivers: make(map[assetlease.AccountID]assetReceiver),
	}
}

func (s *simAssets) mint(tokenID string, owner assetlease.AccountID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.owners[tokenID] = owner
}

func (s *simAssets) setRoyalty(tokenID string, recipient assetlease.AccountID, bps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.royalties[tokenID] == nil {
		s.royalties[tokenID] = make(map[assetlease.AccountID]int64)
	}
	s.royalties[tokenID][recipient] = bps
}

func (s *simAssets) registerReceiver(id assetlease.AccountID, r assetReceiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers[id] = r
}

func (s *simAssets) ownerOf(tokenID string) assetlease.AccountID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owners[tokenID]
}

// clientFor returns the custody client a contract would hold. The initiator
// is reported as the transfer sender in notifications.
func (s *simAssets) clientFor(initiator assetlease.AccountID) assetlease.CustodyService {
	return &assetClient{sim: s, initiator: initiator}
}

type assetClient struct {
	sim       *simAssets
	initiator assetlease.AccountID
}

func (c *assetClient) Transfer(ctx context.Context, to assetlease.AccountID, tokenID string, approvalID *uint64, memo *string) error {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	if _, exists := c.sim.owners[tokenID]; !exists {
		return fmt.Errorf("token %s does not exist", tokenID)
	}
	c.sim.owners[tokenID] = to
	return nil
}

func (c *assetClient) TransferAndNotify(ctx context.Context, to assetlease.AccountID, tokenID string, approvalID *uint64, memo *string, message []byte) (bool, error) {
	c.sim.mu.Lock()
	previousOwner, exists := c.sim.owners[tokenID]
	if !exists {
		c.sim.mu.Unlock()
		return false, fmt.Errorf("token %s does not exist", tokenID)
	}
	c.sim.owners[tokenID] = to
	var receiver = c.sim.receivers[to]
	c.sim.mu.Unlock()

	if receiver == nil {
		return false, nil
	}

	revert, err := receiver.OnAssetReceived(ctx, c.sim.accountID, c.initiator, previousOwner, tokenID, message)
	if err != nil || revert {
		c.sim.mu.Lock()
		c.sim.owners[tokenID] = previousOwner
		c.sim.mu.Unlock()
		return true, err
	}

	return false, nil
}

func (c *assetClient) PayoutQuery(ctx context.Context, tokenID string, price *big.Int, maxRecipients *int) (assetlease.Payout, error) {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	owner, exists := c.sim.owners[tokenID]
	if !exists {
		return nil, fmt.Errorf("token %s does not exist", tokenID)
	}

	var (
		payout    = make(assetlease.Payout)
		remainder = new(big.Int).Set(price)
	)
	for recipient, bps := range c.sim.royalties[tokenID] {
		var share = new(big.Int).Mul(price, big.NewInt(bps))
		share.Div(share, big.NewInt(10000))
		if share.Sign() == 0 {
			continue
		}
		payout[recipient] = share
		remainder.Sub(remainder, share)
	}
	payout[owner] = remainder

	return payout, nil
}

// simTokens is an in-process stand-in for a payment (fungible token)
// contract with simple balance accounting.
type simTokens struct {
	accountID assetlease.AccountID

	mu        sync.Mutex
	balances  map[assetlease.AccountID]*big.Int
	receivers map[assetlease.AccountID]paymentReceiver
}

func newSimTokens(accountID assetlease.AccountID) *simTokens {
	return &simTokens{
		accountID: accountID,
		balances:  make(map[assetlease.AccountID]*big.Int),
		receivers: make(map[assetlease.AccountID]paymentReceiver),
	}
}

func (s *simTokens) mint(owner assetlease.AccountID, amount *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.credit(owner, amount)
}

func (s *simTokens) registerReceiver(id assetlease.AccountID, r paymentReceiver) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.receivers[id] = r
}

func (s *simTokens) balanceOf(owner assetlease.AccountID) *big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if balance, exists := s.balances[owner]; exists {
		return new(big.Int).Set(balance)
	}
	return big.NewInt(0)
}

// clientFor returns the payment client a contract or user would hold.
// Transfers are debited from the initiator's balance.
func (s *simTokens) clientFor(initiator assetlease.AccountID) assetlease.PaymentService {
	return &tokenClient{sim: s, initiator: initiator}
}

func (s *simTokens) credit(owner assetlease.AccountID, amount *big.Int) {
	if s.balances[owner] == nil {
		s.balances[owner] = big.NewInt(0)
	}
	s.balances[owner].Add(s.balances[owner], amount)
}

func (s *simTokens) debit(owner assetlease.AccountID, amount *big.Int) error {
	if s.balances[owner] == nil || s.balances[owner].Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance for %s", owner)
	}
	s.balances[owner].Sub(s.balances[owner], amount)
	return nil
}

type tokenClient struct {
	sim       *simTokens
	initiator assetlease.AccountID
}

func (c *tokenClient) Transfer(ctx context.Context, to assetlease.AccountID, amount *big.Int, memo *string) error {
	c.sim.mu.Lock()
	defer c.sim.mu.Unlock()

	if err := c.sim.debit(c.initiator, amount); err != nil {
		return err
	}
	c.sim.credit(to, amount)
	return nil
}

func (c *tokenClient) TransferAndNotify(ctx context.Context, to assetlease.AccountID, amount *big.Int, memo *string, message []byte) (*big.Int, error) {
	c.sim.mu.Lock()
	if err := c.sim.debit(c.initiator, amount); err != nil {
		c.sim.mu.Unlock()
		return nil, err
	}
	c.sim.credit(to, amount)
	var receiver = c.sim.receivers[to]
	c.sim.mu.Unlock()

	if receiver == nil {
		return big.NewInt(0), nil
	}

	unused, err := receiver.OnPaymentReceived(ctx, c.sim.accountID, c.initiator, amount, message)
	if err != nil {
		// A rejected notification returns the full amount.
		unused = amount
	}
	if unused != nil && unused.Sign() > 0 {
		c.sim.mu.Lock()
		if debitErr := c.sim.debit(to, unused); debitErr == nil {
			c.sim.credit(c.initiator, unused)
		}
		c.sim.mu.Unlock()
	}

	if err != nil {
		return nil, err
	}
	return unused, nil
}
