package assetlease

import (
	"context"
	"fmt"
	"math/big"
	"time"
)

// manualScheduler queues scheduled calls and runs them only when the test
// says so, making the multi-step handshakes fully deterministic.
type manualScheduler struct {
	calls []scheduledCall
}

func (s *manualScheduler) Schedule(task Task, then Continuation) {
	s.calls = append(s.calls, scheduledCall{task: task, then: then})
}

// runAll drains the queue, including calls scheduled by continuations.
func (s *manualScheduler) runAll(ctx context.Context) {
	for len(s.calls) > 0 {
		s.runOne(ctx)
	}
}

// runOne runs exactly the next queued call.
func (s *manualScheduler) runOne(ctx context.Context) {
	var call = s.calls[0]
	s.calls = s.calls[1:]

	var out = call.task(ctx)
	if call.then != nil {
		call.then(ctx, out)
	}
}

func (s *manualScheduler) pending() int {
	return len(s.calls)
}

// seqIDs generates predictable lease ids.
type seqIDs struct {
	n int
}

func (g *seqIDs) NewLeaseID() LeaseID {
	g.n++
	return LeaseID(fmt.Sprintf("lease_%d", g.n))
}

// fixedClock returns a clock pinned to a settable instant.
type fixedClock struct {
	t time.Time
}

func (c *fixedClock) now() time.Time {
	return c.t
}

func (c *fixedClock) advance(d time.Duration) {
	c.t = c.t.Add(d)
}

// transferReceiver is the surface a fake custody contract notifies.
type transferReceiver interface {
	OnAssetReceived(ctx context.Context, caller, sender, previousOwner AccountID, tokenID string, message []byte) (bool, error)
}

// fakeCustody is a controllable custody contract. Transfers move token
// ownership and, for TransferAndNotify, call the receiving contract the way
// the real custody contract would.
type fakeCustody struct {
	accountID AccountID
	initiator AccountID

	owners    map[string]AccountID
	receivers map[AccountID]transferReceiver

	payout      Payout
	payoutErr   error
	transferErr error

	transfers []string
}

func newFakeCustody(accountID, initiator AccountID) *fakeCustody {
	return &fakeCustody{
		accountID: accountID,
		initiator: initiator,
		owners:    make(map[string]AccountID),
		receivers: make(map[AccountID]transferReceiver),
	}
}

func (f *fakeCustody) Transfer(ctx context.Context, to AccountID, tokenID string, approvalID *uint64, memo *string) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.owners[tokenID] = to
	f.transfers = append(f.transfers, fmt.Sprintf("%s:%s", to, tokenID))
	return nil
}

func (f *fakeCustody) TransferAndNotify(ctx context.Context, to AccountID, tokenID string, approvalID *uint64, memo *string, message []byte) (bool, error) {
	if f.transferErr != nil {
		return false, f.transferErr
	}

	var previousOwner = f.owners[tokenID]
	f.owners[tokenID] = to
	f.transfers = append(f.transfers, fmt.Sprintf("%s:%s", to, tokenID))

	var receiver = f.receivers[to]
	if receiver == nil {
		return false, nil
	}

	revert, err := receiver.OnAssetReceived(ctx, f.accountID, f.initiator, previousOwner, tokenID, message)
	if err != nil || revert {
		f.owners[tokenID] = previousOwner
		return true, err
	}
	return false, nil
}

func (f *fakeCustody) PayoutQuery(ctx context.Context, tokenID string, price *big.Int, maxRecipients *int) (Payout, error) {
	if f.payoutErr != nil {
		return nil, f.payoutErr
	}
	return f.payout.clone(), nil
}

// paymentSink is the surface a fake payment contract notifies.
type paymentSink interface {
	OnPaymentReceived(ctx context.Context, caller, sender AccountID, amount *big.Int, message []byte) (*big.Int, error)
}

// fakePayment is a controllable payment contract tracking cumulative
// amounts received per account.
type fakePayment struct {
	accountID AccountID
	initiator AccountID

	received  map[AccountID]*big.Int
	receivers map[AccountID]paymentSink

	transferErr error
}

func newFakePayment(accountID, initiator AccountID) *fakePayment {
	return &fakePayment{
		accountID: accountID,
		initiator: initiator,
		received:  make(map[AccountID]*big.Int),
		receivers: make(map[AccountID]paymentSink),
	}
}

func (f *fakePayment) Transfer(ctx context.Context, to AccountID, amount *big.Int, memo *string) error {
	if f.transferErr != nil {
		return f.transferErr
	}
	f.credit(to, amount)
	return nil
}

func (f *fakePayment) TransferAndNotify(ctx context.Context, to AccountID, amount *big.Int, memo *string, message []byte) (*big.Int, error) {
	if f.transferErr != nil {
		return nil, f.transferErr
	}

	var receiver = f.receivers[to]
	if receiver == nil {
		f.credit(to, amount)
		return big.NewInt(0), nil
	}

	unused, err := receiver.OnPaymentReceived(ctx, f.accountID, f.initiator, amount, message)
	if err != nil {
		return nil, err
	}
	f.credit(to, new(big.Int).Sub(amount, unused))
	return unused, nil
}

func (f *fakePayment) credit(to AccountID, amount *big.Int) {
	if f.received[to] == nil {
		f.received[to] = big.NewInt(0)
	}
	f.received[to].Add(f.received[to], amount)
}

func (f *fakePayment) receivedBy(account AccountID) *big.Int {
	if f.received[account] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(f.received[account])
}
