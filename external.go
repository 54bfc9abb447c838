package assetlease

import (
	"context"
	"math/big"
)

// CustodyService is the capability surface of a custody (asset) contract.
//
// TransferAndNotify moves the asset and delivers the message to the
// receiving contract's transfer notification; the returned bool reports
// whether the receiver asked for the transfer to be reverted.
type CustodyService interface {
	Transfer(ctx context.Context, to AccountID, tokenID string, approvalID *uint64, memo *string) error
	TransferAndNotify(ctx context.Context, to AccountID, tokenID string, approvalID *uint64, memo *string, message []byte) (bool, error)
	PayoutQuery(ctx context.Context, tokenID string, price *big.Int, maxRecipients *int) (Payout, error)
}

// PaymentService is the capability surface of a payment (fungible token)
// contract.
//
// TransferAndNotify moves funds and delivers the message to the receiving
// contract's payment notification; the returned amount is whatever the
// receiver did not consume and is refunded by the payment contract itself.
type PaymentService interface {
	Transfer(ctx context.Context, to AccountID, amount *big.Int, memo *string) error
	TransferAndNotify(ctx context.Context, to AccountID, amount *big.Int, memo *string, message []byte) (*big.Int, error)
}

// ReceiptReceiver is implemented by contracts that want to be notified when
// an ownership receipt is transferred to them. Returning true asks for the
// transfer to be reverted.
type ReceiptReceiver interface {
	OnReceiptReceived(ctx context.Context, sender, previousOwner AccountID, tokenID string, message []byte) (bool, error)
}

// IDGenerator produces lease ids. Production uses random uuids; tests
// inject a deterministic sequence.
type IDGenerator interface {
	NewLeaseID() LeaseID
}
