package assetlease

import (
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// options configures a Contract or Marketplace (internal only).
type options struct {
	logger           *slog.Logger
	now              func() time.Time
	idGenerator      IDGenerator
	scheduler        Scheduler
	custodyServices  map[AccountID]CustodyService
	paymentServices  map[AccountID]PaymentService
	receiptReceivers map[AccountID]ReceiptReceiver
}

// defaultOptions returns sensible defaults.
func defaultOptions() options {
	return options{
		logger:           slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:              time.Now,
		idGenerator:      uuidGenerator{},
		custodyServices:  make(map[AccountID]CustodyService),
		paymentServices:  make(map[AccountID]PaymentService),
		receiptReceivers: make(map[AccountID]ReceiptReceiver),
	}
}

// Option is a functional option for configuring a Contract or Marketplace.
type Option func(*options)

// WithLogger sets the logger.
// If the logger is nil, a no-op logger is used.
// DEFAULT: A no-op logger
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger == nil {
			o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
			return
		}

		o.logger = logger
	}
}

// WithClock sets the time source used for lease window checks.
// DEFAULT: time.Now
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithIDGenerator sets the lease id generator.
// DEFAULT: random uuids
func WithIDGenerator(gen IDGenerator) Option {
	return func(o *options) {
		if gen != nil {
			o.idGenerator = gen
		}
	}
}

// WithScheduler sets the scheduler used for external calls.
// DEFAULT: a serial background scheduler owned by the contract
func WithScheduler(s Scheduler) Option {
	return func(o *options) {
		o.scheduler = s
	}
}

// WithCustodyService registers the capability for reaching a custody
// contract by its account id.
func WithCustodyService(id AccountID, svc CustodyService) Option {
	return func(o *options) {
		o.custodyServices[id] = svc
	}
}

// WithPaymentService registers the capability for reaching a payment
// contract by its account id.
func WithPaymentService(id AccountID, svc PaymentService) Option {
	return func(o *options) {
		o.paymentServices[id] = svc
	}
}

// WithReceiptReceiver registers an account that can be notified of receipt
// transfers.
func WithReceiptReceiver(id AccountID, recv ReceiptReceiver) Option {
	return func(o *options) {
		o.receiptReceivers[id] = recv
	}
}

// uuidGenerator is the production id generator.
type uuidGenerator struct{}

func (uuidGenerator) NewLeaseID() LeaseID {
	return LeaseID(uuid.New().String())
}
