package assetlease

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// Message kinds. Every inter-contract payload is a tagged JSON object; the
// tag is checked before any field reaches business logic.
const (
	msgKindLeaseTerms      = "lease_terms"
	msgKindListingTerms    = "listing_terms"
	msgKindActivateLease   = "activate_lease"
	msgKindCustodyHold     = "custody_hold"
	msgKindPayLease        = "pay_lease"
	msgKindAcceptListing   = "accept_listing"
	msgKindFinalizeListing = "finalize_listing"
)

type messageEnvelope struct {
	Kind string `json:"kind"`
}

// LeaseTermsMessage is attached to an asset approval to create a lease
// directly, naming the borrower up front.
type LeaseTermsMessage struct {
	Kind            string    `json:"kind"`
	BorrowerID      AccountID `json:"borrower_id"`
	PaymentContract AccountID `json:"payment_contract"`
	Price           string    `json:"price"`
	StartTsNano     int64     `json:"start_ts_nano"`
	EndTsNano       int64     `json:"end_ts_nano"`
}

// ListingTermsMessage is attached to an asset approval to create a listing;
// the asset identity is implied by the approving contract and token id.
type ListingTermsMessage struct {
	Kind            string    `json:"kind"`
	PaymentContract AccountID `json:"payment_contract"`
	Price           string    `json:"price"`
	StartTsNano     int64     `json:"start_ts_nano"`
	EndTsNano       int64     `json:"end_ts_nano"`
}

// ActivateLeaseMessage rides on the custody pull the contract issues for
// itself; receiving it back proves the asset moved into custody.
type ActivateLeaseMessage struct {
	Kind    string  `json:"kind"`
	LeaseID LeaseID `json:"lease_id"`
}

// CustodyHoldMessage rides on a pre-lease custody push (the first leg of a
// listing acceptance). It has no fields; the asset identity comes from the
// transfer itself.
type CustodyHoldMessage struct {
	Kind string `json:"kind"`
}

// PayLeaseMessage accompanies a borrower's direct rent payment.
type PayLeaseMessage struct {
	Kind    string  `json:"kind"`
	LeaseID LeaseID `json:"lease_id"`
}

// AcceptListingMessage accompanies a payment to the marketplace accepting a
// listing, identified by its asset.
type AcceptListingMessage struct {
	Kind          string    `json:"kind"`
	AssetContract AccountID `json:"asset_contract"`
	AssetID       string    `json:"asset_id"`
}

// FinalizeListingMessage accompanies the rent the marketplace forwards to
// the lease contract, carrying the agreed terms and the payout it resolved
// at listing time.
type FinalizeListingMessage struct {
	Kind          string            `json:"kind"`
	AssetContract AccountID         `json:"asset_contract"`
	AssetID       string            `json:"asset_id"`
	BorrowerID    AccountID         `json:"borrower_id"`
	Price         string            `json:"price"`
	StartTsNano   int64             `json:"start_ts_nano"`
	EndTsNano     int64             `json:"end_ts_nano"`
	Payout        map[string]string `json:"payout"`
}

// transferMessage is the union of payloads accepted by OnAssetReceived.
type transferMessage interface{ isTransferMessage() }

func (*ActivateLeaseMessage) isTransferMessage() {}
func (*CustodyHoldMessage) isTransferMessage()   {}

// paymentMessage is the union of payloads accepted by OnPaymentReceived.
type paymentMessage interface{ isPaymentMessage() }

func (*PayLeaseMessage) isPaymentMessage()        {}
func (*FinalizeListingMessage) isPaymentMessage() {}

func parseKind(raw []byte) (string, error) {
	var envelope messageEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if envelope.Kind == "" {
		return "", fmt.Errorf("%w: missing kind", ErrBadMessage)
	}
	return envelope.Kind, nil
}

// parseLeaseTermsMessage validates a direct lease creation payload.
func parseLeaseTermsMessage(raw []byte) (*LeaseTermsMessage, error) {
	kind, err := parseKind(raw)
	if err != nil {
		return nil, err
	}
	if kind != msgKindLeaseTerms {
		return nil, fmt.Errorf("%w: unexpected kind %q", ErrBadMessage, kind)
	}

	var msg LeaseTermsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if msg.BorrowerID == "" || msg.PaymentContract == "" {
		return nil, fmt.Errorf("%w: missing borrower or payment contract", ErrBadMessage)
	}
	if _, err := parseAmount(msg.Price); err != nil {
		return nil, err
	}
	if err := validateWindow(msg.StartTsNano, msg.EndTsNano); err != nil {
		return nil, err
	}
	return &msg, nil
}

// parseListingTermsMessage validates a listing creation payload.
func parseListingTermsMessage(raw []byte) (*ListingTermsMessage, error) {
	kind, err := parseKind(raw)
	if err != nil {
		return nil, err
	}
	if kind != msgKindListingTerms {
		return nil, fmt.Errorf("%w: unexpected kind %q", ErrBadMessage, kind)
	}

	var msg ListingTermsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if msg.PaymentContract == "" {
		return nil, fmt.Errorf("%w: missing payment contract", ErrBadMessage)
	}
	if _, err := parseAmount(msg.Price); err != nil {
		return nil, err
	}
	if err := validateWindow(msg.StartTsNano, msg.EndTsNano); err != nil {
		return nil, err
	}
	return &msg, nil
}

// parseTransferMessage validates an asset transfer notification payload.
func parseTransferMessage(raw []byte) (transferMessage, error) {
	kind, err := parseKind(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case msgKindActivateLease:
		var msg ActivateLeaseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		if msg.LeaseID == "" {
			return nil, fmt.Errorf("%w: missing lease id", ErrBadMessage)
		}
		return &msg, nil
	case msgKindCustodyHold:
		return &CustodyHoldMessage{Kind: kind}, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBadMessage, kind)
	}
}

// parsePaymentMessage validates a payment notification payload for the
// lease contract.
func parsePaymentMessage(raw []byte) (paymentMessage, error) {
	kind, err := parseKind(raw)
	if err != nil {
		return nil, err
	}

	switch kind {
	case msgKindPayLease:
		var msg PayLeaseMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		if msg.LeaseID == "" {
			return nil, fmt.Errorf("%w: missing lease id", ErrBadMessage)
		}
		return &msg, nil
	case msgKindFinalizeListing:
		var msg FinalizeListingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
		}
		if msg.AssetContract == "" || msg.AssetID == "" || msg.BorrowerID == "" {
			return nil, fmt.Errorf("%w: missing asset or borrower", ErrBadMessage)
		}
		if _, err := parseAmount(msg.Price); err != nil {
			return nil, err
		}
		if err := validateWindow(msg.StartTsNano, msg.EndTsNano); err != nil {
			return nil, err
		}
		if len(msg.Payout) == 0 {
			return nil, fmt.Errorf("%w: missing payout", ErrBadMessage)
		}
		return &msg, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBadMessage, kind)
	}
}

// parseAcceptListingMessage validates a payment notification payload for
// the marketplace.
func parseAcceptListingMessage(raw []byte) (*AcceptListingMessage, error) {
	kind, err := parseKind(raw)
	if err != nil {
		return nil, err
	}
	if kind != msgKindAcceptListing {
		return nil, fmt.Errorf("%w: unexpected kind %q", ErrBadMessage, kind)
	}

	var msg AcceptListingMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	if msg.AssetContract == "" || msg.AssetID == "" {
		return nil, fmt.Errorf("%w: missing asset", ErrBadMessage)
	}
	return &msg, nil
}

// parseAmount parses a non-negative base-10 amount.
func parseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("%w: missing amount", ErrBadMessage)
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: bad amount %q", ErrBadMessage, s)
	}
	return amount, nil
}

func validateWindow(startNano, endNano int64) error {
	if endNano <= startNano {
		return fmt.Errorf("%w: lease window ends before it starts", ErrBadMessage)
	}
	return nil
}

// parsePayoutField converts a wire payout map into the domain type.
func parsePayoutField(raw map[string]string) (Payout, error) {
	var payout = make(Payout, len(raw))
	for recipient, amount := range raw {
		parsed, err := parseAmount(amount)
		if err != nil {
			return nil, err
		}
		payout[AccountID(recipient)] = parsed
	}
	return payout, nil
}

// payoutField converts a domain payout into its wire form.
func payoutField(p Payout) map[string]string {
	var raw = make(map[string]string, len(p))
	for recipient, amount := range p {
		raw[string(recipient)] = amount.String()
	}
	return raw
}

// NewLeaseTermsMessage encodes a direct lease creation payload.
func NewLeaseTermsMessage(borrower, paymentContract AccountID, price string, start, end time.Time) []byte {
	return encodeMessage(&LeaseTermsMessage{
		Kind:            msgKindLeaseTerms,
		BorrowerID:      borrower,
		PaymentContract: paymentContract,
		Price:           price,
		StartTsNano:     start.UnixNano(),
		EndTsNano:       end.UnixNano(),
	})
}

// NewListingTermsMessage encodes a listing creation payload.
func NewListingTermsMessage(paymentContract AccountID, price string, start, end time.Time) []byte {
	return encodeMessage(&ListingTermsMessage{
		Kind:            msgKindListingTerms,
		PaymentContract: paymentContract,
		Price:           price,
		StartTsNano:     start.UnixNano(),
		EndTsNano:       end.UnixNano(),
	})
}

// NewPayLeaseMessage encodes a rent payment payload.
func NewPayLeaseMessage(id LeaseID) []byte {
	return encodeMessage(&PayLeaseMessage{Kind: msgKindPayLease, LeaseID: id})
}

// NewAcceptListingMessage encodes a listing acceptance payload.
func NewAcceptListingMessage(assetContract AccountID, assetID string) []byte {
	return encodeMessage(&AcceptListingMessage{Kind: msgKindAcceptListing, AssetContract: assetContract, AssetID: assetID})
}

func timeFromNano(nano int64) time.Time {
	return time.Unix(0, nano).UTC()
}

func encodeMessage(msg any) []byte {
	raw, err := json.Marshal(msg)
	if err != nil {
		// All message types are plain structs; marshalling cannot fail.
		panic(err)
	}
	return raw
}
