package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	assetlease "go-assetlease"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/spf13/cobra"
)

// Fixed identities of the in-process simulators and marketplace.
const (
	simAssetsID   = "nft.sim"
	simTokensID   = "ft.sim"
	marketplaceID = "market.node"
	treasuryID    = "treasury.node"
)

// node bundles the contracts and simulators behind the HTTP API.
type node struct {
	contract *assetlease.Contract
	market   *assetlease.Marketplace
	assets   *simAssets
	tokens   *simTokens
}

func runServe(cmd *cobra.Command, args []string) error {
	var (
		ctx = cmd.Context()
		db  *sql.DB
	)

	if dbURL != "" {
		var err error
		db, err = sql.Open("postgres", dbURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}
	}

	n, err := buildNode(ctx, db)
	if err != nil {
		return err
	}
	defer n.contract.Stop()
	defer n.market.Stop()

	var srv = &http.Server{
		Addr:    listenAddr,
		Handler: n.router(),
	}

	var errCh = make(chan error, 1)
	go func() {
		fmt.Printf("Listening on %s\n", listenAddr)
		errCh <- srv.ListenAndServe()
	}()

	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
		var shutdownCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// buildNode wires the lease contract and marketplace to the in-process
// custody and payment simulators.
func buildNode(ctx context.Context, db *sql.DB) (*node, error) {
	var (
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
		assets = newSimAssets(simAssetsID)
		tokens = newSimTokens(simTokensID)

		contractAccount = assetlease.AccountID(contractID)
		ownerAccount    = assetlease.AccountID(ownerID)
	)

	var contract = assetlease.NewContract(db, contractAccount, ownerAccount,
		assetlease.WithLogger(logger),
		assetlease.WithCustodyService(simAssetsID, assets.clientFor(contractAccount)),
		assetlease.WithPaymentService(simTokensID, tokens.clientFor(contractAccount)),
	)

	var market = assetlease.NewMarketplace(nil, marketplaceID, ownerAccount, treasuryID, contractAccount,
		assetlease.WithLogger(logger),
		assetlease.WithCustodyService(simAssetsID, assets.clientFor(marketplaceID)),
		assetlease.WithPaymentService(simTokensID, tokens.clientFor(marketplaceID)),
	)

	if err := contract.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start lease contract: %w", err)
	}
	if err := market.Start(ctx); err != nil {
		contract.Stop()
		return nil, fmt.Errorf("failed to start marketplace: %w", err)
	}

	var deposit = big.NewInt(1)
	if err := contract.AddAllowedPaymentContracts(ownerAccount, deposit, []assetlease.AccountID{simTokensID}); err != nil {
		return nil, err
	}
	if err := market.AddAllowedCustodyContracts(ownerAccount, deposit, []assetlease.AccountID{simAssetsID}); err != nil {
		return nil, err
	}
	if err := market.AddAllowedPaymentContracts(ownerAccount, deposit, []assetlease.AccountID{simTokensID}); err != nil {
		return nil, err
	}

	assets.registerReceiver(contractAccount, contract)
	tokens.registerReceiver(contractAccount, contract)
	tokens.registerReceiver(marketplaceID, market)

	return &node{contract: contract, market: market, assets: assets, tokens: tokens}, nil
}

func (n *node) router() http.Handler {
	var r = chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/assets", func(r chi.Router) {
		r.Post("/{tokenID}/mint", n.handleMintAsset)
		r.Post("/{tokenID}/royalties", n.handleSetRoyalty)
		r.Get("/{tokenID}", n.handleGetAsset)
		r.Get("/{tokenID}/borrower", n.handleBorrowerOf)
		r.Get("/{tokenID}/current-user", n.handleCurrentUserOf)
	})

	r.Route("/accounts", func(r chi.Router) {
		r.Post("/{accountID}/funds", n.handleFund)
		r.Get("/{accountID}/balance", n.handleBalance)
	})

	r.Route("/leases", func(r chi.Router) {
		r.Post("/", n.handleCreateLease)
		r.Get("/{leaseID}", n.handleGetLease)
		r.Post("/{leaseID}/pay", n.handlePayLease)
		r.Post("/{leaseID}/claim-back", n.handleClaimBack)
	})

	r.Get("/lenders/{accountID}/leases", n.handleLeasesByLender)
	r.Get("/borrowers/{accountID}/leases", n.handleLeasesByBorrower)

	r.Route("/receipts", func(r chi.Router) {
		r.Get("/{receiptID}", n.handleGetReceipt)
		r.Post("/{receiptID}/transfer", n.handleTransferReceipt)
	})
	r.Get("/owners/{accountID}/receipts", n.handleReceiptsForOwner)

	r.Route("/listings", func(r chi.Router) {
		r.Post("/", n.handleCreateListing)
		r.Get("/{tokenID}", n.handleGetListing)
		r.Post("/{tokenID}/accept", n.handleAcceptListing)
		r.Delete("/{tokenID}", n.handleCancelListing)
	})
	r.Get("/owners/{accountID}/listings", n.handleListingsByOwner)
	r.Get("/custody-contracts/{accountID}/listings", n.handleListingsByContract)

	r.Post("/holds/{tokenID}/release", n.handleReleaseHold)

	return r
}

// ------------------ Simulator handlers -----------------

func (n *node) handleMintAsset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Owner string `json:"owner"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}
	n.assets.mint(chi.URLParam(r, "tokenID"), assetlease.AccountID(body.Owner))
	writeJSON(w, http.StatusCreated, map[string]string{"status": "minted"})
}

func (n *node) handleSetRoyalty(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Recipient   string `json:"recipient"`
		BasisPoints int64  `json:"basis_points"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}
	n.assets.setRoyalty(chi.URLParam(r, "tokenID"), assetlease.AccountID(body.Recipient), body.BasisPoints)
	writeJSON(w, http.StatusOK, map[string]string{"status": "set"})
}

func (n *node) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	var owner = n.assets.ownerOf(chi.URLParam(r, "tokenID"))
	if owner == "" {
		writeError(w, assetlease.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner": string(owner)})
}

func (n *node) handleFund(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}
	amount, ok := new(big.Int).SetString(body.Amount, 10)
	if !ok || amount.Sign() < 0 {
		writeError(w, fmt.Errorf("%w: bad amount", assetlease.ErrBadMessage))
		return
	}
	n.tokens.mint(assetlease.AccountID(chi.URLParam(r, "accountID")), amount)
	writeJSON(w, http.StatusOK, map[string]string{"status": "funded"})
}

func (n *node) handleBalance(w http.ResponseWriter, r *http.Request) {
	var balance = n.tokens.balanceOf(assetlease.AccountID(chi.URLParam(r, "accountID")))
	writeJSON(w, http.StatusOK, map[string]string{"balance": balance.String()})
}

// ------------------ Lease handlers -----------------

type leaseTermsRequest struct {
	TokenID    string `json:"token_id"`
	OwnerID    string `json:"owner_id"`
	ApprovalID uint64 `json:"approval_id"`
	BorrowerID string `json:"borrower_id"`
	Price      string `json:"price"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

func (n *node) handleCreateLease(w http.ResponseWriter, r *http.Request) {
	var body leaseTermsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}
	start, end, err := parseWindow(body.StartTime, body.EndTime)
	if err != nil {
		writeError(w, err)
		return
	}

	var message = assetlease.NewLeaseTermsMessage(
		assetlease.AccountID(body.BorrowerID), simTokensID, body.Price, start, end)

	leaseID, err := n.contract.OnAssetApproved(r.Context(),
		simAssetsID, body.TokenID, assetlease.AccountID(body.OwnerID), body.ApprovalID, message)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"lease_id": string(leaseID)})
}

func (n *node) handleGetLease(w http.ResponseWriter, r *http.Request) {
	lease, err := n.contract.Lease(assetlease.LeaseID(chi.URLParam(r, "leaseID")))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, leaseView(lease))
}

func (n *node) handlePayLease(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Borrower string `json:"borrower"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}

	var leaseID = assetlease.LeaseID(chi.URLParam(r, "leaseID"))
	lease, err := n.contract.Lease(leaseID)
	if err != nil {
		writeError(w, err)
		return
	}

	var client = n.tokens.clientFor(assetlease.AccountID(body.Borrower))
	unused, err := client.TransferAndNotify(r.Context(),
		n.contract.AccountID(), lease.Price, nil, assetlease.NewPayLeaseMessage(leaseID))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"unused": unused.String()})
}

func (n *node) handleClaimBack(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}

	var leaseID = assetlease.LeaseID(chi.URLParam(r, "leaseID"))
	if err := n.contract.ClaimBack(r.Context(), assetlease.AccountID(body.Caller), leaseID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "claim-back started"})
}

func (n *node) handleLeasesByLender(w http.ResponseWriter, r *http.Request) {
	var lender = assetlease.AccountID(chi.URLParam(r, "accountID"))

	var leases []*assetlease.Lease
	if r.URL.Query().Get("active") == "true" {
		leases = n.contract.ActiveLeasesByLender(lender)
	} else {
		leases = n.contract.LeasesByLender(lender)
	}
	writeJSON(w, http.StatusOK, leaseViews(leases))
}

func (n *node) handleLeasesByBorrower(w http.ResponseWriter, r *http.Request) {
	var leases = n.contract.LeasesByBorrower(assetlease.AccountID(chi.URLParam(r, "accountID")))
	writeJSON(w, http.StatusOK, leaseViews(leases))
}

func (n *node) handleBorrowerOf(w http.ResponseWriter, r *http.Request) {
	borrower, exists := n.contract.BorrowerOf(simAssetsID, chi.URLParam(r, "tokenID"))
	if !exists {
		writeError(w, assetlease.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"borrower": string(borrower)})
}

func (n *node) handleCurrentUserOf(w http.ResponseWriter, r *http.Request) {
	user, exists := n.contract.CurrentUserOf(simAssetsID, chi.URLParam(r, "tokenID"))
	if !exists {
		writeError(w, assetlease.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"current_user": string(user)})
}

// ------------------ Receipt handlers -----------------

func (n *node) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := n.contract.ReceiptByID(chi.URLParam(r, "receiptID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (n *node) handleTransferReceipt(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller string `json:"caller"`
		To     string `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}

	var err = n.contract.TransferReceipt(r.Context(),
		assetlease.AccountID(body.Caller), chi.URLParam(r, "receiptID"), assetlease.AccountID(body.To))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

func (n *node) handleReceiptsForOwner(w http.ResponseWriter, r *http.Request) {
	var receipts = n.contract.ReceiptsForOwner(assetlease.AccountID(chi.URLParam(r, "accountID")))
	writeJSON(w, http.StatusOK, receipts)
}

// ------------------ Listing handlers -----------------

type listingTermsRequest struct {
	TokenID    string `json:"token_id"`
	OwnerID    string `json:"owner_id"`
	ApprovalID uint64 `json:"approval_id"`
	Price      string `json:"price"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

func (n *node) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var body listingTermsRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}
	start, end, err := parseWindow(body.StartTime, body.EndTime)
	if err != nil {
		writeError(w, err)
		return
	}

	var message = assetlease.NewListingTermsMessage(simTokensID, body.Price, start, end)
	err = n.market.OnAssetApproved(r.Context(),
		simAssetsID, body.TokenID, assetlease.AccountID(body.OwnerID), body.ApprovalID, message)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]string{"status": "listed"})
}

func (n *node) handleGetListing(w http.ResponseWriter, r *http.Request) {
	listing, err := n.market.ListingByAsset(simAssetsID, chi.URLParam(r, "tokenID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listingView(listing))
}

func (n *node) handleAcceptListing(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Borrower string `json:"borrower"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}

	var tokenID = chi.URLParam(r, "tokenID")
	listing, err := n.market.ListingByAsset(simAssetsID, tokenID)
	if err != nil {
		writeError(w, err)
		return
	}

	var client = n.tokens.clientFor(assetlease.AccountID(body.Borrower))
	unused, err := client.TransferAndNotify(r.Context(),
		marketplaceID, listing.Price, nil, assetlease.NewAcceptListingMessage(simAssetsID, tokenID))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"unused": unused.String()})
}

func (n *node) handleCancelListing(w http.ResponseWriter, r *http.Request) {
	var caller = assetlease.AccountID(r.URL.Query().Get("caller"))
	var err = n.market.CancelListing(r.Context(), caller, simAssetsID, chi.URLParam(r, "tokenID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (n *node) handleListingsByOwner(w http.ResponseWriter, r *http.Request) {
	var listings = n.market.ListingsByOwner(assetlease.AccountID(chi.URLParam(r, "accountID")))
	writeJSON(w, http.StatusOK, listingViews(listings))
}

func (n *node) handleListingsByContract(w http.ResponseWriter, r *http.Request) {
	var listings = n.market.ListingsByCustodyContract(assetlease.AccountID(chi.URLParam(r, "accountID")))
	writeJSON(w, http.StatusOK, listingViews(listings))
}

func (n *node) handleReleaseHold(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Caller string `json:"caller"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, fmt.Errorf("%w: %v", assetlease.ErrBadMessage, err))
		return
	}

	var err = n.contract.ReleaseCustodyHold(r.Context(),
		assetlease.AccountID(body.Caller), simAssetsID, chi.URLParam(r, "tokenID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "release started"})
}

// ------------------ Rendering helpers -----------------

func leaseView(lease *assetlease.Lease) map[string]any {
	var payout = make(map[string]string, len(lease.Payout))
	for recipient, amount := range lease.Payout {
		payout[string(recipient)] = amount.String()
	}

	return map[string]any{
		"lease_id":         lease.ID,
		"asset_contract":   lease.Asset.Contract,
		"asset_id":         lease.Asset.TokenID,
		"lender_id":        lease.LenderID,
		"borrower_id":      lease.BorrowerID,
		"payment_contract": lease.PaymentContract,
		"start_time":       lease.StartTime.Format(time.RFC3339),
		"end_time":         lease.EndTime.Format(time.RFC3339),
		"price":            lease.Price.String(),
		"payout":           payout,
		"state":            lease.State,
	}
}

func leaseViews(leases []*assetlease.Lease) []map[string]any {
	var views = make([]map[string]any, len(leases))
	for i, lease := range leases {
		views[i] = leaseView(lease)
	}
	return views
}

func listingViews(listings []*assetlease.Listing) []map[string]any {
	var views = make([]map[string]any, len(listings))
	for i, listing := range listings {
		views[i] = listingView(listing)
	}
	return views
}

func listingView(listing *assetlease.Listing) map[string]any {
	var payout = make(map[string]string, len(listing.Payout))
	for recipient, amount := range listing.Payout {
		payout[string(recipient)] = amount.String()
	}

	return map[string]any{
		"asset_contract":   listing.Asset.Contract,
		"asset_id":         listing.Asset.TokenID,
		"owner_id":         listing.OwnerID,
		"payment_contract": listing.PaymentContract,
		"start_time":       listing.StartTime.Format(time.RFC3339),
		"end_time":         listing.EndTime.Format(time.RFC3339),
		"price":            listing.Price.String(),
		"payout":           payout,
	}
}

func parseWindow(start, end string) (time.Time, time.Time, error) {
	startTime, err := time.Parse(time.RFC3339, start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad start time: %v", assetlease.ErrBadMessage, err)
	}
	endTime, err := time.Parse(time.RFC3339, end)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: bad end time: %v", assetlease.ErrBadMessage, err)
	}
	return startTime, endTime, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var status = http.StatusInternalServerError
	switch {
	case errors.Is(err, assetlease.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, assetlease.ErrWrongCaller), errors.Is(err, assetlease.ErrNotAllowed):
		status = http.StatusForbidden
	case errors.Is(err, assetlease.ErrBadMessage),
		errors.Is(err, assetlease.ErrBadDeposit),
		errors.Is(err, assetlease.ErrAmountMismatch),
		errors.Is(err, assetlease.ErrWrongState),
		errors.Is(err, assetlease.ErrNotExpired),
		errors.Is(err, assetlease.ErrDuplicateListing),
		errors.Is(err, assetlease.ErrPayoutMismatch),
		errors.Is(err, assetlease.ErrSelfTransfer):
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]string{"error": err.Error()})
}
