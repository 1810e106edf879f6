package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"marketflow/auth"
	"marketflow/cart"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/review"
	"marketflow/transaction"
	"marketflow/withdrawal"
)

type userResponse struct {
	ID        string  `json:"id"`
	Email     string  `json:"email"`
	Username  string  `json:"username"`
	Role      string  `json:"role"`
	Verified  bool    `json:"verified"`
	Balance   float64 `json:"balance"`
	CreatedAt string  `json:"createdAt"`
}

type listingResponse struct {
	ID            string  `json:"id"`
	SellerID      string  `json:"sellerId"`
	Title         string  `json:"title"`
	Description   string  `json:"description"`
	Platform      string  `json:"platform"`
	Price         float64 `json:"price"`
	FollowerCount *int    `json:"followerCount,omitempty"`
	AccountAge    *int    `json:"accountAge,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"createdAt"`
}

type cartItemResponse struct {
	ID        string `json:"id"`
	ListingID string `json:"listingId"`
	Quantity  int    `json:"quantity"`
	CreatedAt string `json:"createdAt"`
}

type transactionResponse struct {
	ID                string   `json:"id"`
	BuyerID           string   `json:"buyerId"`
	SellerID          string   `json:"sellerId"`
	ListingIDs        []string `json:"listingIds"`
	Amount            float64  `json:"amount"`
	PlatformFee       float64  `json:"platformFee"`
	PaymentMethod     string   `json:"paymentMethod"`
	Status            string   `json:"status"`
	EscrowReleaseDate string   `json:"escrowReleaseDate,omitempty"`
	CreatedAt         string   `json:"createdAt"`
}

type disputeResponse struct {
	ID            string   `json:"id"`
	TransactionID string   `json:"transactionId"`
	BuyerID       string   `json:"buyerId"`
	SellerID      string   `json:"sellerId"`
	Reason        string   `json:"reason"`
	Description   string   `json:"description"`
	Status        string   `json:"status"`
	Resolution    *string  `json:"resolution,omitempty"`
	RefundAmount  *float64 `json:"refundAmount,omitempty"`
	AdminNotes    *string  `json:"adminNotes,omitempty"`
	CreatedAt     string   `json:"createdAt"`
	ResolvedAt    string   `json:"resolvedAt,omitempty"`
}

func toUserResponse(u auth.User) userResponse {
	return userResponse{
		ID:        u.ID,
		Email:     u.Email,
		Username:  u.Username,
		Role:      string(u.Role),
		Verified:  u.Verified,
		Balance:   u.Balance,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func toListingResponse(l listing.Listing) listingResponse {
	return listingResponse{
		ID:            l.ID,
		SellerID:      l.SellerID,
		Title:         l.Title,
		Description:   l.Description,
		Platform:      l.Platform,
		Price:         l.Price,
		FollowerCount: l.FollowerCount,
		AccountAge:    l.AccountAge,
		Status:        string(l.Status),
		CreatedAt:     l.CreatedAt.Format(time.RFC3339),
	}
}

func toListingResponses(in []listing.Listing) []listingResponse {
	out := make([]listingResponse, 0, len(in))
	for _, l := range in {
		out = append(out, toListingResponse(l))
	}
	return out
}

func toTransactionResponse(t transaction.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:            t.ID,
		BuyerID:       t.BuyerID,
		SellerID:      t.SellerID,
		ListingIDs:    t.ListingIDs,
		Amount:        t.Amount,
		PlatformFee:   t.PlatformFee,
		PaymentMethod: t.PaymentMethod,
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt.Format(time.RFC3339),
	}
	if t.EscrowReleaseDate != nil {
		resp.EscrowReleaseDate = t.EscrowReleaseDate.Format(time.RFC3339)
	}
	return resp
}

func toTransactionResponses(in []transaction.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(in))
	for _, t := range in {
		out = append(out, toTransactionResponse(t))
	}
	return out
}

func toDisputeResponse(d dispute.Dispute) disputeResponse {
	resp := disputeResponse{
		ID:            d.ID,
		TransactionID: d.TransactionID,
		BuyerID:       d.BuyerID,
		SellerID:      d.SellerID,
		Reason:        d.Reason,
		Description:   d.Description,
		Status:        string(d.Status),
		RefundAmount:  d.RefundAmount,
		AdminNotes:    d.AdminNotes,
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
	}
	if d.Resolution != nil {
		res := string(*d.Resolution)
		resp.Resolution = &res
	}
	if d.ResolvedAt != nil {
		resp.ResolvedAt = d.ResolvedAt.Format(time.RFC3339)
	}
	return resp
}

func toDisputeResponses(in []dispute.Dispute) []disputeResponse {
	out := make([]disputeResponse, 0, len(in))
	for _, d := range in {
		out = append(out, toDisputeResponse(d))
	}
	return out
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.authService.Register(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrDuplicateEmail):
			respondError(w, http.StatusConflict, "email already registered")
		case errors.Is(err, auth.ErrWeakPassword):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusBadRequest, "registration failed")
		}
		return
	}

	respondJSON(w, http.StatusCreated, toUserResponse(*user))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.authService.Login(r.Context(), req)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUserNotFound) {
			respondError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		respondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user":  toUserResponse(result.User),
	})
}

func (s *Server) handleVerifySeller(w http.ResponseWriter, r *http.Request) {
	sellerID := mux.Vars(r)["id"]
	if err := s.authService.VerifySeller(r.Context(), sellerID); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusBadRequest, "cannot verify user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *Server) handleBrowseListings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := listing.Filters{
		Platform: q.Get("platform"),
		Search:   q.Get("search"),
	}
	filters.PriceMin, _ = strconv.ParseFloat(q.Get("priceMin"), 64)
	filters.PriceMax, _ = strconv.ParseFloat(q.Get("priceMax"), 64)
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("pageSize"))

	items, total, err := s.listingService.Browse(r.Context(), filters)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "browse failed")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"items": toListingResponses(items),
		"total": total,
	})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	rec, err := s.listingService.GetPublic(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			respondError(w, http.StatusNotFound, "listing not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, toListingResponse(rec))
}

func (s *Server) handleCreateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title         string  `json:"title"`
		Description   string  `json:"description"`
		Platform      string  `json:"platform"`
		Price         float64 `json:"price"`
		FollowerCount *int    `json:"followerCount"`
		AccountAge    *int    `json:"accountAge"`
		Credentials   string  `json:"credentials"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" || strings.TrimSpace(req.Credentials) == "" {
		respondError(w, http.StatusBadRequest, "title and credentials are required")
		return
	}

	rec, err := s.listingService.Create(r.Context(), listing.CreateParams{
		SellerID:      callerID(r),
		Title:         req.Title,
		Description:   req.Description,
		Platform:      req.Platform,
		Price:         req.Price,
		FollowerCount: req.FollowerCount,
		AccountAge:    req.AccountAge,
		Credentials:   req.Credentials,
	})
	if err != nil {
		switch {
		case errors.Is(err, listing.ErrNotSeller), errors.Is(err, listing.ErrSellerNotVerified):
			respondError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, listing.ErrInvalidPrice):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusBadRequest, "cannot create listing")
		}
		return
	}

	respondJSON(w, http.StatusCreated, toListingResponse(rec))
}

func (s *Server) handleOwnListings(w http.ResponseWriter, r *http.Request) {
	items, err := s.listingService.OwnListings(r.Context(), callerID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": toListingResponses(items)})
}

func (s *Server) handleModerateListing(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.listingService.Moderate(r.Context(), mux.Vars(r)["id"], listing.Status(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, listing.ErrNotFound):
			respondError(w, http.StatusNotFound, "listing not found")
		case errors.Is(err, listing.ErrBadTransition):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusBadRequest, "cannot moderate listing")
		}
		return
	}

	respondJSON(w, http.StatusOK, toListingResponse(rec))
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		items, err := s.cartService.ListByBuyer(r.Context(), callerID(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		out := make([]cartItemResponse, 0, len(items))
		for _, it := range items {
			out = append(out, cartItemResponse{
				ID:        it.ID,
				ListingID: it.ListingID,
				Quantity:  it.Quantity,
				CreatedAt: it.CreatedAt.Format(time.RFC3339),
			})
		}
		respondJSON(w, http.StatusOK, map[string]any{"items": out})
		return
	}

	var req struct {
		ListingID string `json:"listingId"`
		Quantity  int    `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	item, err := s.cartService.Add(r.Context(), callerID(r), req.ListingID, req.Quantity)
	if err != nil {
		switch {
		case errors.Is(err, cart.ErrInvalidQuantity), errors.Is(err, cart.ErrOwnListing):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, cart.ErrListingUnavailable):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "cannot add to cart")
		}
		return
	}

	respondJSON(w, http.StatusCreated, cartItemResponse{
		ID:        item.ID,
		ListingID: item.ListingID,
		Quantity:  item.Quantity,
		CreatedAt: item.CreatedAt.Format(time.RFC3339),
	})
}

func (s *Server) handleRemoveCartItem(w http.ResponseWriter, r *http.Request) {
	if err := s.cartService.Remove(r.Context(), callerID(r), mux.Vars(r)["id"]); err != nil {
		if errors.Is(err, cart.ErrNotFound) {
			respondError(w, http.StatusNotFound, "cart item not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "cannot remove cart item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PaymentMethod string   `json:"paymentMethod"`
		CartItemIDs   []string `json:"cartItemIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	txns, err := s.txnService.Checkout(r.Context(), callerID(r), req.PaymentMethod, req.CartItemIDs)
	checkoutTxnsTotal.Add(float64(len(txns)))

	if err != nil {
		if len(txns) > 0 {
			// Earlier seller groups committed before the failure; the caller
			// gets both the completed transactions and the error.
			log.Printf("checkout partially failed for %s: %v", callerID(r), err)
			respondJSON(w, http.StatusOK, map[string]any{
				"items": toTransactionResponses(txns),
				"error": "some items could not be processed",
			})
			return
		}
		switch {
		case errors.Is(err, transaction.ErrBuyerNotFound):
			respondError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, transaction.ErrNoValidCartItems),
			errors.Is(err, transaction.ErrCartItemsInvalid),
			errors.Is(err, transaction.ErrSelfPurchase):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, transaction.ErrListingsUnavailable):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "checkout failed")
		}
		return
	}

	respondJSON(w, http.StatusCreated, map[string]any{"items": toTransactionResponses(txns)})
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txns, err := s.txnService.ListForUser(r.Context(), callerID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": toTransactionResponses(txns)})
}

func (s *Server) handleTransactionDetail(w http.ResponseWriter, r *http.Request) {
	txn, err := s.txnService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, transaction.ErrNotFound) {
			respondError(w, http.StatusNotFound, "transaction not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	caller := callerID(r)
	if txn.BuyerID != caller && txn.SellerID != caller && callerRole(r) != auth.RoleAdmin {
		respondError(w, http.StatusNotFound, "transaction not found")
		return
	}

	respondJSON(w, http.StatusOK, toTransactionResponse(txn))
}

func (s *Server) handleDeliverCredentials(w http.ResponseWriter, r *http.Request) {
	secret, delivered, err := s.txnService.DeliverCredentials(r.Context(), mux.Vars(r)["id"], callerID(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "delivery failed")
		return
	}
	if !delivered {
		respondError(w, http.StatusNotFound, "credentials not available")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"credentials": secret})
}

func (s *Server) handleDisputes(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		items, err := s.disputeService.ListForUser(r.Context(), callerID(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"items": toDisputeResponses(items)})
		return
	}

	var req struct {
		TransactionID string `json:"transactionId"`
		Reason        string `json:"reason"`
		Description   string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Reason) == "" {
		respondError(w, http.StatusBadRequest, "reason is required")
		return
	}

	rec, err := s.disputeService.Create(r.Context(), req.TransactionID, callerID(r), req.Reason, req.Description)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrTransactionNotFound):
			respondError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, dispute.ErrNotBuyersTransaction):
			respondError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, dispute.ErrWindowExpired):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, dispute.ErrDisputeExists):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "cannot open dispute")
		}
		return
	}

	respondJSON(w, http.StatusCreated, toDisputeResponse(rec))
}

func (s *Server) handleDisputeDetail(w http.ResponseWriter, r *http.Request) {
	rec, err := s.disputeService.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, dispute.ErrNotFound) {
			respondError(w, http.StatusNotFound, "dispute not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}

	caller := callerID(r)
	if rec.BuyerID != caller && rec.SellerID != caller && callerRole(r) != auth.RoleAdmin {
		respondError(w, http.StatusNotFound, "dispute not found")
		return
	}

	respondJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution   string   `json:"resolution"`
		AdminNotes   *string  `json:"adminNotes"`
		RefundAmount *float64 `json:"refundAmount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resolution := dispute.Resolution(req.Resolution)
	switch resolution {
	case dispute.ResolutionBuyerFavor, dispute.ResolutionSellerFavor, dispute.ResolutionPartialRefund:
	default:
		respondError(w, http.StatusBadRequest, "unknown resolution")
		return
	}

	rec, err := s.disputeService.Resolve(r.Context(), mux.Vars(r)["id"], resolution, req.AdminNotes, req.RefundAmount)
	if err != nil {
		switch {
		case errors.Is(err, dispute.ErrNotFound):
			respondError(w, http.StatusNotFound, "dispute not found")
		case errors.Is(err, dispute.ErrAlreadyResolved):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, dispute.ErrInvalidRefundAmount):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "cannot resolve dispute")
		}
		return
	}

	respondJSON(w, http.StatusOK, toDisputeResponse(rec))
}

func (s *Server) handleWithdrawals(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		items, err := s.withdrawalService.ListForSeller(r.Context(), callerID(r))
		if err != nil {
			respondError(w, http.StatusInternalServerError, "lookup failed")
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"items": items})
		return
	}

	var req struct {
		Amount         float64 `json:"amount"`
		PaymentMethod  string  `json:"paymentMethod"`
		PaymentDetails string  `json:"paymentDetails"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.withdrawalService.Create(r.Context(), callerID(r), req.Amount, req.PaymentMethod, req.PaymentDetails)
	if err != nil {
		switch {
		case errors.Is(err, withdrawal.ErrSellerNotFound):
			respondError(w, http.StatusNotFound, "seller not found")
		case errors.Is(err, withdrawal.ErrInvalidAmount),
			errors.Is(err, withdrawal.ErrInsufficientBalance):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "cannot create withdrawal")
		}
		return
	}

	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status     string  `json:"status"`
		AdminNotes *string `json:"adminNotes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.withdrawalService.Process(r.Context(), mux.Vars(r)["id"], withdrawal.Status(req.Status), req.AdminNotes)
	if err != nil {
		switch {
		case errors.Is(err, withdrawal.ErrNotFound):
			respondError(w, http.StatusNotFound, "withdrawal not found")
		case errors.Is(err, withdrawal.ErrInvalidTransition):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, withdrawal.ErrInsufficientSellerBalance):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "cannot process withdrawal")
		}
		return
	}

	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleCreateReview(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string `json:"transactionId"`
		Rating        int    `json:"rating"`
		Comment       string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rec, err := s.reviewService.Create(r.Context(), req.TransactionID, callerID(r), req.Rating, req.Comment)
	if err != nil {
		switch {
		case errors.Is(err, review.ErrTransactionNotFound):
			respondError(w, http.StatusNotFound, "transaction not found")
		case errors.Is(err, review.ErrNotBuyersTransaction):
			respondError(w, http.StatusForbidden, err.Error())
		case errors.Is(err, review.ErrInvalidRating),
			errors.Is(err, review.ErrIncompleteTransaction):
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, review.ErrReviewExists):
			respondError(w, http.StatusConflict, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "cannot create review")
		}
		return
	}

	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleSellerReviews(w http.ResponseWriter, r *http.Request) {
	items, err := s.reviewService.ListForSeller(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"items": items})
}
