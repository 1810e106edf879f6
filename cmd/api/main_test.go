package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
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

type stubAuthService struct {
	userID string
	role   auth.Role
	err    error
}

func (s *stubAuthService) Register(_ context.Context, _ auth.RegisterRequest) (*auth.User, error) {
	return &auth.User{ID: s.userID, Role: s.role}, s.err
}

func (s *stubAuthService) Login(_ context.Context, _ auth.LoginRequest) (auth.LoginResult, error) {
	return auth.LoginResult{Token: "tok", User: auth.User{ID: s.userID, Role: s.role}}, s.err
}

func (s *stubAuthService) VerifyToken(_ string) (string, auth.Role, error) {
	return s.userID, s.role, s.err
}

func (s *stubAuthService) VerifySeller(_ context.Context, _ string) error {
	return s.err
}

func (s *stubAuthService) GetUserByID(_ context.Context, _ string) (*auth.User, error) {
	return &auth.User{ID: s.userID, Role: s.role}, s.err
}

type stubListingService struct {
	rec   listing.Listing
	items []listing.Listing
	total int
	err   error
}

func (s *stubListingService) Create(_ context.Context, _ listing.CreateParams) (listing.Listing, error) {
	return s.rec, s.err
}

func (s *stubListingService) GetPublic(_ context.Context, _ string) (listing.Listing, error) {
	return s.rec, s.err
}

func (s *stubListingService) Browse(_ context.Context, _ listing.Filters) ([]listing.Listing, int, error) {
	return s.items, s.total, s.err
}

func (s *stubListingService) OwnListings(_ context.Context, _ string) ([]listing.Listing, error) {
	return s.items, s.err
}

func (s *stubListingService) Moderate(_ context.Context, _ string, _ listing.Status) (listing.Listing, error) {
	return s.rec, s.err
}

type stubCartService struct {
	item  cart.Item
	items []cart.Item
	err   error
}

func (s *stubCartService) Add(_ context.Context, _ string, _ string, _ int) (cart.Item, error) {
	return s.item, s.err
}

func (s *stubCartService) Remove(_ context.Context, _ string, _ string) error {
	return s.err
}

func (s *stubCartService) ListByBuyer(_ context.Context, _ string) ([]cart.Item, error) {
	return s.items, s.err
}

type stubTxnService struct {
	txns      []transaction.Transaction
	txn       transaction.Transaction
	secret    string
	delivered bool
	err       error
}

func (s *stubTxnService) Checkout(_ context.Context, _ string, _ string, _ []string) ([]transaction.Transaction, error) {
	return s.txns, s.err
}

func (s *stubTxnService) DeliverCredentials(_ context.Context, _ string, _ string) (string, bool, error) {
	return s.secret, s.delivered, s.err
}

func (s *stubTxnService) Get(_ context.Context, _ string) (transaction.Transaction, error) {
	return s.txn, s.err
}

func (s *stubTxnService) ListForUser(_ context.Context, _ string) ([]transaction.Transaction, error) {
	return s.txns, s.err
}

type stubDisputeService struct {
	rec   dispute.Dispute
	items []dispute.Dispute
	err   error
}

func (s *stubDisputeService) Create(_ context.Context, _ string, _ string, _ string, _ string) (dispute.Dispute, error) {
	return s.rec, s.err
}

func (s *stubDisputeService) Resolve(_ context.Context, _ string, _ dispute.Resolution, _ *string, _ *float64) (dispute.Dispute, error) {
	return s.rec, s.err
}

func (s *stubDisputeService) Get(_ context.Context, _ string) (dispute.Dispute, error) {
	return s.rec, s.err
}

func (s *stubDisputeService) ListForUser(_ context.Context, _ string) ([]dispute.Dispute, error) {
	return s.items, s.err
}

type stubWithdrawalService struct {
	rec   withdrawal.Request
	items []withdrawal.Request
	err   error
}

func (s *stubWithdrawalService) Create(_ context.Context, _ string, _ float64, _ string, _ string) (withdrawal.Request, error) {
	return s.rec, s.err
}

func (s *stubWithdrawalService) Process(_ context.Context, _ string, _ withdrawal.Status, _ *string) (withdrawal.Request, error) {
	return s.rec, s.err
}

func (s *stubWithdrawalService) Get(_ context.Context, _ string) (withdrawal.Request, error) {
	return s.rec, s.err
}

func (s *stubWithdrawalService) ListForSeller(_ context.Context, _ string) ([]withdrawal.Request, error) {
	return s.items, s.err
}

type stubReviewService struct {
	rec   review.Review
	items []review.Review
	err   error
}

func (s *stubReviewService) Create(_ context.Context, _ string, _ string, _ int, _ string) (review.Review, error) {
	return s.rec, s.err
}

func (s *stubReviewService) ListForSeller(_ context.Context, _ string) ([]review.Review, error) {
	return s.items, s.err
}

func authedRequest(req *http.Request, userID string, role auth.Role) *http.Request {
	ctx := context.WithValue(req.Context(), ctxKeyUserID, userID)
	ctx = context.WithValue(ctx, ctxKeyRole, role)
	return req.WithContext(ctx)
}

func TestHandleGetListing_Success(t *testing.T) {
	now := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	server := &Server{
		listingService: &stubListingService{
			rec: listing.Listing{
				ID:        "l1",
				SellerID:  "s1",
				Title:     "Aged gaming account",
				Platform:  "steam",
				Price:     120,
				Status:    listing.StatusActive,
				CreatedAt: now,
			},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/listings/l1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "l1"})
	rec := httptest.NewRecorder()

	server.handleGetListing(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp listingResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.ID != "l1" || resp.Title != "Aged gaming account" || resp.Status != "active" {
		t.Fatalf("unexpected payload: %+v", resp)
	}
	if resp.CreatedAt != now.Format(time.RFC3339) {
		t.Fatalf("expected createdAt %s, got %s", now.Format(time.RFC3339), resp.CreatedAt)
	}
}

func TestHandleGetListing_NotFound(t *testing.T) {
	server := &Server{
		listingService: &stubListingService{err: listing.ErrNotFound},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/listings/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()

	server.handleGetListing(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleCreateListing_UnverifiedSeller(t *testing.T) {
	server := &Server{
		listingService: &stubListingService{err: listing.ErrSellerNotVerified},
	}

	body := strings.NewReader(`{"title":"Account","price":50,"credentials":"user:pass"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/listings", body)
	req = authedRequest(req, "s1", auth.RoleSeller)
	rec := httptest.NewRecorder()

	server.handleCreateListing(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleCreateListing_MissingFields(t *testing.T) {
	server := &Server{listingService: &stubListingService{}}

	body := strings.NewReader(`{"price":50}`)
	req := httptest.NewRequest(http.MethodPost, "/api/listings", body)
	req = authedRequest(req, "s1", auth.RoleSeller)
	rec := httptest.NewRecorder()

	server.handleCreateListing(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCheckout_Success(t *testing.T) {
	server := &Server{
		txnService: &stubTxnService{
			txns: []transaction.Transaction{
				{ID: "t1", BuyerID: "b1", SellerID: "s1", Amount: 50, PlatformFee: 2.5, Status: transaction.StatusCompleted},
				{ID: "t2", BuyerID: "b1", SellerID: "s2", Amount: 30, PlatformFee: 1.5, Status: transaction.StatusCompleted},
			},
		},
	}

	body := strings.NewReader(`{"paymentMethod":"card","cartItemIds":["c1","c2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", body)
	req = authedRequest(req, "b1", auth.RoleBuyer)
	rec := httptest.NewRecorder()

	server.handleCheckout(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var payload struct {
		Items []transactionResponse `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 2 || payload.Items[0].Amount != 50 || payload.Items[1].PlatformFee != 1.5 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleCheckout_ListingsUnavailable(t *testing.T) {
	server := &Server{
		txnService: &stubTxnService{err: transaction.ErrListingsUnavailable},
	}

	body := strings.NewReader(`{"paymentMethod":"card","cartItemIds":["c1"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", body)
	req = authedRequest(req, "b1", auth.RoleBuyer)
	rec := httptest.NewRecorder()

	server.handleCheckout(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleCheckout_PartialFailureReturnsCommitted(t *testing.T) {
	server := &Server{
		txnService: &stubTxnService{
			txns: []transaction.Transaction{{ID: "t1", Status: transaction.StatusCompleted}},
			err:  errors.New("seller group s2: listings unavailable"),
		},
	}

	body := strings.NewReader(`{"paymentMethod":"card","cartItemIds":["c1","c2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", body)
	req = authedRequest(req, "b1", auth.RoleBuyer)
	rec := httptest.NewRecorder()

	server.handleCheckout(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Items []transactionResponse `json:"items"`
		Error string                `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Items) != 1 || payload.Error == "" {
		t.Fatalf("expected committed items plus error, got %+v", payload)
	}
}

func TestHandleDeliverCredentials_Success(t *testing.T) {
	server := &Server{
		txnService: &stubTxnService{secret: "user:pass", delivered: true},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/t1/credentials", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "t1"})
	req = authedRequest(req, "b1", auth.RoleBuyer)
	rec := httptest.NewRecorder()

	server.handleDeliverCredentials(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload["credentials"] != "user:pass" {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandleDeliverCredentials_NoDelivery(t *testing.T) {
	server := &Server{
		txnService: &stubTxnService{delivered: false},
	}

	req := httptest.NewRequest(http.MethodPost, "/api/transactions/t1/credentials", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "t1"})
	req = authedRequest(req, "b1", auth.RoleBuyer)
	rec := httptest.NewRecorder()

	server.handleDeliverCredentials(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleTransactionDetail_HiddenFromStrangers(t *testing.T) {
	server := &Server{
		txnService: &stubTxnService{
			txn: transaction.Transaction{ID: "t1", BuyerID: "b1", SellerID: "s1"},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/transactions/t1", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "t1"})
	req = authedRequest(req, "stranger", auth.RoleBuyer)
	rec := httptest.NewRecorder()

	server.handleTransactionDetail(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a stranger, got %d", rec.Code)
	}
}

func TestHandleDisputes_CreateWindowExpired(t *testing.T) {
	server := &Server{
		disputeService: &stubDisputeService{err: dispute.ErrWindowExpired},
	}

	body := strings.NewReader(`{"transactionId":"t1","reason":"account reclaimed"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/disputes", body)
	req = authedRequest(req, "b1", auth.RoleBuyer)
	rec := httptest.NewRecorder()

	server.handleDisputes(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleResolveDispute_UnknownResolution(t *testing.T) {
	server := &Server{disputeService: &stubDisputeService{}}

	body := strings.NewReader(`{"resolution":"split_the_baby"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/disputes/d1/resolve", body)
	req = mux.SetURLVars(req, map[string]string{"id": "d1"})
	req = authedRequest(req, "a1", auth.RoleAdmin)
	rec := httptest.NewRecorder()

	server.handleResolveDispute(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleResolveDispute_AlreadyResolved(t *testing.T) {
	server := &Server{
		disputeService: &stubDisputeService{err: dispute.ErrAlreadyResolved},
	}

	body := strings.NewReader(`{"resolution":"buyer_favor"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/disputes/d1/resolve", body)
	req = mux.SetURLVars(req, map[string]string{"id": "d1"})
	req = authedRequest(req, "a1", auth.RoleAdmin)
	rec := httptest.NewRecorder()

	server.handleResolveDispute(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestHandleProcessWithdrawal_InvalidTransition(t *testing.T) {
	server := &Server{
		withdrawalService: &stubWithdrawalService{err: withdrawal.ErrInvalidTransition},
	}

	body := strings.NewReader(`{"status":"approved"}`)
	req := httptest.NewRequest(http.MethodPatch, "/api/admin/withdrawals/w1", body)
	req = mux.SetURLVars(req, map[string]string{"id": "w1"})
	req = authedRequest(req, "a1", auth.RoleAdmin)
	rec := httptest.NewRecorder()

	server.handleProcessWithdrawal(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestRouter_RequiresAuth(t *testing.T) {
	server := &Server{
		authService: &stubAuthService{err: errors.New("bad token")},
	}
	router := server.routes()

	req := httptest.NewRequest(http.MethodGet, "/api/cart", nil)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}
}

func TestRouter_AdminGate(t *testing.T) {
	server := &Server{
		authService:    &stubAuthService{userID: "b1", role: auth.RoleBuyer},
		disputeService: &stubDisputeService{},
	}
	router := server.routes()

	body := strings.NewReader(`{"resolution":"buyer_favor"}`)
	req := httptest.NewRequest(http.MethodPost, "/api/admin/disputes/d1/resolve", body)
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}
}
