package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketflow/auth"
	"marketflow/cart"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/review"
	"marketflow/transaction"
	"marketflow/withdrawal"
)

type ctxKey int

const (
	ctxKeyUserID ctxKey = iota
	ctxKeyRole
)

var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	checkoutTxnsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "market_checkout_transactions_total",
		Help: "Transactions produced by checkout",
	})
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(tokenString string) (string, auth.Role, error)
	VerifySeller(ctx context.Context, userID string) error
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
}

type listingService interface {
	Create(ctx context.Context, params listing.CreateParams) (listing.Listing, error)
	GetPublic(ctx context.Context, id string) (listing.Listing, error)
	Browse(ctx context.Context, filters listing.Filters) ([]listing.Listing, int, error)
	OwnListings(ctx context.Context, sellerID string) ([]listing.Listing, error)
	Moderate(ctx context.Context, listingID string, next listing.Status) (listing.Listing, error)
}

type cartService interface {
	Add(ctx context.Context, buyerID, listingID string, quantity int) (cart.Item, error)
	Remove(ctx context.Context, buyerID, itemID string) error
	ListByBuyer(ctx context.Context, buyerID string) ([]cart.Item, error)
}

type transactionService interface {
	Checkout(ctx context.Context, buyerID, paymentMethod string, cartItemIDs []string) ([]transaction.Transaction, error)
	DeliverCredentials(ctx context.Context, transactionID, buyerID string) (string, bool, error)
	Get(ctx context.Context, id string) (transaction.Transaction, error)
	ListForUser(ctx context.Context, userID string) ([]transaction.Transaction, error)
}

type disputeService interface {
	Create(ctx context.Context, transactionID, buyerID, reason, description string) (dispute.Dispute, error)
	Resolve(ctx context.Context, disputeID string, resolution dispute.Resolution, adminNotes *string, refundAmount *float64) (dispute.Dispute, error)
	Get(ctx context.Context, disputeID string) (dispute.Dispute, error)
	ListForUser(ctx context.Context, userID string) ([]dispute.Dispute, error)
}

type withdrawalService interface {
	Create(ctx context.Context, sellerID string, amount float64, paymentMethod, paymentDetails string) (withdrawal.Request, error)
	Process(ctx context.Context, requestID string, newStatus withdrawal.Status, adminNotes *string) (withdrawal.Request, error)
	Get(ctx context.Context, requestID string) (withdrawal.Request, error)
	ListForSeller(ctx context.Context, sellerID string) ([]withdrawal.Request, error)
}

type reviewService interface {
	Create(ctx context.Context, transactionID, buyerID string, rating int, comment string) (review.Review, error)
	ListForSeller(ctx context.Context, sellerID string) ([]review.Review, error)
}

// Server routes HTTP requests into the domain services.
type Server struct {
	authService       authService
	listingService    listingService
	cartService       cartService
	txnService        transactionService
	disputeService    disputeService
	withdrawalService withdrawalService
	reviewService     reviewService
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.observe)

	api.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")

	api.HandleFunc("/listings", s.handleBrowseListings).Methods("GET")
	api.HandleFunc("/listings/{id}", s.handleGetListing).Methods("GET")
	api.HandleFunc("/sellers/{id}/reviews", s.handleSellerReviews).Methods("GET")

	authed := api.NewRoute().Subrouter()
	authed.Use(s.requireAuth)

	authed.HandleFunc("/listings", s.handleCreateListing).Methods("POST")
	authed.HandleFunc("/me/listings", s.handleOwnListings).Methods("GET")

	authed.HandleFunc("/cart", s.handleCart).Methods("GET", "POST")
	authed.HandleFunc("/cart/{id}", s.handleRemoveCartItem).Methods("DELETE")

	authed.HandleFunc("/checkout", s.handleCheckout).Methods("POST")
	authed.HandleFunc("/transactions", s.handleTransactions).Methods("GET")
	authed.HandleFunc("/transactions/{id}", s.handleTransactionDetail).Methods("GET")
	authed.HandleFunc("/transactions/{id}/credentials", s.handleDeliverCredentials).Methods("POST")

	authed.HandleFunc("/disputes", s.handleDisputes).Methods("GET", "POST")
	authed.HandleFunc("/disputes/{id}", s.handleDisputeDetail).Methods("GET")

	authed.HandleFunc("/withdrawals", s.handleWithdrawals).Methods("GET", "POST")

	authed.HandleFunc("/reviews", s.handleCreateReview).Methods("POST")

	admin := authed.NewRoute().Subrouter()
	admin.Use(s.requireRole(auth.RoleAdmin))

	admin.HandleFunc("/admin/sellers/{id}/verify", s.handleVerifySeller).Methods("POST")
	admin.HandleFunc("/admin/listings/{id}/status", s.handleModerateListing).Methods("PATCH")
	admin.HandleFunc("/admin/disputes/{id}/resolve", s.handleResolveDispute).Methods("POST")
	admin.HandleFunc("/admin/withdrawals/{id}", s.handleProcessWithdrawal).Methods("PATCH")

	return r
}

// observe wraps handlers with request counting and latency measurement.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := mux.CurrentRoute(r)
		endpoint := r.URL.Path
		if route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		httpLatency.WithLabelValues(r.Method, endpoint).Observe(time.Since(start).Seconds())
		httpReqTotal.WithLabelValues(r.Method, endpoint, http.StatusText(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// requireAuth validates the bearer token and stores the caller's identity in
// the request context.
func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		userID, role, err := s.authService.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, userID)
		ctx = context.WithValue(ctx, ctxKeyRole, role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole gates a subtree on the authenticated caller's role.
func (s *Server) requireRole(role auth.Role) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if got, _ := r.Context().Value(ctxKeyRole).(auth.Role); got != role {
				respondError(w, http.StatusForbidden, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserID).(string)
	return id
}

func callerRole(r *http.Request) auth.Role {
	role, _ := r.Context().Value(ctxKeyRole).(auth.Role)
	return role
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("encode response: %v", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
