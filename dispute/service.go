package dispute

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

var (
	// ErrNotBuyersTransaction signals the requester did not buy the transaction.
	ErrNotBuyersTransaction = errors.New("dispute: transaction does not belong to buyer")
	// ErrWindowExpired signals the dispute window has passed.
	ErrWindowExpired = errors.New("dispute: dispute window has expired")
	// ErrAlreadyResolved signals the dispute reached a terminal state.
	ErrAlreadyResolved = errors.New("dispute: already resolved")
)

// DefaultWindow is how long after a transaction's creation the buyer may
// open a dispute.
const DefaultWindow = 24 * time.Hour

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the engine.
type Store interface {
	GetTransaction(ctx context.Context, transactionID string) (TxnSummary, error)
	CreateDispute(ctx context.Context, params CreateParams) (Dispute, error)
	LockDispute(ctx context.Context, tx pgx.Tx, disputeID string) (Dispute, TxnSummary, error)
	ApplyResolution(ctx context.Context, tx pgx.Tx, params ResolutionParams) (Dispute, error)
	GetByID(ctx context.Context, disputeID string) (Dispute, error)
	ListForUser(ctx context.Context, userID string) ([]Dispute, error)
}

// Service adjudicates buyer/seller conflicts over transactions.
type Service struct {
	pool   TxBeginner
	repo   Store
	window time.Duration
	idGen  func() string
	now    func() time.Time
}

// NewService builds the engine. window <= 0 falls back to DefaultWindow.
func NewService(pool TxBeginner, repo Store, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{
		pool:   pool,
		repo:   repo,
		window: window,
		idGen:  func() string { return uuid.NewString() },
		now:    time.Now,
	}
}

// Create opens a dispute for the buyer's transaction. The window is measured
// against the transaction's stored creation time, and the one-dispute rule is
// enforced by the store.
func (s *Service) Create(ctx context.Context, transactionID, buyerID, reason, description string) (Dispute, error) {
	if strings.TrimSpace(reason) == "" {
		return Dispute{}, fmt.Errorf("dispute: reason required")
	}

	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return Dispute{}, err
	}
	if txn.BuyerID != buyerID {
		return Dispute{}, ErrNotBuyersTransaction
	}
	if s.now().Sub(txn.CreatedAt) > s.window {
		return Dispute{}, ErrWindowExpired
	}

	return s.repo.CreateDispute(ctx, CreateParams{
		ID:            s.idGen(),
		TransactionID: transactionID,
		BuyerID:       buyerID,
		SellerID:      txn.SellerID,
		Reason:        reason,
		Description:   description,
	})
}

// Resolve adjudicates an open dispute. Both balance credits, the dispute's
// terminal state, and the transaction's final status commit together; a
// dispute already resolved or closed is rejected without touching balances.
func (s *Service) Resolve(ctx context.Context, disputeID string, resolution Resolution, adminNotes *string, refundAmount *float64) (Dispute, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, txn, err := s.repo.LockDispute(ctx, tx, disputeID)
	if err != nil {
		return Dispute{}, err
	}
	if rec.Status == StatusResolved || rec.Status == StatusClosed {
		return Dispute{}, ErrAlreadyResolved
	}

	buyerRefund, sellerShare, txnStatus, err := computePayout(resolution, txn.Amount, txn.PlatformFee, refundAmount)
	if err != nil {
		return Dispute{}, err
	}

	resolved, err := s.repo.ApplyResolution(ctx, tx, ResolutionParams{
		DisputeID:         disputeID,
		TransactionID:     rec.TransactionID,
		BuyerID:           rec.BuyerID,
		SellerID:          rec.SellerID,
		BuyerRefund:       buyerRefund,
		SellerShare:       sellerShare,
		Resolution:        resolution,
		RefundAmount:      refundAmount,
		AdminNotes:        adminNotes,
		TransactionStatus: txnStatus,
	})
	if err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit: %w", err)
	}
	return resolved, nil
}

// Get returns a dispute by id.
func (s *Service) Get(ctx context.Context, disputeID string) (Dispute, error) {
	return s.repo.GetByID(ctx, disputeID)
}

// ListForUser returns disputes involving the user.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]Dispute, error) {
	return s.repo.ListForUser(ctx, userID)
}
