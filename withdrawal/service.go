package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"marketflow/ledger"
)

var (
	// ErrInvalidAmount signals a non-positive withdrawal amount.
	ErrInvalidAmount = errors.New("withdrawal: amount must be positive")
	// ErrInsufficientSellerBalance signals the seller's balance no longer
	// covers the amount at approval time.
	ErrInsufficientSellerBalance = errors.New("withdrawal: insufficient seller balance")
	// ErrInvalidTransition signals a status change the lifecycle forbids.
	ErrInvalidTransition = errors.New("withdrawal: invalid status transition")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store defines the data access required by the engine.
type Store interface {
	CreateRequest(ctx context.Context, params CreateParams) (Request, error)
	LockRequest(ctx context.Context, tx pgx.Tx, requestID string) (Request, error)
	DebitSeller(ctx context.Context, tx pgx.Tx, sellerID string, amount float64) error
	UpdateStatus(ctx context.Context, tx pgx.Tx, requestID string, newStatus Status, adminNotes *string, stampProcessed bool) (Request, error)
	GetByID(ctx context.Context, requestID string) (Request, error)
	ListForSeller(ctx context.Context, sellerID string) ([]Request, error)
}

// Encoder seals payment details for at-rest storage.
type Encoder interface {
	Encode(plain string) string
}

// Service handles seller payout requests and their admin processing.
type Service struct {
	pool  TxBeginner
	repo  Store
	vault Encoder
	idGen func() string
}

// NewService builds the engine.
func NewService(pool TxBeginner, repo Store, vault Encoder) *Service {
	return &Service{
		pool:  pool,
		repo:  repo,
		vault: vault,
		idGen: func() string { return uuid.NewString() },
	}
}

// Create records a pending payout request. The amount is checked against the
// seller's balance at request time; the balance itself is not touched until
// approval.
func (s *Service) Create(ctx context.Context, sellerID string, amount float64, paymentMethod, paymentDetails string) (Request, error) {
	if amount <= 0 {
		return Request{}, ErrInvalidAmount
	}
	if strings.TrimSpace(paymentMethod) == "" {
		return Request{}, fmt.Errorf("withdrawal: payment method required")
	}

	return s.repo.CreateRequest(ctx, CreateParams{
		ID:             s.idGen(),
		SellerID:       sellerID,
		Amount:         amount,
		PaymentMethod:  paymentMethod,
		PaymentDetails: s.vault.Encode(paymentDetails),
	})
}

// Process moves a request through its lifecycle on behalf of an admin.
// Approval debits the seller exactly once: the row lock plus the
// pending-state guard make a second approval a no-op on the balance.
func (s *Service) Process(ctx context.Context, requestID string, newStatus Status, adminNotes *string) (Request, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.LockRequest(ctx, tx, requestID)
	if err != nil {
		return Request{}, err
	}

	switch newStatus {
	case StatusApproved:
		switch rec.Status {
		case StatusApproved:
			// Already approved; the debit has happened. Notes may still change.
		case StatusPending:
			if err := s.repo.DebitSeller(ctx, tx, rec.SellerID, rec.Amount); err != nil {
				if errors.Is(err, ledger.ErrInsufficientBalance) {
					return Request{}, ErrInsufficientSellerBalance
				}
				return Request{}, err
			}
		default:
			return Request{}, ErrInvalidTransition
		}
	case StatusRejected:
		if rec.Status.terminal() {
			return Request{}, ErrInvalidTransition
		}
	case StatusCompleted:
		if rec.Status != StatusApproved {
			return Request{}, ErrInvalidTransition
		}
	default:
		return Request{}, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateStatus(ctx, tx, requestID, newStatus, adminNotes, newStatus == StatusCompleted)
	if err != nil {
		return Request{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("withdrawal: commit: %w", err)
	}
	return updated, nil
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, requestID string) (Request, error) {
	return s.repo.GetByID(ctx, requestID)
}

// ListForSeller returns the seller's requests.
func (s *Service) ListForSeller(ctx context.Context, sellerID string) ([]Request, error) {
	return s.repo.ListForSeller(ctx, sellerID)
}
