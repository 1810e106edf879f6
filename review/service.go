package review

import (
	"context"
	"errors"
)

var (
	// ErrNotBuyersTransaction signals the requester did not buy the transaction.
	ErrNotBuyersTransaction = errors.New("review: transaction does not belong to buyer")
	// ErrIncompleteTransaction signals the transaction has not completed.
	ErrIncompleteTransaction = errors.New("review: transaction not completed")
	// ErrInvalidRating signals a rating outside 1..5.
	ErrInvalidRating = errors.New("review: rating must be between 1 and 5")
)

// Store defines the data access required by the subsystem.
type Store interface {
	GetTransaction(ctx context.Context, transactionID string) (TxnSummary, error)
	Create(ctx context.Context, rec Review) (Review, error)
	ListForSeller(ctx context.Context, sellerID string) ([]Review, error)
}

// Service gates review creation on transaction state.
type Service struct {
	repo Store
}

// NewService builds the subsystem.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// Create records the buyer's review of a completed transaction. The seller
// is copied from the transaction, never taken from the caller.
func (s *Service) Create(ctx context.Context, transactionID, buyerID string, rating int, comment string) (Review, error) {
	if rating < 1 || rating > 5 {
		return Review{}, ErrInvalidRating
	}

	txn, err := s.repo.GetTransaction(ctx, transactionID)
	if err != nil {
		return Review{}, err
	}
	if txn.BuyerID != buyerID {
		return Review{}, ErrNotBuyersTransaction
	}
	if txn.Status != "completed" {
		return Review{}, ErrIncompleteTransaction
	}

	return s.repo.Create(ctx, Review{
		TransactionID: transactionID,
		BuyerID:       buyerID,
		SellerID:      txn.SellerID,
		Rating:        rating,
		Comment:       comment,
	})
}

// ListForSeller returns the seller's reviews.
func (s *Service) ListForSeller(ctx context.Context, sellerID string) ([]Review, error) {
	return s.repo.ListForSeller(ctx, sellerID)
}
