package listing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrSellerNotVerified signals the seller has not passed verification.
	ErrSellerNotVerified = errors.New("listing: seller must be verified")
	// ErrNotSeller signals the user cannot own listings.
	ErrNotSeller = errors.New("listing: user is not a seller")
	// ErrInvalidPrice signals a non-positive asking price.
	ErrInvalidPrice = errors.New("listing: price must be positive")
)

// Store abstracts repository operations for the service.
type Store interface {
	GetSeller(ctx context.Context, sellerID string) (SellerProfile, error)
	Create(ctx context.Context, params CreateParams) (Listing, error)
	GetByID(ctx context.Context, id string) (Listing, error)
	List(ctx context.Context, filters Filters) ([]Listing, int, error)
	ListBySeller(ctx context.Context, sellerID string) ([]Listing, error)
	Moderate(ctx context.Context, listingID string, next Status) (Listing, error)
}

// Encoder seals credentials for at-rest storage.
type Encoder interface {
	Encode(plain string) string
}

// Service exposes business-level listing operations.
type Service struct {
	repo  Store
	vault Encoder
	idGen func() string
}

// NewService builds a Service using the provided repository and vault.
func NewService(repo Store, vault Encoder) *Service {
	return &Service{
		repo:  repo,
		vault: vault,
		idGen: func() string { return uuid.NewString() },
	}
}

// Create registers a new listing for a verified seller. The listing enters
// under_review and is invisible to buyers until moderation activates it.
func (s *Service) Create(ctx context.Context, params CreateParams) (Listing, error) {
	if strings.TrimSpace(params.Title) == "" {
		return Listing{}, fmt.Errorf("listing: title required")
	}
	if params.Price <= 0 {
		return Listing{}, ErrInvalidPrice
	}
	if strings.TrimSpace(params.Credentials) == "" {
		return Listing{}, fmt.Errorf("listing: credentials required")
	}

	seller, err := s.repo.GetSeller(ctx, params.SellerID)
	if err != nil {
		return Listing{}, err
	}
	if seller.Role != "seller" {
		return Listing{}, ErrNotSeller
	}
	if !seller.Verified {
		return Listing{}, ErrSellerNotVerified
	}

	params.ID = s.idGen()
	params.Credentials = s.vault.Encode(params.Credentials)
	return s.repo.Create(ctx, params)
}

// GetPublic returns a listing only when it is publicly visible. The encoded
// credential blob is always stripped from reads.
func (s *Service) GetPublic(ctx context.Context, id string) (Listing, error) {
	rec, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return Listing{}, err
	}
	if rec.Status != StatusActive {
		return Listing{}, ErrNotFound
	}
	rec.Credentials = ""
	return rec, nil
}

// Browse lists active listings matching the filters.
func (s *Service) Browse(ctx context.Context, filters Filters) ([]Listing, int, error) {
	items, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, err
	}
	for i := range items {
		items[i].Credentials = ""
	}
	return items, total, nil
}

// OwnListings returns the seller's listings in every status.
func (s *Service) OwnListings(ctx context.Context, sellerID string) ([]Listing, error) {
	items, err := s.repo.ListBySeller(ctx, sellerID)
	if err != nil {
		return nil, err
	}
	for i := range items {
		items[i].Credentials = ""
	}
	return items, nil
}

// Moderate applies an admin moderation decision.
func (s *Service) Moderate(ctx context.Context, listingID string, next Status) (Listing, error) {
	rec, err := s.repo.Moderate(ctx, listingID, next)
	if err != nil {
		return Listing{}, err
	}
	rec.Credentials = ""
	return rec, nil
}
