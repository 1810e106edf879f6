package cart

import "context"

// Store abstracts repository operations for the service.
type Store interface {
	Add(ctx context.Context, buyerID, listingID string, quantity int) (Item, error)
	Remove(ctx context.Context, buyerID, itemID string) error
	ListByBuyer(ctx context.Context, buyerID string) ([]Item, error)
}

// Service exposes cart operations to the API layer.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

func (s *Service) Add(ctx context.Context, buyerID, listingID string, quantity int) (Item, error) {
	return s.repo.Add(ctx, buyerID, listingID, quantity)
}

func (s *Service) Remove(ctx context.Context, buyerID, itemID string) error {
	return s.repo.Remove(ctx, buyerID, itemID)
}

func (s *Service) ListByBuyer(ctx context.Context, buyerID string) ([]Item, error) {
	return s.repo.ListByBuyer(ctx, buyerID)
}
