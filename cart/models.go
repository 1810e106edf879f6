package cart

import "time"

// Item is a buyer-scoped reference to a listing. Items are ephemeral: they
// are created or incremented on add and deleted on checkout or removal.
type Item struct {
	ID        string
	BuyerID   string
	ListingID string
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}
