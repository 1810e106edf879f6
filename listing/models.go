package listing

import "time"

// Status is the lifecycle state of a sellable account listing.
type Status string

const (
	StatusUnderReview Status = "under_review"
	StatusActive      Status = "active"
	StatusRemoved     Status = "removed"
	StatusSold        Status = "sold"
)

// Listing mirrors the listings table. Credentials holds the vault-encoded
// account secret, never clear text.
type Listing struct {
	ID            string
	SellerID      string
	Title         string
	Description   string
	Platform      string
	Price         float64
	FollowerCount *int
	AccountAge    *int
	Credentials   string
	Status        Status
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Filters narrows public browse queries. Only active listings are ever
// visible through the public path.
type Filters struct {
	Platform string
	PriceMin float64
	PriceMax float64
	Search   string
	Page     int
	PageSize int
}

// CreateParams contains write parameters for new listings. ID is filled by
// the service's id generator.
type CreateParams struct {
	ID            string
	SellerID      string
	Title         string
	Description   string
	Platform      string
	Price         float64
	FollowerCount *int
	AccountAge    *int
	Credentials   string
}
