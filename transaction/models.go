package transaction

import "time"

// Status is the transaction lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Transaction records one escrow agreement between a buyer and a seller. A
// checkout spanning several sellers produces one row per seller; a row may
// cover several listings from the same seller, hence ListingIDs.
type Transaction struct {
	ID                     string
	BuyerID                string
	SellerID               string
	ListingIDs             []string
	Amount                 float64
	PlatformFee            float64
	PaymentMethod          string
	Status                 Status
	EscrowReleaseDate      *time.Time
	CredentialsDeliveredAt *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ResolvedItem is a cart item joined with the listing fields checkout
// validates against.
type ResolvedItem struct {
	CartItemID    string
	BuyerID       string
	ListingID     string
	Quantity      int
	SellerID      string
	ListingTitle  string
	ListingStatus string
	Price         float64
}

// SellerGroupParams enumerates the writes for one seller group executed
// inside a single database transaction. ID is filled by the service's id
// generator.
type SellerGroupParams struct {
	ID            string
	BuyerID       string
	SellerID      string
	ListingIDs    []string
	CartItemIDs   []string
	Amount        float64
	PlatformFee   float64
	PaymentMethod string
	EscrowRelease time.Time
}
