package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen     Status = "open"
	StatusInReview Status = "in_review"
	StatusResolved Status = "resolved"
	StatusClosed   Status = "closed"
)

// Resolution names the adjudication outcome applied to a resolved dispute.
type Resolution string

const (
	ResolutionBuyerFavor    Resolution = "buyer_favor"
	ResolutionSellerFavor   Resolution = "seller_favor"
	ResolutionPartialRefund Resolution = "partial_refund"
)

// Dispute mirrors the disputes table. At most one dispute exists per
// transaction; SellerID is copied from the transaction at creation.
type Dispute struct {
	ID            string
	TransactionID string
	BuyerID       string
	SellerID      string
	Reason        string
	Description   string
	Status        Status
	Resolution    *Resolution
	RefundAmount  *float64
	AdminNotes    *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	ResolvedAt    *time.Time
}

// TxnSummary is the slice of the transaction the engine adjudicates over.
type TxnSummary struct {
	ID          string
	BuyerID     string
	SellerID    string
	Amount      float64
	PlatformFee float64
	Status      string
	CreatedAt   time.Time
}

// CreateParams contains write parameters for opening a dispute. ID is filled
// by the service's id generator.
type CreateParams struct {
	ID            string
	TransactionID string
	BuyerID       string
	SellerID      string
	Reason        string
	Description   string
}

// ResolutionParams enumerates the writes applied together when a dispute is
// resolved: both balance credits, the dispute terminal state, and the
// transaction's final status.
type ResolutionParams struct {
	DisputeID         string
	TransactionID     string
	BuyerID           string
	SellerID          string
	BuyerRefund       float64
	SellerShare       float64
	Resolution        Resolution
	RefundAmount      *float64
	AdminNotes        *string
	TransactionStatus string
}
