package withdrawal

import "time"

// Status is a withdrawal request's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// terminal reports whether no further processing is permitted.
func (s Status) terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// Request is a seller's payout request against their ledger balance.
// PaymentDetails is stored encoded, never in clear text.
type Request struct {
	ID             string     `json:"id"`
	SellerID       string     `json:"seller_id"`
	Amount         float64    `json:"amount"`
	PaymentMethod  string     `json:"payment_method"`
	PaymentDetails string     `json:"-"`
	Status         Status     `json:"status"`
	AdminNotes     *string    `json:"admin_notes,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	ProcessedAt    *time.Time `json:"processed_at,omitempty"`
}

// CreateParams carries a new payout request. ID is filled by the service's
// id generator.
type CreateParams struct {
	ID             string
	SellerID       string
	Amount         float64
	PaymentMethod  string
	PaymentDetails string
}
