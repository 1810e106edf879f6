package review

import "time"

// Review is a buyer's one-time attestation of a completed transaction.
// Immutable after creation.
type Review struct {
	ID            string    `json:"id"`
	TransactionID string    `json:"transaction_id"`
	BuyerID       string    `json:"buyer_id"`
	SellerID      string    `json:"seller_id"`
	Rating        int       `json:"rating"`
	Comment       string    `json:"comment"`
	CreatedAt     time.Time `json:"created_at"`
}
