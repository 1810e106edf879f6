package dispute

import "errors"

// ErrInvalidRefundAmount signals a partial refund outside [0, amount].
var ErrInvalidRefundAmount = errors.New("dispute: invalid refund amount")

// computePayout turns an adjudication outcome into the two balance credits
// and the transaction's final status. The platform fee is never refunded to
// the seller: under partial_refund the seller's share is clamped at zero
// rather than going negative.
func computePayout(resolution Resolution, amount, platformFee float64, refundAmount *float64) (buyerRefund, sellerShare float64, txnStatus string, err error) {
	switch resolution {
	case ResolutionBuyerFavor:
		return amount, 0, "refunded", nil
	case ResolutionSellerFavor:
		return 0, amount - platformFee, "completed", nil
	case ResolutionPartialRefund:
		if refundAmount == nil || *refundAmount < 0 || *refundAmount > amount {
			return 0, 0, "", ErrInvalidRefundAmount
		}
		share := amount - *refundAmount - platformFee
		if share < 0 {
			share = 0
		}
		return *refundAmount, share, "completed", nil
	default:
		return 0, 0, "", errors.New("dispute: unknown resolution")
	}
}
