package actors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/cart"
	"marketflow/dispute"
	"marketflow/listing"
	"marketflow/review"
	"marketflow/transaction"
	"marketflow/withdrawal"
)

// Actors drive the real services against shared state. Domain rejections
// (listing gone, dispute exists, insufficient balance) are expected under
// contention, as are connection drops from the chaos helper, so failures
// are swallowed and the oracles judge the resulting database state.

// Shopper fills a cart from the shared listings and checks out repeatedly,
// racing other shoppers for the same stock.
func Shopper(ctx context.Context, pool *pgxpool.Pool, cartSvc *cart.Service, txnSvc *transaction.Service, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var listingID string
		_ = pool.QueryRow(ctx, `SELECT id FROM listings WHERE status='active' AND seller_id <> $1 ORDER BY random() LIMIT 1`, buyerID).Scan(&listingID)
		if listingID != "" {
			_, _ = cartSvc.Add(ctx, buyerID, listingID, 1)
		}

		items, err := cartSvc.ListByBuyer(ctx, buyerID)
		if err == nil && len(items) > 0 {
			ids := make([]string, 0, len(items))
			for _, it := range items {
				ids = append(ids, it.ID)
			}
			txns, _ := txnSvc.Checkout(ctx, buyerID, "card", ids)
			for _, txn := range txns {
				// claim credentials, possibly racing a duplicate claim
				_, _, _ = txnSvc.DeliverCredentials(ctx, txn.ID, buyerID)
			}
		}

		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// RepeatDeliverer hammers credential delivery for the buyer's transactions to
// provoke double-claim races.
func RepeatDeliverer(ctx context.Context, pool *pgxpool.Pool, txnSvc *transaction.Service, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var txnID string
		_ = pool.QueryRow(ctx, `SELECT id FROM transactions WHERE buyer_id=$1 ORDER BY random() LIMIT 1`, buyerID).Scan(&txnID)
		if txnID != "" {
			_, _, _ = txnSvc.DeliverCredentials(ctx, txnID, buyerID)
		}

		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Disputer opens disputes against the buyer's recent transactions; most
// attempts lose to the one-dispute rule.
func Disputer(ctx context.Context, pool *pgxpool.Pool, disputeSvc *dispute.Service, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var txnID string
		_ = pool.QueryRow(ctx, `SELECT id FROM transactions WHERE buyer_id=$1 AND status IN ('completed','disputed') ORDER BY random() LIMIT 1`, buyerID).Scan(&txnID)
		if txnID != "" {
			_, _ = disputeSvc.Create(ctx, txnID, buyerID, "account not as described", "stress run")
		}

		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Adjudicator resolves open disputes with random outcomes, racing other
// adjudicators for the same dispute row.
func Adjudicator(ctx context.Context, pool *pgxpool.Pool, disputeSvc *dispute.Service, stop <-chan struct{}) error {
	resolutions := []dispute.Resolution{
		dispute.ResolutionBuyerFavor,
		dispute.ResolutionSellerFavor,
		dispute.ResolutionPartialRefund,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var disputeID string
		var amount float64
		_ = pool.QueryRow(ctx, `
			SELECT d.id, t.amount FROM disputes d
			JOIN transactions t ON t.id = d.transaction_id
			WHERE d.status IN ('open','in_review')
			ORDER BY random() LIMIT 1
		`).Scan(&disputeID, &amount)
		if disputeID != "" {
			res := resolutions[rand.Intn(len(resolutions))]
			var refund *float64
			if res == dispute.ResolutionPartialRefund {
				r := math.Round(amount*float64(rand.Intn(101))) / 100
				refund = &r
			}
			_, _ = disputeSvc.Resolve(ctx, disputeID, res, nil, refund)
		}

		time.Sleep(time.Duration(50+rand.Intn(80)) * time.Millisecond)
	}
}

// Cashier files withdrawal requests for the seller and processes pending
// ones, including deliberate double approvals.
func Cashier(ctx context.Context, pool *pgxpool.Pool, wSvc *withdrawal.Service, sellerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		amount := float64(5 + rand.Intn(50))
		_, _ = wSvc.Create(ctx, sellerID, amount, "bank_transfer", "IBAN STRESS")

		var reqID string
		_ = pool.QueryRow(ctx, `SELECT id FROM withdrawal_requests WHERE seller_id=$1 AND status IN ('pending','approved') ORDER BY random() LIMIT 1`, sellerID).Scan(&reqID)
		if reqID != "" {
			// approve twice on purpose; the second must be a balance no-op
			_, _ = wSvc.Process(ctx, reqID, withdrawal.StatusApproved, nil)
			_, _ = wSvc.Process(ctx, reqID, withdrawal.StatusApproved, nil)
			if rand.Intn(3) == 0 {
				_, _ = wSvc.Process(ctx, reqID, withdrawal.StatusCompleted, nil)
			}
		}

		time.Sleep(time.Duration(60+rand.Intn(90)) * time.Millisecond)
	}
}

// Reviewer reviews the buyer's completed transactions; repeats lose to the
// one-review rule.
func Reviewer(ctx context.Context, pool *pgxpool.Pool, reviewSvc *review.Service, buyerID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var txnID string
		_ = pool.QueryRow(ctx, `SELECT id FROM transactions WHERE buyer_id=$1 AND status='completed' ORDER BY random() LIMIT 1`, buyerID).Scan(&txnID)
		if txnID != "" {
			_, _ = reviewSvc.Create(ctx, txnID, buyerID, 1+rand.Intn(5), "stress review")
		}

		time.Sleep(time.Duration(70+rand.Intn(100)) * time.Millisecond)
	}
}

// Restocker keeps the market stocked: the seller lists new accounts and
// whatever lands under review is activated so shoppers always find stock.
func Restocker(ctx context.Context, pool *pgxpool.Pool, listSvc *listing.Service, sellerID string, stop <-chan struct{}) error {
	platforms := []string{"steam", "instagram", "tiktok"}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		rec, err := listSvc.Create(ctx, listing.CreateParams{
			SellerID:    sellerID,
			Title:       fmt.Sprintf("Stress account %d", rand.Int63()),
			Platform:    platforms[rand.Intn(len(platforms))],
			Price:       float64(10 + rand.Intn(90)),
			Credentials: "stress-user:stress-pass",
		})
		if err == nil {
			_, _ = listSvc.Moderate(ctx, rec.ID, listing.StatusActive)
		}

		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}
