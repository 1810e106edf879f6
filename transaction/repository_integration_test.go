package transaction

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/dispute"
	"marketflow/vault"
	"marketflow/withdrawal"
)

// TestEscrowLifecycle_Integration connects to a real PostgreSQL via DATABASE_URL
// and drives the full flow: checkout, one-time credential delivery, dispute
// resolution, and an idempotent withdrawal approval.
func TestEscrowLifecycle_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "transactions") || !tableExists(ctx, t, pool, "listings") || !tableExists(ctx, t, pool, "withdrawal_requests") {
		t.Skip("database schema missing; apply migrations/ against $DATABASE_URL first")
	}

	v, err := vault.New("itest-vault-key")
	if err != nil {
		t.Fatalf("vault: %v", err)
	}

	var buyerID, sellerID, listingID, cartItemID string

	nonce := time.Now().UnixNano()
	if err := pool.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash, role)
		VALUES ($1, 'itest buyer', 'x', 'buyer') RETURNING id
	`, fmt.Sprintf("buyer+%d@example.com", nonce)).Scan(&buyerID); err != nil {
		t.Fatalf("seed buyer: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO users (email, username, password_hash, role, verified)
		VALUES ($1, 'itest seller', 'x', 'seller', TRUE) RETURNING id
	`, fmt.Sprintf("seller+%d@example.com", nonce)).Scan(&sellerID); err != nil {
		t.Fatalf("seed seller: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO listings (seller_id, title, platform, price, credentials, status)
		VALUES ($1, 'Integration account', 'steam', 100, $2, 'active') RETURNING id
	`, sellerID, v.Encode("itest-user:itest-pass")).Scan(&listingID); err != nil {
		t.Fatalf("seed listing: %v", err)
	}
	if err := pool.QueryRow(ctx, `
		INSERT INTO cart_items (buyer_id, listing_id, quantity)
		VALUES ($1, $2, 1) RETURNING id
	`, buyerID, listingID).Scan(&cartItemID); err != nil {
		t.Fatalf("seed cart item: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM transaction_events WHERE transaction_id IN (SELECT id FROM transactions WHERE buyer_id = $1)`, buyerID)
		pool.Exec(ctx2, `DELETE FROM disputes WHERE buyer_id = $1`, buyerID)
		pool.Exec(ctx2, `DELETE FROM withdrawal_requests WHERE seller_id = $1`, sellerID)
		pool.Exec(ctx2, `DELETE FROM transactions WHERE buyer_id = $1`, buyerID)
		pool.Exec(ctx2, `DELETE FROM cart_items WHERE buyer_id = $1`, buyerID)
		pool.Exec(ctx2, `DELETE FROM listings WHERE id = $1`, listingID)
		pool.Exec(ctx2, `DELETE FROM users WHERE id IN ($1, $2)`, buyerID, sellerID)
	})

	svc := NewService(pool, NewRepository(pool), v, 0.05, 24*time.Hour)

	// checkout: one seller group, 5% fee, listing flips to sold, cart empties
	txns, err := svc.Checkout(ctx, buyerID, "card", []string{cartItemID})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if len(txns) != 1 {
		t.Fatalf("expected 1 transaction, got %d", len(txns))
	}
	txn := txns[0]
	if txn.Amount != 100 || txn.PlatformFee != 5 {
		t.Fatalf("expected amount 100 / fee 5, got %v / %v", txn.Amount, txn.PlatformFee)
	}

	var listingStatus string
	if err := pool.QueryRow(ctx, `SELECT status::text FROM listings WHERE id = $1`, listingID).Scan(&listingStatus); err != nil {
		t.Fatalf("verify listing: %v", err)
	}
	if listingStatus != "sold" {
		t.Fatalf("expected listing sold, got %q", listingStatus)
	}

	var cartCount int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM cart_items WHERE buyer_id = $1`, buyerID).Scan(&cartCount); err != nil {
		t.Fatalf("verify cart: %v", err)
	}
	if cartCount != 0 {
		t.Fatalf("expected empty cart, got %d items", cartCount)
	}

	var sellerBalance float64
	if err := pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, sellerID).Scan(&sellerBalance); err != nil {
		t.Fatalf("verify seller balance: %v", err)
	}
	if sellerBalance != 95 {
		t.Fatalf("expected seller balance 95 after checkout, got %v", sellerBalance)
	}

	// delivery: first call returns the secret, second call the null outcome
	secret, delivered, err := svc.DeliverCredentials(ctx, txn.ID, buyerID)
	if err != nil {
		t.Fatalf("deliver (first): %v", err)
	}
	if !delivered || secret != "itest-user:itest-pass" {
		t.Fatalf("expected delivered secret, got delivered=%v secret=%q", delivered, secret)
	}
	if _, delivered, err = svc.DeliverCredentials(ctx, txn.ID, buyerID); err != nil {
		t.Fatalf("deliver (second): %v", err)
	}
	if delivered {
		t.Fatal("second delivery must be refused")
	}

	// dispute: partial refund 60 => buyer +60, seller +35, fee retained
	disputeSvc := dispute.NewService(pool, dispute.NewRepository(pool), 24*time.Hour)
	rec, err := disputeSvc.Create(ctx, txn.ID, buyerID, "account not as described", "integration")
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}

	refund := 60.0
	if _, err := disputeSvc.Resolve(ctx, rec.ID, dispute.ResolutionPartialRefund, nil, &refund); err != nil {
		t.Fatalf("resolve dispute: %v", err)
	}

	var buyerBalance float64
	if err := pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, buyerID).Scan(&buyerBalance); err != nil {
		t.Fatalf("verify buyer balance: %v", err)
	}
	if buyerBalance != 60 {
		t.Fatalf("expected buyer balance 60 after refund, got %v", buyerBalance)
	}
	if err := pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, sellerID).Scan(&sellerBalance); err != nil {
		t.Fatalf("re-verify seller balance: %v", err)
	}
	if sellerBalance != 130 {
		t.Fatalf("expected seller balance 130 (95 + 35), got %v", sellerBalance)
	}

	// withdrawal: approving twice debits exactly once
	wSvc := withdrawal.NewService(pool, withdrawal.NewRepository(pool), v)
	req, err := wSvc.Create(ctx, sellerID, 100, "bank_transfer", "IBAN DE89")
	if err != nil {
		t.Fatalf("create withdrawal: %v", err)
	}
	if _, err := wSvc.Process(ctx, req.ID, withdrawal.StatusApproved, nil); err != nil {
		t.Fatalf("approve withdrawal: %v", err)
	}
	if _, err := wSvc.Process(ctx, req.ID, withdrawal.StatusApproved, nil); err != nil {
		t.Fatalf("re-approve withdrawal: %v", err)
	}
	if err := pool.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, sellerID).Scan(&sellerBalance); err != nil {
		t.Fatalf("final seller balance: %v", err)
	}
	if sellerBalance != 30 {
		t.Fatalf("expected seller balance 30 after a single 100 debit, got %v", sellerBalance)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
