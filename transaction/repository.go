package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/ledger"
)

// ErrListingConflict signals a listing in the group was no longer active when
// the group transaction tried to mark it sold.
var ErrListingConflict = errors.New("transaction: listing no longer active")

const txnColumns = `id, buyer_id, seller_id, listing_ids, amount, platform_fee, payment_method, status::text, escrow_release_date, credentials_delivered_at, created_at, updated_at`

// Repository implements checkout and delivery data access on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed transaction repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BuyerExists reports whether the buyer row is present.
func (r *Repository) BuyerExists(ctx context.Context, buyerID string) (bool, error) {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, buyerID).Scan(&exists); err != nil {
		return false, fmt.Errorf("transaction: buyer exists: %w", err)
	}
	return exists, nil
}

// ResolveCartItems loads the supplied cart items joined with their listings.
// Missing ids simply produce fewer rows; the service decides what that means.
func (r *Repository) ResolveCartItems(ctx context.Context, itemIDs []string) ([]ResolvedItem, error) {
	const query = `
		SELECT ci.id, ci.buyer_id, ci.listing_id, ci.quantity,
		       l.seller_id, l.title, l.status::text, l.price
		FROM cart_items ci
		JOIN listings l ON l.id = ci.listing_id
		WHERE ci.id = ANY($1)
	`

	rows, err := r.pool.Query(ctx, query, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("transaction: resolve cart items: %w", err)
	}
	defer rows.Close()

	items := make([]ResolvedItem, 0, len(itemIDs))
	for rows.Next() {
		var it ResolvedItem
		if err := rows.Scan(&it.CartItemID, &it.BuyerID, &it.ListingID, &it.Quantity,
			&it.SellerID, &it.ListingTitle, &it.ListingStatus, &it.Price); err != nil {
			return nil, fmt.Errorf("transaction: scan cart item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate cart items: %w", err)
	}
	return items, nil
}

// ExecuteSellerGroup applies one seller group inside the caller's database
// transaction: insert the transaction row, flip the listings to sold, credit
// the seller net of the platform fee, consume the group's cart items, and
// append the audit event. Any failure aborts the whole group.
func (r *Repository) ExecuteSellerGroup(ctx context.Context, tx pgx.Tx, params SellerGroupParams) (Transaction, error) {
	insertSQL := `
		INSERT INTO transactions (id, buyer_id, seller_id, listing_ids, amount, platform_fee, payment_method, status, escrow_release_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'completed', $8)
		RETURNING ` + txnColumns

	rec, err := scanTransaction(tx.QueryRow(ctx, insertSQL,
		params.ID,
		params.BuyerID,
		params.SellerID,
		params.ListingIDs,
		params.Amount,
		params.PlatformFee,
		params.PaymentMethod,
		params.EscrowRelease,
	))
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: insert: %w", err)
	}

	// The status guard keeps a racing checkout from double selling the
	// same listing.
	tag, err := tx.Exec(ctx, `
		UPDATE listings SET status = 'sold', updated_at = now()
		WHERE id = ANY($1) AND status = 'active'
	`, params.ListingIDs)
	if err != nil {
		return Transaction{}, fmt.Errorf("transaction: mark sold: %w", err)
	}
	if int(tag.RowsAffected()) != len(params.ListingIDs) {
		return Transaction{}, ErrListingConflict
	}

	if _, err := ledger.Credit(ctx, tx, params.SellerID, params.Amount-params.PlatformFee); err != nil {
		return Transaction{}, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE id = ANY($1)`, params.CartItemIDs); err != nil {
		return Transaction{}, fmt.Errorf("transaction: consume cart items: %w", err)
	}

	if err := appendEvent(ctx, tx, rec.ID, "CHECKOUT_COMPLETED", map[string]any{
		"buyer_id":     params.BuyerID,
		"seller_id":    params.SellerID,
		"listing_ids":  params.ListingIDs,
		"amount":       params.Amount,
		"platform_fee": params.PlatformFee,
	}); err != nil {
		return Transaction{}, err
	}

	return rec, nil
}

// ClaimDelivery atomically stamps credentials_delivered_at and returns the
// encoded credential blobs of the transaction's listings. The conditional
// update is the delivery gate: a transaction that is missing, foreign,
// incomplete, or already delivered claims nothing.
func (r *Repository) ClaimDelivery(ctx context.Context, tx pgx.Tx, transactionID, buyerID string, now time.Time) ([]string, error) {
	const claimSQL = `
		WITH claimed AS (
			UPDATE transactions
			SET credentials_delivered_at = $3, updated_at = $3
			WHERE id = $1 AND buyer_id = $2 AND status = 'completed'
			  AND credentials_delivered_at IS NULL
			RETURNING id, listing_ids
		)
		SELECT l.credentials
		FROM claimed c
		JOIN listings l ON l.id = ANY(c.listing_ids)
		ORDER BY l.created_at
	`

	rows, err := tx.Query(ctx, claimSQL, transactionID, buyerID, now)
	if err != nil {
		return nil, fmt.Errorf("transaction: claim delivery: %w", err)
	}
	defer rows.Close()

	var blobs []string
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("transaction: scan credentials: %w", err)
		}
		blobs = append(blobs, blob)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate credentials: %w", err)
	}
	return blobs, nil
}

// AppendDeliveryEvent records the delivery in the audit trail within the
// claiming transaction.
func (r *Repository) AppendDeliveryEvent(ctx context.Context, tx pgx.Tx, transactionID, buyerID string) error {
	return appendEvent(ctx, tx, transactionID, "CREDENTIALS_DELIVERED", map[string]any{
		"buyer_id": buyerID,
	})
}

// DeliveryFailureReason classifies why a claim returned nothing. The result
// is for internal logs only; callers must keep presenting the collapsed
// outcome.
func (r *Repository) DeliveryFailureReason(ctx context.Context, transactionID, buyerID string) string {
	var (
		ownerID     string
		status      string
		deliveredAt *time.Time
	)
	err := r.pool.QueryRow(ctx, `
		SELECT buyer_id, status::text, credentials_delivered_at
		FROM transactions WHERE id = $1
	`, transactionID).Scan(&ownerID, &status, &deliveredAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "transaction not found"
	case err != nil:
		return fmt.Sprintf("lookup failed: %v", err)
	case ownerID != buyerID:
		return "requester is not the buyer"
	case status != string(StatusCompleted):
		return fmt.Sprintf("transaction status is %s", status)
	case deliveredAt != nil:
		return "credentials already delivered"
	default:
		return "claim lost to a concurrent delivery"
	}
}

// GetByID loads a transaction row.
func (r *Repository) GetByID(ctx context.Context, id string) (Transaction, error) {
	rec, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+txnColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, fmt.Errorf("transaction: get by id: %w", err)
	}
	return rec, nil
}

// ListForUser returns transactions where the user is buyer or seller.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("transaction: list for user: %w", err)
	}
	defer rows.Close()

	out := []Transaction{}
	for rows.Next() {
		rec, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("transaction: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transaction: iterate: %w", err)
	}
	return out, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, transactionID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("transaction: marshal event payload: %w", err)
	}
	const q = `INSERT INTO transaction_events (transaction_id, type, payload) VALUES ($1, $2, $3::jsonb)`
	if _, err := tx.Exec(ctx, q, transactionID, eventType, body); err != nil {
		return fmt.Errorf("transaction: append event: %w", err)
	}
	return nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var rec Transaction
	err := row.Scan(
		&rec.ID,
		&rec.BuyerID,
		&rec.SellerID,
		&rec.ListingIDs,
		&rec.Amount,
		&rec.PlatformFee,
		&rec.PaymentMethod,
		&rec.Status,
		&rec.EscrowReleaseDate,
		&rec.CredentialsDeliveredAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Transaction{}, err
	}
	return rec, nil
}
