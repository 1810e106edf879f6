package review

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the review does not exist.
	ErrNotFound = errors.New("review: not found")
	// ErrTransactionNotFound signals the reviewed transaction does not exist.
	ErrTransactionNotFound = errors.New("review: transaction not found")
	// ErrReviewExists signals the transaction already has a review.
	ErrReviewExists = errors.New("review: review already exists")
)

const reviewColumns = `id, transaction_id, buyer_id, seller_id, rating, comment, created_at`

// TxnSummary is the slice of a transaction the subsystem needs.
type TxnSummary struct {
	ID       string
	BuyerID  string
	SellerID string
	Status   string
}

// Repository implements review data access on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed review repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetTransaction loads the reviewable summary for a transaction.
func (r *Repository) GetTransaction(ctx context.Context, transactionID string) (TxnSummary, error) {
	var s TxnSummary
	err := r.pool.QueryRow(ctx, `
		SELECT id, buyer_id, seller_id, status::text
		FROM transactions WHERE id = $1
	`, transactionID).Scan(&s.ID, &s.BuyerID, &s.SellerID, &s.Status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TxnSummary{}, ErrTransactionNotFound
		}
		return TxnSummary{}, fmt.Errorf("review: get transaction: %w", err)
	}
	return s, nil
}

// Create inserts a review. The unique index on transaction_id enforces the
// one-review rule under concurrency.
func (r *Repository) Create(ctx context.Context, rec Review) (Review, error) {
	insertSQL := `
		INSERT INTO reviews (transaction_id, buyer_id, seller_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + reviewColumns

	out, err := scanReview(r.pool.QueryRow(ctx, insertSQL,
		rec.TransactionID, rec.BuyerID, rec.SellerID, rec.Rating, rec.Comment))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Review{}, ErrReviewExists
		}
		return Review{}, fmt.Errorf("review: insert: %w", err)
	}
	return out, nil
}

// ListForSeller returns reviews of the seller, newest first.
func (r *Repository) ListForSeller(ctx context.Context, sellerID string) ([]Review, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reviewColumns+` FROM reviews
		WHERE seller_id = $1
		ORDER BY created_at DESC
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("review: list: %w", err)
	}
	defer rows.Close()

	out := []Review{}
	for rows.Next() {
		rec, err := scanReview(rows)
		if err != nil {
			return nil, fmt.Errorf("review: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("review: iterate: %w", err)
	}
	return out, nil
}

func scanReview(row pgx.Row) (Review, error) {
	var rec Review
	err := row.Scan(&rec.ID, &rec.TransactionID, &rec.BuyerID, &rec.SellerID,
		&rec.Rating, &rec.Comment, &rec.CreatedAt)
	return rec, err
}
