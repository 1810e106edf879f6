package withdrawal

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/ledger"
)

var (
	// ErrNotFound signals the withdrawal request does not exist.
	ErrNotFound = errors.New("withdrawal: not found")
	// ErrSellerNotFound signals the requesting seller does not exist.
	ErrSellerNotFound = errors.New("withdrawal: seller not found")
	// ErrInsufficientBalance signals the seller's balance cannot cover the
	// requested amount.
	ErrInsufficientBalance = errors.New("withdrawal: insufficient balance")
)

const requestColumns = `id, seller_id, amount, payment_method, payment_details, status::text, admin_notes, created_at, updated_at, processed_at`

// Repository implements withdrawal data access on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed withdrawal repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateRequest records a pending payout request after checking the seller's
// balance covers the amount. No money moves until an admin approves.
func (r *Repository) CreateRequest(ctx context.Context, params CreateParams) (Request, error) {
	var balance float64
	err := r.pool.QueryRow(ctx, `
		SELECT balance FROM users WHERE id = $1 AND role = 'seller'
	`, params.SellerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrSellerNotFound
		}
		return Request{}, fmt.Errorf("withdrawal: check seller: %w", err)
	}
	if balance < params.Amount {
		return Request{}, ErrInsufficientBalance
	}

	insertSQL := `
		INSERT INTO withdrawal_requests (id, seller_id, amount, payment_method, payment_details, status)
		VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING ` + requestColumns

	rec, err := scanRequest(r.pool.QueryRow(ctx, insertSQL,
		params.ID, params.SellerID, params.Amount, params.PaymentMethod, params.PaymentDetails))
	if err != nil {
		return Request{}, fmt.Errorf("withdrawal: insert: %w", err)
	}
	return rec, nil
}

// LockRequest loads a request for update within the caller's transaction.
func (r *Repository) LockRequest(ctx context.Context, tx pgx.Tx, requestID string) (Request, error) {
	rec, err := scanRequest(tx.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM withdrawal_requests
		WHERE id = $1
		FOR UPDATE
	`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("withdrawal: lock: %w", err)
	}
	return rec, nil
}

// DebitSeller moves the request amount out of the seller's balance inside
// the caller's transaction. The ledger guard keeps the balance non-negative.
func (r *Repository) DebitSeller(ctx context.Context, tx pgx.Tx, sellerID string, amount float64) error {
	_, err := ledger.Debit(ctx, tx, sellerID, amount)
	return err
}

// UpdateStatus moves a request to newStatus within the caller's transaction.
// Omitted admin notes leave the stored note unchanged; stampProcessed sets
// processed_at.
func (r *Repository) UpdateStatus(ctx context.Context, tx pgx.Tx, requestID string, newStatus Status, adminNotes *string, stampProcessed bool) (Request, error) {
	query := `
		UPDATE withdrawal_requests
		SET status = $2,
		    admin_notes = COALESCE($3, admin_notes),
		    updated_at = now()`
	if stampProcessed {
		query += `,
		    processed_at = now()`
	}
	query += `
		WHERE id = $1
		RETURNING ` + requestColumns

	rec, err := scanRequest(tx.QueryRow(ctx, query, requestID, newStatus, adminNotes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("withdrawal: update status: %w", err)
	}
	return rec, nil
}

// GetByID loads a request row.
func (r *Repository) GetByID(ctx context.Context, requestID string) (Request, error) {
	rec, err := scanRequest(r.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM withdrawal_requests WHERE id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("withdrawal: get by id: %w", err)
	}
	return rec, nil
}

// ListForSeller returns the seller's requests, newest first.
func (r *Repository) ListForSeller(ctx context.Context, sellerID string) ([]Request, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+requestColumns+` FROM withdrawal_requests
		WHERE seller_id = $1
		ORDER BY created_at DESC
	`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("withdrawal: list: %w", err)
	}
	defer rows.Close()

	out := []Request{}
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("withdrawal: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("withdrawal: iterate: %w", err)
	}
	return out, nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var rec Request
	err := row.Scan(
		&rec.ID, &rec.SellerID, &rec.Amount, &rec.PaymentMethod, &rec.PaymentDetails,
		&rec.Status, &rec.AdminNotes, &rec.CreatedAt, &rec.UpdatedAt, &rec.ProcessedAt,
	)
	return rec, err
}
