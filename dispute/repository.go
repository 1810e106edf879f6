package dispute

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"marketflow/ledger"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrTransactionNotFound signals the disputed transaction does not exist.
	ErrTransactionNotFound = errors.New("dispute: transaction not found")
	// ErrDisputeExists signals the transaction already has a dispute.
	ErrDisputeExists = errors.New("dispute: dispute already exists for transaction")
)

const disputeColumns = `id, transaction_id, buyer_id, seller_id, reason, description, status::text, resolution, refund_amount, admin_notes, created_at, updated_at, resolved_at`

// Repository implements dispute data access on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed dispute repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetTransaction loads the adjudication summary for a transaction.
func (r *Repository) GetTransaction(ctx context.Context, transactionID string) (TxnSummary, error) {
	var s TxnSummary
	err := r.pool.QueryRow(ctx, `
		SELECT id, buyer_id, seller_id, amount, platform_fee, status::text, created_at
		FROM transactions WHERE id = $1
	`, transactionID).Scan(&s.ID, &s.BuyerID, &s.SellerID, &s.Amount, &s.PlatformFee, &s.Status, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TxnSummary{}, ErrTransactionNotFound
		}
		return TxnSummary{}, fmt.Errorf("dispute: get transaction: %w", err)
	}
	return s, nil
}

// CreateDispute opens a dispute and flags the transaction as disputed in one
// database transaction. The unique index on transaction_id enforces the
// one-dispute rule under concurrency.
func (r *Repository) CreateDispute(ctx context.Context, params CreateParams) (Dispute, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Dispute{}, fmt.Errorf("dispute: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	insertSQL := `
		INSERT INTO disputes (id, transaction_id, buyer_id, seller_id, reason, description, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'open')
		RETURNING ` + disputeColumns

	rec, err := scanDispute(tx.QueryRow(ctx, insertSQL,
		params.ID, params.TransactionID, params.BuyerID, params.SellerID, params.Reason, params.Description))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Dispute{}, ErrDisputeExists
		}
		return Dispute{}, fmt.Errorf("dispute: insert: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET status = 'disputed', updated_at = now()
		WHERE id = $1 AND status = 'completed'
	`, params.TransactionID); err != nil {
		return Dispute{}, fmt.Errorf("dispute: flag transaction: %w", err)
	}

	if err := appendEvent(ctx, tx, params.TransactionID, "DISPUTE_OPENED", map[string]any{
		"dispute_id": rec.ID,
		"buyer_id":   params.BuyerID,
		"reason":     params.Reason,
	}); err != nil {
		return Dispute{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Dispute{}, fmt.Errorf("dispute: commit: %w", err)
	}
	return rec, nil
}

// LockDispute loads a dispute and its transaction summary for update within
// the caller's transaction.
func (r *Repository) LockDispute(ctx context.Context, tx pgx.Tx, disputeID string) (Dispute, TxnSummary, error) {
	const query = `
		SELECT d.id, d.transaction_id, d.buyer_id, d.seller_id, d.reason, d.description,
		       d.status::text, d.resolution, d.refund_amount, d.admin_notes,
		       d.created_at, d.updated_at, d.resolved_at,
		       t.amount, t.platform_fee, t.status::text, t.created_at
		FROM disputes d
		JOIN transactions t ON t.id = d.transaction_id
		WHERE d.id = $1
		FOR UPDATE OF d, t
	`

	var (
		rec Dispute
		txn TxnSummary
	)
	err := tx.QueryRow(ctx, query, disputeID).Scan(
		&rec.ID, &rec.TransactionID, &rec.BuyerID, &rec.SellerID, &rec.Reason, &rec.Description,
		&rec.Status, &rec.Resolution, &rec.RefundAmount, &rec.AdminNotes,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt,
		&txn.Amount, &txn.PlatformFee, &txn.Status, &txn.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, TxnSummary{}, ErrNotFound
		}
		return Dispute{}, TxnSummary{}, fmt.Errorf("dispute: lock: %w", err)
	}
	txn.ID = rec.TransactionID
	txn.BuyerID = rec.BuyerID
	txn.SellerID = rec.SellerID
	return rec, txn, nil
}

// ApplyResolution commits the whole adjudication inside the caller's
// transaction: both credits, the dispute terminal row, the transaction's
// final status, and the audit event.
func (r *Repository) ApplyResolution(ctx context.Context, tx pgx.Tx, params ResolutionParams) (Dispute, error) {
	if params.BuyerRefund > 0 {
		if _, err := ledger.Credit(ctx, tx, params.BuyerID, params.BuyerRefund); err != nil {
			return Dispute{}, err
		}
	}
	if params.SellerShare > 0 {
		if _, err := ledger.Credit(ctx, tx, params.SellerID, params.SellerShare); err != nil {
			return Dispute{}, err
		}
	}

	updateSQL := `
		UPDATE disputes
		SET status = 'resolved',
		    resolution = $2,
		    refund_amount = $3,
		    admin_notes = COALESCE($4, admin_notes),
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + disputeColumns

	rec, err := scanDispute(tx.QueryRow(ctx, updateSQL,
		params.DisputeID, params.Resolution, params.RefundAmount, params.AdminNotes))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE transactions SET status = $2, updated_at = now() WHERE id = $1
	`, params.TransactionID, params.TransactionStatus); err != nil {
		return Dispute{}, fmt.Errorf("dispute: finalize transaction: %w", err)
	}

	if err := appendEvent(ctx, tx, params.TransactionID, "DISPUTE_RESOLVED", map[string]any{
		"dispute_id":   params.DisputeID,
		"resolution":   params.Resolution,
		"buyer_refund": params.BuyerRefund,
		"seller_share": params.SellerShare,
	}); err != nil {
		return Dispute{}, err
	}

	return rec, nil
}

// GetByID loads a dispute row.
func (r *Repository) GetByID(ctx context.Context, disputeID string) (Dispute, error) {
	rec, err := scanDispute(r.pool.QueryRow(ctx, `SELECT `+disputeColumns+` FROM disputes WHERE id = $1`, disputeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Dispute{}, ErrNotFound
		}
		return Dispute{}, fmt.Errorf("dispute: get by id: %w", err)
	}
	return rec, nil
}

// ListForUser returns disputes where the user is buyer or seller.
func (r *Repository) ListForUser(ctx context.Context, userID string) ([]Dispute, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+disputeColumns+` FROM disputes
		WHERE buyer_id = $1 OR seller_id = $1
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := []Dispute{}
	for rows.Next() {
		rec, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

func appendEvent(ctx context.Context, tx pgx.Tx, transactionID, eventType string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("dispute: marshal event payload: %w", err)
	}
	const q = `INSERT INTO transaction_events (transaction_id, type, payload) VALUES ($1, $2, $3::jsonb)`
	if _, err := tx.Exec(ctx, q, transactionID, eventType, body); err != nil {
		return fmt.Errorf("dispute: append event: %w", err)
	}
	return nil
}

func scanDispute(row pgx.Row) (Dispute, error) {
	var rec Dispute
	err := row.Scan(
		&rec.ID,
		&rec.TransactionID,
		&rec.BuyerID,
		&rec.SellerID,
		&rec.Reason,
		&rec.Description,
		&rec.Status,
		&rec.Resolution,
		&rec.RefundAmount,
		&rec.AdminNotes,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return Dispute{}, err
	}
	return rec, nil
}
