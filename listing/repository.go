package listing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested listing does not exist.
	ErrNotFound = errors.New("listing: not found")
	// ErrBadTransition signals a moderation change the status machine forbids.
	ErrBadTransition = errors.New("listing: invalid status transition")
)

const listingColumns = `id, seller_id, title, description, platform, price, follower_count, account_age, credentials, status::text, created_at, updated_at`

// Repository provides data access for listings.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SellerProfile is the slice of the users table the listing service needs to
// gate creation.
type SellerProfile struct {
	ID       string
	Role     string
	Verified bool
}

// GetSeller loads the creation-gate profile for a prospective seller.
func (r *Repository) GetSeller(ctx context.Context, sellerID string) (SellerProfile, error) {
	var p SellerProfile
	err := r.pool.QueryRow(ctx, `SELECT id, role::text, verified FROM users WHERE id = $1`, sellerID).
		Scan(&p.ID, &p.Role, &p.Verified)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SellerProfile{}, ErrNotFound
		}
		return SellerProfile{}, fmt.Errorf("listing: get seller: %w", err)
	}
	return p, nil
}

// Create inserts a new listing in under_review status.
func (r *Repository) Create(ctx context.Context, params CreateParams) (Listing, error) {
	insertSQL := `
		INSERT INTO listings (id, seller_id, title, description, platform, price, follower_count, account_age, credentials, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 'under_review')
		RETURNING ` + listingColumns

	rec, err := scanListing(r.pool.QueryRow(ctx, insertSQL,
		params.ID,
		params.SellerID,
		params.Title,
		params.Description,
		params.Platform,
		params.Price,
		params.FollowerCount,
		params.AccountAge,
		params.Credentials,
	))
	if err != nil {
		return Listing{}, fmt.Errorf("listing: insert: %w", err)
	}
	return rec, nil
}

// GetByID fetches one listing regardless of status.
func (r *Repository) GetByID(ctx context.Context, id string) (Listing, error) {
	rec, err := scanListing(r.pool.QueryRow(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Listing{}, ErrNotFound
		}
		return Listing{}, fmt.Errorf("listing: get by id: %w", err)
	}
	return rec, nil
}

// List returns active listings matching the public browse filters plus the
// total match count.
func (r *Repository) List(ctx context.Context, filters Filters) ([]Listing, int, error) {
	if filters.Page <= 0 {
		filters.Page = 1
	}
	if filters.PageSize <= 0 || filters.PageSize > 100 {
		filters.PageSize = 20
	}

	where := `WHERE status = 'active'`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filters.Platform != "" {
		where += ` AND platform = ` + arg(filters.Platform)
	}
	if filters.PriceMin > 0 {
		where += ` AND price >= ` + arg(filters.PriceMin)
	}
	if filters.PriceMax > 0 {
		where += ` AND price <= ` + arg(filters.PriceMax)
	}
	if filters.Search != "" {
		where += ` AND title ILIKE ` + arg("%"+filters.Search+"%")
	}

	query := `SELECT ` + listingColumns + ` FROM listings ` + where +
		` ORDER BY created_at DESC LIMIT ` + arg(filters.PageSize) +
		` OFFSET ` + arg((filters.Page-1)*filters.PageSize)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing: list: %w", err)
	}
	defer rows.Close()

	records := []Listing{}
	for rows.Next() {
		rec, err := scanListing(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("listing: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("listing: iterate: %w", err)
	}

	countArgs := args[:len(args)-2]
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings `+where, countArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("listing: count: %w", err)
	}

	return records, total, nil
}

// ListBySeller returns a seller's own listings in every status.
func (r *Repository) ListBySeller(ctx context.Context, sellerID string) ([]Listing, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+listingColumns+` FROM listings WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, fmt.Errorf("listing: list by seller: %w", err)
	}
	defer rows.Close()

	records := []Listing{}
	for rows.Next() {
		rec, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("listing: scan: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing: iterate: %w", err)
	}
	return records, nil
}

// Moderate flips a listing between active and removed (or out of
// under_review). Sold is terminal and never a moderation target.
func (r *Repository) Moderate(ctx context.Context, listingID string, next Status) (Listing, error) {
	if next != StatusActive && next != StatusRemoved {
		return Listing{}, ErrBadTransition
	}

	updateSQL := `
		UPDATE listings
		SET status = $2, updated_at = now()
		WHERE id = $1 AND status IN ('under_review', 'active', 'removed')
		RETURNING ` + listingColumns

	rec, err := scanListing(r.pool.QueryRow(ctx, updateSQL, listingID, next))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Listing{}, fmt.Errorf("listing: moderate: %w", err)
	}

	// Distinguish a missing row from a terminal one.
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM listings WHERE id = $1)`, listingID).Scan(&exists); err != nil {
		return Listing{}, fmt.Errorf("listing: moderate fetch: %w", err)
	}
	if !exists {
		return Listing{}, ErrNotFound
	}
	return Listing{}, ErrBadTransition
}

func scanListing(row pgx.Row) (Listing, error) {
	var rec Listing
	err := row.Scan(
		&rec.ID,
		&rec.SellerID,
		&rec.Title,
		&rec.Description,
		&rec.Platform,
		&rec.Price,
		&rec.FollowerCount,
		&rec.AccountAge,
		&rec.Credentials,
		&rec.Status,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Listing{}, err
	}
	return rec, nil
}
