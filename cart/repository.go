package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the cart item does not exist or is not the buyer's.
	ErrNotFound = errors.New("cart: item not found")
	// ErrListingUnavailable signals the referenced listing cannot be carted.
	ErrListingUnavailable = errors.New("cart: listing not available")
	// ErrOwnListing signals a buyer tried to cart their own listing.
	ErrOwnListing = errors.New("cart: cannot add own listing")
	// ErrInvalidQuantity signals a quantity below one.
	ErrInvalidQuantity = errors.New("cart: quantity must be at least 1")
)

const itemColumns = `id, buyer_id, listing_id, quantity, created_at, updated_at`

// Repository handles cart data access.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed cart repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Add stages a listing in the buyer's cart. Re-adding an already carted
// listing increments the quantity instead of duplicating the row. Only
// active listings not owned by the buyer are accepted.
func (r *Repository) Add(ctx context.Context, buyerID, listingID string, quantity int) (Item, error) {
	if quantity < 1 {
		return Item{}, ErrInvalidQuantity
	}

	var sellerID, status string
	err := r.pool.QueryRow(ctx, `SELECT seller_id, status::text FROM listings WHERE id = $1`, listingID).
		Scan(&sellerID, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrListingUnavailable
		}
		return Item{}, fmt.Errorf("cart: check listing: %w", err)
	}
	if status != "active" {
		return Item{}, ErrListingUnavailable
	}
	if sellerID == buyerID {
		return Item{}, ErrOwnListing
	}

	upsertSQL := `
		INSERT INTO cart_items (buyer_id, listing_id, quantity)
		VALUES ($1, $2, $3)
		ON CONFLICT (buyer_id, listing_id)
		DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = now()
		RETURNING ` + itemColumns

	item, err := scanItem(r.pool.QueryRow(ctx, upsertSQL, buyerID, listingID, quantity))
	if err != nil {
		return Item{}, fmt.Errorf("cart: add: %w", err)
	}
	return item, nil
}

// Remove deletes a buyer's cart item.
func (r *Repository) Remove(ctx context.Context, buyerID, itemID string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM cart_items WHERE id = $1 AND buyer_id = $2`, itemID, buyerID)
	if err != nil {
		return fmt.Errorf("cart: remove: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListByBuyer returns all of a buyer's cart items, newest first.
func (r *Repository) ListByBuyer(ctx context.Context, buyerID string) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM cart_items WHERE buyer_id = $1 ORDER BY created_at DESC`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("cart: list: %w", err)
	}
	defer rows.Close()

	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("cart: scan: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cart: iterate: %w", err)
	}
	return items, nil
}

func scanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(
		&item.ID,
		&item.BuyerID,
		&item.ListingID,
		&item.Quantity,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return Item{}, err
	}
	return item, nil
}
