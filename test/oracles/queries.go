package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_nonnegative_balances",
			SQL:  `SELECT id, balance FROM users WHERE balance < 0`,
		},
		{
			Name: "O2_single_dispute_per_transaction",
			SQL: `SELECT transaction_id, COUNT(*) FROM disputes
                  GROUP BY transaction_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O3_single_review_per_transaction",
			SQL: `SELECT transaction_id, COUNT(*) FROM reviews
                  GROUP BY transaction_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_delivery_at_most_once",
			SQL: `SELECT transaction_id, COUNT(*) FROM transaction_events
                  WHERE type = 'CREDENTIALS_DELIVERED'
                  GROUP BY transaction_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_delivery_requires_settled_transaction",
			SQL: `SELECT id, status FROM transactions
                  WHERE credentials_delivered_at IS NOT NULL
                    AND status IN ('pending', 'cancelled')`,
		},
		{
			Name: "O6_sold_listing_has_transaction",
			SQL: `SELECT l.id FROM listings l
                  WHERE l.status = 'sold'
                    AND NOT EXISTS (
                        SELECT 1 FROM transactions t WHERE l.id = ANY(t.listing_ids))`,
		},
		{
			Name: "O7_resolved_dispute_finalizes_transaction",
			SQL: `SELECT d.id, t.status FROM disputes d
                  JOIN transactions t ON t.id = d.transaction_id
                  WHERE d.status = 'resolved'
                    AND t.status NOT IN ('completed', 'refunded')`,
		},
		{
			Name: "O8_partial_refund_bounds",
			SQL: `SELECT d.id, d.refund_amount, t.amount FROM disputes d
                  JOIN transactions t ON t.id = d.transaction_id
                  WHERE d.resolution = 'partial_refund'
                    AND (d.refund_amount IS NULL OR d.refund_amount < 0 OR d.refund_amount > t.amount)`,
		},
		{
			Name: "O9_terminal_withdrawals_are_stamped",
			SQL: `SELECT id FROM withdrawal_requests
                  WHERE status = 'completed' AND processed_at IS NULL`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
