// Package ledger owns every mutation of users.balance. Callers never set a
// balance directly; they credit or debit inside a surrounding database
// transaction, and debits are conditional so a balance can never go negative.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrUserNotFound signals the balance row does not exist.
	ErrUserNotFound = errors.New("ledger: user not found")
	// ErrInsufficientBalance signals a debit would drive the balance negative.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrInvalidAmount signals a non-positive credit or debit amount.
	ErrInvalidAmount = errors.New("ledger: amount must be positive")
)

// Querier is satisfied by both pgx.Tx and pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Credit adds amount to the user's balance inside the caller's transaction
// and returns the resulting balance. The row is locked for the remainder of
// the transaction so interleaved movements on the same user serialize.
func Credit(ctx context.Context, tx pgx.Tx, userID string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance float64
	err := tx.QueryRow(ctx, `
		UPDATE users
		SET balance = balance + $1, updated_at = now()
		WHERE id = $2
		RETURNING balance
	`, amount, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("ledger: credit: %w", err)
	}
	return balance, nil
}

// Debit subtracts amount from the user's balance inside the caller's
// transaction. The update is guarded by balance >= amount; when the guard
// fails, the user's existence decides between ErrInsufficientBalance and
// ErrUserNotFound and no row is changed.
func Debit(ctx context.Context, tx pgx.Tx, userID string, amount float64) (float64, error) {
	if amount <= 0 {
		return 0, ErrInvalidAmount
	}

	var balance float64
	err := tx.QueryRow(ctx, `
		UPDATE users
		SET balance = balance - $1, updated_at = now()
		WHERE id = $2 AND balance >= $1
		RETURNING balance
	`, amount, userID).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("ledger: debit: %w", err)
	}

	var exists bool
	if err := tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return 0, fmt.Errorf("ledger: debit existence check: %w", err)
	}
	if !exists {
		return 0, ErrUserNotFound
	}
	return 0, ErrInsufficientBalance
}

// Balance reads the current balance without locking.
func Balance(ctx context.Context, q Querier, userID string) (float64, error) {
	var balance float64
	err := q.QueryRow(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}
