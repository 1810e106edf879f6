package auth

import "time"

type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
	RoleAdmin  Role = "admin"
)

// User is the domain representation of a marketplace account. It mirrors the
// users table and carries no JSON annotations so it can be reused by
// different presentation layers. Balance is never written through this
// package; only the transaction, dispute, and withdrawal engines move money.
type User struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
	Role         Role
	Verified     bool
	Balance      float64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RegisterRequest contains account registration data supplied by callers.
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	Role     Role   `json:"role"`
}

// LoginRequest contains login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}
