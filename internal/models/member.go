package models

import "time"

// Member and Product are read-only enrichment rows joined onto transaction
// responses. Onboarding CRUD for both lives outside this service.
type Member struct {
	ID          int       `json:"id" db:"id"`
	MemberID    string    `json:"member_id" db:"member_id"`
	SaccoID     string    `json:"sacco_id" db:"sacco_id"`
	FirstName   string    `json:"first_name" db:"first_name"`
	LastName    string    `json:"last_name" db:"last_name"`
	PhoneNumber string    `json:"phone_number" db:"phone_number"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

type Product struct {
	ID        int    `json:"id" db:"id"`
	ProductID string `json:"product_id" db:"product_id"`
	SaccoID   string `json:"sacco_id" db:"sacco_id"`
	Name      string `json:"name" db:"name"`
}

// Operator is a back-office user; the auth service stamps its username into
// createdBy/approvedBy/modifiedBy audit fields.
type Operator struct {
	ID           int        `json:"id" db:"id"`
	Username     string     `json:"username" db:"username"`
	SaccoID      string     `json:"sacco_id" db:"sacco_id"`
	PasswordHash string     `json:"-" db:"password_hash"`
	LastLogin    *time.Time `json:"last_login,omitempty" db:"last_login"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
