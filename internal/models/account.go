package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountType is a closed set; balance-sufficiency policy is keyed off it.
type AccountType string

const (
	AccountTypeMember AccountType = "MEMBER"
	AccountTypeGL     AccountType = "GL"
)

// Account holds the primitive balance buckets plus the two derived fields.
// AvailableBalance and TotalBalance are never written directly by business
// logic; they are recomputed from the primitives inside the same DB
// transaction that mutated them.
type Account struct {
	ID                  int             `json:"id" db:"id"`
	AccountID           string          `json:"account_id" db:"account_id"`
	SaccoID             string          `json:"sacco_id" db:"sacco_id"`
	AccountType         AccountType     `json:"account_type" db:"account_type"`
	ClearBalance        decimal.Decimal `json:"clear_balance" db:"clear_balance"`
	UnclearBalance      decimal.Decimal `json:"unclear_balance" db:"unclear_balance"`
	UnsupervisedCredits decimal.Decimal `json:"unsupervised_credits" db:"unsupervised_credits"`
	UnsupervisedDebits  decimal.Decimal `json:"unsupervised_debits" db:"unsupervised_debits"`
	FrozenAmount        decimal.Decimal `json:"frozen_amount" db:"frozen_amount"`
	PendingCharges      decimal.Decimal `json:"pending_charges" db:"pending_charges"`
	CreditInterest      decimal.Decimal `json:"credit_interest" db:"credit_interest"`
	AvailableBalance    decimal.Decimal `json:"available_balance" db:"available_balance"`
	TotalBalance        decimal.Decimal `json:"total_balance" db:"total_balance"`
	Version             int             `json:"version" db:"version"` // optimistic lock stamp
	IsDeleted           bool            `json:"is_deleted" db:"is_deleted"`
	ModifiedBy          string          `json:"modified_by" db:"modified_by"`
	ModifiedOn          time.Time       `json:"modified_on" db:"modified_on"`
}
