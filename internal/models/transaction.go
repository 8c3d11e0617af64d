package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

const (
	TransactionStatusPending  = "Pending"
	TransactionStatusApproved = "Approved"
	TransactionStatusDeleted  = "Deleted"
)

// TransactionEntry is one leg of a double-entry transaction. The two legs of
// one economic transaction share a ReferenceNumber and differ in EntryType;
// TransactionID is unique per leg.
type TransactionEntry struct {
	ID              int             `json:"id" db:"id"`
	TransactionID   string          `json:"transaction_id" db:"transaction_id"`
	ReferenceNumber string          `json:"reference_number" db:"reference_number"`
	SaccoID         string          `json:"sacco_id" db:"sacco_id"`
	AccountID       string          `json:"account_id" db:"account_id"`
	EntryType       EntryType       `json:"entry_type" db:"entry_type"`
	Amount          decimal.Decimal `json:"amount" db:"amount"`
	Type            string          `json:"type,omitempty" db:"type"`
	Status          string          `json:"status" db:"status"`
	Remarks         string          `json:"remarks,omitempty" db:"remarks"`
	IsDeleted       bool            `json:"is_deleted" db:"is_deleted"`
	CreatedBy       string          `json:"created_by" db:"created_by"`
	CreatedOn       time.Time       `json:"created_on" db:"created_on"`
	ApprovedBy      *string         `json:"approved_by,omitempty" db:"approved_by"`
	ApprovedOn      *time.Time      `json:"approved_on,omitempty" db:"approved_on"`
	ModifiedBy      *string         `json:"modified_by,omitempty" db:"modified_by"`
	ModifiedOn      *time.Time      `json:"modified_on,omitempty" db:"modified_on"`

	// Read-only display context joined onto read responses.
	MemberName  string `json:"member_name,omitempty" db:"member_name"`
	ProductName string `json:"product_name,omitempty" db:"product_name"`
}
