package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	mW "github.com/saccopay/backoffice/internal/middleware"
	"github.com/saccopay/backoffice/internal/models"
	"github.com/saccopay/backoffice/pkg/idgen"
)

const entryColumns = `id, transaction_id, reference_number, sacco_id, account_id,
	entry_type, amount, type, status, remarks, is_deleted, created_by, created_on,
	approved_by, approved_on, modified_by, modified_on`

// maxIDAttempts bounds the uniqueness retry loop for generated identifiers.
const maxIDAttempts = 5

// SufficiencyPolicy decides whether a debit of the given amount may proceed
// against an account. Keeping it pluggable lets the per-account-type rule be
// corrected without touching the orchestration below.
type SufficiencyPolicy func(debit *models.Account, amount decimal.Decimal) error

// DefaultSufficiencyPolicy checks availableBalance only for GL accounts;
// member-account debits are not balance-checked.
func DefaultSufficiencyPolicy(debit *models.Account, amount decimal.Decimal) error {
	if debit.AccountType == models.AccountTypeGL && debit.AvailableBalance.LessThan(amount) {
		return fmt.Errorf("account %s: %w", debit.AccountID, ErrInsufficientBalance)
	}
	return nil
}

// TransactionService creates and transitions double-entry transactions while
// keeping the two affected accounts' balances consistent. Every mutating
// operation runs inside a single DB transaction: entries inserted, primitives
// mutated, derived balances recalculated, then commit.
type TransactionService struct {
	db          *sql.DB
	balance     *BalanceService
	members     *MemberService
	validator   *ValidationHelper
	sufficiency SufficiencyPolicy
}

func NewTransactionService(db *sql.DB) *TransactionService {
	return &TransactionService{
		db:          db,
		balance:     NewBalanceService(db),
		members:     NewMemberService(db),
		validator:   NewValidationHelper(),
		sufficiency: DefaultSufficiencyPolicy,
	}
}

type CreateTransactionRequest struct {
	SaccoID         string          `json:"saccoId" validate:"required"`
	DebitAccountID  string          `json:"debitAccountId" validate:"required"`
	CreditAccountID string          `json:"creditAccountId" validate:"required"`
	Amount          decimal.Decimal `json:"amount"`
	Type            string          `json:"type" validate:"max=64"`
	Status          string          `json:"status" validate:"omitempty,oneof=Pending Approved"`
	Remarks         string          `json:"remarks" validate:"max=256"`
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body", ErrValidation)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: request body must only contain a single JSON object", ErrValidation)
	}
	return nil
}

func usernameFromContext(r *http.Request) string {
	if username, ok := r.Context().Value(mW.UsernameKey).(string); ok {
		return username
	}
	return ""
}

// CreateTransaction handles POST /transactions: persists the paired DEBIT and
// CREDIT legs and applies their balance effect atomically.
func (ts *TransactionService) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	if err := ts.validator.ValidateStruct(&req); err != nil {
		writeError(w, fmt.Errorf("%w: %v", ErrValidation, err))
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, fmt.Errorf("%w: amount must be greater than zero", ErrValidation))
		return
	}
	if req.DebitAccountID == req.CreditAccountID {
		writeError(w, fmt.Errorf("%w: debit and credit accounts must differ", ErrValidation))
		return
	}

	entries, err := ts.create(r.Context(), &req, usernameFromContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeEnvelope(w, http.StatusCreated, "transaction created", entries)
}

func (ts *TransactionService) create(ctx context.Context, req *CreateTransactionRequest, username string) ([]*models.TransactionEntry, error) {
	status := req.Status
	if status == "" {
		status = models.TransactionStatusPending
	}

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	debitAccount, creditAccount, err := ts.lockAccountPair(ctx, tx, req.DebitAccountID, req.CreditAccountID)
	if err != nil {
		return nil, err
	}

	if debitAccount.SaccoID != req.SaccoID || creditAccount.SaccoID != req.SaccoID {
		return nil, fmt.Errorf("create: %w", ErrCrossTenant)
	}
	if err := ts.sufficiency(debitAccount, req.Amount); err != nil {
		return nil, err
	}

	referenceNumber, err := ts.uniqueReferenceNumber(ctx, tx)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	entries := make([]*models.TransactionEntry, 0, 2)
	for _, leg := range []struct {
		accountID string
		entryType models.EntryType
	}{
		{req.DebitAccountID, models.EntryTypeDebit},
		{req.CreditAccountID, models.EntryTypeCredit},
	} {
		transactionID, err := ts.uniqueTransactionID(ctx, tx)
		if err != nil {
			return nil, err
		}
		entry := &models.TransactionEntry{
			TransactionID:   transactionID,
			ReferenceNumber: referenceNumber,
			SaccoID:         req.SaccoID,
			AccountID:       leg.accountID,
			EntryType:       leg.entryType,
			Amount:          req.Amount,
			Type:            req.Type,
			Status:          status,
			Remarks:         req.Remarks,
			CreatedBy:       username,
			CreatedOn:       now,
		}
		if err := insertEntry(ctx, tx, entry); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if status == models.TransactionStatusApproved {
		// Settle immediately: move clear funds from debit to credit side.
		if err := applyBalanceDelta(ctx, tx, debitAccount, balanceDelta{clear: req.Amount.Neg()}, username); err != nil {
			return nil, err
		}
		if err := applyBalanceDelta(ctx, tx, creditAccount, balanceDelta{clear: req.Amount}, username); err != nil {
			return nil, err
		}
	} else {
		// Reserve without settling: park the amount in the unsupervised buckets.
		if err := applyBalanceDelta(ctx, tx, debitAccount, balanceDelta{unsupervisedDebits: req.Amount}, username); err != nil {
			return nil, err
		}
		if err := applyBalanceDelta(ctx, tx, creditAccount, balanceDelta{unsupervisedCredits: req.Amount}, username); err != nil {
			return nil, err
		}
	}

	if _, err := ts.balance.RecalculateMultipleAccountBalances(ctx, tx, []string{req.DebitAccountID, req.CreditAccountID}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"reference": referenceNumber,
		"sacco":     req.SaccoID,
		"debit":     req.DebitAccountID,
		"credit":    req.CreditAccountID,
		"amount":    req.Amount.String(),
		"status":    status,
	}).Info("transaction created")

	ts.members.AttachDisplayContext(ctx, entries)
	return entries, nil
}

// ApproveTransaction handles PUT /transactions/reference/{referenceNumber}/approve:
// transitions both Pending legs to Approved, releasing the unsupervised hold
// and settling clear balances.
func (ts *TransactionService) ApproveTransaction(w http.ResponseWriter, r *http.Request) {
	referenceNumber := chi.URLParam(r, "referenceNumber")

	entries, err := ts.approve(r.Context(), referenceNumber, usernameFromContext(r))
	if err != nil {
		writeError(w, err)
		return
	}

	writeSuccess(w, "transaction approved", entries)
}

func (ts *TransactionService) approve(ctx context.Context, referenceNumber, username string) ([]*models.TransactionEntry, error) {
	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	entries, err := fetchEntriesByReference(ctx, tx, referenceNumber)
	if err != nil {
		return nil, err
	}

	debitEntry, creditEntry, err := pendingPair(referenceNumber, entries)
	if err != nil {
		return nil, err
	}
	amount := debitEntry.Amount

	// Lock both accounts before re-checking preconditions so two concurrent
	// approvals of the same reference serialize on the account rows.
	debitAccount, creditAccount, err := ts.lockAccountPair(ctx, tx, debitEntry.AccountID, creditEntry.AccountID)
	if err != nil {
		return nil, err
	}

	if err := ts.sufficiency(debitAccount, amount); err != nil {
		return nil, err
	}
	if debitAccount.UnsupervisedDebits.LessThan(amount) || creditAccount.UnsupervisedCredits.LessThan(amount) {
		return nil, fmt.Errorf("reference %s: %w", referenceNumber, ErrInsufficientUnsupervised)
	}

	now := time.Now().UTC()
	for _, entry := range []*models.TransactionEntry{debitEntry, creditEntry} {
		result, err := tx.ExecContext(ctx,
			`UPDATE transaction_entries SET status = $1, approved_by = $2, approved_on = $3 WHERE id = $4`,
			models.TransactionStatusApproved, username, now, entry.ID)
		if err != nil {
			return nil, fmt.Errorf("approve entry %s: %w", entry.TransactionID, err)
		}
		if n, err := result.RowsAffected(); err == nil && n == 0 {
			return nil, fmt.Errorf("approve entry %s: %w", entry.TransactionID, ErrInvalidTransactionState)
		}
		entry.Status = models.TransactionStatusApproved
		entry.ApprovedBy = &username
		entry.ApprovedOn = &now
	}

	// Release the pending hold and settle.
	if err := applyBalanceDelta(ctx, tx, debitAccount, balanceDelta{
		clear:              amount.Neg(),
		unsupervisedDebits: amount.Neg(),
	}, username); err != nil {
		return nil, err
	}
	if err := applyBalanceDelta(ctx, tx, creditAccount, balanceDelta{
		clear:               amount,
		unsupervisedCredits: amount.Neg(),
	}, username); err != nil {
		return nil, err
	}

	if _, err := ts.balance.RecalculateMultipleAccountBalances(ctx, tx, []string{debitEntry.AccountID, creditEntry.AccountID}); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit approval: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"reference": referenceNumber,
		"approver":  username,
		"amount":    amount.String(),
	}).Info("transaction approved")

	ts.members.AttachDisplayContext(ctx, entries)
	return entries, nil
}

// pendingPair validates that the non-deleted entries for a reference form a
// complete approvable pair: exactly one Pending DEBIT and one Pending CREDIT.
func pendingPair(referenceNumber string, entries []*models.TransactionEntry) (debit, credit *models.TransactionEntry, err error) {
	if len(entries) != 2 {
		return nil, nil, fmt.Errorf("reference %s has %d entries: %w", referenceNumber, len(entries), ErrInvalidTransactionState)
	}
	for _, entry := range entries {
		if entry.Status != models.TransactionStatusPending {
			return nil, nil, fmt.Errorf("reference %s entry %s is %s: %w",
				referenceNumber, entry.TransactionID, entry.Status, ErrInvalidTransactionState)
		}
		switch entry.EntryType {
		case models.EntryTypeDebit:
			debit = entry
		case models.EntryTypeCredit:
			credit = entry
		}
	}
	if debit == nil || credit == nil {
		return nil, nil, fmt.Errorf("reference %s is not a debit/credit pair: %w", referenceNumber, ErrInvalidTransactionState)
	}
	return debit, credit, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike neutralizes LIKE metacharacters so a search term only ever
// matches as a literal substring.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// ListTransactions handles GET /transactions with optional status and q filters.
func (ts *TransactionService) ListTransactions(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	q := r.URL.Query().Get("q")

	query := `SELECT ` + entryColumns + ` FROM transaction_entries WHERE is_deleted = FALSE`
	args := []interface{}{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if q != "" {
		args = append(args, "%"+escapeLike(q)+"%")
		n := len(args)
		query += fmt.Sprintf(" AND (transaction_id ILIKE $%d ESCAPE '\\' OR reference_number ILIKE $%d ESCAPE '\\' OR remarks ILIKE $%d ESCAPE '\\')", n, n, n)
	}
	query += " ORDER BY reference_number DESC, entry_type DESC"

	rows, err := ts.db.QueryContext(r.Context(), query, args...)
	if err != nil {
		writeError(w, fmt.Errorf("list transactions: %w", err))
		return
	}
	defer rows.Close()

	entries := []*models.TransactionEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			writeError(w, fmt.Errorf("list transactions: %w", err))
			return
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		writeError(w, fmt.Errorf("list transactions: %w", err))
		return
	}

	ts.members.AttachDisplayContext(r.Context(), entries)
	writeSuccess(w, "ok", entries)
}

// GetTransaction handles GET /transactions/{id} by transactionId.
func (ts *TransactionService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")

	row := ts.db.QueryRowContext(r.Context(),
		`SELECT `+entryColumns+` FROM transaction_entries WHERE transaction_id = $1 AND is_deleted = FALSE`,
		transactionID)
	entry, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound))
		} else {
			writeError(w, fmt.Errorf("fetch transaction: %w", err))
		}
		return
	}

	ts.members.AttachDisplayContext(r.Context(), []*models.TransactionEntry{entry})
	writeSuccess(w, "ok", entry)
}

// GetTransactionsByReference handles GET /transactions/reference/{referenceNumber},
// returning both legs with the DEBIT leg first.
func (ts *TransactionService) GetTransactionsByReference(w http.ResponseWriter, r *http.Request) {
	referenceNumber := chi.URLParam(r, "referenceNumber")

	rows, err := ts.db.QueryContext(r.Context(),
		`SELECT `+entryColumns+` FROM transaction_entries WHERE reference_number = $1 AND is_deleted = FALSE ORDER BY entry_type DESC`,
		referenceNumber)
	if err != nil {
		writeError(w, fmt.Errorf("fetch reference: %w", err))
		return
	}
	defer rows.Close()

	entries := []*models.TransactionEntry{}
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			writeError(w, fmt.Errorf("fetch reference: %w", err))
			return
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		writeError(w, fmt.Errorf("fetch reference: %w", err))
		return
	}
	if len(entries) == 0 {
		writeError(w, fmt.Errorf("reference %s: %w", referenceNumber, ErrNotFound))
		return
	}

	ts.members.AttachDisplayContext(r.Context(), entries)
	writeSuccess(w, "ok", entries)
}

// DeleteTransaction handles DELETE /transactions/{id}. Soft delete of one leg
// only: it marks the row Deleted and stamps the actor. It never mutates any
// account balance and never touches the sibling leg; reversing a posted
// amount is a separate, explicit operation.
func (ts *TransactionService) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")
	username := usernameFromContext(r)

	result, err := ts.db.ExecContext(r.Context(),
		`UPDATE transaction_entries SET is_deleted = TRUE, status = $1, modified_by = $2, modified_on = $3
		 WHERE transaction_id = $4 AND is_deleted = FALSE`,
		models.TransactionStatusDeleted, username, time.Now().UTC(), transactionID)
	if err != nil {
		writeError(w, fmt.Errorf("delete transaction: %w", err))
		return
	}
	n, err := result.RowsAffected()
	if err != nil {
		writeError(w, fmt.Errorf("delete transaction: %w", err))
		return
	}
	if n == 0 {
		writeError(w, fmt.Errorf("transaction %s: %w", transactionID, ErrNotFound))
		return
	}

	logrus.WithFields(logrus.Fields{
		"transaction": transactionID,
		"actor":       username,
	}).Info("transaction soft-deleted")

	writeSuccess(w, "transaction deleted", nil)
}

// RecalculateBalances handles POST /maintenance/recalculate-balances, the
// offline data-fix sweep over every account.
func (ts *TransactionService) RecalculateBalances(w http.ResponseWriter, r *http.Request) {
	count, err := ts.balance.RecalculateAllAccountBalances(r.Context())
	if err != nil {
		writeError(w, fmt.Errorf("recalculate balances: %w", err))
		return
	}
	writeSuccess(w, "balances recalculated", map[string]int{"count": count})
}

// lockAccountPair locks both accounts FOR UPDATE in ascending accountId order
// to prevent deadlocks, then returns them as (debit, credit).
func (ts *TransactionService) lockAccountPair(ctx context.Context, tx *sql.Tx, debitAccountID, creditAccountID string) (*models.Account, *models.Account, error) {
	firstLock, secondLock := debitAccountID, creditAccountID
	if firstLock > secondLock {
		firstLock, secondLock = secondLock, firstLock
	}

	first, err := lockAccount(ctx, tx, firstLock)
	if err != nil {
		return nil, nil, err
	}
	second, err := lockAccount(ctx, tx, secondLock)
	if err != nil {
		return nil, nil, err
	}

	if firstLock == debitAccountID {
		return first, second, nil
	}
	return second, first, nil
}

func lockAccount(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1 AND is_deleted = FALSE FOR UPDATE`,
		accountID)
	account, err := scanAccount(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("account %s: %w", accountID, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("lock account %s: %w", accountID, err)
	}
	return account, nil
}

// balanceDelta is an additive mutation of the primitive balance buckets.
// Derived fields are untouched here; the caller must recalculate them in the
// same transaction before commit.
type balanceDelta struct {
	clear               decimal.Decimal
	unsupervisedCredits decimal.Decimal
	unsupervisedDebits  decimal.Decimal
}

func applyBalanceDelta(ctx context.Context, tx *sql.Tx, account *models.Account, d balanceDelta, actor string) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE accounts
		 SET clear_balance = clear_balance + $1,
		     unsupervised_credits = unsupervised_credits + $2,
		     unsupervised_debits = unsupervised_debits + $3,
		     version = version + 1,
		     modified_by = $4,
		     modified_on = $5
		 WHERE account_id = $6 AND version = $7`,
		d.clear, d.unsupervisedCredits, d.unsupervisedDebits,
		actor, time.Now().UTC(), account.AccountID, account.Version)
	if err != nil {
		return fmt.Errorf("mutate account %s: %w", account.AccountID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("account %s: %w", account.AccountID, ErrOptimisticLock)
	}

	account.ClearBalance = account.ClearBalance.Add(d.clear)
	account.UnsupervisedCredits = account.UnsupervisedCredits.Add(d.unsupervisedCredits)
	account.UnsupervisedDebits = account.UnsupervisedDebits.Add(d.unsupervisedDebits)
	account.Version++
	return nil
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *models.TransactionEntry) error {
	err := tx.QueryRowContext(ctx,
		`INSERT INTO transaction_entries
		 (transaction_id, reference_number, sacco_id, account_id, entry_type, amount, type, status, remarks, created_by, created_on)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		e.TransactionID, e.ReferenceNumber, e.SaccoID, e.AccountID, e.EntryType,
		e.Amount, e.Type, e.Status, e.Remarks, e.CreatedBy, e.CreatedOn).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("insert %s entry: %w", strings.ToLower(string(e.EntryType)), err)
	}
	return nil
}

func fetchEntriesByReference(ctx context.Context, tx *sql.Tx, referenceNumber string) ([]*models.TransactionEntry, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM transaction_entries WHERE reference_number = $1 AND is_deleted = FALSE ORDER BY entry_type DESC`,
		referenceNumber)
	if err != nil {
		return nil, fmt.Errorf("fetch entries for %s: %w", referenceNumber, err)
	}
	defer rows.Close()

	var entries []*models.TransactionEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func scanEntry(row rowScanner) (*models.TransactionEntry, error) {
	var e models.TransactionEntry
	err := row.Scan(
		&e.ID, &e.TransactionID, &e.ReferenceNumber, &e.SaccoID, &e.AccountID,
		&e.EntryType, &e.Amount, &e.Type, &e.Status, &e.Remarks, &e.IsDeleted,
		&e.CreatedBy, &e.CreatedOn, &e.ApprovedBy, &e.ApprovedOn,
		&e.ModifiedBy, &e.ModifiedOn,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// uniqueReferenceNumber allocates a REF-####### that no existing entry uses,
// checked inside the creating transaction so the allocation commits with the
// legs that use it.
func (ts *TransactionService) uniqueReferenceNumber(ctx context.Context, tx *sql.Tx) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate := idgen.NewReferenceNumber()
		exists, err := entryExists(ctx, tx, "reference_number", candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.New("could not allocate a unique reference number")
}

func (ts *TransactionService) uniqueTransactionID(ctx context.Context, tx *sql.Tx) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		candidate := idgen.NewTransactionID()
		exists, err := entryExists(ctx, tx, "transaction_id", candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
	}
	return "", errors.New("could not allocate a unique transaction id")
}

func entryExists(ctx context.Context, tx *sql.Tx, column, value string) (bool, error) {
	var exists bool
	err := tx.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transaction_entries WHERE `+column+` = $1)`,
		value).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check %s uniqueness: %w", column, err)
	}
	return exists, nil
}
