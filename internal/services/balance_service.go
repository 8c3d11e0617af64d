package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/saccopay/backoffice/internal/models"
)

// accountColumns is the canonical select list; every account scan in this
// package must match it.
const accountColumns = `id, account_id, sacco_id, account_type, clear_balance,
	unclear_balance, unsupervised_credits, unsupervised_debits, frozen_amount,
	pending_charges, credit_interest, available_balance, total_balance,
	version, is_deleted, modified_by, modified_on`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccount(row rowScanner) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.AccountID, &a.SaccoID, &a.AccountType, &a.ClearBalance,
		&a.UnclearBalance, &a.UnsupervisedCredits, &a.UnsupervisedDebits,
		&a.FrozenAmount, &a.PendingCharges, &a.CreditInterest,
		&a.AvailableBalance, &a.TotalBalance, &a.Version, &a.IsDeleted,
		&a.ModifiedBy, &a.ModifiedOn,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// BalanceService is the single source of truth for deriving an account's
// availableBalance and totalBalance from its primitive balance buckets.
type BalanceService struct {
	db *sql.DB
}

func NewBalanceService(db *sql.DB) *BalanceService {
	return &BalanceService{db: db}
}

// CalculateAvailableBalance derives the spendable balance:
// clear + unsupervised credits - unsupervised debits - frozen - pending charges.
func CalculateAvailableBalance(a *models.Account) decimal.Decimal {
	return a.ClearBalance.
		Add(a.UnsupervisedCredits).
		Sub(a.UnsupervisedDebits).
		Sub(a.FrozenAmount).
		Sub(a.PendingCharges)
}

// CalculateTotalBalance derives the book balance:
// clear + unclear + credit interest.
func CalculateTotalBalance(a *models.Account) decimal.Decimal {
	return a.ClearBalance.
		Add(a.UnclearBalance).
		Add(a.CreditInterest)
}

// RecalculateAccountBalances recomputes and persists both derived fields for
// one account inside the caller's transaction. Idempotent: recomputing from
// unchanged primitives writes the same values. The row is read FOR UPDATE so
// a standalone recalculation cannot persist primitives another transaction
// commits between the read and the write; ledger operations already hold the
// lock, for them the clause is a no-op.
func (s *BalanceService) RecalculateAccountBalances(ctx context.Context, tx *sql.Tx, accountID string) (*models.Account, error) {
	row := tx.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_id = $1 AND is_deleted = FALSE FOR UPDATE`,
		accountID)

	account, err := scanAccount(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("recalculate %s: %w", accountID, ErrAccountNotFound)
		}
		return nil, fmt.Errorf("recalculate %s: %w", accountID, err)
	}

	account.AvailableBalance = CalculateAvailableBalance(account)
	account.TotalBalance = CalculateTotalBalance(account)
	account.ModifiedOn = time.Now().UTC()

	_, err = tx.ExecContext(ctx,
		`UPDATE accounts SET available_balance = $1, total_balance = $2, modified_on = $3 WHERE account_id = $4`,
		account.AvailableBalance, account.TotalBalance, account.ModifiedOn, accountID)
	if err != nil {
		return nil, fmt.Errorf("persist derived balances for %s: %w", accountID, err)
	}

	return account, nil
}

// RecalculateMultipleAccountBalances applies the single-account routine to
// each id sequentially within one shared transaction, returning results in
// input order. Used by ledger operations that touch both sides of a transfer.
func (s *BalanceService) RecalculateMultipleAccountBalances(ctx context.Context, tx *sql.Tx, accountIDs []string) ([]*models.Account, error) {
	accounts := make([]*models.Account, 0, len(accountIDs))
	for _, id := range accountIDs {
		account, err := s.RecalculateAccountBalances(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

// RecalculateAllAccountBalances is a maintenance sweep over every non-deleted
// account. Each account commits independently; the sweep is not atomic as a
// whole and is meant for offline data fixes, not hot-path correctness.
func (s *BalanceService) RecalculateAllAccountBalances(ctx context.Context) (int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT account_id FROM accounts WHERE is_deleted = FALSE ORDER BY account_id`)
	if err != nil {
		return 0, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return 0, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		if err := s.recalculateOne(ctx, id); err != nil {
			return count, err
		}
		count++
	}

	logrus.WithField("accounts", count).Info("balance recalculation sweep complete")
	return count, nil
}

func (s *BalanceService) recalculateOne(ctx context.Context, accountID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := s.RecalculateAccountBalances(ctx, tx, accountID); err != nil {
		return err
	}
	return tx.Commit()
}
