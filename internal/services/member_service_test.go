package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saccopay/backoffice/internal/models"
)

func TestAttachDisplayContext(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewMemberService(db)

	entries := []*models.TransactionEntry{
		{TransactionID: "T-1", AccountID: "ACC-A", CreatedOn: time.Now()},
		{TransactionID: "T-2", AccountID: "ACC-B", CreatedOn: time.Now()},
		{TransactionID: "T-3", AccountID: "ACC-A", CreatedOn: time.Now()},
	}

	// ACC-A resolves; ACC-B has no link (GL account). ACC-A is queried once
	// despite appearing on two entries.
	mock.ExpectQuery(`FROM account_links`).
		WithArgs("ACC-A").
		WillReturnRows(sqlmock.NewRows([]string{"member_name", "product_name"}).
			AddRow("Jane Wanjiku", "Regular Savings"))
	mock.ExpectQuery(`FROM account_links`).
		WithArgs("ACC-B").
		WillReturnError(sql.ErrNoRows)

	service.AttachDisplayContext(context.Background(), entries)

	assert.Equal(t, "Jane Wanjiku", entries[0].MemberName)
	assert.Equal(t, "Regular Savings", entries[0].ProductName)
	assert.Empty(t, entries[1].MemberName)
	assert.Equal(t, "Jane Wanjiku", entries[2].MemberName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
