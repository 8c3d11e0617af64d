package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/saccopay/backoffice/internal/models"
)

// MemberService serves the read-only member/product context attached to
// transaction responses. Nothing here mutates member data; onboarding lives
// in the admin UI's own CRUD layer.
type MemberService struct {
	db *sql.DB
}

func NewMemberService(db *sql.DB) *MemberService {
	return &MemberService{db: db}
}

type displayContext struct {
	memberName  string
	productName string
}

// AttachDisplayContext fills MemberName/ProductName on each entry from the
// account_links join. Enrichment is best-effort: a missing link or a read
// failure leaves the fields empty rather than failing the ledger response.
func (s *MemberService) AttachDisplayContext(ctx context.Context, entries []*models.TransactionEntry) {
	cache := make(map[string]displayContext)

	for _, entry := range entries {
		dc, ok := cache[entry.AccountID]
		if !ok {
			loaded, err := s.contextFor(ctx, entry.AccountID)
			if err != nil {
				logrus.WithField("account", entry.AccountID).Warnf("display context lookup failed: %v", err)
				continue
			}
			dc = loaded
			cache[entry.AccountID] = dc
		}
		entry.MemberName = dc.memberName
		entry.ProductName = dc.productName
	}
}

func (s *MemberService) contextFor(ctx context.Context, accountID string) (displayContext, error) {
	var dc displayContext
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(m.first_name || ' ' || m.last_name, ''), COALESCE(p.name, '')
		 FROM account_links l
		 LEFT JOIN members m ON m.member_id = l.member_id
		 LEFT JOIN products p ON p.product_id = l.product_id
		 WHERE l.account_id = $1`,
		accountID).Scan(&dc.memberName, &dc.productName)
	if errors.Is(err, sql.ErrNoRows) {
		// GL accounts have no member link.
		return displayContext{}, nil
	}
	return dc, err
}
