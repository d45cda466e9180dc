// README: database/sql (lib/pq) queries behind the statements.
package statement

import (
	"context"
	"database/sql"
	"errors"

	"cabmarket/internal/types"
)

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) VendorBalance(ctx context.Context, vendorID types.ID) (balance, totalEarnings int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT amount, total_earnings FROM vendors WHERE id = $1`, string(vendorID),
	).Scan(&balance, &totalEarnings)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrVendorNotFound
	}
	return balance, totalEarnings, err
}

// LatestBalance returns balance_after of the newest ledger row; ok is false when the vendor has none.
func (s *Store) LatestBalance(ctx context.Context, vendorID types.ID) (balance int64, ok bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT balance_after FROM vendor_wallet_transactions
		WHERE vendor_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, string(vendorID),
	).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return balance, true, nil
}

func (s *Store) LedgerEntries(ctx context.Context, vendorID types.ID, limit int, currency string) ([]LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, amount, balance_after, payment_id, transaction_id, description, created_at
		FROM vendor_wallet_transactions
		WHERE vendor_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, string(vendorID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []LedgerEntry{}
	for rows.Next() {
		var (
			e              LedgerEntry
			id             string
			amount, after  int64
			payment, trans sql.NullString
		)
		if err := rows.Scan(&id, &e.Type, &amount, &after, &payment, &trans, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.ID = types.ID(id)
		e.Amount = types.NewMoney(amount, currency)
		e.BalanceAfter = types.NewMoney(after, currency)
		e.PaymentID = nullID(payment)
		e.TransactionID = nullID(trans)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) CompletedTrips(ctx context.Context, vendorID types.ID, p Period) ([]archivedTrip, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT price, admin_commission, vendor_share
		FROM previous_bookings
		WHERE vendor_id = $1 AND status = 'completed' AND archived_at >= $2 AND archived_at < $3`,
		string(vendorID), p.From, p.To)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []archivedTrip
	for rows.Next() {
		var (
			t             archivedTrip
			admin, vendor sql.NullInt64
		)
		if err := rows.Scan(&t.Price, &admin, &vendor); err != nil {
			return nil, err
		}
		if admin.Valid {
			t.AdminCommission = &admin.Int64
		}
		if vendor.Valid {
			t.VendorShare = &vendor.Int64
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) PaidForPeriod(ctx context.Context, vendorID types.ID, p Period) (int64, error) {
	var paid int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(p.amount), 0)
		FROM payments p
		JOIN previous_bookings b ON b.id = p.booking_id
		WHERE p.vendor_id = $1 AND p.type = 'withdrawal' AND p.status = 'completed'
		  AND b.archived_at >= $2 AND b.archived_at < $3`,
		string(vendorID), p.From, p.To,
	).Scan(&paid)
	return paid, err
}

func (s *Store) PartnerBalance(ctx context.Context, partnerID types.ID) (balance, totalEarnings int64, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT amount, total_earnings FROM partners WHERE id = $1`, string(partnerID),
	).Scan(&balance, &totalEarnings)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, ErrPartnerNotFound
	}
	return balance, totalEarnings, err
}

func (s *Store) PartnerCommissions(ctx context.Context, partnerID types.ID, limit int, currency string) ([]Commission, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, booking_id, amount, status, created_at
		FROM partner_transactions
		WHERE partner_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(partnerID), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Commission{}
	for rows.Next() {
		var (
			c             Commission
			id, bookingID string
			amount        int64
		)
		if err := rows.Scan(&id, &bookingID, &amount, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.ID, c.BookingID = types.ID(id), types.ID(bookingID)
		c.Amount = types.NewMoney(amount, currency)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Disputes lists disputes newest first; an empty status lists every status.
func (s *Store) Disputes(ctx context.Context, status string, limit int, currency string) ([]DisputeRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT d.id, d.payment_id, d.vendor_id, d.reason, d.status, d.admin_comment,
		       p.amount, d.created_at, d.resolved_at
		FROM penalty_disputes d
		JOIN payments p ON p.id = d.payment_id
		WHERE $1 = '' OR d.status = $1
		ORDER BY d.created_at DESC
		LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DisputeRow{}
	for rows.Next() {
		var (
			d                     DisputeRow
			id, paymentID, vendor string
			amount                int64
			resolvedAt            sql.NullTime
		)
		if err := rows.Scan(&id, &paymentID, &vendor, &d.Reason, &d.Status, &d.AdminComment,
			&amount, &d.CreatedAt, &resolvedAt); err != nil {
			return nil, err
		}
		d.ID, d.PaymentID, d.VendorID = types.ID(id), types.ID(paymentID), types.ID(vendor)
		d.Penalty = types.NewMoney(amount, currency)
		if resolvedAt.Valid {
			t := resolvedAt.Time
			d.ResolvedAt = &t
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func nullID(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}
