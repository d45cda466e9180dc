// README: Settlement store backed by PostgreSQL; uniqueness constraints back the at-most-once rules.
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cabmarket/internal/infra"
	"cabmarket/internal/types"
)

const (
	paymentColumns = `id, type, vendor_id, partner_id, booking_id, amount, status, reason, created_at, updated_at`
	disputeColumns = `id, payment_id, vendor_id, reason, status, admin_comment, created_at, resolved_at`
)

type Store struct {
	db       *pgxpool.Pool
	currency string
}

func NewStore(db *pgxpool.Pool, currency string) *Store {
	return &Store{db: db, currency: currency}
}

func (s *Store) InTx(ctx context.Context, fn func(Tx) error) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&txStore{q: tx, currency: s.currency})
	})
}

type txStore struct {
	q        infra.Querier
	currency string
}

func (t *txStore) InsertPayment(ctx context.Context, p *Payment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		string(p.ID), string(p.Type), idPtr(p.VendorID), idPtr(p.PartnerID), idPtr(p.BookingID),
		p.Amount.Amount, string(p.Status), p.Reason, p.CreatedAt, p.UpdatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return ErrAlreadyPaid
	}
	return err
}

func (t *txStore) LockPayment(ctx context.Context, id types.ID) (*Payment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, string(id))
	return scanPayment(row, t.currency)
}

func (t *txStore) SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus, at time.Time) error {
	_, err := t.q.Exec(ctx, `UPDATE payments SET status = $2, updated_at = $3 WHERE id = $1`, string(id), string(status), at)
	return err
}

func (t *txStore) CompletedTrip(ctx context.Context, bookingID types.ID) (*CompletedTrip, error) {
	var (
		c      CompletedTrip
		vendor sql.NullString
		share  sql.NullInt64
	)
	err := t.q.QueryRow(ctx, `
		SELECT id, vendor_id, status, price, currency, vendor_share
		FROM previous_bookings WHERE id = $1
		FOR UPDATE`, string(bookingID),
	).Scan(&c.BookingID, &vendor, &c.Status, &c.Price.Amount, &c.Price.Currency, &share)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	c.VendorID = types.ID(vendor.String)
	if share.Valid {
		m := types.NewMoney(share.Int64, c.Price.Currency)
		c.VendorShare = &m
	}
	return &c, nil
}

func (t *txStore) HasVendorWithdrawal(ctx context.Context, bookingID, vendorID types.ID) (bool, error) {
	var exists bool
	err := t.q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payments
			WHERE booking_id = $1 AND vendor_id = $2 AND type = 'withdrawal' AND status = 'completed'
		)`, string(bookingID), string(vendorID),
	).Scan(&exists)
	return exists, err
}

func (t *txStore) DisputeForPayment(ctx context.Context, paymentID types.ID) (*Dispute, error) {
	row := t.q.QueryRow(ctx, `SELECT `+disputeColumns+` FROM penalty_disputes WHERE payment_id = $1`, string(paymentID))
	d, err := scanDispute(row)
	if errors.Is(err, ErrDisputeNotFound) {
		return nil, nil
	}
	return d, err
}

func (t *txStore) InsertDispute(ctx context.Context, d *Dispute) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO penalty_disputes (id, payment_id, vendor_id, reason, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		string(d.ID), string(d.PaymentID), string(d.VendorID), d.Reason, string(d.Status), d.CreatedAt,
	)
	if infra.IsUniqueViolation(err) {
		return ErrAlreadyDisputed
	}
	return err
}

func (t *txStore) LockDispute(ctx context.Context, id types.ID) (*Dispute, error) {
	row := t.q.QueryRow(ctx, `SELECT `+disputeColumns+` FROM penalty_disputes WHERE id = $1 FOR UPDATE`, string(id))
	return scanDispute(row)
}

func (t *txStore) CloseDispute(ctx context.Context, d *Dispute) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE penalty_disputes SET status = $2, admin_comment = $3, resolved_at = $4
		WHERE id = $1 AND status = 'pending'`,
		string(d.ID), string(d.Status), d.AdminComment, d.ResolvedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDisputeClosed
	}
	return nil
}

func (t *txStore) CompletePartnerTransaction(ctx context.Context, id types.ID, at time.Time) (*PartnerPayout, bool, error) {
	var p PartnerPayout
	err := t.q.QueryRow(ctx, `
		UPDATE partner_transactions pt SET status = 'completed', updated_at = $2
		WHERE pt.id = $1 AND pt.status = 'pending'
		  AND EXISTS (
			SELECT 1 FROM previous_bookings b WHERE b.id = pt.booking_id AND b.status = 'completed'
		  )
		RETURNING pt.id, pt.partner_id, pt.booking_id, pt.amount`, string(id), at,
	).Scan(&p.ID, &p.PartnerID, &p.BookingID, &p.Amount.Amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	p.Amount.Currency = t.currency
	return &p, true, nil
}

func (t *txStore) PartnerTransactionStatus(ctx context.Context, id types.ID) (string, bool, error) {
	var status string
	err := t.q.QueryRow(ctx, `SELECT status FROM partner_transactions WHERE id = $1`, string(id)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return status, true, nil
}

func (t *txStore) ApplyVendorEntry(ctx context.Context, e *WalletEntry) error {
	return ApplyVendorEntry(ctx, t.q, e)
}

func (t *txStore) CreditPartner(ctx context.Context, partnerID types.ID, amount types.Money) (types.Money, error) {
	return CreditPartner(ctx, t.q, partnerID, amount)
}

func scanPayment(row pgx.Row, currency string) (*Payment, error) {
	var (
		p                        Payment
		typ, status              string
		vendor, partner, booking sql.NullString
	)
	err := row.Scan(&p.ID, &typ, &vendor, &partner, &booking, &p.Amount.Amount, &status, &p.Reason, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Type = PaymentType(typ)
	p.Status = PaymentStatus(status)
	p.VendorID = nullID(vendor)
	p.PartnerID = nullID(partner)
	p.BookingID = nullID(booking)
	p.Amount.Currency = currency
	return &p, nil
}

func scanDispute(row pgx.Row) (*Dispute, error) {
	var (
		d        Dispute
		status   string
		resolved sql.NullTime
	)
	err := row.Scan(&d.ID, &d.PaymentID, &d.VendorID, &d.Reason, &status, &d.AdminComment, &d.CreatedAt, &resolved)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDisputeNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Status = DisputeStatus(status)
	if resolved.Valid {
		ts := resolved.Time
		d.ResolvedAt = &ts
	}
	return &d, nil
}

func nullID(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}
