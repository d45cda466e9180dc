// README: Payment store backed by PostgreSQL; the pending -> success flip is a conditional update.
package payment

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cabmarket/internal/gateway"
	"cabmarket/internal/infra"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/fleet"
	"cabmarket/internal/modules/settlement"
	"cabmarket/internal/types"
)

const transactionColumns = `id, purpose, customer_id, vendor_id, partner_id, gateway_order_id,
	COALESCE(gateway_payment_id, ''), gateway_status, amount, currency, status, quote, booking_id,
	created_at, updated_at`

type Store struct {
	db       *pgxpool.Pool
	currency string
}

func NewStore(db *pgxpool.Pool, currency string) *Store {
	return &Store{db: db, currency: currency}
}

func (s *Store) InTx(ctx context.Context, fn func(Tx) error) error {
	return infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		return fn(&txStore{q: tx})
	})
}

func (s *Store) GetVehicle(ctx context.Context, id types.ID) (*fleet.Vehicle, error) {
	return fleet.GetVehicle(ctx, s.db, id, s.currency)
}

func (s *Store) VehicleBusy(ctx context.Context, id types.ID, w fleet.Window) (bool, error) {
	return fleet.VehicleBusy(ctx, s.db, id, w, "")
}

func (s *Store) InsertTransaction(ctx context.Context, t *Transaction) error {
	var quote []byte
	if t.Quote != nil {
		raw, err := json.Marshal(t.Quote)
		if err != nil {
			return err
		}
		quote = raw
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions
			(id, purpose, customer_id, vendor_id, partner_id, gateway_order_id, gateway_status,
			 amount, currency, status, quote, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)`,
		string(t.ID), string(t.Purpose), idArg(t.CustomerID), idArg(t.VendorID), idArg(t.PartnerID),
		t.GatewayOrderID, t.GatewayStatus, t.Amount.Amount, t.Amount.Currency, string(t.Status), quote, t.CreatedAt,
	)
	return err
}

func (s *Store) GetTransaction(ctx context.Context, id types.ID) (*Transaction, error) {
	row := s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, string(id))
	return scanTransaction(row)
}

func (s *Store) ApplyGatewayEvent(ctx context.Context, ev gateway.WebhookEvent, at time.Time) (bool, error) {
	var exists bool
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM transactions WHERE gateway_order_id = $1)`, ev.OrderID,
		).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return nil
		}
		switch ev.Kind {
		case gateway.EventCaptured:
			_, err := tx.Exec(ctx, `
				UPDATE transactions
				SET gateway_status = 'captured',
					gateway_payment_id = COALESCE(gateway_payment_id, NULLIF($2, '')),
					updated_at = $3
				WHERE gateway_order_id = $1 AND gateway_status <> 'captured'`,
				ev.OrderID, ev.PaymentID, at)
			return err
		case gateway.EventFailed:
			// A failed attempt leaves the order open for a retry; ExpirePending closes it.
			_, err := tx.Exec(ctx, `
				UPDATE transactions SET gateway_status = 'failed', updated_at = $2
				WHERE gateway_order_id = $1 AND gateway_status = 'created'`,
				ev.OrderID, at)
			return err
		}
		return nil
	})
	return exists, err
}

func (s *Store) FailStalePending(ctx context.Context, before time.Time, limit int) ([]types.ID, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE transactions SET status = 'failed', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM transactions
			WHERE status = 'pending' AND gateway_status <> 'captured' AND created_at < $1
			ORDER BY created_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []types.ID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, types.ID(id))
	}
	return ids, rows.Err()
}

func (s *Store) ListCapturedPending(ctx context.Context, before time.Time, limit int) ([]Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = 'pending' AND gateway_status = 'captured' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type txStore struct {
	q infra.Querier
}

func (t *txStore) ConsumePending(ctx context.Context, c Consume) (*Transaction, bool, error) {
	owner := "customer_id"
	if c.Purpose == PurposeRecharge {
		owner = "vendor_id"
	}
	row := t.q.QueryRow(ctx, `
		UPDATE transactions
		SET status = 'success',
			gateway_payment_id = COALESCE(NULLIF($3, ''), gateway_payment_id),
			updated_at = $4
		WHERE id = $1 AND status = 'pending' AND purpose = $2 AND `+owner+` = $5
		RETURNING `+transactionColumns,
		string(c.TransactionID), string(c.Purpose), c.PaymentID, c.At, string(c.OwnerID),
	)
	tx, err := scanTransaction(row)
	if errors.Is(err, ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return tx, true, nil
}

func (t *txStore) InsertBooking(ctx context.Context, b *booking.Booking) error {
	return booking.Insert(ctx, t.q, b)
}

func (t *txStore) LinkBooking(ctx context.Context, transactionID, bookingID types.ID) error {
	_, err := t.q.Exec(ctx, `UPDATE transactions SET booking_id = $2, updated_at = NOW() WHERE id = $1`,
		string(transactionID), string(bookingID))
	return err
}

func (t *txStore) InsertPartnerTransaction(ctx context.Context, pt *PartnerTransaction) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO partner_transactions (id, partner_id, booking_id, amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`,
		string(pt.ID), string(pt.PartnerID), string(pt.BookingID), pt.Amount.Amount, string(pt.Status), pt.CreatedAt,
	)
	return err
}

func (t *txStore) ApplyWalletEntry(ctx context.Context, e *settlement.WalletEntry) error {
	return settlement.ApplyVendorEntry(ctx, t.q, e)
}

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var (
		t                               Transaction
		purpose, status                 string
		customer, vendor, partner, bkID sql.NullString
		quote                           []byte
	)
	err := row.Scan(
		&t.ID, &purpose, &customer, &vendor, &partner, &t.GatewayOrderID,
		&t.GatewayPaymentID, &t.GatewayStatus, &t.Amount.Amount, &t.Amount.Currency, &status, &quote, &bkID,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	t.Purpose = Purpose(purpose)
	t.Status = Status(status)
	t.CustomerID = nullID(customer)
	t.VendorID = nullID(vendor)
	t.PartnerID = nullID(partner)
	t.BookingID = nullID(bkID)
	if len(quote) > 0 {
		var q booking.Quote
		if err := json.Unmarshal(quote, &q); err != nil {
			return nil, err
		}
		t.Quote = &q
	}
	return &t, nil
}

func idArg(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func nullID(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}
