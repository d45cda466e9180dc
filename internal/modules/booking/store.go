// README: Booking store backed by PostgreSQL; conditional status writes and archival in one transaction.
package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"cabmarket/internal/infra"
	"cabmarket/internal/types"
)

// ColumnNames lists the columns shared by bookings and previous_bookings.
const ColumnNames = `id, customer_id, vendor_id, driver_id, vehicle_id, partner_id,
	requested_vehicle_id, min_seats, pickup_location, drop_location, pickup_date, drop_date,
	path, distance, price, currency, admin_commission, vendor_share,
	status, status_version, otp, otp_verified, transaction_id,
	started_at, ended_at, cancelled_at, created_at, updated_at`

const selectColumns = `id, customer_id, vendor_id, driver_id, vehicle_id, partner_id,
	requested_vehicle_id, min_seats, pickup_location, drop_location, pickup_date, drop_date,
	path, distance::text, price, currency, admin_commission, vendor_share,
	status, status_version, otp, otp_verified, transaction_id,
	started_at, ended_at, cancelled_at, created_at, updated_at`

// SelectColumns is the column list ScanRow expects, optionally qualified by a table alias.
func SelectColumns(alias string) string {
	if alias == "" {
		return selectColumns
	}
	parts := strings.Split(selectColumns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

// Archiver moves a terminal booking into previous_bookings inside the caller's transaction.
type Archiver interface {
	MoveTx(ctx context.Context, q infra.Querier, id types.ID) error
}

type Store struct {
	db       *pgxpool.Pool
	archiver Archiver
}

func NewStore(db *pgxpool.Pool, archiver Archiver) *Store {
	return &Store{db: db, archiver: archiver}
}

func (s *Store) Get(ctx context.Context, id types.ID) (*Booking, error) {
	row := s.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM bookings WHERE id = $1`, string(id))
	return ScanRow(row)
}

func (s *Store) ListLive(ctx context.Context, f ListFilter) ([]Booking, error) {
	var (
		where []string
		args  []any
	)
	add := func(col string, v types.ID) {
		if v.Empty() {
			return
		}
		args = append(args, string(v))
		where = append(where, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("customer_id", f.CustomerID)
	add("vendor_id", f.VendorID)
	add("driver_id", f.DriverID)
	if len(where) == 0 {
		return nil, errors.New("list filter requires an owner")
	}
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit)
	q := `SELECT ` + selectColumns + ` FROM bookings WHERE ` + strings.Join(where, " AND ") +
		fmt.Sprintf(` ORDER BY pickup_date ASC LIMIT $%d`, len(args))
	return s.query(ctx, q, args...)
}

func (s *Store) ListExpirable(ctx context.Context, pickupBefore time.Time, limit int) ([]Booking, error) {
	return s.query(ctx, `
		SELECT `+selectColumns+` FROM bookings
		WHERE status = $1 AND vendor_id IS NULL AND pickup_date < $2
		ORDER BY pickup_date ASC
		LIMIT $3`, StatusWaiting.String(), pickupBefore, limit)
}

// ListOpen returns unassigned waiting bookings with pickup in [from, to].
func (s *Store) ListOpen(ctx context.Context, from, to time.Time, limit int) ([]Booking, error) {
	return s.query(ctx, `
		SELECT `+selectColumns+` FROM bookings
		WHERE status = $1 AND vendor_id IS NULL AND pickup_date BETWEEN $2 AND $3
		ORDER BY pickup_date ASC
		LIMIT $4`, StatusWaiting.String(), from, to, limit)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Booking, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Booking
	for rows.Next() {
		b, err := ScanRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Transition applies t as a compare-and-swap on (status, status_version), records the
// event and, for terminal targets, archives the row before committing.
func (s *Store) Transition(ctx context.Context, t Transition) (*Booking, error) {
	var out *Booking
	err := infra.WithTx(ctx, s.db, func(tx pgx.Tx) error {
		var admin, vendor *int64
		if t.Split != nil {
			a, v := t.Split.AdminCommission.Amount, t.Split.VendorShare.Amount
			admin, vendor = &a, &v
		}
		row := tx.QueryRow(ctx, `
			UPDATE bookings
			SET status = $1,
				status_version = status_version + 1,
				otp_verified = otp_verified OR $2,
				started_at = CASE WHEN $1 = 'ongoing' THEN $3 ELSE started_at END,
				ended_at = CASE WHEN $1 = 'completed' THEN $3 ELSE ended_at END,
				cancelled_at = CASE WHEN $1 = 'cancelled' THEN $3 ELSE cancelled_at END,
				admin_commission = COALESCE($4, admin_commission),
				vendor_share = COALESCE($5, vendor_share),
				updated_at = $3
			WHERE id = $6 AND status = $7 AND status_version = $8
			RETURNING `+selectColumns,
			t.To.String(), t.OTPVerified, t.At, admin, vendor,
			string(t.BookingID), t.From.String(), t.Version,
		)
		b, err := ScanRow(row)
		if errors.Is(err, ErrNotFound) {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		if err := AppendEvent(ctx, tx, &Event{
			BookingID:  t.BookingID,
			FromStatus: t.From,
			ToStatus:   t.To,
			ActorRole:  t.ActorRole,
			ActorID:    t.ActorID,
			CreatedAt:  t.At,
		}); err != nil {
			return err
		}
		if t.To == StatusCancelled {
			if _, err := tx.Exec(ctx, `
				UPDATE partner_transactions SET status = 'failed', updated_at = $2
				WHERE booking_id = $1 AND status = 'pending'`,
				string(t.BookingID), t.At); err != nil {
				return fmt.Errorf("void partner commission: %w", err)
			}
		}
		if t.To.Terminal() {
			if s.archiver == nil {
				return errors.New("booking store has no archiver")
			}
			if err := s.archiver.MoveTx(ctx, tx, t.BookingID); err != nil {
				return err
			}
		}
		out = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Insert writes a new booking row using q, which may be a transaction.
func Insert(ctx context.Context, q infra.Querier, b *Booking) error {
	_, err := q.Exec(ctx, `
		INSERT INTO bookings (
			id, customer_id, partner_id, requested_vehicle_id, min_seats,
			pickup_location, drop_location, pickup_date, drop_date,
			path, distance, price, currency, status, status_version,
			otp, otp_verified, transaction_id, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11::numeric, $12, $13, $14, 0,
			$15, FALSE, $16, $17, $17
		)`,
		string(b.ID), string(b.CustomerID), toStringPtr(b.PartnerID), string(b.RequestedVehicleID), b.MinSeats,
		b.PickupLocation, b.DropLocation, b.PickupDate, b.DropDate,
		b.Path, b.DistanceKm.String(), b.Price.Amount, b.Price.Currency, b.Status.String(),
		b.OTP, toStringPtr(b.TransactionID), b.CreatedAt,
	)
	return err
}

func AppendEvent(ctx context.Context, q infra.Querier, e *Event) error {
	_, err := q.Exec(ctx, `
		INSERT INTO booking_events (
			booking_id, from_status, to_status, actor_role, actor_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)`,
		string(e.BookingID),
		e.FromStatus.String(),
		e.ToStatus.String(),
		string(e.ActorRole),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	)
	return err
}

// ScanRow reads a row produced by SelectColumns.
func ScanRow(row pgx.Row) (*Booking, error) {
	var (
		b                               Booking
		vendorID, driverID, vehicleID   sql.NullString
		partnerID, transactionID        sql.NullString
		distance, status                string
		adminCommission, vendorShare    sql.NullInt64
		startedAt, endedAt, cancelledAt sql.NullTime
	)
	err := row.Scan(
		&b.ID, &b.CustomerID, &vendorID, &driverID, &vehicleID, &partnerID,
		&b.RequestedVehicleID, &b.MinSeats, &b.PickupLocation, &b.DropLocation, &b.PickupDate, &b.DropDate,
		&b.Path, &distance, &b.Price.Amount, &b.Price.Currency, &adminCommission, &vendorShare,
		&status, &b.StatusVersion, &b.OTP, &b.OTPVerified, &transactionID,
		&startedAt, &endedAt, &cancelledAt, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if b.Status, err = ParseStatus(status); err != nil {
		return nil, err
	}
	if b.DistanceKm, err = decimal.NewFromString(distance); err != nil {
		return nil, fmt.Errorf("parse distance: %w", err)
	}
	b.VendorID = toIDPtr(vendorID)
	b.DriverID = toIDPtr(driverID)
	b.VehicleID = toIDPtr(vehicleID)
	b.PartnerID = toIDPtr(partnerID)
	b.TransactionID = toIDPtr(transactionID)
	b.AdminCommission = toMoneyPtr(adminCommission, b.Price.Currency)
	b.VendorShare = toMoneyPtr(vendorShare, b.Price.Currency)
	b.StartedAt = toTimePtr(startedAt)
	b.EndedAt = toTimePtr(endedAt)
	b.CancelledAt = toTimePtr(cancelledAt)
	return &b, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func toIDPtr(v sql.NullString) *types.ID {
	if !v.Valid {
		return nil
	}
	id := types.ID(v.String)
	return &id
}

func toMoneyPtr(v sql.NullInt64, currency string) *types.Money {
	if !v.Valid {
		return nil
	}
	m := types.NewMoney(v.Int64, currency)
	return &m
}

func toTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time
	return &t
}
