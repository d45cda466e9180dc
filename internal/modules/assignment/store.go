// README: Assignment store; every accept runs inside one Postgres transaction.
package assignment

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cabmarket/internal/infra"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/fleet"
	"cabmarket/internal/types"
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

func (t *txStore) VendorBalance(ctx context.Context, vendorID types.ID) (types.Money, error) {
	var amount int64
	err := t.q.QueryRow(ctx, `SELECT amount FROM vendors WHERE id = $1`, string(vendorID)).Scan(&amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Money{}, ErrVendorNotFound
	}
	if err != nil {
		return types.Money{}, err
	}
	return types.NewMoney(amount, t.currency), nil
}

func (t *txStore) GetBooking(ctx context.Context, id types.ID) (*booking.Booking, error) {
	row := t.q.QueryRow(ctx, `SELECT `+booking.SelectColumns("")+` FROM bookings WHERE id = $1`, string(id))
	return booking.ScanRow(row)
}

func (t *txStore) GetDriver(ctx context.Context, id types.ID) (*fleet.Driver, error) {
	return fleet.GetDriver(ctx, t.q, id)
}

func (t *txStore) GetVehicle(ctx context.Context, id types.ID) (*fleet.Vehicle, error) {
	return fleet.GetVehicle(ctx, t.q, id, t.currency)
}

func (t *txStore) DriverBusy(ctx context.Context, driverID types.ID, w fleet.Window, exclude types.ID) (bool, error) {
	return fleet.DriverBusy(ctx, t.q, driverID, w, exclude)
}

func (t *txStore) VehicleBusy(ctx context.Context, vehicleID types.ID, w fleet.Window, exclude types.ID) (bool, error) {
	return fleet.VehicleBusy(ctx, t.q, vehicleID, w, exclude)
}

func (t *txStore) Assign(ctx context.Context, p AssignParams) (*booking.Booking, bool, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE bookings
		SET vendor_id = $1,
			driver_id = $2,
			vehicle_id = $3,
			status = 'approved',
			status_version = status_version + 1,
			updated_at = $4
		WHERE id = $5 AND vendor_id IS NULL AND status = 'waiting'
		RETURNING `+booking.SelectColumns(""),
		string(p.VendorID), string(p.DriverID), string(p.VehicleID), p.At, string(p.BookingID),
	)
	b, err := booking.ScanRow(row)
	if errors.Is(err, booking.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (t *txStore) LinkTransactionVendor(ctx context.Context, transactionID, vendorID types.ID) error {
	_, err := t.q.Exec(ctx, `
		UPDATE transactions SET vendor_id = $1, updated_at = NOW()
		WHERE id = $2 AND (vendor_id IS NULL OR vendor_id = $1)`,
		string(vendorID), string(transactionID),
	)
	return err
}

func (t *txStore) AppendEvent(ctx context.Context, e *booking.Event) error {
	return booking.AppendEvent(ctx, t.q, e)
}
