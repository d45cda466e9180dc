// README: Read access to vendor drivers and vehicles plus the live-window overlap checks.
package fleet

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cabmarket/internal/infra"
	"cabmarket/internal/types"
)

var ErrNotFound = errors.New("fleet record not found")

type Driver struct {
	ID       types.ID
	VendorID types.ID
	Name     string
	Phone    string
	Active   bool
}

type Vehicle struct {
	ID          types.ID
	VendorID    types.ID
	Model       string
	Seats       int
	PerKmCharge types.Money
	Active      bool
}

// Window is a closed pickup/drop interval.
type Window struct {
	From time.Time
	To   time.Time
}

func (w Window) Valid() bool {
	return !w.From.IsZero() && !w.To.IsZero() && w.To.After(w.From)
}

const liveStatuses = `('waiting','approved','preongoing','ongoing')`

func GetDriver(ctx context.Context, q infra.Querier, id types.ID) (*Driver, error) {
	var d Driver
	err := q.QueryRow(ctx, `
		SELECT id, vendor_id, name, phone, active FROM drivers WHERE id = $1`, string(id),
	).Scan(&d.ID, &d.VendorID, &d.Name, &d.Phone, &d.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func GetVehicle(ctx context.Context, q infra.Querier, id types.ID, currency string) (*Vehicle, error) {
	var v Vehicle
	err := q.QueryRow(ctx, `
		SELECT id, vendor_id, model, seats, per_km_charge, active FROM vehicles WHERE id = $1`, string(id),
	).Scan(&v.ID, &v.VendorID, &v.Model, &v.Seats, &v.PerKmCharge.Amount, &v.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v.PerKmCharge.Currency = currency
	if v.PerKmCharge.Currency == "" {
		v.PerKmCharge.Currency = types.DefaultCurrency
	}
	return &v, nil
}

// DriverBusy reports a live booking assigned to driverID whose window overlaps w.
func DriverBusy(ctx context.Context, q infra.Querier, driverID types.ID, w Window, exclude types.ID) (bool, error) {
	var busy bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE driver_id = $1
			  AND id <> $2
			  AND status IN `+liveStatuses+`
			  AND pickup_date <= $4 AND drop_date >= $3
		)`, string(driverID), string(exclude), w.From, w.To,
	).Scan(&busy)
	return busy, err
}

// VehicleBusy reports a live booking holding vehicleID, either assigned or still
// requested while unassigned, whose window overlaps w.
func VehicleBusy(ctx context.Context, q infra.Querier, vehicleID types.ID, w Window, exclude types.ID) (bool, error) {
	var busy bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE (vehicle_id = $1 OR (vehicle_id IS NULL AND requested_vehicle_id = $1))
			  AND id <> $2
			  AND status IN `+liveStatuses+`
			  AND pickup_date <= $4 AND drop_date >= $3
		)`, string(vehicleID), string(exclude), w.From, w.To,
	).Scan(&busy)
	return busy, err
}
