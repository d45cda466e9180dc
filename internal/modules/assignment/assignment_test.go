package assignment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabmarket/internal/logger"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/fleet"
	"cabmarket/internal/types"
)

type memTx struct {
	mu        sync.Mutex
	balances  map[types.ID]int64
	bookings  map[types.ID]*booking.Booking
	drivers   map[types.ID]*fleet.Driver
	vehicles  map[types.ID]*fleet.Vehicle
	txVendors map[types.ID]types.ID
	events    []booking.Event
}

func newMemTx() *memTx {
	return &memTx{
		balances:  map[types.ID]int64{},
		bookings:  map[types.ID]*booking.Booking{},
		drivers:   map[types.ID]*fleet.Driver{},
		vehicles:  map[types.ID]*fleet.Vehicle{},
		txVendors: map[types.ID]types.ID{},
	}
}

func (m *memTx) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *memTx) VendorBalance(_ context.Context, id types.ID) (types.Money, error) {
	v, ok := m.balances[id]
	if !ok {
		return types.Money{}, ErrVendorNotFound
	}
	return types.NewMoney(v, "INR"), nil
}

func (m *memTx) GetBooking(_ context.Context, id types.ID) (*booking.Booking, error) {
	b, ok := m.bookings[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *memTx) GetDriver(_ context.Context, id types.ID) (*fleet.Driver, error) {
	d, ok := m.drivers[id]
	if !ok {
		return nil, fleet.ErrNotFound
	}
	return d, nil
}

func (m *memTx) GetVehicle(_ context.Context, id types.ID) (*fleet.Vehicle, error) {
	v, ok := m.vehicles[id]
	if !ok {
		return nil, fleet.ErrNotFound
	}
	return v, nil
}

func (m *memTx) busy(match func(*booking.Booking) bool, w fleet.Window, exclude types.ID) bool {
	for _, b := range m.bookings {
		if b.ID == exclude || b.Status.Terminal() || !match(b) {
			continue
		}
		if booking.Overlaps(b.PickupDate, b.DropDate, w.From, w.To) {
			return true
		}
	}
	return false
}

func (m *memTx) DriverBusy(_ context.Context, id types.ID, w fleet.Window, exclude types.ID) (bool, error) {
	return m.busy(func(b *booking.Booking) bool { return types.Deref(b.DriverID) == id }, w, exclude), nil
}

func (m *memTx) VehicleBusy(_ context.Context, id types.ID, w fleet.Window, exclude types.ID) (bool, error) {
	return m.busy(func(b *booking.Booking) bool {
		if b.VehicleID != nil {
			return *b.VehicleID == id
		}
		return b.RequestedVehicleID == id
	}, w, exclude), nil
}

func (m *memTx) Assign(_ context.Context, p AssignParams) (*booking.Booking, bool, error) {
	b, ok := m.bookings[p.BookingID]
	if !ok || b.VendorID != nil || b.Status != booking.StatusWaiting {
		return nil, false, nil
	}
	v, d, veh := p.VendorID, p.DriverID, p.VehicleID
	b.VendorID, b.DriverID, b.VehicleID = &v, &d, &veh
	b.Status = booking.StatusApproved
	b.StatusVersion++
	cp := *b
	return &cp, true, nil
}

func (m *memTx) LinkTransactionVendor(_ context.Context, txID, vendorID types.ID) error {
	m.txVendors[txID] = vendorID
	return nil
}

func (m *memTx) AppendEvent(_ context.Context, e *booking.Event) error {
	m.events = append(m.events, *e)
	return nil
}

type recordingNotifier struct{ accepted []types.ID }

func (r *recordingNotifier) BookingAccepted(_ context.Context, b *booking.Booking) {
	r.accepted = append(r.accepted, b.ID)
}

var pickup = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func fixture() *memTx {
	m := newMemTx()
	m.balances["v1"] = 1000
	m.balances["v2"] = 1000
	m.balances["poor"] = 400
	m.drivers["d1"] = &fleet.Driver{ID: "d1", VendorID: "v1", Active: true}
	m.drivers["d2"] = &fleet.Driver{ID: "d2", VendorID: "v2", Active: true}
	m.drivers["d_off"] = &fleet.Driver{ID: "d_off", VendorID: "v1", Active: false}
	m.drivers["d_poor"] = &fleet.Driver{ID: "d_poor", VendorID: "poor", Active: true}
	m.vehicles["car1"] = &fleet.Vehicle{ID: "car1", VendorID: "v1", Seats: 4, Active: true}
	m.vehicles["car2"] = &fleet.Vehicle{ID: "car2", VendorID: "v2", Seats: 4, Active: true}
	m.vehicles["mini"] = &fleet.Vehicle{ID: "mini", VendorID: "v1", Seats: 2, Active: true}
	m.vehicles["car_poor"] = &fleet.Vehicle{ID: "car_poor", VendorID: "poor", Seats: 4, Active: true}
	txID := types.ID("tx1")
	m.bookings["b1"] = &booking.Booking{
		ID:                 "b1",
		CustomerID:         "c1",
		RequestedVehicleID: "requested",
		MinSeats:           4,
		PickupDate:         pickup,
		DropDate:           pickup.Add(3 * time.Hour),
		DistanceKm:         decimal.NewFromInt(100),
		Price:              types.NewMoney(2000, "INR"),
		Status:             booking.StatusWaiting,
		OTP:                "111222",
		TransactionID:      &txID,
	}
	return m
}

func newSvc(m *memTx, n AcceptedNotifier) *Service {
	return NewService(m, nil, n, types.NewMoney(500, "INR"), logger.Discard())
}

func TestAccept_Success(t *testing.T) {
	m := fixture()
	n := &recordingNotifier{}
	out, err := newSvc(m, n).Accept(context.Background(), AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "car1"})
	require.NoError(t, err)

	assert.Equal(t, booking.StatusApproved, out.Status)
	assert.True(t, out.Assigned())
	assert.Empty(t, out.OTP)
	assert.Equal(t, types.ID("v1"), m.txVendors["tx1"])
	require.Len(t, m.events, 1)
	assert.Equal(t, booking.StatusApproved, m.events[0].ToStatus)
	assert.Equal(t, []types.ID{"b1"}, n.accepted)
}

func TestAccept_InsufficientBalanceKeepsWaiting(t *testing.T) {
	m := fixture()
	_, err := newSvc(m, nil).Accept(context.Background(), AcceptCommand{VendorID: "poor", BookingID: "b1", DriverID: "d_poor", VehicleID: "car_poor"})
	require.ErrorIs(t, err, ErrInsufficientBalance)

	assert.Equal(t, booking.StatusWaiting, m.bookings["b1"].Status)
	assert.Nil(t, m.bookings["b1"].VendorID)
}

func TestAccept_Failures(t *testing.T) {
	cases := []struct {
		name  string
		cmd   AcceptCommand
		setup func(*memTx)
		want  error
	}{
		{"missing booking", AcceptCommand{VendorID: "v1", BookingID: "nope", DriverID: "d1", VehicleID: "car1"}, nil, ErrNotFound},
		{"cancelled booking", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "car1"},
			func(m *memTx) { m.bookings["b1"].Status = booking.StatusCancelled }, ErrNotFound},
		{"foreign driver", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d2", VehicleID: "car1"}, nil, ErrDriverUnavailable},
		{"inactive driver", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d_off", VehicleID: "car1"}, nil, ErrDriverUnavailable},
		{"unknown driver", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "ghost", VehicleID: "car1"}, nil, ErrDriverUnavailable},
		{"foreign vehicle", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "car2"}, nil, ErrVehicleUnavailable},
		{"small vehicle", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "mini"}, nil, ErrCapacityMismatch},
		{"driver overlap", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "car1"},
			func(m *memTx) {
				v, d, c := types.ID("v1"), types.ID("d1"), types.ID("other_car")
				m.bookings["busy"] = &booking.Booking{ID: "busy", VendorID: &v, DriverID: &d, VehicleID: &c,
					Status: booking.StatusApproved, PickupDate: pickup.Add(time.Hour), DropDate: pickup.Add(5 * time.Hour)}
			}, ErrDriverUnavailable},
		{"vehicle overlap", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "car1"},
			func(m *memTx) {
				m.bookings["held"] = &booking.Booking{ID: "held", RequestedVehicleID: "car1",
					Status: booking.StatusWaiting, PickupDate: pickup.Add(-time.Hour), DropDate: pickup}
			}, ErrVehicleUnavailable},
		{"already accepted", AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "car1"},
			func(m *memTx) {
				v, d, c := types.ID("v2"), types.ID("d2"), types.ID("car2")
				b := m.bookings["b1"]
				b.VendorID, b.DriverID, b.VehicleID, b.Status = &v, &d, &c, booking.StatusApproved
			}, ErrAlreadyAccepted},
		{"missing fields", AcceptCommand{VendorID: "v1", BookingID: "b1"}, nil, ErrBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := fixture()
			if tc.setup != nil {
				tc.setup(m)
			}
			_, err := newSvc(m, nil).Accept(context.Background(), tc.cmd)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestAccept_NonOverlappingWindowIsFree(t *testing.T) {
	m := fixture()
	v, d, c := types.ID("v1"), types.ID("d1"), types.ID("car1")
	m.bookings["earlier"] = &booking.Booking{ID: "earlier", VendorID: &v, DriverID: &d, VehicleID: &c,
		Status: booking.StatusApproved, PickupDate: pickup.Add(-5 * time.Hour), DropDate: pickup.Add(-time.Minute)}

	_, err := newSvc(m, nil).Accept(context.Background(), AcceptCommand{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "car1"})
	assert.NoError(t, err)
}

func TestAccept_ConcurrentVendorsSingleWinner(t *testing.T) {
	m := fixture()
	svc := newSvc(m, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for _, cmd := range []AcceptCommand{
		{VendorID: "v1", BookingID: "b1", DriverID: "d1", VehicleID: "car1"},
		{VendorID: "v2", BookingID: "b1", DriverID: "d2", VehicleID: "car2"},
	} {
		wg.Add(1)
		go func(c AcceptCommand) {
			defer wg.Done()
			_, err := svc.Accept(context.Background(), c)
			errs <- err
		}(cmd)
	}
	wg.Wait()
	close(errs)

	success, lost := 0, 0
	for err := range errs {
		switch {
		case err == nil:
			success++
		case assert.ErrorIs(t, err, ErrAlreadyAccepted):
			lost++
		}
	}
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, lost)
	assert.True(t, m.bookings["b1"].AssignmentConsistent())
}
