// README: Assignment resolver; attaches vendor, driver and vehicle to a waiting booking with a conditional write.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cabmarket/internal/apperr"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/fleet"
	"cabmarket/internal/types"
)

var (
	ErrBadRequest          = apperr.New(apperr.KindValidation, "bad_request", "vendor, booking, driver and vehicle are required")
	ErrInsufficientBalance = apperr.New(apperr.KindInsufficientFunds, "insufficient_balance", "vendor wallet balance below operating minimum")
	ErrNotFound            = apperr.New(apperr.KindNotFound, "booking_not_found", "booking not found")
	ErrAlreadyAccepted     = apperr.New(apperr.KindConflict, "already_accepted", "booking already accepted by another vendor")
	ErrDriverUnavailable   = apperr.New(apperr.KindConflict, "driver_unavailable", "driver is unavailable for this booking window")
	ErrVehicleUnavailable  = apperr.New(apperr.KindConflict, "vehicle_unavailable", "vehicle is unavailable for this booking window")
	ErrCapacityMismatch    = apperr.New(apperr.KindValidation, "capacity_mismatch", "vehicle has fewer seats than the booking requires")
	ErrVendorNotFound      = apperr.New(apperr.KindNotFound, "vendor_not_found", "vendor not found")
)

// Tx is the unit of work the resolver runs in.
type Tx interface {
	VendorBalance(ctx context.Context, vendorID types.ID) (types.Money, error)
	GetBooking(ctx context.Context, id types.ID) (*booking.Booking, error)
	GetDriver(ctx context.Context, id types.ID) (*fleet.Driver, error)
	GetVehicle(ctx context.Context, id types.ID) (*fleet.Vehicle, error)
	DriverBusy(ctx context.Context, driverID types.ID, w fleet.Window, exclude types.ID) (bool, error)
	VehicleBusy(ctx context.Context, vehicleID types.ID, w fleet.Window, exclude types.ID) (bool, error)
	// Assign applies only while the booking is unassigned and waiting.
	Assign(ctx context.Context, p AssignParams) (*booking.Booking, bool, error)
	LinkTransactionVendor(ctx context.Context, transactionID, vendorID types.ID) error
	AppendEvent(ctx context.Context, e *booking.Event) error
}

type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

type Board interface {
	Remove(ctx context.Context, id types.ID) error
}

// AcceptedNotifier is told about successful assignments; failures are its own concern.
type AcceptedNotifier interface {
	BookingAccepted(ctx context.Context, b *booking.Booking)
}

type AssignParams struct {
	BookingID types.ID
	VendorID  types.ID
	DriverID  types.ID
	VehicleID types.ID
	At        time.Time
}

type AcceptCommand struct {
	VendorID  types.ID
	BookingID types.ID
	DriverID  types.ID
	VehicleID types.ID
}

type Service struct {
	repo       Repository
	board      Board
	notifier   AcceptedNotifier
	minBalance types.Money
	log        *slog.Logger
	now        func() time.Time
}

func NewService(repo Repository, board Board, notifier AcceptedNotifier, minBalance types.Money, log *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		board:      board,
		notifier:   notifier,
		minBalance: minBalance,
		log:        log,
		now:        time.Now,
	}
}

func (s *Service) Accept(ctx context.Context, cmd AcceptCommand) (*booking.Booking, error) {
	if cmd.VendorID.Empty() || cmd.BookingID.Empty() || cmd.DriverID.Empty() || cmd.VehicleID.Empty() {
		return nil, ErrBadRequest
	}

	var out *booking.Booking
	err := s.repo.InTx(ctx, func(tx Tx) error {
		balance, err := tx.VendorBalance(ctx, cmd.VendorID)
		if err != nil {
			return err
		}
		if balance.Amount < s.minBalance.Amount {
			return ErrInsufficientBalance
		}

		b, err := tx.GetBooking(ctx, cmd.BookingID)
		if errors.Is(err, booking.ErrNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if b.VendorID != nil {
			return ErrAlreadyAccepted
		}
		if b.Status != booking.StatusWaiting {
			return ErrNotFound
		}
		window := fleet.Window{From: b.PickupDate, To: b.DropDate}

		driver, err := tx.GetDriver(ctx, cmd.DriverID)
		if errors.Is(err, fleet.ErrNotFound) {
			return ErrDriverUnavailable
		}
		if err != nil {
			return err
		}
		if driver.VendorID != cmd.VendorID || !driver.Active {
			return ErrDriverUnavailable
		}

		vehicle, err := tx.GetVehicle(ctx, cmd.VehicleID)
		if errors.Is(err, fleet.ErrNotFound) {
			return ErrVehicleUnavailable
		}
		if err != nil {
			return err
		}
		if vehicle.VendorID != cmd.VendorID || !vehicle.Active {
			return ErrVehicleUnavailable
		}

		busy, err := tx.DriverBusy(ctx, driver.ID, window, b.ID)
		if err != nil {
			return err
		}
		if busy {
			return ErrDriverUnavailable
		}
		busy, err = tx.VehicleBusy(ctx, vehicle.ID, window, b.ID)
		if err != nil {
			return err
		}
		if busy {
			return ErrVehicleUnavailable
		}

		if vehicle.Seats < b.MinSeats {
			return ErrCapacityMismatch
		}

		now := s.now()
		assigned, ok, err := tx.Assign(ctx, AssignParams{
			BookingID: b.ID,
			VendorID:  cmd.VendorID,
			DriverID:  driver.ID,
			VehicleID: vehicle.ID,
			At:        now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyAccepted
		}
		if b.TransactionID != nil {
			if err := tx.LinkTransactionVendor(ctx, *b.TransactionID, cmd.VendorID); err != nil {
				return fmt.Errorf("link transaction vendor: %w", err)
			}
		}
		vendorID := cmd.VendorID
		if err := tx.AppendEvent(ctx, &booking.Event{
			BookingID:  b.ID,
			FromStatus: booking.StatusWaiting,
			ToStatus:   booking.StatusApproved,
			ActorRole:  types.RoleVendor,
			ActorID:    &vendorID,
			CreatedAt:  now,
		}); err != nil {
			return err
		}
		out = assigned
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyAccepted) {
			s.log.InfoContext(ctx, "accept lost race", "booking_id", cmd.BookingID, "vendor_id", cmd.VendorID)
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "booking accepted",
		"booking_id", out.ID, "vendor_id", cmd.VendorID, "driver_id", cmd.DriverID, "vehicle_id", cmd.VehicleID)
	if s.board != nil {
		if err := s.board.Remove(ctx, out.ID); err != nil {
			s.log.WarnContext(ctx, "dispatch board remove failed", "booking_id", out.ID, "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.BookingAccepted(ctx, out)
	}
	r := out.Redacted()
	return &r, nil
}
