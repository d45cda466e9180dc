// README: Booking service implements role-gated state transitions and caller-scoped reads.
package booking

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"time"

	"cabmarket/internal/apperr"
	"cabmarket/internal/modules/settlement"
	"cabmarket/internal/types"
)

var (
	ErrNotFound          = apperr.New(apperr.KindNotFound, "booking_not_found", "booking not found")
	ErrInvalidTransition = apperr.New(apperr.KindInvalidTransition, "invalid_transition", "invalid status transition")
	ErrInvalidOtp        = apperr.New(apperr.KindInvalidOtp, "invalid_otp", "invalid trip otp")
	ErrConflict          = apperr.New(apperr.KindConflict, "booking_conflict", "booking was modified concurrently")
	ErrBadRequest        = apperr.New(apperr.KindValidation, "bad_request", "bad request")
)

type Repository interface {
	Get(ctx context.Context, id types.ID) (*Booking, error)
	ListLive(ctx context.Context, f ListFilter) ([]Booking, error)
	ListExpirable(ctx context.Context, pickupBefore time.Time, limit int) ([]Booking, error)
	Transition(ctx context.Context, t Transition) (*Booking, error)
}

// Board is the open-booking listing that must forget bookings leaving waiting.
type Board interface {
	Remove(ctx context.Context, id types.ID) error
}

type Service struct {
	repo  Repository
	board Board
	log   *slog.Logger
	now   func() time.Time
}

func NewService(repo Repository, board Board, log *slog.Logger) *Service {
	return &Service{repo: repo, board: board, log: log, now: time.Now}
}

type CancelCommand struct {
	BookingID  types.ID
	CustomerID types.ID
}

type DriverUpdateCommand struct {
	BookingID types.ID
	DriverID  types.ID
	To        Status
	OTP       string
}

type VendorUpdateCommand struct {
	BookingID types.ID
	VendorID  types.ID
	To        Status
}

// Get returns the booking if caller may see it; otherwise ErrNotFound.
func (s *Service) Get(ctx context.Context, caller Caller, id types.ID) (*Booking, error) {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !visibleTo(b, caller) {
		return nil, ErrNotFound
	}
	if caller.Role != types.RoleCustomer {
		r := b.Redacted()
		return &r, nil
	}
	return b, nil
}

func (s *Service) ListLive(ctx context.Context, caller Caller) ([]Booking, error) {
	f := ListFilter{}
	switch caller.Role {
	case types.RoleCustomer:
		f.CustomerID = caller.ID
	case types.RoleVendor:
		f.VendorID = caller.ID
	case types.RoleDriver:
		f.DriverID = caller.ID
	default:
		return nil, ErrBadRequest
	}
	list, err := s.repo.ListLive(ctx, f)
	if err != nil {
		return nil, err
	}
	if caller.Role != types.RoleCustomer {
		for i := range list {
			list[i] = list[i].Redacted()
		}
	}
	return list, nil
}

func (s *Service) Cancel(ctx context.Context, cmd CancelCommand) (*Booking, error) {
	if cmd.BookingID.Empty() || cmd.CustomerID.Empty() {
		return nil, ErrBadRequest
	}
	b, err := s.repo.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if b.CustomerID != cmd.CustomerID {
		return nil, ErrNotFound
	}
	return s.apply(ctx, b, StatusCancelled, Caller{ID: cmd.CustomerID, Role: types.RoleCustomer}, false)
}

func (s *Service) DriverUpdate(ctx context.Context, cmd DriverUpdateCommand) (*Booking, error) {
	if cmd.BookingID.Empty() || cmd.DriverID.Empty() {
		return nil, ErrBadRequest
	}
	b, err := s.repo.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if b.DriverID == nil || *b.DriverID != cmd.DriverID {
		return nil, ErrNotFound
	}
	otpVerified := false
	if b.Status == StatusPreOngoing && cmd.To == StatusOngoing {
		if !otpMatches(b.OTP, cmd.OTP) {
			s.log.WarnContext(ctx, "trip otp mismatch", "booking_id", b.ID, "driver_id", cmd.DriverID)
			return nil, ErrInvalidOtp
		}
		otpVerified = true
	}
	out, err := s.apply(ctx, b, cmd.To, Caller{ID: cmd.DriverID, Role: types.RoleDriver}, otpVerified)
	if err != nil {
		return nil, err
	}
	r := out.Redacted()
	return &r, nil
}

func (s *Service) VendorUpdate(ctx context.Context, cmd VendorUpdateCommand) (*Booking, error) {
	if cmd.BookingID.Empty() || cmd.VendorID.Empty() {
		return nil, ErrBadRequest
	}
	b, err := s.repo.Get(ctx, cmd.BookingID)
	if err != nil {
		return nil, err
	}
	if b.VendorID == nil || *b.VendorID != cmd.VendorID {
		return nil, ErrNotFound
	}
	out, err := s.apply(ctx, b, cmd.To, Caller{ID: cmd.VendorID, Role: types.RoleVendor}, false)
	if err != nil {
		return nil, err
	}
	r := out.Redacted()
	return &r, nil
}

// Expire cancels a waiting booking on behalf of the system.
func (s *Service) Expire(ctx context.Context, id types.ID) error {
	b, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.apply(ctx, b, StatusCancelled, Caller{Role: types.RoleSystem}, false)
	return err
}

// ExpireStale cancels waiting bookings whose pickup time passed more than grace ago.
func (s *Service) ExpireStale(ctx context.Context, grace time.Duration, batch int) (int, error) {
	list, err := s.repo.ListExpirable(ctx, s.now().Add(-grace), batch)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, b := range list {
		b := b
		if _, err := s.apply(ctx, &b, StatusCancelled, Caller{Role: types.RoleSystem}, false); err != nil {
			if errors.Is(err, ErrConflict) || errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func (s *Service) apply(ctx context.Context, b *Booking, to Status, actor Caller, otpVerified bool) (*Booking, error) {
	if !Permits(b.Status, to, actor.Role) {
		return nil, ErrInvalidTransition
	}
	t := Transition{
		BookingID:   b.ID,
		From:        b.Status,
		To:          to,
		Version:     b.StatusVersion,
		ActorRole:   actor.Role,
		ActorID:     actor.ID.Ptr(),
		OTPVerified: otpVerified,
		At:          s.now(),
	}
	if to == StatusCompleted {
		admin, vendor := settlement.CompletionSplit(b.Price)
		t.Split = &Split{AdminCommission: admin, VendorShare: vendor}
	}
	out, err := s.repo.Transition(ctx, t)
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "booking transition",
		"booking_id", b.ID, "from", b.Status.String(), "to", to.String(), "actor_role", string(actor.Role))

	if b.Status == StatusWaiting && s.board != nil {
		if err := s.board.Remove(ctx, b.ID); err != nil {
			s.log.WarnContext(ctx, "dispatch board remove failed", "booking_id", b.ID, "error", err)
		}
	}
	return out, nil
}

func visibleTo(b *Booking, c Caller) bool {
	switch c.Role {
	case types.RoleAdmin:
		return true
	case types.RoleCustomer:
		return b.CustomerID == c.ID
	case types.RoleVendor:
		return b.VendorID != nil && *b.VendorID == c.ID
	case types.RoleDriver:
		return b.DriverID != nil && *b.DriverID == c.ID
	case types.RolePartner:
		return b.PartnerID != nil && *b.PartnerID == c.ID
	}
	return false
}

func otpMatches(stored, supplied string) bool {
	if stored == "" || len(stored) != len(supplied) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) == 1
}
