// README: Booking state machine tests (transition table + service flows on an in-memory repository).
package booking

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabmarket/internal/logger"
	"cabmarket/internal/types"
)

// TestCanTransition verifies the transition table without a database.
func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusWaiting, StatusApproved, true},
		{StatusApproved, StatusPreOngoing, true},
		{StatusPreOngoing, StatusOngoing, true},
		{StatusOngoing, StatusCompleted, true},
		{StatusWaiting, StatusCancelled, true},
		{StatusApproved, StatusCancelled, true},
		// cancellation closes once driver work started
		{StatusPreOngoing, StatusCancelled, false},
		{StatusOngoing, StatusCancelled, false},
		// terminal states have no outgoing transitions
		{StatusCompleted, StatusWaiting, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusWaiting, false},
		// skipping states
		{StatusWaiting, StatusOngoing, false},
		{StatusApproved, StatusCompleted, false},
		{StatusWaiting, StatusWaiting, false},
	}
	for _, tc := range cases {
		got := CanTransition(tc.from, tc.to)
		if got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPermits(t *testing.T) {
	assert.True(t, Permits(StatusWaiting, StatusApproved, types.RoleVendor))
	assert.False(t, Permits(StatusWaiting, StatusApproved, types.RoleDriver))
	assert.True(t, Permits(StatusApproved, StatusCancelled, types.RoleVendor))
	assert.False(t, Permits(StatusApproved, StatusCancelled, types.RoleDriver))
	assert.True(t, Permits(StatusOngoing, StatusCompleted, types.RoleVendor))
	assert.False(t, Permits(StatusPreOngoing, StatusOngoing, types.RoleVendor))
	assert.True(t, Permits(StatusWaiting, StatusCancelled, types.RoleSystem))
	assert.False(t, Permits(StatusApproved, StatusCancelled, types.RoleSystem))
}

func TestStatusText(t *testing.T) {
	for s := StatusWaiting; s <= StatusCancelled; s++ {
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("in_progress")
	assert.Error(t, err)

	var st Status
	require.NoError(t, json.Unmarshal([]byte(`"preongoing"`), &st))
	assert.Equal(t, StatusPreOngoing, st)
	assert.Error(t, json.Unmarshal([]byte(`"bogus"`), &st))

	_, err = StatusUnknown.MarshalText()
	assert.Error(t, err)
}

func TestOverlaps(t *testing.T) {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	h := time.Hour
	assert.True(t, Overlaps(base, base.Add(2*h), base.Add(h), base.Add(3*h)))
	assert.True(t, Overlaps(base.Add(h), base.Add(3*h), base, base.Add(2*h)))
	// touching endpoints overlap (closed intervals)
	assert.True(t, Overlaps(base, base.Add(h), base.Add(h), base.Add(2*h)))
	assert.False(t, Overlaps(base, base.Add(h), base.Add(h+time.Minute), base.Add(2*h)))
}

func TestNewOTP(t *testing.T) {
	for i := 0; i < 20; i++ {
		otp, err := NewOTP()
		require.NoError(t, err)
		assert.Len(t, otp, 6)
	}
}

func TestDriverUpdate_WrongOTPKeepsPreOngoing(t *testing.T) {
	b := assignedBooking("b_otp", StatusPreOngoing)
	b.OTP = "482914"
	repo := newMemRepo(b)
	svc := newTestService(repo, nil)

	_, err := svc.DriverUpdate(context.Background(), DriverUpdateCommand{
		BookingID: b.ID, DriverID: "d1", To: StatusOngoing, OTP: "482913",
	})
	require.ErrorIs(t, err, ErrInvalidOtp)

	got, err := repo.Get(context.Background(), b.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPreOngoing, got.Status)
	assert.False(t, got.OTPVerified)
}

func TestDriverUpdate_MatchingOTPStartsTrip(t *testing.T) {
	b := assignedBooking("b_start", StatusPreOngoing)
	b.OTP = "482914"
	repo := newMemRepo(b)
	svc := newTestService(repo, nil)

	out, err := svc.DriverUpdate(context.Background(), DriverUpdateCommand{
		BookingID: b.ID, DriverID: "d1", To: StatusOngoing, OTP: "482914",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusOngoing, out.Status)
	assert.True(t, out.OTPVerified)
	assert.NotNil(t, out.StartedAt)
	assert.Empty(t, out.OTP, "driver view must not expose the otp")
}

func TestDriverUpdate_CompleteSplitsAndArchives(t *testing.T) {
	b := assignedBooking("b_done", StatusOngoing)
	b.DistanceKm = decimal.NewFromInt(100)
	b.Price = types.NewMoney(2000, "INR")
	repo := newMemRepo(b)
	svc := newTestService(repo, nil)

	out, err := svc.DriverUpdate(context.Background(), DriverUpdateCommand{
		BookingID: b.ID, DriverID: "d1", To: StatusCompleted,
	})
	require.NoError(t, err)
	require.NotNil(t, out.AdminCommission)
	require.NotNil(t, out.VendorShare)
	assert.Equal(t, int64(200), out.AdminCommission.Amount)
	assert.Equal(t, int64(1800), out.VendorShare.Amount)
	assert.Equal(t, out.Price.Amount, out.AdminCommission.Amount+out.VendorShare.Amount)

	_, err = repo.Get(context.Background(), b.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, repo.archived, b.ID)
	assert.True(t, repo.archived[b.ID].AssignmentConsistent())
}

func TestDriverUpdate_NotAssignedDriver(t *testing.T) {
	b := assignedBooking("b_other", StatusApproved)
	svc := newTestService(newMemRepo(b), nil)

	_, err := svc.DriverUpdate(context.Background(), DriverUpdateCommand{BookingID: b.ID, DriverID: "d2", To: StatusPreOngoing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDriverUpdate_CannotCancel(t *testing.T) {
	b := assignedBooking("b_drv_cancel", StatusApproved)
	svc := newTestService(newMemRepo(b), nil)

	_, err := svc.DriverUpdate(context.Background(), DriverUpdateCommand{BookingID: b.ID, DriverID: "d1", To: StatusCancelled})
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancel_WaitingRemovesFromBoard(t *testing.T) {
	b := waitingBooking("b_cancel")
	repo := newMemRepo(b)
	board := &memBoard{}
	svc := newTestService(repo, board)

	out, err := svc.Cancel(context.Background(), CancelCommand{BookingID: b.ID, CustomerID: "c1"})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, []types.ID{b.ID}, board.removed)
	assert.Contains(t, repo.archived, b.ID)
}

func TestCancel_AfterDriverStartedIsRejected(t *testing.T) {
	b := assignedBooking("b_late_cancel", StatusPreOngoing)
	repo := newMemRepo(b)
	svc := newTestService(repo, nil)

	_, err := svc.Cancel(context.Background(), CancelCommand{BookingID: b.ID, CustomerID: "c1"})
	require.ErrorIs(t, err, ErrInvalidTransition)
	got, _ := repo.Get(context.Background(), b.ID)
	assert.Equal(t, StatusPreOngoing, got.Status)
}

func TestCancel_OtherCustomerSeesNotFound(t *testing.T) {
	b := waitingBooking("b_foreign")
	svc := newTestService(newMemRepo(b), nil)

	_, err := svc.Cancel(context.Background(), CancelCommand{BookingID: b.ID, CustomerID: "c2"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVendorUpdate(t *testing.T) {
	ctx := context.Background()
	ongoing := assignedBooking("b_vendor_done", StatusOngoing)
	approved := assignedBooking("b_vendor_cancel", StatusApproved)
	pre := assignedBooking("b_vendor_pre", StatusPreOngoing)
	svc := newTestService(newMemRepo(ongoing, approved, pre), nil)

	out, err := svc.VendorUpdate(ctx, VendorUpdateCommand{BookingID: ongoing.ID, VendorID: "v1", To: StatusCompleted})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, out.Status)

	out, err = svc.VendorUpdate(ctx, VendorUpdateCommand{BookingID: approved.ID, VendorID: "v1", To: StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)

	_, err = svc.VendorUpdate(ctx, VendorUpdateCommand{BookingID: pre.ID, VendorID: "v1", To: StatusCancelled})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.VendorUpdate(ctx, VendorUpdateCommand{BookingID: pre.ID, VendorID: "v9", To: StatusOngoing})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTransition_StaleVersionConflicts(t *testing.T) {
	b := assignedBooking("b_stale", StatusApproved)
	repo := newMemRepo(b)

	_, err := repo.Transition(context.Background(), Transition{
		BookingID: b.ID, From: StatusApproved, To: StatusPreOngoing, Version: b.StatusVersion + 1,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestGet_ScopedToCaller(t *testing.T) {
	ctx := context.Background()
	b := assignedBooking("b_get", StatusApproved)
	b.OTP = "123456"
	svc := newTestService(newMemRepo(b), nil)

	got, err := svc.Get(ctx, Caller{ID: "c1", Role: types.RoleCustomer}, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "123456", got.OTP)

	got, err = svc.Get(ctx, Caller{ID: "d1", Role: types.RoleDriver}, b.ID)
	require.NoError(t, err)
	assert.Empty(t, got.OTP)

	_, err = svc.Get(ctx, Caller{ID: "v2", Role: types.RoleVendor}, b.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(ctx, Caller{ID: "admin", Role: types.RoleAdmin}, b.ID)
	assert.NoError(t, err)
}

func TestExpireStale(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	old := waitingBooking("b_old")
	old.PickupDate = now.Add(-time.Hour)
	fresh := waitingBooking("b_fresh")
	fresh.PickupDate = now.Add(time.Hour)
	repo := newMemRepo(old, fresh)
	svc := newTestService(repo, nil)
	svc.now = func() time.Time { return now }

	n, err := svc.ExpireStale(context.Background(), 15*time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, repo.archived, old.ID)
	assert.Equal(t, StatusCancelled, repo.archived[old.ID].Status)
	assert.Contains(t, repo.live, fresh.ID)
}

func TestAssignmentInvariantAcrossLifecycle(t *testing.T) {
	ctx := context.Background()
	b := assignedBooking("b_life", StatusApproved)
	b.OTP = "000111"
	repo := newMemRepo(b)
	svc := newTestService(repo, nil)

	steps := []DriverUpdateCommand{
		{BookingID: b.ID, DriverID: "d1", To: StatusPreOngoing},
		{BookingID: b.ID, DriverID: "d1", To: StatusOngoing, OTP: "000111"},
		{BookingID: b.ID, DriverID: "d1", To: StatusCompleted},
	}
	for _, step := range steps {
		out, err := svc.DriverUpdate(ctx, step)
		require.NoError(t, err, "to %s", step.To)
		assert.True(t, out.AssignmentConsistent())
	}
	assert.Len(t, repo.events, 3)
}

func newTestService(repo Repository, board Board) *Service {
	return NewService(repo, board, logger.Discard())
}

func waitingBooking(id types.ID) *Booking {
	pickup := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	return &Booking{
		ID:                 id,
		CustomerID:         "c1",
		RequestedVehicleID: "veh1",
		MinSeats:           4,
		PickupLocation:     "Airport",
		DropLocation:       "Station",
		PickupDate:         pickup,
		DropDate:           pickup.Add(2 * time.Hour),
		DistanceKm:         decimal.NewFromInt(10),
		Price:              types.NewMoney(200, "INR"),
		Status:             StatusWaiting,
		OTP:                "654321",
	}
}

func assignedBooking(id types.ID, status Status) *Booking {
	b := waitingBooking(id)
	v, d, veh := types.ID("v1"), types.ID("d1"), types.ID("veh1")
	b.VendorID, b.DriverID, b.VehicleID = &v, &d, &veh
	b.Status = status
	b.StatusVersion = 1
	return b
}
