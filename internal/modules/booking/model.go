// README: Booking aggregate, trip quote snapshot and transition records.
package booking

import (
	"time"

	"github.com/shopspring/decimal"

	"cabmarket/internal/types"
)

type Booking struct {
	ID                 types.ID        `json:"id"`
	CustomerID         types.ID        `json:"customer_id"`
	VendorID           *types.ID       `json:"vendor_id"`
	DriverID           *types.ID       `json:"driver_id"`
	VehicleID          *types.ID       `json:"vehicle_id"`
	PartnerID          *types.ID       `json:"partner_id,omitempty"`
	RequestedVehicleID types.ID        `json:"requested_vehicle_id"`
	MinSeats           int             `json:"min_seats"`
	PickupLocation     string          `json:"pickup_location"`
	DropLocation       string          `json:"drop_location"`
	PickupDate         time.Time       `json:"pickup_date"`
	DropDate           time.Time       `json:"drop_date"`
	Path               string          `json:"path"`
	DistanceKm         decimal.Decimal `json:"distance"`
	Price              types.Money     `json:"price"`
	AdminCommission    *types.Money    `json:"admin_commission,omitempty"`
	VendorShare        *types.Money    `json:"vendor_share,omitempty"`
	Status             Status          `json:"status"`
	StatusVersion      int             `json:"-"`
	OTP                string          `json:"otp,omitempty"`
	OTPVerified        bool            `json:"otp_verified"`
	TransactionID      *types.ID       `json:"transaction_id,omitempty"`
	StartedAt          *time.Time      `json:"started_at,omitempty"`
	EndedAt            *time.Time      `json:"ended_at,omitempty"`
	CancelledAt        *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// Assigned reports whether vendor, driver and vehicle are all set.
func (b *Booking) Assigned() bool {
	return b.VendorID != nil && b.DriverID != nil && b.VehicleID != nil
}

// AssignmentConsistent holds when the assignment columns are all null or all set.
func (b *Booking) AssignmentConsistent() bool {
	none := b.VendorID == nil && b.DriverID == nil && b.VehicleID == nil
	return none || b.Assigned()
}

// Redacted hides the trip OTP from callers other than the customer.
func (b Booking) Redacted() Booking {
	b.OTP = ""
	return b
}

// Quote is the priced trip snapshot stored on a pending payment transaction.
type Quote struct {
	CustomerID     types.ID        `json:"customer_id"`
	VehicleID      types.ID        `json:"vehicle_id"`
	PartnerID      *types.ID       `json:"partner_id,omitempty"`
	PickupLocation string          `json:"pickup_location"`
	DropLocation   string          `json:"drop_location"`
	PickupDate     time.Time       `json:"pickup_date"`
	DropDate       time.Time       `json:"drop_date"`
	Path           string          `json:"path"`
	DistanceKm     decimal.Decimal `json:"distance"`
	PerKmCharge    types.Money     `json:"per_km_charge"`
	MinSeats       int             `json:"min_seats"`
	Price          types.Money     `json:"price"`
}

// NewFromQuote builds a waiting booking from a paid quote.
func NewFromQuote(id types.ID, q Quote, otp string, txID types.ID, now time.Time) *Booking {
	return &Booking{
		ID:                 id,
		CustomerID:         q.CustomerID,
		PartnerID:          q.PartnerID,
		RequestedVehicleID: q.VehicleID,
		MinSeats:           q.MinSeats,
		PickupLocation:     q.PickupLocation,
		DropLocation:       q.DropLocation,
		PickupDate:         q.PickupDate,
		DropDate:           q.DropDate,
		Path:               q.Path,
		DistanceKm:         q.DistanceKm,
		Price:              q.Price,
		Status:             StatusWaiting,
		OTP:                otp,
		TransactionID:      txID.Ptr(),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// Overlaps is the closed-interval window test used for drivers and vehicles.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return !aStart.After(bEnd) && !aEnd.Before(bStart)
}

type Event struct {
	ID         int64
	BookingID  types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  types.Role
	ActorID    *types.ID
	CreatedAt  time.Time
}

// Transition is one conditional status write.
type Transition struct {
	BookingID   types.ID
	From        Status
	To          Status
	Version     int
	ActorRole   types.Role
	ActorID     *types.ID
	OTPVerified bool
	// Split is set when the booking completes.
	Split *Split
	At    time.Time
}

type Split struct {
	AdminCommission types.Money
	VendorShare     types.Money
}

type Caller struct {
	ID   types.ID
	Role types.Role
}

type ListFilter struct {
	CustomerID types.ID
	VendorID   types.ID
	DriverID   types.ID
	Limit      int
}
