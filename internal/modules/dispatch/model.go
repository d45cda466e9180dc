// README: Open-booking entries published for vendors to browse.
package dispatch

import (
	"time"

	"github.com/shopspring/decimal"

	"cabmarket/internal/modules/booking"
	"cabmarket/internal/types"
)

// Entry is the vendor-facing view of a waiting booking. It never carries the OTP.
type Entry struct {
	BookingID          types.ID        `json:"booking_id"`
	RequestedVehicleID types.ID        `json:"requested_vehicle_id"`
	MinSeats           int             `json:"min_seats"`
	PickupLocation     string          `json:"pickup_location"`
	DropLocation       string          `json:"drop_location"`
	PickupDate         time.Time       `json:"pickup_date"`
	DropDate           time.Time       `json:"drop_date"`
	DistanceKm         decimal.Decimal `json:"distance"`
	Price              types.Money     `json:"price"`
	PublishedAt        time.Time       `json:"published_at"`
}

func EntryFrom(b *booking.Booking, now time.Time) Entry {
	return Entry{
		BookingID:          b.ID,
		RequestedVehicleID: b.RequestedVehicleID,
		MinSeats:           b.MinSeats,
		PickupLocation:     b.PickupLocation,
		DropLocation:       b.DropLocation,
		PickupDate:         b.PickupDate,
		DropDate:           b.DropDate,
		DistanceKm:         b.DistanceKm,
		Price:              b.Price,
		PublishedAt:        now,
	}
}

type ListQuery struct {
	From time.Time
	To   time.Time
	// Capacity hides bookings needing more seats than the vendor's vehicle has.
	Capacity int
	Limit    int
}

const (
	// OpenSetKey is the sorted set of waiting booking ids scored by pickup unix time.
	OpenSetKey     = "dispatch:open"
	entryKeyPrefix = "dispatch:booking:%s"
	// entries outlive their drop date by this much before redis drops them.
	entryGrace   = 24 * time.Hour
	defaultLimit = 50
	maxLimit     = 200
)
