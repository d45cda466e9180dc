// README: Fare inputs and the priced result for a single trip.
package pricing

import (
	"time"

	"github.com/shopspring/decimal"

	"cabmarket/internal/types"
)

type FareRequest struct {
	DistanceKm  decimal.Decimal
	PerKmCharge types.Money
	PickupDate  time.Time
	DropDate    time.Time
}

type Fare struct {
	Total types.Money
}
