// README: Pricing computes the trip fare from distance and the vehicle's per-km charge.
package pricing

import (
	"github.com/shopspring/decimal"

	"cabmarket/internal/apperr"
)

var (
	ErrInvalidDistance = apperr.New(apperr.KindValidation, "invalid_distance", "distance must be positive")
	ErrInvalidRate     = apperr.New(apperr.KindValidation, "invalid_rate", "vehicle per-km charge must be positive")
	ErrInvalidWindow   = apperr.New(apperr.KindValidation, "invalid_window", "drop date must be after pickup date")
)

// maxDistanceKm matches the NUMERIC(10,2) column.
var maxDistanceKm = decimal.NewFromInt(99_999_999)

type Service struct{}

func NewService() *Service {
	return &Service{}
}

// Estimate prices a trip as distance x per-km charge, rounded half-up to whole units.
func (s *Service) Estimate(req FareRequest) (Fare, error) {
	if !req.DistanceKm.IsPositive() || req.DistanceKm.GreaterThan(maxDistanceKm) {
		return Fare{}, ErrInvalidDistance
	}
	if req.PerKmCharge.Amount <= 0 {
		return Fare{}, ErrInvalidRate
	}
	if req.PickupDate.IsZero() || !req.DropDate.After(req.PickupDate) {
		return Fare{}, ErrInvalidWindow
	}
	distance := req.DistanceKm.Round(2)
	total := req.PerKmCharge.MulDecimal(distance)
	if total.Amount <= 0 {
		return Fare{}, ErrInvalidDistance
	}
	return Fare{Total: total}, nil
}
