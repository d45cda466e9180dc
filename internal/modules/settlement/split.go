// README: Fixed commission splits for completed bookings and partner referrals.
package settlement

import "cabmarket/internal/types"

const (
	AdminCommissionPercent   = 10
	PartnerCommissionPercent = 5
)

// CompletionSplit returns the admin commission and vendor share; they always sum to price.
func CompletionSplit(price types.Money) (admin, vendor types.Money) {
	return price.SplitPercent(AdminCommissionPercent)
}

func PartnerCommission(price types.Money) types.Money {
	return price.Percent(PartnerCommissionPercent)
}
