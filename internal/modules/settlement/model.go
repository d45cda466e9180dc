// README: Disbursement and penalty records, disputes and the commands that move them.
package settlement

import (
	"time"

	"cabmarket/internal/types"
)

type PaymentType string

const (
	PaymentWithdrawal PaymentType = "withdrawal"
	PaymentPenalty    PaymentType = "penalty"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentCancelled PaymentStatus = "cancelled"
)

// Payment is either a payout (withdrawal) or a penalty; exactly one of VendorID/PartnerID is set.
type Payment struct {
	ID        types.ID      `json:"id"`
	Type      PaymentType   `json:"type"`
	VendorID  *types.ID     `json:"vendor_id,omitempty"`
	PartnerID *types.ID     `json:"partner_id,omitempty"`
	BookingID *types.ID     `json:"booking_id,omitempty"`
	Amount    types.Money   `json:"amount"`
	Status    PaymentStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type DisputeStatus string

const (
	DisputePending  DisputeStatus = "pending"
	DisputeResolved DisputeStatus = "resolved"
	DisputeRejected DisputeStatus = "rejected"
)

func ParseDecision(s string) (DisputeStatus, bool) {
	switch d := DisputeStatus(s); d {
	case DisputeResolved, DisputeRejected:
		return d, true
	}
	return "", false
}

type Dispute struct {
	ID           types.ID      `json:"id"`
	PaymentID    types.ID      `json:"payment_id"`
	VendorID     types.ID      `json:"vendor_id"`
	Reason       string        `json:"reason"`
	Status       DisputeStatus `json:"status"`
	AdminComment string        `json:"admin_comment,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	ResolvedAt   *time.Time    `json:"resolved_at,omitempty"`
}

// CompletedTrip is the archived booking data a vendor payout needs.
type CompletedTrip struct {
	BookingID   types.ID
	VendorID    types.ID
	Status      string
	Price       types.Money
	VendorShare *types.Money
}

// Payout returns the stored vendor share, or recomputes it from the price.
func (c CompletedTrip) Payout() types.Money {
	if c.VendorShare != nil {
		return *c.VendorShare
	}
	_, vendor := CompletionSplit(c.Price)
	return vendor
}

// PartnerPayout is a partner commission that was just marked completed.
type PartnerPayout struct {
	ID        types.ID
	PartnerID types.ID
	BookingID types.ID
	Amount    types.Money
}

type IssuePenaltyCommand struct {
	VendorID  types.ID
	BookingID types.ID
	Amount    int64
	Reason    string
}

type ResolveCommand struct {
	DisputeID types.ID
	Decision  DisputeStatus
	Comment   string
	AdminID   types.ID
}

type PayoutResult struct {
	Payment Payment     `json:"payment"`
	Balance types.Money `json:"balance"`
}
