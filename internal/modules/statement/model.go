// README: Read-only statements for vendors, partners and admins.
package statement

import (
	"time"

	"cabmarket/internal/types"
)

type LedgerEntry struct {
	ID            types.ID    `json:"id"`
	Type          string      `json:"type"`
	Amount        types.Money `json:"amount"`
	BalanceAfter  types.Money `json:"balance_after"`
	PaymentID     *types.ID   `json:"payment_id,omitempty"`
	TransactionID *types.ID   `json:"transaction_id,omitempty"`
	Description   string      `json:"description"`
	CreatedAt     time.Time   `json:"created_at"`
}

// Ledger is a page of wallet rows plus the reconciliation of the newest row against the vendor balance.
type Ledger struct {
	VendorID   types.ID      `json:"vendor_id"`
	Balance    types.Money   `json:"balance"`
	Entries    []LedgerEntry `json:"entries"`
	Reconciles bool          `json:"reconciles"`
}

type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type Earnings struct {
	VendorID        types.ID    `json:"vendor_id"`
	Period          Period      `json:"period"`
	Trips           int         `json:"trips"`
	Gross           types.Money `json:"gross"`
	AdminCommission types.Money `json:"admin_commission"`
	VendorShare     types.Money `json:"vendor_share"`
	Paid            types.Money `json:"paid"`
	Unpaid          types.Money `json:"unpaid"`
	TotalEarnings   types.Money `json:"total_earnings"`
}

type Commission struct {
	ID        types.ID    `json:"id"`
	BookingID types.ID    `json:"booking_id"`
	Amount    types.Money `json:"amount"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

type PartnerStatement struct {
	PartnerID     types.ID     `json:"partner_id"`
	Balance       types.Money  `json:"balance"`
	TotalEarnings types.Money  `json:"total_earnings"`
	Pending       types.Money  `json:"pending"`
	Commissions   []Commission `json:"commissions"`
}

type DisputeRow struct {
	ID           types.ID    `json:"id"`
	PaymentID    types.ID    `json:"payment_id"`
	VendorID     types.ID    `json:"vendor_id"`
	Reason       string      `json:"reason"`
	Status       string      `json:"status"`
	AdminComment string      `json:"admin_comment,omitempty"`
	Penalty      types.Money `json:"penalty"`
	CreatedAt    time.Time   `json:"created_at"`
	ResolvedAt   *time.Time  `json:"resolved_at,omitempty"`
}

// archivedTrip is one completed booking as stored in previous_bookings.
type archivedTrip struct {
	Price           int64
	AdminCommission *int64
	VendorShare     *int64
}
