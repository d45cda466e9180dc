// README: Payment transactions, partner commissions and the commands accepted by the order manager.
package payment

import (
	"time"

	"github.com/shopspring/decimal"

	"cabmarket/internal/gateway"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/types"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailed  Status = "failed"
)

type Purpose string

const (
	PurposeBooking  Purpose = "booking"
	PurposeRecharge Purpose = "recharge"
)

// Gateway-reported state, tracked apart from Status so the webhook never consumes a pending transaction.
const (
	GatewayCreated  = "created"
	GatewayCaptured = "captured"
	GatewayFailed   = "failed"
)

type Transaction struct {
	ID               types.ID       `json:"id"`
	Purpose          Purpose        `json:"purpose"`
	CustomerID       *types.ID      `json:"customer_id,omitempty"`
	VendorID         *types.ID      `json:"vendor_id,omitempty"`
	PartnerID        *types.ID      `json:"partner_id,omitempty"`
	GatewayOrderID   string         `json:"gateway_order_id"`
	GatewayPaymentID string         `json:"gateway_payment_id,omitempty"`
	GatewayStatus    string         `json:"gateway_status"`
	Amount           types.Money    `json:"amount"`
	Status           Status         `json:"status"`
	Quote            *booking.Quote `json:"quote,omitempty"`
	BookingID        *types.ID      `json:"booking_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// OwnedBy reports whether the transaction belongs to the given customer or vendor.
func (t *Transaction) OwnedBy(purpose Purpose, owner types.ID) bool {
	if t.Purpose != purpose {
		return false
	}
	switch purpose {
	case PurposeBooking:
		return types.Deref(t.CustomerID) == owner
	case PurposeRecharge:
		return types.Deref(t.VendorID) == owner
	}
	return false
}

type PartnerStatus string

const (
	PartnerPending   PartnerStatus = "pending"
	PartnerCompleted PartnerStatus = "completed"
	PartnerFailed    PartnerStatus = "failed"
)

type PartnerTransaction struct {
	ID        types.ID      `json:"id"`
	PartnerID types.ID      `json:"partner_id"`
	BookingID types.ID      `json:"booking_id"`
	Amount    types.Money   `json:"amount"`
	Status    PartnerStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
}

type CreateOrderCommand struct {
	CustomerID     types.ID
	VehicleID      types.ID
	PartnerID      types.ID
	PickupLocation string
	DropLocation   string
	PickupDate     time.Time
	DropDate       time.Time
	Path           string
	DistanceKm     decimal.Decimal
}

type OrderResult struct {
	OrderID       string         `json:"order_id"`
	Amount        types.Money    `json:"amount"`
	TransactionID types.ID       `json:"payment_id"`
	Provider      string         `json:"provider"`
	ClientSecret  string         `json:"client_secret,omitempty"`
	Quote         *booking.Quote `json:"quote,omitempty"`
}

type VerifyCommand struct {
	OwnerID       types.ID
	TransactionID types.ID
	Proof         gateway.PaymentProof
}

type RechargeCommand struct {
	VendorID types.ID
	Amount   int64
}

type RechargeResult struct {
	TransactionID types.ID    `json:"transaction_id"`
	Amount        types.Money `json:"amount"`
	Balance       types.Money `json:"balance"`
}

// Consume is the single-use pending -> success transition.
type Consume struct {
	TransactionID types.ID
	Purpose       Purpose
	OwnerID       types.ID
	PaymentID     string
	At            time.Time
}
