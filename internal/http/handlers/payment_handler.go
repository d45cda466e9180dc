// README: Payment order, verification, wallet recharge and gateway webhook handlers.
package handlers

import (
	"context"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"cabmarket/internal/gateway"
	"cabmarket/internal/http/response"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/payment"
	"cabmarket/internal/types"
)

const maxWebhookBody = 1 << 20

type PaymentService interface {
	CreateOrder(ctx context.Context, cmd payment.CreateOrderCommand) (*payment.OrderResult, error)
	VerifyAndCreateBooking(ctx context.Context, cmd payment.VerifyCommand) (*booking.Booking, error)
	CreateRecharge(ctx context.Context, cmd payment.RechargeCommand) (*payment.OrderResult, error)
	VerifyRecharge(ctx context.Context, cmd payment.VerifyCommand) (*payment.RechargeResult, error)
	HandleWebhook(ctx context.Context, body []byte, signature string) error
	GetTransaction(ctx context.Context, caller booking.Caller, id types.ID) (*payment.Transaction, error)
}

type PaymentHandler struct {
	payments PaymentService
}

func NewPaymentHandler(svc PaymentService) *PaymentHandler {
	return &PaymentHandler{payments: svc}
}

type createOrderReq struct {
	VehicleID      string          `json:"vehicle_id"`
	PartnerID      string          `json:"partner_id"`
	PickupLocation string          `json:"pickup_location"`
	DropLocation   string          `json:"drop_location"`
	PickupDate     time.Time       `json:"pickup_date"`
	DropDate       time.Time       `json:"drop_date"`
	Path           string          `json:"path"`
	Distance       decimal.Decimal `json:"distance"`
}

func (h *PaymentHandler) CreateOrder(c *gin.Context) {
	var req createOrderReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.VehicleID) || (req.PartnerID != "" && !isValidID(req.PartnerID)) {
		response.BadRequest(c, "invalid vehicle_id or partner_id")
		return
	}
	out, err := h.payments.CreateOrder(c.Request.Context(), payment.CreateOrderCommand{
		CustomerID:     caller(c).ID,
		VehicleID:      types.ID(req.VehicleID),
		PartnerID:      types.ID(req.PartnerID),
		PickupLocation: req.PickupLocation,
		DropLocation:   req.DropLocation,
		PickupDate:     req.PickupDate,
		DropDate:       req.DropDate,
		Path:           req.Path,
		DistanceKm:     req.Distance,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, "payment order created", out)
}

// verifyReq carries the gateway checkout result. payment_id is the id returned by create-order.
type verifyReq struct {
	PaymentID        string `json:"payment_id"`
	GatewayOrderID   string `json:"razorpay_order_id"`
	GatewayPaymentID string `json:"razorpay_payment_id"`
	Signature        string `json:"razorpay_signature"`
}

func (r verifyReq) command(owner types.ID) payment.VerifyCommand {
	return payment.VerifyCommand{
		OwnerID:       owner,
		TransactionID: types.ID(r.PaymentID),
		Proof: gateway.PaymentProof{
			OrderID:   r.GatewayOrderID,
			PaymentID: r.GatewayPaymentID,
			Signature: r.Signature,
		},
	}
}

func (h *PaymentHandler) Verify(c *gin.Context) {
	var req verifyReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.PaymentID) || req.GatewayPaymentID == "" {
		response.BadRequest(c, "payment_id and razorpay_payment_id are required")
		return
	}
	b, err := h.payments.VerifyAndCreateBooking(c.Request.Context(), req.command(caller(c).ID))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, "payment verified, booking created", b)
}

type rechargeReq struct {
	Amount int64 `json:"amount"`
}

func (h *PaymentHandler) Recharge(c *gin.Context) {
	var req rechargeReq
	if !bindJSON(c, &req) {
		return
	}
	out, err := h.payments.CreateRecharge(c.Request.Context(), payment.RechargeCommand{
		VendorID: caller(c).ID,
		Amount:   req.Amount,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, "recharge order created", out)
}

func (h *PaymentHandler) VerifyRecharge(c *gin.Context) {
	var req verifyReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.PaymentID) || req.GatewayPaymentID == "" {
		response.BadRequest(c, "payment_id and razorpay_payment_id are required")
		return
	}
	out, err := h.payments.VerifyRecharge(c.Request.Context(), req.command(caller(c).ID))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "wallet recharged", out)
}

func (h *PaymentHandler) GetTransaction(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	t, err := h.payments.GetTransaction(c.Request.Context(), caller(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "transaction", t)
}

// Webhook is unauthenticated; the body signature is the only trust check.
func (h *PaymentHandler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		response.BadRequest(c, "unreadable body")
		return
	}
	signature := c.GetHeader("X-Razorpay-Signature")
	if signature == "" {
		signature = c.GetHeader("Stripe-Signature")
	}
	if err := h.payments.HandleWebhook(c.Request.Context(), body, signature); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "ok", nil)
}
