// README: Payout, penalty and dispute handlers for vendors and admins.
package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"cabmarket/internal/http/response"
	"cabmarket/internal/modules/settlement"
	"cabmarket/internal/types"
)

type SettlementService interface {
	PayVendor(ctx context.Context, vendorID, bookingID types.ID) (*settlement.PayoutResult, error)
	PayPartner(ctx context.Context, partnerTxID types.ID) (*settlement.PayoutResult, error)
	IssuePenalty(ctx context.Context, cmd settlement.IssuePenaltyCommand) (*settlement.Payment, error)
	AcceptPenalty(ctx context.Context, vendorID, paymentID types.ID) (*settlement.PayoutResult, error)
	DisputePenalty(ctx context.Context, vendorID, paymentID types.ID, reason string) (*settlement.Dispute, error)
	ResolveDispute(ctx context.Context, cmd settlement.ResolveCommand) (*settlement.Dispute, error)
}

type Archiver interface {
	Archive(ctx context.Context, id types.ID) error
}

type SettlementHandler struct {
	settlement SettlementService
	archiver   Archiver
}

func NewSettlementHandler(svc SettlementService, archiver Archiver) *SettlementHandler {
	return &SettlementHandler{settlement: svc, archiver: archiver}
}

type payVendorReq struct {
	VendorID  string `json:"vendor_id"`
	BookingID string `json:"booking_id"`
}

func (h *SettlementHandler) PayVendor(c *gin.Context) {
	var req payVendorReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.VendorID) || !isValidID(req.BookingID) {
		response.BadRequest(c, "vendor_id and booking_id are required")
		return
	}
	out, err := h.settlement.PayVendor(c.Request.Context(), types.ID(req.VendorID), types.ID(req.BookingID))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "vendor paid", out)
}

type payPartnerReq struct {
	PartnerTransactionID string `json:"partner_transaction_id"`
}

func (h *SettlementHandler) PayPartner(c *gin.Context) {
	var req payPartnerReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.PartnerTransactionID) {
		response.BadRequest(c, "partner_transaction_id is required")
		return
	}
	out, err := h.settlement.PayPartner(c.Request.Context(), types.ID(req.PartnerTransactionID))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "partner paid", out)
}

type penaltyReq struct {
	VendorID  string `json:"vendor_id"`
	BookingID string `json:"booking_id"`
	Amount    int64  `json:"amount"`
	Reason    string `json:"reason"`
}

func (h *SettlementHandler) IssuePenalty(c *gin.Context) {
	var req penaltyReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.VendorID) || (req.BookingID != "" && !isValidID(req.BookingID)) {
		response.BadRequest(c, "invalid vendor_id or booking_id")
		return
	}
	p, err := h.settlement.IssuePenalty(c.Request.Context(), settlement.IssuePenaltyCommand{
		VendorID:  types.ID(req.VendorID),
		BookingID: types.ID(req.BookingID),
		Amount:    req.Amount,
		Reason:    req.Reason,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, "penalty issued", p)
}

func (h *SettlementHandler) AcceptPenalty(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	out, err := h.settlement.AcceptPenalty(c.Request.Context(), caller(c).ID, id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "penalty accepted", out)
}

type disputeReq struct {
	Reason string `json:"reason"`
}

func (h *SettlementHandler) DisputePenalty(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req disputeReq
	if !bindJSON(c, &req) {
		return
	}
	d, err := h.settlement.DisputePenalty(c.Request.Context(), caller(c).ID, id, req.Reason)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.Created(c, "dispute submitted", d)
}

type resolveReq struct {
	Status       string `json:"status"`
	AdminComment string `json:"admin_comment"`
}

func (h *SettlementHandler) ResolveDispute(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req resolveReq
	if !bindJSON(c, &req) {
		return
	}
	decision, ok := settlement.ParseDecision(req.Status)
	if !ok {
		response.BadRequest(c, "status must be resolved or rejected")
		return
	}
	d, err := h.settlement.ResolveDispute(c.Request.Context(), settlement.ResolveCommand{
		DisputeID: id,
		Decision:  decision,
		Comment:   req.AdminComment,
		AdminID:   caller(c).ID,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "dispute "+string(d.Status), d)
}

func (h *SettlementHandler) ArchiveBooking(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.archiver.Archive(c.Request.Context(), id); err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "booking archived", gin.H{"booking_id": id})
}
