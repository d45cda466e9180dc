package handlers

import (
	"context"

	"github.com/gin-gonic/gin"

	"cabmarket/internal/http/response"
	"cabmarket/internal/modules/statement"
	"cabmarket/internal/types"
)

type StatementService interface {
	VendorLedger(ctx context.Context, vendorID types.ID, limit int) (*statement.Ledger, error)
	VendorEarnings(ctx context.Context, vendorID types.ID, p statement.Period) (*statement.Earnings, error)
	PartnerStatement(ctx context.Context, partnerID types.ID, limit int) (*statement.PartnerStatement, error)
	Disputes(ctx context.Context, status string, limit int) ([]statement.DisputeRow, error)
}

type StatementHandler struct {
	statements StatementService
}

func NewStatementHandler(svc StatementService) *StatementHandler {
	return &StatementHandler{statements: svc}
}

func (h *StatementHandler) Ledger(c *gin.Context) {
	out, err := h.statements.VendorLedger(c.Request.Context(), caller(c).ID, queryLimit(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "wallet ledger", out)
}

func (h *StatementHandler) Earnings(c *gin.Context) {
	from, ok := queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return
	}
	out, err := h.statements.VendorEarnings(c.Request.Context(), caller(c).ID, statement.Period{From: from, To: to})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "earnings", out)
}

func (h *StatementHandler) Commissions(c *gin.Context) {
	out, err := h.statements.PartnerStatement(c.Request.Context(), caller(c).ID, queryLimit(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "commissions", out)
}

func (h *StatementHandler) Disputes(c *gin.Context) {
	out, err := h.statements.Disputes(c.Request.Context(), c.Query("status"), queryLimit(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "disputes", out)
}
