// README: Booking reads and role-scoped status updates for customers, drivers and vendors.
package handlers

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"cabmarket/internal/http/response"
	"cabmarket/internal/modules/assignment"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/dispatch"
	"cabmarket/internal/types"
)

type BookingService interface {
	Get(ctx context.Context, caller booking.Caller, id types.ID) (*booking.Booking, error)
	ListLive(ctx context.Context, caller booking.Caller) ([]booking.Booking, error)
	Cancel(ctx context.Context, cmd booking.CancelCommand) (*booking.Booking, error)
	DriverUpdate(ctx context.Context, cmd booking.DriverUpdateCommand) (*booking.Booking, error)
	VendorUpdate(ctx context.Context, cmd booking.VendorUpdateCommand) (*booking.Booking, error)
}

type Assigner interface {
	Accept(ctx context.Context, cmd assignment.AcceptCommand) (*booking.Booking, error)
}

type OpenBoard interface {
	ListOpen(ctx context.Context, q dispatch.ListQuery) ([]dispatch.Entry, error)
}

type BookingHandler struct {
	bookings BookingService
	assigner Assigner
	board    OpenBoard
}

func NewBookingHandler(bookings BookingService, assigner Assigner, board OpenBoard) *BookingHandler {
	return &BookingHandler{bookings: bookings, assigner: assigner, board: board}
}

func (h *BookingHandler) List(c *gin.Context) {
	list, err := h.bookings.ListLive(c.Request.Context(), caller(c))
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "bookings", list)
}

func (h *BookingHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.bookings.Get(c.Request.Context(), caller(c), id)
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "booking", b)
}

func (h *BookingHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	b, err := h.bookings.Cancel(c.Request.Context(), booking.CancelCommand{
		BookingID:  id,
		CustomerID: caller(c).ID,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "booking cancelled", b)
}

type statusReq struct {
	Status string `json:"status"`
	OTP    string `json:"otp"`
}

func (h *BookingHandler) DriverStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if !bindJSON(c, &req) {
		return
	}
	to, err := booking.ParseStatus(req.Status)
	if err != nil {
		response.BadRequest(c, "unknown status")
		return
	}
	b, err := h.bookings.DriverUpdate(c.Request.Context(), booking.DriverUpdateCommand{
		BookingID: id,
		DriverID:  caller(c).ID,
		To:        to,
		OTP:       req.OTP,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "booking status updated", b)
}

func (h *BookingHandler) VendorStatus(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req statusReq
	if !bindJSON(c, &req) {
		return
	}
	to, err := booking.ParseStatus(req.Status)
	if err != nil {
		response.BadRequest(c, "unknown status")
		return
	}
	b, err := h.bookings.VendorUpdate(c.Request.Context(), booking.VendorUpdateCommand{
		BookingID: id,
		VendorID:  caller(c).ID,
		To:        to,
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "booking status updated", b)
}

type acceptReq struct {
	BookingID string `json:"booking_id"`
	DriverID  string `json:"driver_id"`
	VehicleID string `json:"vehicle_id"`
}

func (h *BookingHandler) Accept(c *gin.Context) {
	var req acceptReq
	if !bindJSON(c, &req) {
		return
	}
	if !isValidID(req.BookingID) || !isValidID(req.DriverID) || !isValidID(req.VehicleID) {
		response.BadRequest(c, "booking_id, driver_id and vehicle_id are required")
		return
	}
	b, err := h.assigner.Accept(c.Request.Context(), assignment.AcceptCommand{
		VendorID:  caller(c).ID,
		BookingID: types.ID(req.BookingID),
		DriverID:  types.ID(req.DriverID),
		VehicleID: types.ID(req.VehicleID),
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "booking accepted", b)
}

// Open lists waiting bookings; ?from=&to= bound pickup time and ?seats= the vehicle capacity.
func (h *BookingHandler) Open(c *gin.Context) {
	from, ok := queryTime(c, "from")
	if !ok {
		return
	}
	to, ok := queryTime(c, "to")
	if !ok {
		return
	}
	seats, _ := strconv.Atoi(c.Query("seats"))
	list, err := h.board.ListOpen(c.Request.Context(), dispatch.ListQuery{
		From:     from,
		To:       to,
		Capacity: seats,
		Limit:    queryLimit(c),
	})
	if err != nil {
		response.Fail(c, err)
		return
	}
	response.OK(c, "open bookings", list)
}
