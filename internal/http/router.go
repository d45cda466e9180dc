// README: HTTP router registration: middleware chain and role-gated route groups.
package http

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"cabmarket/internal/http/handlers"
	"cabmarket/internal/http/middleware"
	"cabmarket/internal/http/response"
	"cabmarket/internal/infra"
	"cabmarket/internal/types"
)

type Deps struct {
	Verifier       infra.TokenVerifier
	Payments       handlers.PaymentService
	Bookings       handlers.BookingService
	Assigner       handlers.Assigner
	Board          handlers.OpenBoard
	Settlement     handlers.SettlementService
	Archiver       handlers.Archiver
	Statements     handlers.StatementService
	AllowedOrigins []string
	Log            *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(
		middleware.RequestID(),
		middleware.Logger(d.Log),
		middleware.Recovery(d.Log),
		cors.New(corsConfig(d.AllowedOrigins)),
	)
	r.NoRoute(func(c *gin.Context) {
		response.Abort(c, http.StatusNotFound, "not_found", "route not found")
	})

	payment := handlers.NewPaymentHandler(d.Payments)
	bookings := handlers.NewBookingHandler(d.Bookings, d.Assigner, d.Board)
	settle := handlers.NewSettlementHandler(d.Settlement, d.Archiver)
	statements := handlers.NewStatementHandler(d.Statements)

	r.GET("/health", func(c *gin.Context) {
		response.OK(c, "OK", nil)
	})
	r.POST("/payment/webhook", payment.Webhook)

	authed := r.Group("/", middleware.Auth(d.Verifier))

	customer := authed.Group("/", middleware.RequireRoles(types.RoleCustomer))
	customer.POST("/payment/create-order", payment.CreateOrder)
	customer.POST("/payment/verify", payment.Verify)
	customer.PUT("/user/booking/:id/cancel", bookings.Cancel)
	customer.GET("/user/bookings", bookings.List)
	customer.GET("/user/bookings/:id", bookings.Get)

	authed.GET("/payment/transactions/:id",
		middleware.RequireRoles(types.RoleCustomer, types.RoleVendor, types.RoleAdmin), payment.GetTransaction)

	driver := authed.Group("/driver", middleware.RequireRoles(types.RoleDriver))
	driver.PUT("/booking/:id/status", bookings.DriverStatus)
	driver.GET("/bookings", bookings.List)
	driver.GET("/bookings/:id", bookings.Get)

	vendor := authed.Group("/vendor", middleware.RequireRoles(types.RoleVendor))
	vendor.POST("/accept-booking", bookings.Accept)
	vendor.PUT("/booking/:id/status", bookings.VendorStatus)
	vendor.GET("/bookings", bookings.List)
	vendor.GET("/bookings/open", bookings.Open)
	vendor.GET("/bookings/:id", bookings.Get)
	vendor.POST("/penalties/:id/accept", settle.AcceptPenalty)
	vendor.POST("/penalties/:id/dispute", settle.DisputePenalty)
	vendor.POST("/wallet/recharge", payment.Recharge)
	vendor.POST("/wallet/verify", payment.VerifyRecharge)
	vendor.GET("/wallet/ledger", statements.Ledger)
	vendor.GET("/earnings", statements.Earnings)

	partner := authed.Group("/partner", middleware.RequireRoles(types.RolePartner))
	partner.GET("/commissions", statements.Commissions)

	admin := authed.Group("/admin", middleware.RequireRoles(types.RoleAdmin))
	admin.POST("/pay-vendor", settle.PayVendor)
	admin.POST("/pay-partner", settle.PayPartner)
	admin.POST("/penalties", settle.IssuePenalty)
	admin.GET("/disputes", statements.Disputes)
	admin.PUT("/disputes/:id", settle.ResolveDispute)
	admin.POST("/bookings/:id/archive", settle.ArchiveBooking)
	admin.GET("/bookings/:id", bookings.Get)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders: []string{middleware.HeaderRequestID},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}
