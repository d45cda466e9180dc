// README: Entry point; loads config, wires stores and services, starts the HTTP server and the expiry scheduler.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cabmarket/internal/config"
	"cabmarket/internal/gateway"
	httptransport "cabmarket/internal/http"
	"cabmarket/internal/infra"
	"cabmarket/internal/jobs"
	"cabmarket/internal/logger"
	"cabmarket/internal/modules/archive"
	"cabmarket/internal/modules/assignment"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/dispatch"
	"cabmarket/internal/modules/payment"
	"cabmarket/internal/modules/settlement"
	"cabmarket/internal/modules/statement"
	"cabmarket/internal/notify"
	"cabmarket/internal/types"
)

const webhookDedupeTTL = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}
	logger.Initialize(cfg.Log.Level, cfg.Log.Format)
	log := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	verifier, err := newVerifier(ctx, cfg.Auth)
	if err != nil {
		return err
	}

	pool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	reportDB, err := infra.NewSQLDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer reportDB.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		// Redis only backs the open-booking board and webhook dedupe; both degrade to Postgres.
		log.Warn("redis unavailable, continuing without board cache", "addr", cfg.Redis.Addr, "error", err)
		redisClient = nil
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	gw, err := gateway.New(cfg.Gateway)
	if err != nil {
		return err
	}
	currency := cfg.Gateway.Currency

	events := notify.NewEvents(newNotifier(cfg.Notify, log), notify.NewDirectory(pool), logger.WithService("notify"))

	mover := archive.NewMover(pool, logger.WithService("archive"))
	bookingStore := booking.NewStore(pool, mover)

	var boardStore dispatch.BoardStore
	var deduper payment.Deduper
	if redisClient != nil {
		boardStore = dispatch.NewStore(redisClient)
		deduper = payment.NewRedisDeduper(redisClient, webhookDedupeTTL)
	}
	board := dispatch.NewService(boardStore, bookingStore, logger.WithService("dispatch"))

	bookingSvc := booking.NewService(bookingStore, board, logger.WithService("booking"))
	paymentSvc := payment.NewService(payment.NewStore(pool, currency), gw, logger.WithService("payment"), payment.Options{
		Board:    board,
		Deduper:  deduper,
		Notifier: events,
		Currency: currency,
	})
	assignSvc := assignment.NewService(
		assignment.NewStore(pool, currency),
		board,
		events,
		types.NewMoney(cfg.Settlement.MinVendorBalance, currency),
		logger.WithService("assignment"),
	)
	settlementSvc := settlement.NewService(settlement.NewStore(pool, currency), events, currency, logger.WithService("settlement"))
	statementSvc := statement.NewService(statement.NewStore(reportDB), currency, logger.WithService("statement"))

	runner := jobs.NewRunner(paymentSvc, bookingSvc, jobs.Config{
		PendingTransactionTTL: cfg.Expiry.PendingTransactionTTL,
		WaitingBookingGrace:   cfg.Expiry.WaitingBookingGrace,
	}, logger.WithService("jobs"))
	scheduler, err := jobs.NewScheduler(runner, cfg.Expiry.Schedule, logger.WithService("jobs"))
	if err != nil {
		return err
	}
	scheduler.Start()

	router := httptransport.NewRouter(httptransport.Deps{
		Verifier:       verifier,
		Payments:       paymentSvc,
		Bookings:       bookingSvc,
		Assigner:       assignSvc,
		Board:          board,
		Settlement:     settlementSvc,
		Archiver:       mover,
		Statements:     statementSvc,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Log:            logger.WithService("http"),
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	return server.Shutdown(shutdownCtx)
}

func newVerifier(ctx context.Context, cfg config.AuthConfig) (infra.TokenVerifier, error) {
	if cfg.Provider == "firebase" {
		return infra.NewFirebaseVerifier(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsFile)
	}
	return infra.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, time.Hour), nil
}

// newNotifier routes email through SendGrid when a key is set, otherwise SMTP; sms goes through Twilio.
func newNotifier(cfg config.NotifyConfig, log *slog.Logger) notify.Notifier {
	var email, sms notify.Notifier = notify.Noop{}, notify.Noop{}
	switch {
	case cfg.SendGridKey != "":
		email = notify.NewSendGrid(cfg.SendGridKey, cfg.FromEmail, cfg.FromName)
	case cfg.SMTPHost != "":
		email = notify.NewSMTP(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.FromEmail)
	}
	if cfg.TwilioSID != "" {
		sms = notify.NewTwilio(cfg.TwilioSID, cfg.TwilioToken, cfg.TwilioFrom)
	}
	return notify.Safe(notify.Router{notify.ChannelEmail: email, notify.ChannelSMS: sms}, log)
}
