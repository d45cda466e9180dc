// README: Expiry jobs for abandoned payment orders and unassigned bookings.
package jobs

import (
	"context"
	"log/slog"
	"time"
)

type TransactionExpirer interface {
	ExpirePending(ctx context.Context, ttl time.Duration, batch int) (int, error)
}

type BookingExpirer interface {
	ExpireStale(ctx context.Context, grace time.Duration, batch int) (int, error)
}

type Config struct {
	PendingTransactionTTL time.Duration
	WaitingBookingGrace   time.Duration
	Batch                 int
	// Timeout bounds a single run.
	Timeout time.Duration
}

type Runner struct {
	transactions TransactionExpirer
	bookings     BookingExpirer
	cfg          Config
	log          *slog.Logger
}

func NewRunner(transactions TransactionExpirer, bookings BookingExpirer, cfg Config, log *slog.Logger) *Runner {
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	return &Runner{transactions: transactions, bookings: bookings, cfg: cfg, log: log}
}

// ExpirePendingTransactions fails pending orders older than the TTL.
func (r *Runner) ExpirePendingTransactions() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	n, err := r.transactions.ExpirePending(ctx, r.cfg.PendingTransactionTTL, r.cfg.Batch)
	if err != nil {
		r.log.Error("ExpirePendingTransactions failed", "error", err, "expired", n)
		return
	}
	r.log.Info("ExpirePendingTransactions done", "expired", n, "took", time.Since(start))
}

// ExpireStaleBookings cancels waiting bookings whose pickup passed more than the grace ago.
func (r *Runner) ExpireStaleBookings() {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	n, err := r.bookings.ExpireStale(ctx, r.cfg.WaitingBookingGrace, r.cfg.Batch)
	if err != nil {
		r.log.Error("ExpireStaleBookings failed", "error", err, "expired", n)
		return
	}
	r.log.Info("ExpireStaleBookings done", "expired", n, "took", time.Since(start))
}
