// README: Dispatch service publishes waiting bookings and serves the vendor open-booking feed.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"cabmarket/internal/modules/booking"
	"cabmarket/internal/types"
)

type BoardStore interface {
	Put(ctx context.Context, e Entry) error
	Delete(ctx context.Context, id types.ID) error
	Range(ctx context.Context, from, to time.Time, limit int) ([]Entry, error)
}

// Fallback lists open bookings from the database when the board is unavailable.
type Fallback interface {
	ListOpen(ctx context.Context, from, to time.Time, limit int) ([]booking.Booking, error)
}

type Service struct {
	store    BoardStore
	fallback Fallback
	log      *slog.Logger
	now      func() time.Time
	horizon  time.Duration
}

func NewService(store BoardStore, fallback Fallback, log *slog.Logger) *Service {
	return &Service{store: store, fallback: fallback, log: log, now: time.Now, horizon: 30 * 24 * time.Hour}
}

// Publish lists a waiting booking. Errors are returned but callers treat the board as best effort.
func (s *Service) Publish(ctx context.Context, b *booking.Booking) error {
	if b.Status != booking.StatusWaiting || b.VendorID != nil {
		return nil
	}
	if s.store == nil {
		return nil
	}
	return s.store.Put(ctx, EntryFrom(b, s.now()))
}

func (s *Service) Remove(ctx context.Context, id types.ID) error {
	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, id)
}

// ListOpen returns waiting bookings with pickup inside the query window.
func (s *Service) ListOpen(ctx context.Context, q ListQuery) ([]Entry, error) {
	now := s.now()
	if q.From.IsZero() {
		q.From = now
	}
	if q.To.IsZero() {
		q.To = q.From.Add(s.horizon)
	}
	if q.Limit <= 0 || q.Limit > maxLimit {
		q.Limit = defaultLimit
	}

	var (
		entries []Entry
		err     error
	)
	if s.store != nil {
		entries, err = s.store.Range(ctx, q.From, q.To, q.Limit)
		if err != nil {
			s.log.WarnContext(ctx, "dispatch board read failed, using database", "error", err)
		}
	}
	if s.store == nil || err != nil {
		if s.fallback == nil {
			return nil, err
		}
		list, ferr := s.fallback.ListOpen(ctx, q.From, q.To, q.Limit)
		if ferr != nil {
			return nil, ferr
		}
		entries = make([]Entry, 0, len(list))
		for i := range list {
			entries = append(entries, EntryFrom(&list[i], now))
		}
	}

	if q.Capacity <= 0 {
		return entries, nil
	}
	out := entries[:0]
	for _, e := range entries {
		if e.MinSeats <= q.Capacity {
			out = append(out, e)
		}
	}
	return out, nil
}
