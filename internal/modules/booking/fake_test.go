package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"cabmarket/internal/types"
)

// memRepo is an in-memory Repository with the same compare-and-swap and archival rules as Store.
type memRepo struct {
	mu       sync.Mutex
	live     map[types.ID]*Booking
	archived map[types.ID]*Booking
	events   []Event
}

func newMemRepo(list ...*Booking) *memRepo {
	r := &memRepo{live: map[types.ID]*Booking{}, archived: map[types.ID]*Booking{}}
	for _, b := range list {
		cp := *b
		r.live[b.ID] = &cp
	}
	return r
}

func (r *memRepo) Get(_ context.Context, id types.ID) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.live[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (r *memRepo) ListLive(_ context.Context, f ListFilter) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.live {
		switch {
		case !f.CustomerID.Empty() && b.CustomerID != f.CustomerID:
			continue
		case !f.VendorID.Empty() && types.Deref(b.VendorID) != f.VendorID:
			continue
		case !f.DriverID.Empty() && types.Deref(b.DriverID) != f.DriverID:
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PickupDate.Before(out[j].PickupDate) })
	return out, nil
}

func (r *memRepo) ListExpirable(_ context.Context, before time.Time, limit int) ([]Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Booking
	for _, b := range r.live {
		if b.Status == StatusWaiting && b.VendorID == nil && b.PickupDate.Before(before) {
			out = append(out, *b)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memRepo) Transition(_ context.Context, t Transition) (*Booking, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.live[t.BookingID]
	if !ok || b.Status != t.From || b.StatusVersion != t.Version {
		return nil, ErrConflict
	}
	b.Status = t.To
	b.StatusVersion++
	b.OTPVerified = b.OTPVerified || t.OTPVerified
	at := t.At
	switch t.To {
	case StatusOngoing:
		b.StartedAt = &at
	case StatusCompleted:
		b.EndedAt = &at
	case StatusCancelled:
		b.CancelledAt = &at
	}
	if t.Split != nil {
		admin, vendor := t.Split.AdminCommission, t.Split.VendorShare
		b.AdminCommission, b.VendorShare = &admin, &vendor
	}
	r.events = append(r.events, Event{BookingID: t.BookingID, FromStatus: t.From, ToStatus: t.To, ActorRole: t.ActorRole})
	cp := *b
	if t.To.Terminal() {
		r.archived[b.ID] = b
		delete(r.live, b.ID)
	}
	return &cp, nil
}

type memBoard struct {
	mu      sync.Mutex
	removed []types.ID
}

func (b *memBoard) Remove(_ context.Context, id types.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed = append(b.removed, id)
	return nil
}
