package notify

import (
	"context"
	"fmt"
	"log/slog"

	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/settlement"
	"cabmarket/internal/types"
)

// Events turns domain events into messages for the people involved.
type Events struct {
	out      Notifier
	contacts ContactBook
	log      *slog.Logger
}

func NewEvents(out Notifier, contacts ContactBook, log *slog.Logger) *Events {
	return &Events{out: Safe(out, log), contacts: contacts, log: log}
}

func (e *Events) BookingCreated(ctx context.Context, b *booking.Booking) {
	e.send(ctx, types.RoleCustomer, b.CustomerID,
		"Your cab is booked",
		fmt.Sprintf("Booking %s from %s to %s on %s is confirmed for %s. Share trip code %s with your driver at pickup.",
			b.ID, b.PickupLocation, b.DropLocation, b.PickupDate.Format("02 Jan 2006 15:04"), b.Price, b.OTP))
}

func (e *Events) BookingAccepted(ctx context.Context, b *booking.Booking) {
	e.send(ctx, types.RoleCustomer, b.CustomerID,
		"A driver has been assigned",
		fmt.Sprintf("Booking %s has been accepted. Your driver will arrive at %s on %s.",
			b.ID, b.PickupLocation, b.PickupDate.Format("02 Jan 2006 15:04")))
	if b.DriverID != nil {
		e.send(ctx, types.RoleDriver, *b.DriverID,
			"New trip assigned",
			fmt.Sprintf("Trip %s: pickup at %s on %s, drop at %s.",
				b.ID, b.PickupLocation, b.PickupDate.Format("02 Jan 2006 15:04"), b.DropLocation))
	}
}

func (e *Events) PenaltyIssued(ctx context.Context, p *settlement.Payment) {
	e.send(ctx, types.RoleVendor, types.Deref(p.VendorID),
		"Penalty issued",
		fmt.Sprintf("A penalty of %s was issued (%s). Accept it or raise a dispute. Reference %s.",
			p.Amount, p.Reason, p.ID))
}

func (e *Events) DisputeResolved(ctx context.Context, d *settlement.Dispute, p *settlement.Payment) {
	var outcome string
	switch d.Status {
	case settlement.DisputeResolved:
		outcome = fmt.Sprintf("The penalty of %s stands and has been deducted from your wallet.", p.Amount)
	default:
		outcome = fmt.Sprintf("The penalty of %s has been cancelled.", p.Amount)
	}
	body := fmt.Sprintf("Your dispute %s was %s. %s", d.ID, d.Status, outcome)
	if d.AdminComment != "" {
		body += " Comment: " + d.AdminComment
	}
	e.send(ctx, types.RoleVendor, d.VendorID, "Penalty dispute decided", body)
}

func (e *Events) send(ctx context.Context, role types.Role, id types.ID, subject, body string) {
	if id.Empty() {
		return
	}
	c, err := e.contacts.Contact(ctx, role, id)
	if err != nil {
		e.log.WarnContext(ctx, "notification contact lookup failed", "role", role, "id", id, "error", err)
		return
	}
	if c.Email != "" {
		_ = e.out.Notify(ctx, Message{Channel: ChannelEmail, To: c.Email, ToName: c.Name, Subject: subject, Body: body})
	}
	if c.Phone != "" {
		_ = e.out.Notify(ctx, Message{Channel: ChannelSMS, To: c.Phone, ToName: c.Name, Subject: subject, Body: body})
	}
}
