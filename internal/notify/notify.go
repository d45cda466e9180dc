// README: Outbound notifications (email, SMS). Delivery failures never fail the caller.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

var ErrNoRecipient = errors.New("notify: message has no recipient")

type Message struct {
	Channel Channel
	To      string
	ToName  string
	Subject string
	Body    string
}

type Notifier interface {
	Notify(ctx context.Context, m Message) error
}

type Noop struct{}

func (Noop) Notify(context.Context, Message) error { return nil }

// Router hands each message to the notifier registered for its channel.
// Channels without a notifier are dropped.
type Router map[Channel]Notifier

func (r Router) Notify(ctx context.Context, m Message) error {
	n, ok := r[m.Channel]
	if !ok || n == nil {
		return nil
	}
	return n.Notify(ctx, m)
}

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (ms Multi) Notify(ctx context.Context, m Message) error {
	var errs []error
	for _, n := range ms {
		if err := n.Notify(ctx, m); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type safe struct {
	next Notifier
	log  *slog.Logger
}

// Safe logs and swallows every delivery error of next.
func Safe(next Notifier, log *slog.Logger) Notifier {
	if next == nil {
		next = Noop{}
	}
	return &safe{next: next, log: log}
}

func (s *safe) Notify(ctx context.Context, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify panic: %v", r)
		}
		if err != nil {
			s.log.WarnContext(ctx, "notification not delivered",
				"channel", m.Channel, "subject", m.Subject, "error", err)
		}
		err = nil
	}()
	if m.To == "" {
		return ErrNoRecipient
	}
	return s.next.Notify(ctx, m)
}
