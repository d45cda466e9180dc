// README: Stripe adapter: payment intents stand in for orders and the webhook uses Stripe-Signature.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"
	"github.com/stripe/stripe-go/v72/webhook"

	"cabmarket/internal/apperr"
	"cabmarket/internal/types"
)

type Stripe struct {
	api           *client.API
	webhookSecret string
}

func NewStripe(secretKey, webhookSecret string) *Stripe {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Stripe{api: api, webhookSecret: webhookSecret}
}

func (s *Stripe) Name() string { return "stripe" }

func (s *Stripe) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Amount.Amount <= 0 {
		return nil, apperr.Validation("order amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(minorUnits(req.Amount)),
		Currency: stripe.String(strings.ToLower(req.Amount.Currency)),
	}
	params.Context = ctx
	if req.Receipt != "" {
		params.AddMetadata("receipt", req.Receipt)
	}
	for k, v := range req.Notes {
		params.AddMetadata(k, v)
	}
	pi, err := s.api.PaymentIntents.New(params)
	if err != nil {
		return nil, apperr.Upstream("stripe", err)
	}
	return &Order{
		ID:           pi.ID,
		Amount:       types.NewMoney(pi.Amount/100, strings.ToUpper(string(pi.Currency))),
		ClientSecret: pi.ClientSecret,
		Provider:     s.Name(),
	}, nil
}

// VerifyPayment asks Stripe whether the intent succeeded; there is no client-side signature.
func (s *Stripe) VerifyPayment(ctx context.Context, proof PaymentProof) error {
	if proof.OrderID == "" {
		return ErrSignatureInvalid
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := s.api.PaymentIntents.Get(proof.OrderID, params)
	if err != nil {
		var se *stripe.Error
		if errors.As(err, &se) && se.HTTPStatusCode == 404 {
			return ErrSignatureInvalid
		}
		return apperr.Upstream("stripe", err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded {
		return ErrSignatureInvalid
	}
	return nil
}

func (s *Stripe) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	event, err := webhook.ConstructEvent(body, signature, s.webhookSecret)
	if err != nil {
		return nil, apperr.Wrap(ErrSignatureInvalid, err)
	}
	return stripeEvent(event)
}

func stripeEvent(event stripe.Event) (*WebhookEvent, error) {
	ev := &WebhookEvent{ID: event.ID, Name: event.Type}
	switch event.Type {
	case "payment_intent.succeeded":
		ev.Kind = EventCaptured
	case "payment_intent.payment_failed":
		ev.Kind = EventFailed
	default:
		ev.Kind = EventIgnored
		return ev, nil
	}
	if event.Data == nil {
		return nil, ErrMalformedEvent
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, apperr.Wrap(ErrMalformedEvent, err)
	}
	if pi.ID == "" {
		return nil, ErrMalformedEvent
	}
	ev.OrderID = pi.ID
	ev.PaymentID = pi.ID
	return ev, nil
}
