// README: Payment gateway port: order creation, client proof verification and webhook parsing.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"cabmarket/internal/apperr"
	"cabmarket/internal/config"
	"cabmarket/internal/types"
)

var (
	ErrSignatureInvalid = apperr.New(apperr.KindSignatureInvalid, "invalid_signature", "payment signature verification failed")
	ErrMalformedEvent   = apperr.New(apperr.KindValidation, "malformed_event", "webhook payload could not be parsed")
)

type EventKind string

const (
	EventCaptured EventKind = "captured"
	EventFailed   EventKind = "failed"
	EventIgnored  EventKind = "ignored"
)

type OrderRequest struct {
	Amount  types.Money
	Receipt string
	Notes   map[string]string
}

type Order struct {
	ID     string      `json:"id"`
	Amount types.Money `json:"amount"`
	// ClientSecret is only set by gateways that confirm on the client (Stripe).
	ClientSecret string `json:"client_secret,omitempty"`
	Provider     string `json:"provider"`
}

// PaymentProof is what the client hands back after paying.
type PaymentProof struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}

type WebhookEvent struct {
	// ID is unique per delivery and used for deduplication.
	ID        string
	Name      string
	Kind      EventKind
	OrderID   string
	PaymentID string
}

type Gateway interface {
	Name() string
	CreateOrder(ctx context.Context, req OrderRequest) (*Order, error)
	VerifyPayment(ctx context.Context, proof PaymentProof) error
	ParseWebhook(body []byte, signature string) (*WebhookEvent, error)
}

// New builds the configured gateway.
func New(cfg config.GatewayConfig) (Gateway, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "razorpay":
		return NewRazorpay(RazorpayConfig{
			KeyID:         cfg.KeyID,
			KeySecret:     cfg.KeySecret,
			WebhookSecret: cfg.WebhookSecret,
			BaseURL:       cfg.BaseURL,
		}), nil
	case "stripe":
		return NewStripe(cfg.KeySecret, cfg.WebhookSecret), nil
	default:
		return nil, fmt.Errorf("unknown gateway provider %q", cfg.Provider)
	}
}

// Sign returns hex(HMAC-SHA256(secret, payload)).
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	want := Sign(secret, payload)
	return hmac.Equal([]byte(want), []byte(strings.ToLower(strings.TrimSpace(signature))))
}

// minorUnits converts whole currency units to the gateway's smallest unit.
func minorUnits(m types.Money) int64 {
	return m.Amount * 100
}
