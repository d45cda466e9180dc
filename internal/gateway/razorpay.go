// README: Razorpay adapter over its REST orders API with HMAC checkout and webhook signatures.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"cabmarket/internal/apperr"
	"cabmarket/internal/types"
)

const defaultRazorpayURL = "https://api.razorpay.com"

type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
	HTTPClient    *http.Client
}

type Razorpay struct {
	cfg  RazorpayConfig
	http *http.Client
}

func NewRazorpay(cfg RazorpayConfig) *Razorpay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultRazorpayURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Razorpay{cfg: cfg, http: client}
}

func (r *Razorpay) Name() string { return "razorpay" }

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrder struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

type razorpayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (r *Razorpay) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	if req.Amount.Amount <= 0 {
		return nil, apperr.Validation("order amount must be positive")
	}
	body, err := json.Marshal(razorpayOrderRequest{
		Amount:   minorUnits(req.Amount),
		Currency: req.Amount.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.BaseURL+"/v1/orders", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)

	resp, err := r.http.Do(httpReq)
	if err != nil {
		return nil, apperr.Upstream("razorpay", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Upstream("razorpay", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e razorpayError
		_ = json.Unmarshal(raw, &e)
		return nil, apperr.Upstream("razorpay", fmt.Errorf("create order: status %d: %s %s", resp.StatusCode, e.Error.Code, e.Error.Description))
	}
	var out razorpayOrder
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperr.Upstream("razorpay", fmt.Errorf("decode order: %w", err))
	}
	if out.ID == "" {
		return nil, apperr.Upstream("razorpay", fmt.Errorf("order response missing id"))
	}
	return &Order{
		ID:       out.ID,
		Amount:   types.NewMoney(out.Amount/100, out.Currency),
		Provider: r.Name(),
	}, nil
}

// VerifyPayment checks HMAC-SHA256(key_secret, order_id|payment_id).
func (r *Razorpay) VerifyPayment(_ context.Context, proof PaymentProof) error {
	if proof.OrderID == "" || proof.PaymentID == "" {
		return ErrSignatureInvalid
	}
	if !validSignature(r.cfg.KeySecret, []byte(proof.OrderID+"|"+proof.PaymentID), proof.Signature) {
		return ErrSignatureInvalid
	}
	return nil
}

type razorpayWebhook struct {
	Event     string `json:"event"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity struct {
				ID      string `json:"id"`
				OrderID string `json:"order_id"`
				Status  string `json:"status"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

// ParseWebhook verifies X-Razorpay-Signature over the raw body.
func (r *Razorpay) ParseWebhook(body []byte, signature string) (*WebhookEvent, error) {
	if !validSignature(r.cfg.WebhookSecret, body, signature) {
		return nil, ErrSignatureInvalid
	}
	var w razorpayWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, apperr.Wrap(ErrMalformedEvent, err)
	}
	p := w.Payload.Payment.Entity
	ev := &WebhookEvent{
		ID:        w.Event + ":" + p.ID,
		Name:      w.Event,
		OrderID:   p.OrderID,
		PaymentID: p.ID,
	}
	switch w.Event {
	case "payment.captured":
		ev.Kind = EventCaptured
	case "payment.failed":
		ev.Kind = EventFailed
	default:
		ev.Kind = EventIgnored
		return ev, nil
	}
	if p.OrderID == "" || p.ID == "" {
		return nil, ErrMalformedEvent
	}
	return ev, nil
}
