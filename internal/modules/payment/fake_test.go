package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"cabmarket/internal/gateway"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/fleet"
	"cabmarket/internal/modules/settlement"
	"cabmarket/internal/types"
)

const testSecret = "gw_secret"

// fakeGateway signs like Razorpay: hex(hmac(secret, order|payment)).
type fakeGateway struct {
	mu      sync.Mutex
	orders  int
	failErr error
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failErr != nil {
		return nil, g.failErr
	}
	g.orders++
	return &gateway.Order{ID: fmt.Sprintf("order_%d", g.orders), Amount: req.Amount, Provider: "fake"}, nil
}

func (g *fakeGateway) VerifyPayment(_ context.Context, p gateway.PaymentProof) error {
	if p.Signature != gateway.Sign(testSecret, []byte(p.OrderID+"|"+p.PaymentID)) {
		return gateway.ErrSignatureInvalid
	}
	return nil
}

type fakeWebhook struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
}

func (g *fakeGateway) ParseWebhook(body []byte, sig string) (*gateway.WebhookEvent, error) {
	if sig != gateway.Sign(testSecret, body) {
		return nil, gateway.ErrSignatureInvalid
	}
	var w fakeWebhook
	if err := json.Unmarshal(body, &w); err != nil {
		return nil, gateway.ErrMalformedEvent
	}
	return &gateway.WebhookEvent{ID: w.ID, Name: w.Kind, Kind: gateway.EventKind(w.Kind), OrderID: w.OrderID, PaymentID: w.PaymentID}, nil
}

func (g *fakeGateway) orderCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.orders
}

func proofFor(orderID, paymentID string) gateway.PaymentProof {
	return gateway.PaymentProof{OrderID: orderID, PaymentID: paymentID, Signature: gateway.Sign(testSecret, []byte(orderID+"|"+paymentID))}
}

type memRepo struct {
	mu        sync.Mutex
	vehicles  map[types.ID]*fleet.Vehicle
	busy      map[types.ID]bool
	txs       map[types.ID]*Transaction
	bookings  map[types.ID]*booking.Booking
	partners  []PartnerTransaction
	balances  map[types.ID]int64
	ledger    []settlement.WalletEntry
	failApply bool
	// eventErr fails the next ApplyGatewayEvent call.
	eventErr error
}

func newMemRepo() *memRepo {
	return &memRepo{
		vehicles: map[types.ID]*fleet.Vehicle{},
		busy:     map[types.ID]bool{},
		txs:      map[types.ID]*Transaction{},
		bookings: map[types.ID]*booking.Booking{},
		balances: map[types.ID]int64{},
	}
}

// InTx runs fn under the lock and restores the prior state if fn fails.
func (m *memRepo) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	txs := make(map[types.ID]Transaction, len(m.txs))
	for k, v := range m.txs {
		txs[k] = *v
	}
	bookings := make(map[types.ID]*booking.Booking, len(m.bookings))
	for k, v := range m.bookings {
		bookings[k] = v
	}
	balances := make(map[types.ID]int64, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	partners, ledger := len(m.partners), len(m.ledger)

	if err := fn(m); err != nil {
		for k, v := range txs {
			v := v
			m.txs[k] = &v
		}
		m.bookings = bookings
		m.balances = balances
		m.partners = m.partners[:partners]
		m.ledger = m.ledger[:ledger]
		return err
	}
	return nil
}

func (m *memRepo) GetVehicle(_ context.Context, id types.ID) (*fleet.Vehicle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vehicles[id]
	if !ok {
		return nil, fleet.ErrNotFound
	}
	return v, nil
}

func (m *memRepo) VehicleBusy(_ context.Context, id types.ID, _ fleet.Window) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.busy[id], nil
}

func (m *memRepo) InsertTransaction(_ context.Context, t *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.txs[t.ID] = &cp
	return nil
}

func (m *memRepo) GetTransaction(_ context.Context, id types.ID) (*Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memRepo) ApplyGatewayEvent(_ context.Context, ev gateway.WebhookEvent, _ time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.eventErr; err != nil {
		m.eventErr = nil
		return false, err
	}
	matched := false
	for _, t := range m.txs {
		if t.GatewayOrderID != ev.OrderID {
			continue
		}
		matched = true
		switch ev.Kind {
		case gateway.EventCaptured:
			t.GatewayStatus = GatewayCaptured
			if t.GatewayPaymentID == "" {
				t.GatewayPaymentID = ev.PaymentID
			}
		case gateway.EventFailed:
			if t.GatewayStatus == GatewayCreated {
				t.GatewayStatus = GatewayFailed
			}
		}
	}
	return matched, nil
}

func (m *memRepo) FailStalePending(_ context.Context, before time.Time, limit int) ([]types.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ID
	for _, t := range m.txs {
		if len(out) >= limit {
			break
		}
		if t.Status == StatusPending && t.GatewayStatus != GatewayCaptured && t.CreatedAt.Before(before) {
			t.Status = StatusFailed
			out = append(out, t.ID)
		}
	}
	return out, nil
}

func (m *memRepo) ListCapturedPending(_ context.Context, before time.Time, _ int) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, t := range m.txs {
		if t.Status == StatusPending && t.GatewayStatus == GatewayCaptured && t.CreatedAt.Before(before) {
			out = append(out, *t)
		}
	}
	return out, nil
}

// Tx methods run with the lock already held by InTx.

func (m *memRepo) ConsumePending(_ context.Context, c Consume) (*Transaction, bool, error) {
	t, ok := m.txs[c.TransactionID]
	if !ok || t.Status != StatusPending || !t.OwnedBy(c.Purpose, c.OwnerID) {
		return nil, false, nil
	}
	t.Status = StatusSuccess
	if c.PaymentID != "" {
		t.GatewayPaymentID = c.PaymentID
	}
	cp := *t
	return &cp, true, nil
}

func (m *memRepo) InsertBooking(_ context.Context, b *booking.Booking) error {
	if _, ok := m.bookings[b.ID]; ok {
		return errors.New("duplicate booking")
	}
	cp := *b
	m.bookings[b.ID] = &cp
	return nil
}

func (m *memRepo) LinkBooking(_ context.Context, txID, bookingID types.ID) error {
	t, ok := m.txs[txID]
	if !ok {
		return ErrNotFound
	}
	t.BookingID = bookingID.Ptr()
	return nil
}

func (m *memRepo) InsertPartnerTransaction(_ context.Context, pt *PartnerTransaction) error {
	m.partners = append(m.partners, *pt)
	return nil
}

func (m *memRepo) ApplyWalletEntry(_ context.Context, e *settlement.WalletEntry) error {
	if m.failApply {
		return errors.New("ledger write failed")
	}
	bal, ok := m.balances[e.VendorID]
	if !ok {
		return settlement.ErrVendorNotFound
	}
	if e.Type == settlement.EntryDebit {
		bal -= e.Amount.Amount
	} else {
		bal += e.Amount.Amount
	}
	m.balances[e.VendorID] = bal
	e.BalanceAfter = types.NewMoney(bal, e.Amount.Currency)
	m.ledger = append(m.ledger, *e)
	return nil
}

func (m *memRepo) bookingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.bookings)
}

type memBoard struct {
	mu        sync.Mutex
	published []types.ID
}

func (b *memBoard) Publish(_ context.Context, bk *booking.Booking) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, bk.ID)
	return nil
}

type memDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDeduper) FirstSeen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = map[string]bool{}
	}
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *memDeduper) Forget(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}
