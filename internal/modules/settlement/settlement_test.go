package settlement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cabmarket/internal/logger"
	"cabmarket/internal/types"
)

type partnerRow struct {
	payout        PartnerPayout
	status        string
	tripCompleted bool
}

type memStore struct {
	mu        sync.Mutex
	payments  map[types.ID]*Payment
	disputes  map[types.ID]*Dispute
	trips     map[types.ID]*CompletedTrip
	partnerTx map[types.ID]*partnerRow
	vendors   map[types.ID]int64
	earnings  map[types.ID]int64
	partners  map[types.ID]int64
	ledger    []WalletEntry
}

func newMemStore() *memStore {
	return &memStore{
		payments:  map[types.ID]*Payment{},
		disputes:  map[types.ID]*Dispute{},
		trips:     map[types.ID]*CompletedTrip{},
		partnerTx: map[types.ID]*partnerRow{},
		vendors:   map[types.ID]int64{},
		earnings:  map[types.ID]int64{},
		partners:  map[types.ID]int64{},
	}
}

func (m *memStore) InTx(_ context.Context, fn func(Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func (m *memStore) InsertPayment(_ context.Context, p *Payment) error {
	if p.Type == PaymentWithdrawal && p.VendorID != nil {
		for _, x := range m.payments {
			if x.Type == PaymentWithdrawal && x.Status == PaymentCompleted &&
				types.Deref(x.VendorID) == *p.VendorID && types.Deref(x.BookingID) == types.Deref(p.BookingID) {
				return ErrAlreadyPaid
			}
		}
	}
	cp := *p
	m.payments[p.ID] = &cp
	return nil
}

func (m *memStore) LockPayment(_ context.Context, id types.ID) (*Payment, error) {
	p, ok := m.payments[id]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) SetPaymentStatus(_ context.Context, id types.ID, status PaymentStatus, at time.Time) error {
	p, ok := m.payments[id]
	if !ok {
		return ErrPaymentNotFound
	}
	p.Status = status
	p.UpdatedAt = at
	return nil
}

func (m *memStore) CompletedTrip(_ context.Context, id types.ID) (*CompletedTrip, error) {
	c, ok := m.trips[id]
	if !ok {
		return nil, ErrBookingNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) HasVendorWithdrawal(_ context.Context, bookingID, vendorID types.ID) (bool, error) {
	for _, p := range m.payments {
		if p.Type == PaymentWithdrawal && p.Status == PaymentCompleted &&
			types.Deref(p.VendorID) == vendorID && types.Deref(p.BookingID) == bookingID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DisputeForPayment(_ context.Context, paymentID types.ID) (*Dispute, error) {
	for _, d := range m.disputes {
		if d.PaymentID == paymentID {
			cp := *d
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) InsertDispute(_ context.Context, d *Dispute) error {
	for _, x := range m.disputes {
		if x.PaymentID == d.PaymentID {
			return ErrAlreadyDisputed
		}
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *memStore) LockDispute(_ context.Context, id types.ID) (*Dispute, error) {
	d, ok := m.disputes[id]
	if !ok {
		return nil, ErrDisputeNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memStore) CloseDispute(_ context.Context, d *Dispute) error {
	cur := m.disputes[d.ID]
	if cur.Status != DisputePending {
		return ErrDisputeClosed
	}
	cp := *d
	m.disputes[d.ID] = &cp
	return nil
}

func (m *memStore) CompletePartnerTransaction(_ context.Context, id types.ID, _ time.Time) (*PartnerPayout, bool, error) {
	r, ok := m.partnerTx[id]
	if !ok || r.status != "pending" || !r.tripCompleted {
		return nil, false, nil
	}
	r.status = "completed"
	p := r.payout
	return &p, true, nil
}

func (m *memStore) PartnerTransactionStatus(_ context.Context, id types.ID) (string, bool, error) {
	r, ok := m.partnerTx[id]
	if !ok {
		return "", false, nil
	}
	return r.status, true, nil
}

func (m *memStore) ApplyVendorEntry(_ context.Context, e *WalletEntry) error {
	bal, ok := m.vendors[e.VendorID]
	if !ok {
		return ErrVendorNotFound
	}
	bal += e.signed()
	m.vendors[e.VendorID] = bal
	if e.Earning {
		m.earnings[e.VendorID] += e.Amount.Amount
	}
	e.BalanceAfter = types.NewMoney(bal, e.Amount.Currency)
	m.ledger = append(m.ledger, *e)
	return nil
}

func (m *memStore) CreditPartner(_ context.Context, partnerID types.ID, amount types.Money) (types.Money, error) {
	if _, ok := m.partners[partnerID]; !ok {
		return types.Money{}, ErrPartnerNotFound
	}
	m.partners[partnerID] += amount.Amount
	return types.NewMoney(m.partners[partnerID], amount.Currency), nil
}

type recordingNotifier struct {
	issued   []types.ID
	resolved []DisputeStatus
}

func (r *recordingNotifier) PenaltyIssued(_ context.Context, p *Payment) { r.issued = append(r.issued, p.ID) }
func (r *recordingNotifier) DisputeResolved(_ context.Context, d *Dispute, _ *Payment) {
	r.resolved = append(r.resolved, d.Status)
}

func newTestService() (*Service, *memStore, *recordingNotifier) {
	store := newMemStore()
	store.vendors["v1"] = 1000
	store.vendors["v2"] = 1000
	n := &recordingNotifier{}
	return NewService(store, n, "INR", logger.Discard()), store, n
}

func TestCompletionSplit(t *testing.T) {
	admin, vendor := CompletionSplit(types.NewMoney(2000, "INR"))
	assert.Equal(t, int64(200), admin.Amount)
	assert.Equal(t, int64(1800), vendor.Amount)

	for _, price := range []int64{1, 7, 99, 1001, 12345, 999999} {
		a, v := CompletionSplit(types.NewMoney(price, "INR"))
		assert.Equal(t, price, a.Amount+v.Amount, "price %d", price)
		assert.GreaterOrEqual(t, v.Amount, a.Amount)
	}
	assert.Equal(t, int64(100), PartnerCommission(types.NewMoney(2000, "INR")).Amount)
	assert.Equal(t, int64(6), PartnerCommission(types.NewMoney(139, "INR")).Amount)
}

func TestDisputeScenario_RejectedLeavesWalletUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, store, n := newTestService()

	p, err := svc.IssuePenalty(ctx, IssuePenaltyCommand{VendorID: "v1", Amount: 300, Reason: "late pickup"})
	require.NoError(t, err)
	assert.Equal(t, PaymentPending, p.Status)
	assert.Equal(t, []types.ID{p.ID}, n.issued)

	d, err := svc.DisputePenalty(ctx, "v1", p.ID, "X")
	require.NoError(t, err)
	assert.Equal(t, DisputePending, d.Status)
	assert.Equal(t, int64(1000), store.vendors["v1"], "no deduction at dispute time")

	_, err = svc.DisputePenalty(ctx, "v1", p.ID, "X again")
	assert.ErrorIs(t, err, ErrAlreadyDisputed)

	out, err := svc.ResolveDispute(ctx, ResolveCommand{DisputeID: d.ID, Decision: DisputeRejected, Comment: "valid excuse", AdminID: "a1"})
	require.NoError(t, err)
	assert.Equal(t, DisputeRejected, out.Status)
	assert.NotNil(t, out.ResolvedAt)

	assert.Equal(t, int64(1000), store.vendors["v1"])
	assert.Empty(t, store.ledger)
	assert.Equal(t, PaymentCancelled, store.payments[p.ID].Status)
	assert.Equal(t, []DisputeStatus{DisputeRejected}, n.resolved)

	_, err = svc.ResolveDispute(ctx, ResolveCommand{DisputeID: d.ID, Decision: DisputeResolved})
	assert.ErrorIs(t, err, ErrDisputeClosed)
	_, err = svc.DisputePenalty(ctx, "v1", p.ID, "once more")
	assert.ErrorIs(t, err, ErrAlreadyDisputed)
}

func TestDisputeResolvedDebitsAtResolution(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()

	p, err := svc.IssuePenalty(ctx, IssuePenaltyCommand{VendorID: "v1", Amount: 300, Reason: "no show"})
	require.NoError(t, err)
	d, err := svc.DisputePenalty(ctx, "v1", p.ID, "X")
	require.NoError(t, err)

	_, err = svc.AcceptPenalty(ctx, "v1", p.ID)
	assert.ErrorIs(t, err, ErrDisputePending)

	_, err = svc.ResolveDispute(ctx, ResolveCommand{DisputeID: d.ID, Decision: DisputeResolved})
	require.NoError(t, err)
	assert.Equal(t, int64(700), store.vendors["v1"])
	require.Len(t, store.ledger, 1)
	assert.Equal(t, EntryDebit, store.ledger[0].Type)
	assert.Equal(t, int64(700), store.ledger[0].BalanceAfter.Amount)
	assert.Equal(t, PaymentCompleted, store.payments[p.ID].Status)
}

func TestAcceptPenaltyDebitsImmediately(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()

	p, err := svc.IssuePenalty(ctx, IssuePenaltyCommand{VendorID: "v1", Amount: 1200, Reason: "damage"})
	require.NoError(t, err)

	out, err := svc.AcceptPenalty(ctx, "v1", p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(-200), out.Balance.Amount, "penalties may overdraw the wallet")
	assert.Equal(t, PaymentCompleted, out.Payment.Status)
	assert.Equal(t, store.vendors["v1"], store.ledger[len(store.ledger)-1].BalanceAfter.Amount)

	_, err = svc.AcceptPenalty(ctx, "v1", p.ID)
	assert.ErrorIs(t, err, ErrPenaltyNotPending)
	_, err = svc.DisputePenalty(ctx, "v1", p.ID, "too late")
	assert.ErrorIs(t, err, ErrPenaltyNotPending)
}

func TestPenaltyScopedToVendor(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService()
	p, err := svc.IssuePenalty(ctx, IssuePenaltyCommand{VendorID: "v1", Amount: 100, Reason: "x"})
	require.NoError(t, err)

	_, err = svc.AcceptPenalty(ctx, "v2", p.ID)
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	_, err = svc.DisputePenalty(ctx, "v2", p.ID, "not mine")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
	_, err = svc.AcceptPenalty(ctx, "v1", "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestIssuePenaltyValidation(t *testing.T) {
	svc, _, _ := newTestService()
	_, err := svc.IssuePenalty(context.Background(), IssuePenaltyCommand{VendorID: "v1", Amount: 0, Reason: "x"})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = svc.IssuePenalty(context.Background(), IssuePenaltyCommand{VendorID: "v1", Amount: 10})
	assert.ErrorIs(t, err, ErrBadRequest)
	_, err = svc.ResolveDispute(context.Background(), ResolveCommand{DisputeID: "d", Decision: "maybe"})
	require.Error(t, err)
}

func TestPayVendorOnce(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()
	share := types.NewMoney(1800, "INR")
	store.trips["b1"] = &CompletedTrip{BookingID: "b1", VendorID: "v1", Status: "completed", Price: types.NewMoney(2000, "INR"), VendorShare: &share}
	store.trips["b2"] = &CompletedTrip{BookingID: "b2", VendorID: "v1", Status: "cancelled", Price: types.NewMoney(500, "INR")}
	store.trips["b3"] = &CompletedTrip{BookingID: "b3", VendorID: "v1", Status: "completed", Price: types.NewMoney(999, "INR")}

	out, err := svc.PayVendor(ctx, "v1", "b1")
	require.NoError(t, err)
	assert.Equal(t, int64(1800), out.Payment.Amount.Amount)
	assert.Equal(t, int64(2800), out.Balance.Amount)
	assert.Equal(t, int64(1800), store.earnings["v1"])
	require.Len(t, store.ledger, 1)
	assert.Equal(t, out.Payment.ID, *store.ledger[0].PaymentID)

	_, err = svc.PayVendor(ctx, "v1", "b1")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, int64(2800), store.vendors["v1"])

	_, err = svc.PayVendor(ctx, "v2", "b1")
	assert.ErrorIs(t, err, ErrBookingNotFound)
	_, err = svc.PayVendor(ctx, "v1", "b2")
	assert.ErrorIs(t, err, ErrBookingNotFound)
	_, err = svc.PayVendor(ctx, "v1", "live_booking")
	assert.ErrorIs(t, err, ErrBookingNotFound)

	out, err = svc.PayVendor(ctx, "v1", "b3")
	require.NoError(t, err)
	assert.Equal(t, int64(900), out.Payment.Amount.Amount, "share recomputed when not stored")
}

func TestPayPartner(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()
	store.partners["p1"] = 0
	store.partnerTx["pt1"] = &partnerRow{
		payout:        PartnerPayout{ID: "pt1", PartnerID: "p1", BookingID: "b1", Amount: types.NewMoney(100, "INR")},
		status:        "pending",
		tripCompleted: true,
	}

	out, err := svc.PayPartner(ctx, "pt1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), out.Balance.Amount)
	assert.Equal(t, PaymentWithdrawal, out.Payment.Type)
	assert.Equal(t, types.ID("p1"), *out.Payment.PartnerID)
	assert.Nil(t, out.Payment.VendorID)

	_, err = svc.PayPartner(ctx, "pt1")
	assert.ErrorIs(t, err, ErrAlreadyPaid)
	assert.Equal(t, int64(100), store.partners["p1"])

	_, err = svc.PayPartner(ctx, "missing")
	assert.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestPayPartnerRequiresCompletedTrip(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()
	store.partners["p1"] = 0
	commission := PartnerPayout{PartnerID: "p1", Amount: types.NewMoney(100, "INR")}

	cancelled := commission
	cancelled.ID, cancelled.BookingID = "pt_cancelled", "b_cancelled"
	store.partnerTx["pt_cancelled"] = &partnerRow{payout: cancelled, status: "failed"}

	live := commission
	live.ID, live.BookingID = "pt_live", "b_live"
	store.partnerTx["pt_live"] = &partnerRow{payout: live, status: "pending"}

	for _, id := range []types.ID{"pt_cancelled", "pt_live"} {
		_, err := svc.PayPartner(ctx, id)
		assert.ErrorIs(t, err, ErrCommissionNotPayable, "commission %s", id)
	}
	assert.Equal(t, int64(0), store.partners["p1"])
	assert.Empty(t, store.payments)

	store.partnerTx["pt_live"].tripCompleted = true
	out, err := svc.PayPartner(ctx, "pt_live")
	require.NoError(t, err)
	assert.Equal(t, int64(100), out.Balance.Amount)
}

func TestWalletLedgerAgreesWithBalance(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService()
	share := types.NewMoney(450, "INR")
	store.trips["b9"] = &CompletedTrip{BookingID: "b9", VendorID: "v2", Status: "completed", Price: types.NewMoney(500, "INR"), VendorShare: &share}

	_, err := svc.PayVendor(ctx, "v2", "b9")
	require.NoError(t, err)
	p, err := svc.IssuePenalty(ctx, IssuePenaltyCommand{VendorID: "v2", Amount: 75, Reason: "late"})
	require.NoError(t, err)
	_, err = svc.AcceptPenalty(ctx, "v2", p.ID)
	require.NoError(t, err)

	var last int64
	sum := int64(1000)
	for _, e := range store.ledger {
		sum += e.signed()
		assert.Equal(t, sum, e.BalanceAfter.Amount)
		last = e.BalanceAfter.Amount
	}
	assert.Equal(t, store.vendors["v2"], last)
	assert.Equal(t, int64(1375), last)
}

func TestWalletEntryRejectsNonPositive(t *testing.T) {
	err := ApplyVendorEntry(context.Background(), nil, &WalletEntry{VendorID: "v1", Type: EntryCredit})
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}
