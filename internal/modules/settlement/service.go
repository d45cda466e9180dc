// README: Settlement engine: vendor and partner payouts, penalties and the dispute workflow.
package settlement

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"cabmarket/internal/apperr"
	"cabmarket/internal/types"
)

var (
	ErrBadRequest           = apperr.New(apperr.KindValidation, "bad_request", "bad request")
	ErrPaymentNotFound      = apperr.New(apperr.KindNotFound, "payment_not_found", "payment not found")
	ErrDisputeNotFound      = apperr.New(apperr.KindNotFound, "dispute_not_found", "dispute not found")
	ErrBookingNotFound      = apperr.New(apperr.KindNotFound, "booking_not_found", "completed booking not found")
	ErrAlreadyPaid          = apperr.New(apperr.KindConflict, "already_paid", "payout already completed")
	ErrAlreadyDisputed      = apperr.New(apperr.KindConflict, "already_disputed", "penalty already disputed")
	ErrPenaltyNotPending    = apperr.New(apperr.KindConflict, "penalty_not_pending", "penalty is no longer pending")
	ErrDisputePending       = apperr.New(apperr.KindConflict, "dispute_pending", "penalty is under dispute")
	ErrDisputeClosed        = apperr.New(apperr.KindConflict, "dispute_closed", "dispute already decided")
	ErrCommissionNotPayable = apperr.New(apperr.KindConflict, "commission_not_payable", "commission is payable only after the booking completes")
)

type Tx interface {
	InsertPayment(ctx context.Context, p *Payment) error
	LockPayment(ctx context.Context, id types.ID) (*Payment, error)
	SetPaymentStatus(ctx context.Context, id types.ID, status PaymentStatus, at time.Time) error
	CompletedTrip(ctx context.Context, bookingID types.ID) (*CompletedTrip, error)
	HasVendorWithdrawal(ctx context.Context, bookingID, vendorID types.ID) (bool, error)
	DisputeForPayment(ctx context.Context, paymentID types.ID) (*Dispute, error)
	InsertDispute(ctx context.Context, d *Dispute) error
	LockDispute(ctx context.Context, id types.ID) (*Dispute, error)
	CloseDispute(ctx context.Context, d *Dispute) error
	CompletePartnerTransaction(ctx context.Context, id types.ID, at time.Time) (*PartnerPayout, bool, error)
	// PartnerTransactionStatus reports the commission row's status; ok is false when it does not exist.
	PartnerTransactionStatus(ctx context.Context, id types.ID) (status string, ok bool, err error)
	ApplyVendorEntry(ctx context.Context, e *WalletEntry) error
	CreditPartner(ctx context.Context, partnerID types.ID, amount types.Money) (types.Money, error)
}

type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Notifier hears about penalty events; implementations swallow their own failures.
type Notifier interface {
	PenaltyIssued(ctx context.Context, p *Payment)
	DisputeResolved(ctx context.Context, d *Dispute, p *Payment)
}

type Service struct {
	repo     Repository
	notifier Notifier
	currency string
	log      *slog.Logger
	now      func() time.Time
}

func NewService(repo Repository, notifier Notifier, currency string, log *slog.Logger) *Service {
	if currency == "" {
		currency = types.DefaultCurrency
	}
	return &Service{repo: repo, notifier: notifier, currency: currency, log: log, now: time.Now}
}

// PayVendor pays the vendor share of one completed booking, at most once.
func (s *Service) PayVendor(ctx context.Context, vendorID, bookingID types.ID) (*PayoutResult, error) {
	if vendorID.Empty() || bookingID.Empty() {
		return nil, ErrBadRequest
	}
	var out PayoutResult
	err := s.repo.InTx(ctx, func(tx Tx) error {
		trip, err := tx.CompletedTrip(ctx, bookingID)
		if err != nil {
			return err
		}
		if trip.Status != "completed" || trip.VendorID != vendorID {
			return ErrBookingNotFound
		}
		paid, err := tx.HasVendorWithdrawal(ctx, bookingID, vendorID)
		if err != nil {
			return err
		}
		if paid {
			return ErrAlreadyPaid
		}

		now := s.now()
		amount := trip.Payout()
		p := &Payment{
			ID:        types.NewID(),
			Type:      PaymentWithdrawal,
			VendorID:  vendorID.Ptr(),
			BookingID: bookingID.Ptr(),
			Amount:    amount,
			Status:    PaymentCompleted,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		entry := &WalletEntry{
			VendorID:    vendorID,
			Type:        EntryCredit,
			Amount:      amount,
			PaymentID:   p.ID.Ptr(),
			Description: "booking payout " + string(bookingID),
			Earning:     true,
		}
		if err := tx.ApplyVendorEntry(ctx, entry); err != nil {
			return err
		}
		out = PayoutResult{Payment: *p, Balance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "vendor paid", "vendor_id", vendorID, "booking_id", bookingID,
		"amount", out.Payment.Amount.Amount, "balance", out.Balance.Amount)
	return &out, nil
}

// PayPartner disburses a pending partner commission once its booking has been completed and archived.
func (s *Service) PayPartner(ctx context.Context, partnerTxID types.ID) (*PayoutResult, error) {
	if partnerTxID.Empty() {
		return nil, ErrBadRequest
	}
	var out PayoutResult
	err := s.repo.InTx(ctx, func(tx Tx) error {
		now := s.now()
		payout, ok, err := tx.CompletePartnerTransaction(ctx, partnerTxID, now)
		if err != nil {
			return err
		}
		if !ok {
			status, exists, err := tx.PartnerTransactionStatus(ctx, partnerTxID)
			switch {
			case err != nil:
				return err
			case !exists:
				return ErrPaymentNotFound
			case status == "completed":
				return ErrAlreadyPaid
			default:
				return ErrCommissionNotPayable
			}
		}
		balance, err := tx.CreditPartner(ctx, payout.PartnerID, payout.Amount)
		if err != nil {
			return err
		}
		p := &Payment{
			ID:        types.NewID(),
			Type:      PaymentWithdrawal,
			PartnerID: payout.PartnerID.Ptr(),
			BookingID: payout.BookingID.Ptr(),
			Amount:    payout.Amount,
			Status:    PaymentCompleted,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := tx.InsertPayment(ctx, p); err != nil {
			return err
		}
		out = PayoutResult{Payment: *p, Balance: balance}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "partner paid", "partner_id", types.Deref(out.Payment.PartnerID),
		"partner_transaction_id", partnerTxID, "amount", out.Payment.Amount.Amount)
	return &out, nil
}

func (s *Service) IssuePenalty(ctx context.Context, cmd IssuePenaltyCommand) (*Payment, error) {
	if cmd.VendorID.Empty() || strings.TrimSpace(cmd.Reason) == "" {
		return nil, ErrBadRequest
	}
	if cmd.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	now := s.now()
	p := &Payment{
		ID:        types.NewID(),
		Type:      PaymentPenalty,
		VendorID:  cmd.VendorID.Ptr(),
		BookingID: cmd.BookingID.Ptr(),
		Amount:    types.NewMoney(cmd.Amount, s.currency),
		Status:    PaymentPending,
		Reason:    strings.TrimSpace(cmd.Reason),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.InTx(ctx, func(tx Tx) error { return tx.InsertPayment(ctx, p) }); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "penalty issued", "payment_id", p.ID, "vendor_id", cmd.VendorID, "amount", cmd.Amount)
	if s.notifier != nil {
		s.notifier.PenaltyIssued(ctx, p)
	}
	return p, nil
}

// AcceptPenalty debits the wallet now and completes the penalty.
func (s *Service) AcceptPenalty(ctx context.Context, vendorID, paymentID types.ID) (*PayoutResult, error) {
	var out PayoutResult
	err := s.repo.InTx(ctx, func(tx Tx) error {
		p, err := s.pendingPenalty(ctx, tx, vendorID, paymentID)
		if err != nil {
			return err
		}
		d, err := tx.DisputeForPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		if d != nil {
			return ErrDisputePending
		}
		entry, err := s.debitPenalty(ctx, tx, p)
		if err != nil {
			return err
		}
		out = PayoutResult{Payment: *p, Balance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "penalty accepted", "payment_id", paymentID, "vendor_id", vendorID, "balance", out.Balance.Amount)
	return &out, nil
}

// DisputePenalty opens the single dispute a penalty may have. The wallet is untouched.
func (s *Service) DisputePenalty(ctx context.Context, vendorID, paymentID types.ID, reason string) (*Dispute, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, ErrBadRequest
	}
	var out *Dispute
	err := s.repo.InTx(ctx, func(tx Tx) error {
		p, err := tx.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if p.Type != PaymentPenalty || types.Deref(p.VendorID) != vendorID {
			return ErrPaymentNotFound
		}
		existing, err := tx.DisputeForPayment(ctx, p.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return ErrAlreadyDisputed
		}
		if p.Status != PaymentPending {
			return ErrPenaltyNotPending
		}
		d := &Dispute{
			ID:        types.NewID(),
			PaymentID: p.ID,
			VendorID:  vendorID,
			Reason:    reason,
			Status:    DisputePending,
			CreatedAt: s.now(),
		}
		if err := tx.InsertDispute(ctx, d); err != nil {
			return err
		}
		out = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "penalty disputed", "payment_id", paymentID, "vendor_id", vendorID, "dispute_id", out.ID)
	return out, nil
}

// ResolveDispute is admin-only and terminal. resolved debits the wallet; rejected cancels the penalty.
func (s *Service) ResolveDispute(ctx context.Context, cmd ResolveCommand) (*Dispute, error) {
	if cmd.DisputeID.Empty() {
		return nil, ErrBadRequest
	}
	if _, ok := ParseDecision(string(cmd.Decision)); !ok {
		return nil, apperr.Validation("decision must be resolved or rejected")
	}
	var (
		out     *Dispute
		penalty *Payment
	)
	err := s.repo.InTx(ctx, func(tx Tx) error {
		d, err := tx.LockDispute(ctx, cmd.DisputeID)
		if err != nil {
			return err
		}
		if d.Status != DisputePending {
			return ErrDisputeClosed
		}
		p, err := tx.LockPayment(ctx, d.PaymentID)
		if err != nil {
			return err
		}
		if p.Status != PaymentPending {
			return ErrPenaltyNotPending
		}

		now := s.now()
		switch cmd.Decision {
		case DisputeResolved:
			if _, err := s.debitPenalty(ctx, tx, p); err != nil {
				return err
			}
		case DisputeRejected:
			if err := tx.SetPaymentStatus(ctx, p.ID, PaymentCancelled, now); err != nil {
				return err
			}
			p.Status = PaymentCancelled
		}
		d.Status = cmd.Decision
		d.AdminComment = strings.TrimSpace(cmd.Comment)
		d.ResolvedAt = &now
		if err := tx.CloseDispute(ctx, d); err != nil {
			return err
		}
		out, penalty = d, p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "dispute decided", "dispute_id", out.ID, "decision", out.Status,
		"payment_id", out.PaymentID, "admin_id", cmd.AdminID)
	if s.notifier != nil {
		s.notifier.DisputeResolved(ctx, out, penalty)
	}
	return out, nil
}

func (s *Service) pendingPenalty(ctx context.Context, tx Tx, vendorID, paymentID types.ID) (*Payment, error) {
	p, err := tx.LockPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Type != PaymentPenalty || types.Deref(p.VendorID) != vendorID {
		return nil, ErrPaymentNotFound
	}
	if p.Status != PaymentPending {
		return nil, ErrPenaltyNotPending
	}
	return p, nil
}

func (s *Service) debitPenalty(ctx context.Context, tx Tx, p *Payment) (*WalletEntry, error) {
	entry := &WalletEntry{
		VendorID:    types.Deref(p.VendorID),
		Type:        EntryDebit,
		Amount:      p.Amount,
		PaymentID:   p.ID.Ptr(),
		Description: "penalty: " + p.Reason,
	}
	if err := tx.ApplyVendorEntry(ctx, entry); err != nil {
		return nil, err
	}
	now := s.now()
	if err := tx.SetPaymentStatus(ctx, p.ID, PaymentCompleted, now); err != nil {
		return nil, err
	}
	p.Status = PaymentCompleted
	p.UpdatedAt = now
	return entry, nil
}
