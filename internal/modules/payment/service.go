// README: Payment order manager: quotes and opens gateway orders, converts verified payments into bookings exactly once.
package payment

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"cabmarket/internal/apperr"
	"cabmarket/internal/gateway"
	"cabmarket/internal/modules/booking"
	"cabmarket/internal/modules/fleet"
	"cabmarket/internal/modules/pricing"
	"cabmarket/internal/modules/settlement"
	"cabmarket/internal/types"
)

var (
	ErrBadRequest         = apperr.New(apperr.KindValidation, "bad_request", "bad request")
	ErrInvalidSignature   = apperr.New(apperr.KindSignatureInvalid, "invalid_signature", "payment signature verification failed")
	ErrAlreadyProcessed   = apperr.New(apperr.KindConflict, "already_processed", "payment already processed or not found")
	ErrVehicleNotFound    = apperr.New(apperr.KindNotFound, "vehicle_not_found", "vehicle not found")
	ErrVehicleUnavailable = apperr.New(apperr.KindConflict, "vehicle_unavailable", "vehicle is already booked for this window")
	ErrNotFound           = apperr.New(apperr.KindNotFound, "transaction_not_found", "transaction not found")
)

// Tx is the unit of work used when a verified payment is consumed.
type Tx interface {
	ConsumePending(ctx context.Context, c Consume) (*Transaction, bool, error)
	InsertBooking(ctx context.Context, b *booking.Booking) error
	LinkBooking(ctx context.Context, transactionID, bookingID types.ID) error
	InsertPartnerTransaction(ctx context.Context, pt *PartnerTransaction) error
	ApplyWalletEntry(ctx context.Context, e *settlement.WalletEntry) error
}

type Repository interface {
	InTx(ctx context.Context, fn func(Tx) error) error
	GetVehicle(ctx context.Context, id types.ID) (*fleet.Vehicle, error)
	VehicleBusy(ctx context.Context, id types.ID, w fleet.Window) (bool, error)
	InsertTransaction(ctx context.Context, t *Transaction) error
	GetTransaction(ctx context.Context, id types.ID) (*Transaction, error)
	// ApplyGatewayEvent records the webhook outcome by gateway order id; false means no such order.
	ApplyGatewayEvent(ctx context.Context, ev gateway.WebhookEvent, at time.Time) (bool, error)
	FailStalePending(ctx context.Context, before time.Time, limit int) ([]types.ID, error)
	ListCapturedPending(ctx context.Context, before time.Time, limit int) ([]Transaction, error)
}

// Deduper reports whether a webhook delivery id is seen for the first time.
// Deduper remembers webhook delivery ids. Forget releases an id whose processing failed
// so the gateway's redelivery is applied.
type Deduper interface {
	FirstSeen(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type Publisher interface {
	Publish(ctx context.Context, b *booking.Booking) error
}

type CreatedNotifier interface {
	BookingCreated(ctx context.Context, b *booking.Booking)
}

type Service struct {
	repo     Repository
	gw       gateway.Gateway
	pricing  *pricing.Service
	board    Publisher
	dedupe   Deduper
	notifier CreatedNotifier
	currency string
	log      *slog.Logger
	now      func() time.Time
	newOTP   func() (string, error)
}

type Options struct {
	Board    Publisher
	Deduper  Deduper
	Notifier CreatedNotifier
	Currency string
}

func NewService(repo Repository, gw gateway.Gateway, log *slog.Logger, opts Options) *Service {
	currency := opts.Currency
	if currency == "" {
		currency = types.DefaultCurrency
	}
	return &Service{
		repo:     repo,
		gw:       gw,
		pricing:  pricing.NewService(),
		board:    opts.Board,
		dedupe:   opts.Deduper,
		notifier: opts.Notifier,
		currency: currency,
		log:      log,
		now:      time.Now,
		newOTP:   booking.NewOTP,
	}
}

// CreateOrder prices the trip and opens a gateway order. No booking is created here.
func (s *Service) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (*OrderResult, error) {
	if cmd.CustomerID.Empty() || cmd.VehicleID.Empty() ||
		strings.TrimSpace(cmd.PickupLocation) == "" || strings.TrimSpace(cmd.DropLocation) == "" {
		return nil, ErrBadRequest
	}
	window := fleet.Window{From: cmd.PickupDate, To: cmd.DropDate}
	if !window.Valid() {
		return nil, pricing.ErrInvalidWindow
	}

	vehicle, err := s.repo.GetVehicle(ctx, cmd.VehicleID)
	if errors.Is(err, fleet.ErrNotFound) {
		return nil, ErrVehicleNotFound
	}
	if err != nil {
		return nil, err
	}
	if !vehicle.Active {
		return nil, ErrVehicleUnavailable
	}
	busy, err := s.repo.VehicleBusy(ctx, vehicle.ID, window)
	if err != nil {
		return nil, err
	}
	if busy {
		s.log.InfoContext(ctx, "create order rejected, vehicle window taken", "vehicle_id", vehicle.ID, "customer_id", cmd.CustomerID)
		return nil, ErrVehicleUnavailable
	}

	fare, err := s.pricing.Estimate(pricing.FareRequest{
		DistanceKm:  cmd.DistanceKm,
		PerKmCharge: vehicle.PerKmCharge,
		PickupDate:  cmd.PickupDate,
		DropDate:    cmd.DropDate,
	})
	if err != nil {
		return nil, err
	}
	price := types.NewMoney(fare.Total.Amount, s.currency)

	quote := &booking.Quote{
		CustomerID:     cmd.CustomerID,
		VehicleID:      vehicle.ID,
		PartnerID:      cmd.PartnerID.Ptr(),
		PickupLocation: cmd.PickupLocation,
		DropLocation:   cmd.DropLocation,
		PickupDate:     cmd.PickupDate,
		DropDate:       cmd.DropDate,
		Path:           cmd.Path,
		DistanceKm:     cmd.DistanceKm.Round(2),
		PerKmCharge:    vehicle.PerKmCharge,
		MinSeats:       vehicle.Seats,
		Price:          price,
	}

	txID := types.NewID()
	order, err := s.gw.CreateOrder(ctx, gateway.OrderRequest{
		Amount:  price,
		Receipt: string(txID),
		Notes:   map[string]string{"transaction_id": string(txID), "purpose": string(PurposeBooking)},
	})
	if err != nil {
		s.log.ErrorContext(ctx, "gateway create order failed", "transaction_id", txID, "error", err)
		return nil, asUpstream(s.gw.Name(), err)
	}

	now := s.now()
	t := &Transaction{
		ID:             txID,
		Purpose:        PurposeBooking,
		CustomerID:     cmd.CustomerID.Ptr(),
		PartnerID:      cmd.PartnerID.Ptr(),
		GatewayOrderID: order.ID,
		GatewayStatus:  GatewayCreated,
		Amount:         price,
		Status:         StatusPending,
		Quote:          quote,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.repo.InsertTransaction(ctx, t); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "payment order created",
		"transaction_id", txID, "order_id", order.ID, "customer_id", cmd.CustomerID, "amount", price.Amount)

	return &OrderResult{
		OrderID:       order.ID,
		Amount:        price,
		TransactionID: txID,
		Provider:      s.gw.Name(),
		ClientSecret:  order.ClientSecret,
		Quote:         quote,
	}, nil
}

// VerifyAndCreateBooking consumes a pending booking transaction and creates its booking.
// Replays fail with ErrAlreadyProcessed and create nothing.
func (s *Service) VerifyAndCreateBooking(ctx context.Context, cmd VerifyCommand) (*booking.Booking, error) {
	t, err := s.verify(ctx, PurposeBooking, cmd)
	if err != nil {
		return nil, err
	}

	otp, err := s.newOTP()
	if err != nil {
		return nil, err
	}

	var created *booking.Booking
	err = s.repo.InTx(ctx, func(tx Tx) error {
		now := s.now()
		consumed, ok, err := tx.ConsumePending(ctx, Consume{
			TransactionID: t.ID,
			Purpose:       PurposeBooking,
			OwnerID:       cmd.OwnerID,
			PaymentID:     cmd.Proof.PaymentID,
			At:            now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyProcessed
		}
		if consumed.Quote == nil {
			return apperr.Internal(errors.New("booking transaction has no quote snapshot"))
		}

		b := booking.NewFromQuote(types.NewID(), *consumed.Quote, otp, consumed.ID, now)
		if err := tx.InsertBooking(ctx, b); err != nil {
			return err
		}
		if err := tx.LinkBooking(ctx, consumed.ID, b.ID); err != nil {
			return err
		}
		if b.PartnerID != nil {
			if err := tx.InsertPartnerTransaction(ctx, &PartnerTransaction{
				ID:        types.NewID(),
				PartnerID: *b.PartnerID,
				BookingID: b.ID,
				Amount:    settlement.PartnerCommission(b.Price),
				Status:    PartnerPending,
				CreatedAt: now,
			}); err != nil {
				return err
			}
		}
		created = b
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			s.log.WarnContext(ctx, "payment replay rejected", "transaction_id", cmd.TransactionID)
		}
		return nil, err
	}

	s.log.InfoContext(ctx, "booking created from payment",
		"booking_id", created.ID, "transaction_id", t.ID, "customer_id", created.CustomerID)
	if s.board != nil {
		if err := s.board.Publish(ctx, created); err != nil {
			s.log.WarnContext(ctx, "dispatch board publish failed", "booking_id", created.ID, "error", err)
		}
	}
	if s.notifier != nil {
		s.notifier.BookingCreated(ctx, created)
	}
	return created, nil
}

// CreateRecharge opens a gateway order that tops up a vendor wallet once verified.
func (s *Service) CreateRecharge(ctx context.Context, cmd RechargeCommand) (*OrderResult, error) {
	if cmd.VendorID.Empty() {
		return nil, ErrBadRequest
	}
	if cmd.Amount <= 0 {
		return nil, settlement.ErrInvalidAmount
	}
	amount := types.NewMoney(cmd.Amount, s.currency)
	txID := types.NewID()
	order, err := s.gw.CreateOrder(ctx, gateway.OrderRequest{
		Amount:  amount,
		Receipt: string(txID),
		Notes:   map[string]string{"transaction_id": string(txID), "purpose": string(PurposeRecharge)},
	})
	if err != nil {
		s.log.ErrorContext(ctx, "gateway create recharge order failed", "vendor_id", cmd.VendorID, "error", err)
		return nil, asUpstream(s.gw.Name(), err)
	}
	now := s.now()
	if err := s.repo.InsertTransaction(ctx, &Transaction{
		ID:             txID,
		Purpose:        PurposeRecharge,
		VendorID:       cmd.VendorID.Ptr(),
		GatewayOrderID: order.ID,
		GatewayStatus:  GatewayCreated,
		Amount:         amount,
		Status:         StatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}); err != nil {
		return nil, err
	}
	return &OrderResult{
		OrderID:       order.ID,
		Amount:        amount,
		TransactionID: txID,
		Provider:      s.gw.Name(),
		ClientSecret:  order.ClientSecret,
	}, nil
}

// VerifyRecharge consumes a pending recharge and credits the vendor wallet with its ledger row.
func (s *Service) VerifyRecharge(ctx context.Context, cmd VerifyCommand) (*RechargeResult, error) {
	t, err := s.verify(ctx, PurposeRecharge, cmd)
	if err != nil {
		return nil, err
	}

	var out RechargeResult
	err = s.repo.InTx(ctx, func(tx Tx) error {
		consumed, ok, err := tx.ConsumePending(ctx, Consume{
			TransactionID: t.ID,
			Purpose:       PurposeRecharge,
			OwnerID:       cmd.OwnerID,
			PaymentID:     cmd.Proof.PaymentID,
			At:            s.now(),
		})
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyProcessed
		}
		entry := &settlement.WalletEntry{
			VendorID:      cmd.OwnerID,
			Type:          settlement.EntryCredit,
			Amount:        consumed.Amount,
			TransactionID: consumed.ID.Ptr(),
			Description:   "wallet recharge",
		}
		if err := tx.ApplyWalletEntry(ctx, entry); err != nil {
			return err
		}
		out = RechargeResult{TransactionID: consumed.ID, Amount: consumed.Amount, Balance: entry.BalanceAfter}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "wallet recharged",
		"vendor_id", cmd.OwnerID, "transaction_id", out.TransactionID, "amount", out.Amount.Amount, "balance", out.Balance.Amount)
	return &out, nil
}

// verify checks the gateway proof against the stored order id, then that the
// transaction is still pending for this owner. Signature failures win over replays.
func (s *Service) verify(ctx context.Context, purpose Purpose, cmd VerifyCommand) (*Transaction, error) {
	if cmd.OwnerID.Empty() || cmd.TransactionID.Empty() {
		return nil, ErrBadRequest
	}
	t, err := s.repo.GetTransaction(ctx, cmd.TransactionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	proof := cmd.Proof
	if t != nil {
		if proof.OrderID != "" && proof.OrderID != t.GatewayOrderID {
			return nil, ErrInvalidSignature
		}
		proof.OrderID = t.GatewayOrderID
	}
	if err := s.gw.VerifyPayment(ctx, proof); err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			s.log.WarnContext(ctx, "payment signature rejected", "transaction_id", cmd.TransactionID, "order_id", proof.OrderID)
			return nil, ErrInvalidSignature
		}
		return nil, asUpstream(s.gw.Name(), err)
	}

	if t == nil || t.Status != StatusPending || !t.OwnedBy(purpose, cmd.OwnerID) {
		return nil, ErrAlreadyProcessed
	}
	return t, nil
}

// HandleWebhook records gateway-reported capture or failure. Safe to apply any number of times.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) error {
	ev, err := s.gw.ParseWebhook(body, signature)
	if err != nil {
		if errors.Is(err, gateway.ErrSignatureInvalid) {
			s.log.WarnContext(ctx, "webhook signature rejected", "provider", s.gw.Name())
			return ErrInvalidSignature
		}
		return err
	}
	if ev.Kind == gateway.EventIgnored {
		s.log.DebugContext(ctx, "webhook event ignored", "event", ev.Name)
		return nil
	}

	claimed := false
	if s.dedupe != nil {
		first, err := s.dedupe.FirstSeen(ctx, ev.ID)
		switch {
		case err != nil:
			s.log.WarnContext(ctx, "webhook dedupe unavailable", "event_id", ev.ID, "error", err)
		case !first:
			s.log.InfoContext(ctx, "duplicate webhook delivery", "event_id", ev.ID)
			return nil
		default:
			claimed = true
		}
	}

	matched, err := s.repo.ApplyGatewayEvent(ctx, *ev, s.now())
	if err != nil {
		if claimed {
			if ferr := s.dedupe.Forget(ctx, ev.ID); ferr != nil {
				s.log.WarnContext(ctx, "webhook dedupe release failed", "event_id", ev.ID, "error", ferr)
			}
		}
		return err
	}
	if !matched {
		s.log.WarnContext(ctx, "webhook for unknown order", "order_id", ev.OrderID, "event", ev.Name)
		return nil
	}
	s.log.InfoContext(ctx, "webhook applied", "order_id", ev.OrderID, "payment_id", ev.PaymentID, "kind", ev.Kind)
	return nil
}

// ExpirePending fails abandoned pending transactions older than ttl. Captured ones are
// left pending and reported, since money moved without a verify call.
func (s *Service) ExpirePending(ctx context.Context, ttl time.Duration, batch int) (int, error) {
	before := s.now().Add(-ttl)
	ids, err := s.repo.FailStalePending(ctx, before, batch)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.log.InfoContext(ctx, "pending transaction expired", "transaction_id", id)
	}
	orphans, err := s.repo.ListCapturedPending(ctx, before, batch)
	if err != nil {
		return len(ids), err
	}
	for _, t := range orphans {
		s.log.WarnContext(ctx, "captured payment never verified",
			"transaction_id", t.ID, "order_id", t.GatewayOrderID, "purpose", t.Purpose, "amount", t.Amount.Amount)
	}
	return len(ids), nil
}

func (s *Service) GetTransaction(ctx context.Context, caller booking.Caller, id types.ID) (*Transaction, error) {
	t, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	if caller.Role != types.RoleAdmin &&
		types.Deref(t.CustomerID) != caller.ID && types.Deref(t.VendorID) != caller.ID {
		return nil, ErrNotFound
	}
	return t, nil
}

func asUpstream(provider string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Upstream(provider, err)
}
