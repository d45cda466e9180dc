package statement

import (
	"context"
	"log/slog"
	"time"

	"cabmarket/internal/apperr"
	"cabmarket/internal/modules/settlement"
	"cabmarket/internal/types"
)

var (
	ErrVendorNotFound  = apperr.New(apperr.KindNotFound, "vendor_not_found", "vendor not found")
	ErrPartnerNotFound = apperr.New(apperr.KindNotFound, "partner_not_found", "partner not found")
	ErrInvalidPeriod   = apperr.New(apperr.KindValidation, "invalid_period", "period end must be after its start")
	ErrInvalidStatus   = apperr.New(apperr.KindValidation, "invalid_status", "unknown dispute status")
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

type Service struct {
	store    *Store
	currency string
	log      *slog.Logger
	now      func() time.Time
}

func NewService(store *Store, currency string, log *slog.Logger) *Service {
	if currency == "" {
		currency = types.DefaultCurrency
	}
	return &Service{store: store, currency: currency, log: log, now: time.Now}
}

// VendorLedger returns the newest wallet rows and whether the newest balance_after equals the vendor balance.
func (s *Service) VendorLedger(ctx context.Context, vendorID types.ID, limit int) (*Ledger, error) {
	balance, _, err := s.store.VendorBalance(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.LedgerEntries(ctx, vendorID, clamp(limit), s.currency)
	if err != nil {
		return nil, err
	}
	latest, ok, err := s.store.LatestBalance(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	reconciles := (ok && latest == balance) || (!ok && balance == 0)
	if !reconciles {
		s.log.WarnContext(ctx, "wallet ledger out of balance", "vendor_id", vendorID,
			"balance", balance, "ledger_balance", latest, "has_rows", ok)
	}
	return &Ledger{
		VendorID:   vendorID,
		Balance:    types.NewMoney(balance, s.currency),
		Entries:    entries,
		Reconciles: reconciles,
	}, nil
}

// VendorEarnings sums the completed trips archived in p. A zero period covers everything up to now.
func (s *Service) VendorEarnings(ctx context.Context, vendorID types.ID, p Period) (*Earnings, error) {
	if p.To.IsZero() {
		p.To = s.now()
	}
	if p.From.IsZero() {
		p.From = time.Unix(0, 0).UTC()
	}
	if !p.To.After(p.From) {
		return nil, ErrInvalidPeriod
	}
	_, total, err := s.store.VendorBalance(ctx, vendorID)
	if err != nil {
		return nil, err
	}
	trips, err := s.store.CompletedTrips(ctx, vendorID, p)
	if err != nil {
		return nil, err
	}
	paid, err := s.store.PaidForPeriod(ctx, vendorID, p)
	if err != nil {
		return nil, err
	}

	var gross, admin, share int64
	for _, t := range trips {
		a, v := settlement.CompletionSplit(types.NewMoney(t.Price, s.currency))
		if t.AdminCommission != nil && t.VendorShare != nil {
			a.Amount, v.Amount = *t.AdminCommission, *t.VendorShare
		}
		gross += t.Price
		admin += a.Amount
		share += v.Amount
	}
	unpaid := share - paid
	if unpaid < 0 {
		unpaid = 0
	}
	return &Earnings{
		VendorID:        vendorID,
		Period:          p,
		Trips:           len(trips),
		Gross:           types.NewMoney(gross, s.currency),
		AdminCommission: types.NewMoney(admin, s.currency),
		VendorShare:     types.NewMoney(share, s.currency),
		Paid:            types.NewMoney(paid, s.currency),
		Unpaid:          types.NewMoney(unpaid, s.currency),
		TotalEarnings:   types.NewMoney(total, s.currency),
	}, nil
}

func (s *Service) PartnerStatement(ctx context.Context, partnerID types.ID, limit int) (*PartnerStatement, error) {
	balance, total, err := s.store.PartnerBalance(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	commissions, err := s.store.PartnerCommissions(ctx, partnerID, clamp(limit), s.currency)
	if err != nil {
		return nil, err
	}
	var pending int64
	for _, c := range commissions {
		if c.Status == "pending" {
			pending += c.Amount.Amount
		}
	}
	return &PartnerStatement{
		PartnerID:     partnerID,
		Balance:       types.NewMoney(balance, s.currency),
		TotalEarnings: types.NewMoney(total, s.currency),
		Pending:       types.NewMoney(pending, s.currency),
		Commissions:   commissions,
	}, nil
}

func (s *Service) Disputes(ctx context.Context, status string, limit int) ([]DisputeRow, error) {
	if status != "" && status != string(settlement.DisputePending) {
		if _, ok := settlement.ParseDecision(status); !ok {
			return nil, ErrInvalidStatus
		}
	}
	return s.store.Disputes(ctx, status, clamp(limit), s.currency)
}

func clamp(limit int) int {
	switch {
	case limit <= 0:
		return defaultLimit
	case limit > maxLimit:
		return maxLimit
	}
	return limit
}
