// README: Vendor and partner wallet mutations; every balance change appends its ledger row in the same transaction.
package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"cabmarket/internal/apperr"
	"cabmarket/internal/infra"
	"cabmarket/internal/types"
)

var (
	ErrVendorNotFound  = apperr.New(apperr.KindNotFound, "vendor_not_found", "vendor not found")
	ErrPartnerNotFound = apperr.New(apperr.KindNotFound, "partner_not_found", "partner not found")
	ErrInvalidAmount   = apperr.New(apperr.KindValidation, "invalid_amount", "amount must be positive")
)

type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// WalletEntry is one row of the append-only vendor wallet ledger.
type WalletEntry struct {
	ID            types.ID    `json:"id"`
	VendorID      types.ID    `json:"vendor_id"`
	Type          EntryType   `json:"type"`
	Amount        types.Money `json:"amount"`
	BalanceAfter  types.Money `json:"balance_after"`
	PaymentID     *types.ID   `json:"payment_id,omitempty"`
	TransactionID *types.ID   `json:"transaction_id,omitempty"`
	Description   string      `json:"description"`
	// Earning also bumps total_earnings (vendor payouts).
	Earning   bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// signed returns the balance delta of e.
func (e *WalletEntry) signed() int64 {
	if e.Type == EntryDebit {
		return -e.Amount.Amount
	}
	return e.Amount.Amount
}

// ApplyVendorEntry locks the vendor row, moves the balance and appends the ledger row.
// q must be a transaction. Debits may take the balance below zero.
func ApplyVendorEntry(ctx context.Context, q infra.Querier, e *WalletEntry) error {
	if e.Amount.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.Type != EntryCredit && e.Type != EntryDebit {
		return apperr.Validation("unknown wallet entry type")
	}
	var balance int64
	err := q.QueryRow(ctx, `SELECT amount FROM vendors WHERE id = $1 FOR UPDATE`, string(e.VendorID)).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrVendorNotFound
	}
	if err != nil {
		return err
	}

	next := balance + e.signed()
	earned := int64(0)
	if e.Earning && e.Type == EntryCredit {
		earned = e.Amount.Amount
	}
	if _, err := q.Exec(ctx, `
		UPDATE vendors SET amount = $2, total_earnings = total_earnings + $3 WHERE id = $1`,
		string(e.VendorID), next, earned,
	); err != nil {
		return err
	}

	if e.ID.Empty() {
		e.ID = types.NewID()
	}
	e.BalanceAfter = types.NewMoney(next, e.Amount.Currency)
	return q.QueryRow(ctx, `
		INSERT INTO vendor_wallet_transactions
			(id, vendor_id, type, amount, balance_after, payment_id, transaction_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		string(e.ID), string(e.VendorID), string(e.Type), e.Amount.Amount, next,
		idPtr(e.PaymentID), idPtr(e.TransactionID), e.Description,
	).Scan(&e.CreatedAt)
}

// CreditPartner moves a partner commission into the partner's balance and lifetime earnings.
func CreditPartner(ctx context.Context, q infra.Querier, partnerID types.ID, amount types.Money) (types.Money, error) {
	if amount.Amount <= 0 {
		return types.Money{}, ErrInvalidAmount
	}
	var balance int64
	err := q.QueryRow(ctx, `
		UPDATE partners SET amount = amount + $2, total_earnings = total_earnings + $2
		WHERE id = $1
		RETURNING amount`, string(partnerID), amount.Amount,
	).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.Money{}, ErrPartnerNotFound
	}
	if err != nil {
		return types.Money{}, err
	}
	return types.NewMoney(balance, amount.Currency), nil
}

func idPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
