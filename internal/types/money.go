// README: Money value object in whole currency units with integer-safe percentage splits.
package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const DefaultCurrency = "INR"

type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func NewMoney(amount int64, currency string) Money {
	if currency == "" {
		currency = DefaultCurrency
	}
	return Money{Amount: amount, Currency: currency}
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.NewFromInt(m.Amount)
}

func (m Money) IsZero() bool { return m.Amount == 0 }

func (m Money) Add(o Money) Money {
	return Money{Amount: m.Amount + o.Amount, Currency: m.currency(o)}
}

func (m Money) Sub(o Money) Money {
	return Money{Amount: m.Amount - o.Amount, Currency: m.currency(o)}
}

// Percent returns floor(amount * pct / 100).
func (m Money) Percent(pct int64) Money {
	v := m.Decimal().Mul(decimal.NewFromInt(pct)).Div(decimal.NewFromInt(100)).Floor()
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

// SplitPercent returns the pct share and the remainder; share+rest == m.
func (m Money) SplitPercent(pct int64) (share, rest Money) {
	share = m.Percent(pct)
	rest = m.Sub(share)
	return share, rest
}

// MulDecimal multiplies by a fractional factor and rounds half-up to a whole unit.
func (m Money) MulDecimal(f decimal.Decimal) Money {
	v := m.Decimal().Mul(f).Round(0)
	return Money{Amount: v.IntPart(), Currency: m.Currency}
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}

func (m Money) currency(o Money) string {
	if m.Currency != "" {
		return m.Currency
	}
	return o.Currency
}
