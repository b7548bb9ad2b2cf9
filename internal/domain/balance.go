package domain

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// Balance of one currency on one exchange. Total == Free + Locked, all non-negative.
type Balance struct {
	Currency string          `json:"currency"`
	Free     decimal.Decimal `json:"free"`
	Locked   decimal.Decimal `json:"locked"`
	Total    decimal.Decimal `json:"total"`
}

var (
	ErrNegativeAmount = errors.New("amount is negative")
	ErrTotalMismatch  = errors.New("total does not equal free + locked")
	ErrEmptyCurrency  = errors.New("currency code is empty")
)

// NewBalance builds a balance from free and locked amounts.
func NewBalance(currency string, free, locked decimal.Decimal) (Balance, error) {
	b := Balance{Currency: currency, Free: free, Locked: locked, Total: free.Add(locked)}
	if err := b.Validate(); err != nil {
		return Balance{}, err
	}
	return b, nil
}

// NewBalanceWithTotal builds a balance from a venue that reports all three amounts
// and rejects it when they disagree.
func NewBalanceWithTotal(currency string, free, locked, total decimal.Decimal) (Balance, error) {
	b := Balance{Currency: currency, Free: free, Locked: locked, Total: total}
	if err := b.Validate(); err != nil {
		return Balance{}, err
	}
	return b, nil
}

// Validate checks the balance invariants.
func (b Balance) Validate() error {
	if b.Currency == "" {
		return ErrEmptyCurrency
	}
	for name, v := range map[string]decimal.Decimal{"free": b.Free, "locked": b.Locked, "total": b.Total} {
		if v.IsNegative() {
			return errors.Wrapf(ErrNegativeAmount, "%s %s=%s", b.Currency, name, v.String())
		}
	}
	if !b.Free.Add(b.Locked).Equal(b.Total) {
		return errors.Wrapf(ErrTotalMismatch, "%s: %s + %s != %s", b.Currency, b.Free, b.Locked, b.Total)
	}
	return nil
}

// IsEmpty reports a zero balance.
func (b Balance) IsEmpty() bool {
	return b.Total.IsZero()
}
