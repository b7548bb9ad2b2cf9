// Package normalizer maps raw exchange payloads into canonical domain entities.
// Every function is pure: no I/O, no shared state. Malformed input yields a
// normalization error instead of a partially filled entity.
package normalizer

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/exgate/internal/domain"
)

var (
	// ErrMissingField is returned when a required field is absent.
	ErrMissingField = errors.New("required field is missing")
	// ErrBadNumber is returned for values that are not decimal numbers.
	ErrBadNumber = errors.New("malformed number")
)

var hundred = decimal.NewFromInt(100)

// required parses a mandatory decimal field.
func required(field, value string) (decimal.Decimal, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return decimal.Zero, errors.Wrap(ErrMissingField, field)
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, errors.Wrapf(ErrBadNumber, "%s=%q", field, value)
	}
	return d, nil
}

// optional parses a decimal field that may be absent, absent means zero.
func optional(field, value string) (decimal.Decimal, error) {
	if strings.TrimSpace(value) == "" {
		return decimal.Zero, nil
	}
	return required(field, value)
}

// fields parses a list of name/value pairs with one error path.
type fields struct {
	err error
}

func (f *fields) req(name, value string) decimal.Decimal {
	if f.err != nil {
		return decimal.Zero
	}
	d, err := required(name, value)
	f.err = err
	return d
}

func (f *fields) opt(name, value string) decimal.Decimal {
	if f.err != nil {
		return decimal.Zero
	}
	d, err := optional(name, value)
	f.err = err
	return d
}

// balance builds a validated balance from free and locked amounts.
func balance(ex domain.ExchangeID, currency, free, locked string) (domain.Balance, error) {
	var f fields
	fr := f.opt("free", free)
	lk := f.opt("locked", locked)
	if f.err != nil {
		return domain.Balance{}, domain.NormalizationError(ex, "balance", errors.Wrap(f.err, currency))
	}
	b, err := domain.NewBalance(strings.ToUpper(currency), fr, lk)
	if err != nil {
		return domain.Balance{}, domain.NormalizationError(ex, "balance", err)
	}
	return b, nil
}

// balanceWithTotal builds a balance from a venue that reports all three amounts.
func balanceWithTotal(ex domain.ExchangeID, currency, free, locked, total string) (domain.Balance, error) {
	var f fields
	fr := f.opt("free", free)
	lk := f.opt("locked", locked)
	tt := f.req("total", total)
	if f.err != nil {
		return domain.Balance{}, domain.NormalizationError(ex, "balance", errors.Wrap(f.err, currency))
	}
	b, err := domain.NewBalanceWithTotal(strings.ToUpper(currency), fr, lk, tt)
	if err != nil {
		return domain.Balance{}, domain.NormalizationError(ex, "balance", err)
	}
	return b, nil
}

// NonEmpty drops zero balances.
func NonEmpty(balances []domain.Balance) []domain.Balance {
	out := balances[:0]
	for _, b := range balances {
		if !b.IsEmpty() {
			out = append(out, b)
		}
	}
	return out
}

// tickerInput is the common shape every venue ticker is reduced to.
type tickerInput struct {
	last, change, percent, volume, high, low string
	// open is used to derive change and percent when the venue omits them.
	open string
	// percentIsRatio marks venues reporting 0.0123 for 1.23%.
	percentIsRatio bool
	observedMs     int64
}

func ticker(ex domain.ExchangeID, pair domain.Pair, in tickerInput, now time.Time) (*domain.Ticker, error) {
	var f fields
	last := f.req("lastPrice", in.last)
	volume := f.opt("volume", in.volume)
	high := f.opt("high", in.high)
	low := f.opt("low", in.low)
	change := f.opt("priceChange", in.change)
	percent := f.opt("priceChangePercent", in.percent)
	open := f.opt("open", in.open)
	if f.err != nil {
		return nil, domain.NormalizationError(ex, "ticker", errors.Wrap(f.err, pair.String()))
	}
	if last.IsNegative() || volume.IsNegative() || high.IsNegative() || low.IsNegative() {
		return nil, domain.NormalizationError(ex, "ticker", errors.Wrap(ErrNegative, pair.String()))
	}

	if in.change == "" && in.open != "" {
		change = last.Sub(open)
	}
	if in.percent == "" && in.open != "" && open.IsPositive() {
		percent = last.Sub(open).Div(open).Mul(hundred)
	} else if in.percentIsRatio {
		percent = percent.Mul(hundred)
	}

	observed := now
	if in.observedMs > 0 {
		observed = time.UnixMilli(in.observedMs).UTC()
	}

	return &domain.Ticker{
		Exchange:         ex,
		Symbol:           pair.String(),
		LastPrice:        last,
		Change24h:        change,
		Change24hPercent: percent,
		Volume24h:        volume,
		High24h:          high,
		Low24h:           low,
		ObservedAt:       observed,
	}, nil
}

// ErrNegative is returned for prices or volumes below zero.
var ErrNegative = errors.New("negative price or volume")

// order fills the canonical order from the submitted params and the venue's id.
func order(ex domain.ExchangeID, params domain.OrderParams, orderID, clientID string, status domain.OrderStatus, createdAt time.Time) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.NormalizationError(ex, "order", errors.Wrap(ErrMissingField, "orderId"))
	}
	pair, err := domain.ParseSymbol(params.Symbol)
	if err != nil {
		return domain.Order{}, domain.NormalizationError(ex, "order", err)
	}
	if clientID == "" {
		clientID = params.ClientOrderID
	}
	o := domain.Order{
		Exchange:      ex,
		OrderID:       orderID,
		ClientOrderID: clientID,
		Symbol:        pair.String(),
		Side:          params.Side,
		Type:          params.Type,
		Quantity:      params.Quantity,
		Status:        status,
		CreatedAt:     createdAt.UTC(),
	}
	if params.Type == domain.OrderTypeLimit {
		o.Price = params.Price
	}
	return o, nil
}

func msOrNow(ms int64, now time.Time) time.Time {
	if ms > 0 {
		return time.UnixMilli(ms).UTC()
	}
	return now.UTC()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
