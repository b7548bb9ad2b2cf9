package normalizer

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// CryptoComBalances is result of private/user-balance.
type CryptoComBalances struct {
	Data []struct {
		PositionBalances []CryptoComPosition `json:"position_balances"`
	} `json:"data"`
}

// CryptoComPosition is one instrument of the wallet.
type CryptoComPosition struct {
	InstrumentName string `json:"instrument_name"`
	Quantity       string `json:"quantity"`
	ReservedQty    string `json:"reserved_qty"`
}

// CryptoComTicker is an element of public/get-tickers and ticker.<instrument> data.
type CryptoComTicker struct {
	Instrument string `json:"i"`
	High       string `json:"h"`
	Low        string `json:"l"`
	Last       string `json:"a"`
	Volume     string `json:"v"`
	// Change is the 24h change as a ratio.
	Change    string `json:"c"`
	Timestamp int64  `json:"t"`
}

// CryptoComOrderResult is result of private/create-order.
type CryptoComOrderResult struct {
	OrderID   string `json:"order_id"`
	ClientOID string `json:"client_oid"`
}

// CryptoComBalancesOf maps user balances. quantity is the total, reserved_qty the locked part.
func CryptoComBalancesOf(res *CryptoComBalances) ([]domain.Balance, error) {
	if res == nil {
		return nil, domain.NormalizationError(domain.CryptoCom, "balance", errors.Wrap(ErrMissingField, "result"))
	}
	var out []domain.Balance
	for _, d := range res.Data {
		for _, p := range d.PositionBalances {
			var f fields
			total := f.req("quantity", p.Quantity)
			reserved := f.opt("reserved_qty", p.ReservedQty)
			if f.err != nil {
				return nil, domain.NormalizationError(domain.CryptoCom, "balance", errors.Wrap(f.err, p.InstrumentName))
			}
			b, err := domain.NewBalanceWithTotal(p.InstrumentName, total.Sub(reserved), reserved, total)
			if err != nil {
				return nil, domain.NormalizationError(domain.CryptoCom, "balance", err)
			}
			out = append(out, b)
		}
	}
	return NonEmpty(out), nil
}

// CryptoComTickerOf maps a ticker. The absolute change is derived from the ratio:
// change = last - last/(1+c).
func CryptoComTickerOf(t *CryptoComTicker, pair domain.Pair, now time.Time) (*domain.Ticker, error) {
	if t == nil {
		return nil, domain.NormalizationError(domain.CryptoCom, "ticker", errors.Wrap(ErrMissingField, "ticker"))
	}
	tk, err := ticker(domain.CryptoCom, pair, tickerInput{
		last:           t.Last,
		percent:        t.Change,
		percentIsRatio: true,
		volume:         t.Volume,
		high:           t.High,
		low:            t.Low,
		observedMs:     t.Timestamp,
	}, now)
	if err != nil {
		return nil, err
	}
	ratio := tk.Change24hPercent.Div(hundred)
	if denom := decimal.NewFromInt(1).Add(ratio); denom.IsPositive() {
		tk.Change24h = tk.LastPrice.Sub(tk.LastPrice.Div(denom)).Round(8)
	}
	return tk, nil
}

// CryptoComOrder maps the create-order result.
func CryptoComOrder(res *CryptoComOrderResult, params domain.OrderParams, now time.Time) (domain.Order, error) {
	if res == nil {
		return domain.Order{}, domain.NormalizationError(domain.CryptoCom, "order", errors.Wrap(ErrMissingField, "result"))
	}
	return order(domain.CryptoCom, params, res.OrderID, res.ClientOID, domain.OrderStatusSubmitted, now)
}
