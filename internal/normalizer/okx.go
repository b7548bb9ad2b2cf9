package normalizer

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// OKXAccount is an element of /api/v5/account/balance data.
type OKXAccount struct {
	Details []OKXBalanceDetail `json:"details"`
}

// OKXBalanceDetail is a per currency line.
type OKXBalanceDetail struct {
	Ccy       string `json:"ccy"`
	AvailBal  string `json:"availBal"`
	FrozenBal string `json:"frozenBal"`
}

// OKXTicker is an element of /api/v5/market/ticker data and of the tickers channel.
type OKXTicker struct {
	InstID  string `json:"instId"`
	Last    string `json:"last"`
	Open24h string `json:"open24h"`
	High24h string `json:"high24h"`
	Low24h  string `json:"low24h"`
	Vol24h  string `json:"vol24h"`
	Ts      string `json:"ts"`
}

// OKXOrderAck is an element of /api/v5/trade/order and cancel-order data.
type OKXOrderAck struct {
	OrdID   string `json:"ordId"`
	ClOrdID string `json:"clOrdId"`
	SCode   string `json:"sCode"`
	SMsg    string `json:"sMsg"`
	Ts      string `json:"ts"`
}

// OKXBalances maps the account balance data.
func OKXBalances(accounts []OKXAccount) ([]domain.Balance, error) {
	var out []domain.Balance
	for _, acc := range accounts {
		for _, d := range acc.Details {
			b, err := balance(domain.OKX, d.Ccy, d.AvailBal, d.FrozenBal)
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}
	return NonEmpty(out), nil
}

// OKXTickerOf maps a ticker. OKX reports open24h, change is derived from it.
func OKXTickerOf(t *OKXTicker, pair domain.Pair, now time.Time) (*domain.Ticker, error) {
	if t == nil {
		return nil, domain.NormalizationError(domain.OKX, "ticker", errors.Wrap(ErrMissingField, "ticker"))
	}
	ts, _ := strconv.ParseInt(t.Ts, 10, 64)
	return ticker(domain.OKX, pair, tickerInput{
		last:       t.Last,
		open:       t.Open24h,
		volume:     t.Vol24h,
		high:       t.High24h,
		low:        t.Low24h,
		observedMs: ts,
	}, now)
}

// OKXOrder maps an order acknowledgement. A non-zero sCode is a rejection.
func OKXOrder(ack *OKXOrderAck, params domain.OrderParams, now time.Time) (domain.Order, error) {
	if ack == nil {
		return domain.Order{}, domain.NormalizationError(domain.OKX, "order", errors.Wrap(ErrMissingField, "data"))
	}
	if ack.SCode != "" && ack.SCode != "0" {
		e := domain.NewError(domain.KindRejected, domain.OKX, "create order", errors.New(ack.SMsg))
		e.Code = ack.SCode
		return domain.Order{}, e
	}
	ts, _ := strconv.ParseInt(ack.Ts, 10, 64)
	return order(domain.OKX, params, ack.OrdID, ack.ClOrdID, domain.OrderStatusSubmitted, msOrNow(ts, now))
}
