package normalizer

import (
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// BybitWallet is result of /v5/account/wallet-balance.
type BybitWallet struct {
	List []struct {
		AccountType string             `json:"accountType"`
		Coin        []BybitCoinBalance `json:"coin"`
	} `json:"list"`
}

// BybitCoinBalance is one coin of a wallet. Free is empty on unified accounts.
type BybitCoinBalance struct {
	Coin          string `json:"coin"`
	WalletBalance string `json:"walletBalance"`
	Locked        string `json:"locked"`
	Free          string `json:"free"`
}

// BybitTicker is an element of /v5/market/tickers and the data of a tickers.<symbol> frame.
type BybitTicker struct {
	Symbol       string `json:"symbol"`
	LastPrice    string `json:"lastPrice"`
	PrevPrice24h string `json:"prevPrice24h"`
	Price24hPcnt string `json:"price24hPcnt"`
	HighPrice24h string `json:"highPrice24h"`
	LowPrice24h  string `json:"lowPrice24h"`
	Volume24h    string `json:"volume24h"`
}

// BybitBalances maps the wallet balance.
func BybitBalances(w *BybitWallet) ([]domain.Balance, error) {
	if w == nil {
		return nil, domain.NormalizationError(domain.Bybit, "balance", errors.Wrap(ErrMissingField, "result"))
	}
	var out []domain.Balance
	for _, acc := range w.List {
		for _, c := range acc.Coin {
			var (
				b   domain.Balance
				err error
			)
			if c.Free != "" {
				b, err = balanceWithTotal(domain.Bybit, c.Coin, c.Free, c.Locked, c.WalletBalance)
			} else {
				b, err = bybitUnified(c)
			}
			if err != nil {
				return nil, err
			}
			out = append(out, b)
		}
	}
	return NonEmpty(out), nil
}

// Unified accounts report walletBalance and locked only.
func bybitUnified(c BybitCoinBalance) (domain.Balance, error) {
	var f fields
	total := f.req("walletBalance", c.WalletBalance)
	locked := f.opt("locked", c.Locked)
	if f.err != nil {
		return domain.Balance{}, domain.NormalizationError(domain.Bybit, "balance", errors.Wrap(f.err, c.Coin))
	}
	b, err := domain.NewBalanceWithTotal(c.Coin, total.Sub(locked), locked, total)
	if err != nil {
		return domain.Balance{}, domain.NormalizationError(domain.Bybit, "balance", err)
	}
	return b, nil
}

// BybitTickerOf maps a REST or stream ticker. observedMs is the envelope time.
func BybitTickerOf(t *BybitTicker, pair domain.Pair, observedMs int64, now time.Time) (*domain.Ticker, error) {
	if t == nil {
		return nil, domain.NormalizationError(domain.Bybit, "ticker", errors.Wrap(ErrMissingField, "ticker"))
	}
	return ticker(domain.Bybit, pair, tickerInput{
		last:           t.LastPrice,
		open:           t.PrevPrice24h,
		percent:        t.Price24hPcnt,
		percentIsRatio: true,
		volume:         t.Volume24h,
		high:           t.HighPrice24h,
		low:            t.LowPrice24h,
		observedMs:     observedMs,
	}, now)
}

// BybitOrder maps /v5/order/create.
func BybitOrder(res *bybit.V5CreateOrderResult, params domain.OrderParams, now time.Time) (domain.Order, error) {
	if res == nil {
		return domain.Order{}, domain.NormalizationError(domain.Bybit, "order", errors.Wrap(ErrMissingField, "result"))
	}
	return order(domain.Bybit, params, res.OrderID, res.OrderLinkID, domain.OrderStatusSubmitted, now)
}
