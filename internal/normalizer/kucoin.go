package normalizer

import (
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// KuCoinAccount is an element of /api/v1/accounts.
type KuCoinAccount struct {
	Currency  string `json:"currency"`
	Type      string `json:"type"`
	Balance   string `json:"balance"`
	Available string `json:"available"`
	Holds     string `json:"holds"`
}

// KuCoinStats is /api/v1/market/stats.
type KuCoinStats struct {
	Symbol      string `json:"symbol"`
	Last        string `json:"last"`
	ChangePrice string `json:"changePrice"`
	ChangeRate  string `json:"changeRate"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Vol         string `json:"vol"`
	Time        int64  `json:"time"`
}

// KuCoinSnapshot is the data of a /market/snapshot:<symbol> frame.
type KuCoinSnapshot struct {
	Data struct {
		Symbol          string  `json:"symbol"`
		LastTradedPrice float64 `json:"lastTradedPrice"`
		ChangePrice     float64 `json:"changePrice"`
		ChangeRate      float64 `json:"changeRate"`
		High            float64 `json:"high"`
		Low             float64 `json:"low"`
		Vol             float64 `json:"vol"`
		Datetime        int64   `json:"datetime"`
	} `json:"data"`
}

// KuCoinBalances maps trade accounts, merging duplicates of one currency.
func KuCoinBalances(accounts []KuCoinAccount) ([]domain.Balance, error) {
	byCurrency := make(map[string]int)
	var out []domain.Balance
	for _, a := range accounts {
		if a.Type != "" && a.Type != "trade" {
			continue
		}
		b, err := balanceWithTotal(domain.KuCoin, a.Currency, a.Available, a.Holds, a.Balance)
		if err != nil {
			return nil, err
		}
		if i, ok := byCurrency[b.Currency]; ok {
			out[i].Free = out[i].Free.Add(b.Free)
			out[i].Locked = out[i].Locked.Add(b.Locked)
			out[i].Total = out[i].Total.Add(b.Total)
			continue
		}
		byCurrency[b.Currency] = len(out)
		out = append(out, b)
	}
	return NonEmpty(out), nil
}

// KuCoinTicker maps 24h stats. changeRate is a ratio.
func KuCoinTicker(s *KuCoinStats, pair domain.Pair, now time.Time) (*domain.Ticker, error) {
	if s == nil {
		return nil, domain.NormalizationError(domain.KuCoin, "ticker", errors.Wrap(ErrMissingField, "data"))
	}
	return ticker(domain.KuCoin, pair, tickerInput{
		last:           s.Last,
		change:         s.ChangePrice,
		percent:        s.ChangeRate,
		percentIsRatio: true,
		volume:         s.Vol,
		high:           s.High,
		low:            s.Low,
		observedMs:     s.Time,
	}, now)
}

// KuCoinStreamTicker maps a snapshot frame, numbers arrive as JSON floats.
func KuCoinStreamTicker(s *KuCoinSnapshot, pair domain.Pair, now time.Time) (*domain.Ticker, error) {
	if s == nil {
		return nil, domain.NormalizationError(domain.KuCoin, "ticker", errors.Wrap(ErrMissingField, "data"))
	}
	d := s.Data
	return ticker(domain.KuCoin, pair, tickerInput{
		last:           formatFloat(d.LastTradedPrice),
		change:         formatFloat(d.ChangePrice),
		percent:        formatFloat(d.ChangeRate),
		percentIsRatio: true,
		volume:         formatFloat(d.Vol),
		high:           formatFloat(d.High),
		low:            formatFloat(d.Low),
		observedMs:     d.Datetime,
	}, now)
}

// KuCoinOrder maps /api/v1/orders data.
func KuCoinOrder(orderID string, params domain.OrderParams, now time.Time) (domain.Order, error) {
	return order(domain.KuCoin, params, orderID, "", domain.OrderStatusSubmitted, now)
}
