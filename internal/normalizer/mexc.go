package normalizer

import (
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// MEXCOrderResponse is the POST /api/v3/order body. Unlike Binance the order id is a string.
type MEXCOrderResponse struct {
	Symbol        string `json:"symbol"`
	OrderID       string `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	Type          string `json:"type"`
	Side          string `json:"side"`
	TransactTime  int64  `json:"transactTime"`
}

// MEXCTicker maps /api/v3/ticker/24hr. priceChangePercent is a ratio on MEXC.
func MEXCTicker(stats *binance.PriceChangeStats, pair domain.Pair, now time.Time) (*domain.Ticker, error) {
	if stats == nil {
		return nil, domain.NormalizationError(domain.MEXC, "ticker", errors.Wrap(ErrMissingField, "stats"))
	}
	return ticker(domain.MEXC, pair, tickerInput{
		last:           stats.LastPrice,
		change:         stats.PriceChange,
		percent:        stats.PriceChangePercent,
		percentIsRatio: true,
		volume:         stats.Volume,
		high:           stats.HighPrice,
		low:            stats.LowPrice,
		observedMs:     stats.CloseTime,
	}, now)
}

// MEXCOrder maps the order placement response.
func MEXCOrder(res *MEXCOrderResponse, params domain.OrderParams, now time.Time) (domain.Order, error) {
	if res == nil {
		return domain.Order{}, domain.NormalizationError(domain.MEXC, "order", errors.Wrap(ErrMissingField, "response"))
	}
	return order(domain.MEXC, params, res.OrderID, res.ClientOrderID, domain.OrderStatusSubmitted, msOrNow(res.TransactTime, now))
}
