package normalizer

import (
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// BinanceBalances maps /api/v3/account. MEXC shares the shape.
func BinanceBalances(ex domain.ExchangeID, acc *binance.Account) ([]domain.Balance, error) {
	if acc == nil {
		return nil, domain.NormalizationError(ex, "balance", errors.Wrap(ErrMissingField, "account"))
	}
	out := make([]domain.Balance, 0, len(acc.Balances))
	for _, b := range acc.Balances {
		bal, err := balance(ex, b.Asset, b.Free, b.Locked)
		if err != nil {
			return nil, err
		}
		out = append(out, bal)
	}
	return NonEmpty(out), nil
}

// BinanceTicker maps /api/v3/ticker/24hr.
func BinanceTicker(stats *binance.PriceChangeStats, pair domain.Pair, now time.Time) (*domain.Ticker, error) {
	if stats == nil {
		return nil, domain.NormalizationError(domain.Binance, "ticker", errors.Wrap(ErrMissingField, "stats"))
	}
	return ticker(domain.Binance, pair, tickerInput{
		last:       stats.LastPrice,
		change:     stats.PriceChange,
		percent:    stats.PriceChangePercent,
		volume:     stats.Volume,
		high:       stats.HighPrice,
		low:        stats.LowPrice,
		observedMs: stats.CloseTime,
	}, now)
}

// BinanceStreamTicker maps a <symbol>@ticker stream event.
func BinanceStreamTicker(ev *binance.WsMarketStatEvent, pair domain.Pair, now time.Time) (*domain.Ticker, error) {
	if ev == nil {
		return nil, domain.NormalizationError(domain.Binance, "ticker", errors.Wrap(ErrMissingField, "event"))
	}
	return ticker(domain.Binance, pair, tickerInput{
		last:       ev.LastPrice,
		change:     ev.PriceChange,
		percent:    ev.PriceChangePercent,
		volume:     ev.BaseVolume,
		high:       ev.HighPrice,
		low:        ev.LowPrice,
		observedMs: ev.Time,
	}, now)
}

// BinanceOrderStatus maps a venue status onto the canonical set.
func BinanceOrderStatus(s binance.OrderStatusType) domain.OrderStatus {
	switch s {
	case binance.OrderStatusTypeNew, binance.OrderStatusTypePartiallyFilled:
		return domain.OrderStatusOpen
	case binance.OrderStatusTypeFilled:
		return domain.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypeExpired:
		return domain.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return domain.OrderStatusRejected
	default:
		return domain.OrderStatusSubmitted
	}
}

// BinanceOrder maps the POST /api/v3/order response.
func BinanceOrder(res *binance.CreateOrderResponse, params domain.OrderParams, now time.Time) (domain.Order, error) {
	if res == nil {
		return domain.Order{}, domain.NormalizationError(domain.Binance, "order", errors.Wrap(ErrMissingField, "response"))
	}
	id := ""
	if res.OrderID > 0 {
		id = strconv.FormatInt(res.OrderID, 10)
	}
	return order(domain.Binance, params, id, res.ClientOrderID, BinanceOrderStatus(res.Status), msOrNow(res.TransactTime, now))
}
