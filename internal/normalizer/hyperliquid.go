package normalizer

import (
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// HyperliquidBalance is a spot balance line: total and the part on hold.
type HyperliquidBalance struct {
	Coin  string
	Total string
	Hold  string
}

// HyperliquidBalances maps spot user state balances.
func HyperliquidBalances(lines []HyperliquidBalance) ([]domain.Balance, error) {
	out := make([]domain.Balance, 0, len(lines))
	for _, l := range lines {
		var f fields
		total := f.req("total", l.Total)
		hold := f.opt("hold", l.Hold)
		if f.err != nil {
			return nil, domain.NormalizationError(domain.Hyperliquid, "balance", errors.Wrap(f.err, l.Coin))
		}
		b, err := domain.NewBalanceWithTotal(l.Coin, total.Sub(hold), hold, total)
		if err != nil {
			return nil, domain.NormalizationError(domain.Hyperliquid, "balance", err)
		}
		out = append(out, b)
	}
	return NonEmpty(out), nil
}

// HyperliquidTicker builds a ticker from the mid price. The venue's allMids
// endpoint carries no 24h statistics.
func HyperliquidTicker(mid string, pair domain.Pair, now time.Time) (*domain.Ticker, error) {
	return ticker(domain.Hyperliquid, pair, tickerInput{last: mid}, now)
}

// HyperliquidOrder maps a placed order identified by its client order id.
func HyperliquidOrder(cloid string, filled bool, params domain.OrderParams, now time.Time) (domain.Order, error) {
	status := domain.OrderStatusSubmitted
	if filled {
		status = domain.OrderStatusFilled
	}
	return order(domain.Hyperliquid, params, cloid, cloid, status, now)
}
