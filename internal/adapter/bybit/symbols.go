package bybit

import (
	"strings"

	"github.com/vadiminshakov/exgate/internal/domain"
)

// ToNative converts "BTC/USDT" into "BTCUSDT".
func ToNative(symbol string) (string, error) {
	p, err := domain.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return p.Symbol(), nil
}

// FromNative converts "BTCUSDT" back into a pair.
func FromNative(native string) (domain.Pair, error) {
	return domain.SplitConcatenated(strings.ToUpper(native), domain.DefaultQuotes)
}
