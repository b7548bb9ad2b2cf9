package cryptocom

import "github.com/vadiminshakov/exgate/internal/domain"

// ToNative converts "BTC/USDT" into the instrument name "BTC_USDT".
func ToNative(symbol string) (string, error) {
	p, err := domain.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return p.Join("_"), nil
}

func FromNative(instrument string) (domain.Pair, error) {
	return domain.SplitJoined(instrument, "_")
}
