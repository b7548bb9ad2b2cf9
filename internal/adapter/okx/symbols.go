package okx

import "github.com/vadiminshakov/exgate/internal/domain"

// ToNative converts "BTC/USDT" into the instrument id "BTC-USDT".
func ToNative(symbol string) (string, error) {
	p, err := domain.ParseSymbol(symbol)
	if err != nil {
		return "", err
	}
	return p.Join("-"), nil
}

func FromNative(instID string) (domain.Pair, error) {
	return domain.SplitJoined(instID, "-")
}
