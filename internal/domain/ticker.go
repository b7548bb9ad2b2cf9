package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is a 24h market summary for one canonical symbol.
type Ticker struct {
	Exchange         ExchangeID      `json:"exchange"`
	Symbol           string          `json:"symbol"`
	LastPrice        decimal.Decimal `json:"last_price"`
	Change24h        decimal.Decimal `json:"change_24h"`
	Change24hPercent decimal.Decimal `json:"change_24h_percent"`
	Volume24h        decimal.Decimal `json:"volume_24h"`
	High24h          decimal.Decimal `json:"high_24h"`
	Low24h           decimal.Decimal `json:"low_24h"`
	ObservedAt       time.Time       `json:"observed_at"`
}
