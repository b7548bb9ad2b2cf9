//go:build integration

package internal

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/exgate/config"
	"github.com/vadiminshakov/exgate/internal/domain"
)

// TestPublicTickers_Integration calls the real public endpoints of every venue.
// To run this test, use: go test -tags=integration -v ./internal/
func TestPublicTickers_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	cfg, err := config.Parse([]byte(`
exchanges:
  - name: binance
  - name: bybit
  - name: okx
  - name: kucoin
  - name: cryptocom
  - name: mexc
  - name: hyperliquid
    symbols: [BTC/USDC]
`))
	require.NoError(t, err)

	adapters, err := BuildAdapters(cfg, Wiring{})
	require.NoError(t, err)

	for _, a := range adapters {
		a := a
		t.Run(a.ID().String(), func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
			defer cancel()
			defer a.Close()

			require.NoError(t, a.Initialize(ctx))
			assert.Equal(t, domain.StateConnected, a.State())

			quote := "USDT"
			if a.ID() == domain.Hyperliquid {
				quote = "USDC"
			}
			symbol := "BTC/" + quote
			ticker, err := a.GetTicker(ctx, symbol)
			require.NoError(t, err)
			require.NotNil(t, ticker)
			assert.Equal(t, symbol, ticker.Symbol)
			assert.True(t, ticker.LastPrice.GreaterThan(decimal.Zero), "expected price > 0, got %s", ticker.LastPrice)
			t.Logf("%s %s last=%s", a.ID(), symbol, ticker.LastPrice)

			missing, err := a.GetTicker(ctx, "NOPEXYZ/"+quote)
			assert.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}
