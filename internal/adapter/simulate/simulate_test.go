package simulate

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/domain"
	"github.com/vadiminshakov/exgate/internal/storage/simstate"
	"go.uber.org/zap"
)

type mockSource struct {
	prices map[string]decimal.Decimal
}

func (m *mockSource) GetTicker(_ context.Context, symbol string) (*domain.Ticker, error) {
	p, ok := m.prices[symbol]
	if !ok {
		return nil, nil
	}
	return &domain.Ticker{Exchange: domain.Binance, Symbol: symbol, LastPrice: p}, nil
}

func newSim(t *testing.T, opts ...Option) *Adapter {
	t.Helper()
	src := &mockSource{prices: map[string]decimal.Decimal{"BTC/USDT": decimal.NewFromInt(50000)}}
	a, err := New(adapter.Config{}, adapter.Deps{Logger: zap.NewNop()}, src, opts...)
	require.NoError(t, err)
	return a
}

func balanceOf(t *testing.T, a *Adapter, currency string) domain.Balance {
	t.Helper()
	balances, err := a.GetBalance(context.Background())
	require.NoError(t, err)
	for _, b := range balances {
		if b.Currency == currency {
			return b
		}
	}
	return domain.Balance{Currency: currency}
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(adapter.Config{}, adapter.Deps{}, nil)
	assert.True(t, domain.IsKind(err, domain.KindConfiguration))
}

func TestSimulate_MarketBuyAndSell(t *testing.T) {
	a := newSim(t)
	ctx := context.Background()
	require.NoError(t, a.Initialize(ctx))
	assert.True(t, a.Capabilities().Has(domain.CapabilityTrade))

	o, err := a.CreateOrder(ctx, domain.OrderParams{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromFloat(0.1)})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusFilled, o.Status)
	assert.True(t, decimal.NewFromInt(5000).Equal(balanceOf(t, a, "USDT").Free))
	assert.True(t, decimal.NewFromFloat(0.1).Equal(balanceOf(t, a, "BTC").Free))

	_, err = a.CreateOrder(ctx, domain.OrderParams{Symbol: "BTC/USDT", Side: domain.SideSell, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromFloat(0.05)})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(7500).Equal(balanceOf(t, a, "USDT").Free))
	assert.True(t, decimal.NewFromFloat(0.05).Equal(balanceOf(t, a, "BTC").Free))
}

func TestSimulate_Insufficient(t *testing.T) {
	a := newSim(t)
	_, err := a.CreateOrder(context.Background(), domain.OrderParams{Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindRejected))
	assert.ErrorIs(t, err, ErrInsufficient)
	assert.True(t, decimal.NewFromInt(10000).Equal(balanceOf(t, a, "USDT").Total))
}

func TestSimulate_NoPrice(t *testing.T) {
	a := newSim(t)
	_, err := a.CreateOrder(context.Background(), domain.OrderParams{Symbol: "ETH/USDT", Side: domain.SideBuy, Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1)})
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestSimulate_LimitLockAndCancel(t *testing.T) {
	a := newSim(t)
	ctx := context.Background()

	o, err := a.CreateOrder(ctx, domain.OrderParams{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromFloat(0.1), Price: decimal.NewNullDecimal(decimal.NewFromInt(40000)),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)

	usdt := balanceOf(t, a, "USDT")
	assert.True(t, decimal.NewFromInt(6000).Equal(usdt.Free))
	assert.True(t, decimal.NewFromInt(4000).Equal(usdt.Locked))
	require.NoError(t, usdt.Validate())

	ok, err := a.CancelOrder(ctx, "BTC/USDT", o.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, decimal.NewFromInt(10000).Equal(balanceOf(t, a, "USDT").Free))

	ok, err = a.CancelOrder(ctx, "BTC/USDT", o.OrderID)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = a.CancelOrder(ctx, "BTC/USDT", "unknown")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSimulate_StateSurvivesRestart(t *testing.T) {
	store, err := simstate.NewStore(t.TempDir(), "paper")
	require.NoError(t, err)

	a := newSim(t, WithStore(store), WithBalances(map[string]decimal.Decimal{"USDT": decimal.NewFromInt(1000)}))
	o, err := a.CreateOrder(context.Background(), domain.OrderParams{
		Symbol: "BTC/USDT", Side: domain.SideBuy, Type: domain.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1), Price: decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)

	b := newSim(t, WithStore(store))
	usdt := balanceOf(t, b, "USDT")
	assert.True(t, decimal.NewFromInt(900).Equal(usdt.Free))
	assert.True(t, decimal.NewFromInt(100).Equal(usdt.Locked))

	ok, err := b.CancelOrder(context.Background(), "BTC/USDT", o.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSimulate_TickerIsRestamped(t *testing.T) {
	a := newSim(t)
	tk, err := a.GetTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, domain.Simulate, tk.Exchange)

	tk, err = a.GetTicker(context.Background(), "DOGE/USDT")
	require.NoError(t, err)
	assert.Nil(t, tk)
}
