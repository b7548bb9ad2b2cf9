package mexc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/domain"
	"go.uber.org/zap"
)

func newServer(t *testing.T, private http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ping", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{}`)) })
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","priceChange":"500","priceChangePercent":"0.01","lastPrice":"50500","highPrice":"51000","lowPrice":"49000","volume":"12","closeTime":1700000000000}`))
	})
	mux.HandleFunc("/api/v3/", func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "key", r.Header.Get("X-MEXC-APIKEY"))
		private(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &calls
}

func cfg(url string, cred domain.Credential) adapter.Config {
	return adapter.Config{Credential: cred, BaseURL: url, RequestTimeout: time.Second, RateLimit: 1000, Burst: 100}
}

func TestAdapter_TickerPercentScaled(t *testing.T) {
	srv, _ := newServer(t, func(http.ResponseWriter, *http.Request) {})
	a := New(cfg(srv.URL, domain.Credential{}), adapter.Deps{Logger: zap.NewNop()})
	require.NoError(t, a.Initialize(context.Background()))
	assert.True(t, a.IsConnected())

	tk, err := a.GetTicker(context.Background(), "btc-usdt")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.True(t, decimal.NewFromInt(1).Equal(tk.Change24hPercent))

	tk, err = a.GetTicker(context.Background(), "FOO/USDT")
	require.NoError(t, err)
	assert.Nil(t, tk)
}

func TestAdapter_AuthErrorDoesNotChangeState(t *testing.T) {
	srv, calls := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":700002,"msg":"Signature for this request is not valid."}`))
	})
	a := New(cfg(srv.URL, domain.Credential{APIKey: "key", APISecret: "secret"}), adapter.Deps{Logger: zap.NewNop()})
	require.NoError(t, a.Initialize(context.Background()))

	_, err := a.GetBalance(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindAuthentication))
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, domain.StateConnected, a.State())
}

func TestAdapter_NoCredentials(t *testing.T) {
	srv, calls := newServer(t, func(http.ResponseWriter, *http.Request) {})
	a := New(cfg(srv.URL, domain.Credential{}), adapter.Deps{Logger: zap.NewNop()})

	_, err := a.GetBalance(context.Background())
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
	_, err = a.CancelOrder(context.Background(), "BTC/USDT", "1")
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
	assert.Equal(t, int32(0), calls.Load())
}

func TestAdapter_Orders(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "SELL", r.URL.Query().Get("side"))
			assert.Equal(t, "MARKET", r.URL.Query().Get("type"))
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":"C02__443776347957968896","transactTime":1700000000000}`))
		case http.MethodDelete:
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":"C02__443776347957968896","status":"CANCELED"}`))
		}
	})
	a := New(cfg(srv.URL, domain.Credential{APIKey: "key", APISecret: "secret"}), adapter.Deps{Logger: zap.NewNop()})

	o, err := a.CreateOrder(context.Background(), domain.OrderParams{Symbol: "BTC/USDT", Side: domain.SideSell, Type: domain.OrderTypeMarket, Quantity: decimal.RequireFromString("0.5")})
	require.NoError(t, err)
	assert.Equal(t, "C02__443776347957968896", o.OrderID)
	assert.Equal(t, domain.MEXC, o.Exchange)

	ok, err := a.CancelOrder(context.Background(), "BTC/USDT", o.OrderID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSymbolRoundTrip(t *testing.T) {
	for _, native := range []string{"BTCUSDT", "MXUSDT", "ETHUSDC"} {
		p, err := FromNative(native)
		require.NoError(t, err)
		back, err := ToNative(p.String())
		require.NoError(t, err)
		assert.Equal(t, native, back)
	}
}

func TestAdapter_CloseAbortsPendingCall(t *testing.T) {
	srv, _ := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(1500 * time.Millisecond):
			_, _ = w.Write([]byte(`{"balances":[]}`))
		}
	})
	a := New(cfg(srv.URL, domain.Credential{APIKey: "key", APISecret: "secret"}), adapter.Deps{Logger: zap.NewNop()})
	require.NoError(t, a.Initialize(context.Background()))

	time.AfterFunc(100*time.Millisecond, func() { _ = a.Close() })
	start := time.Now()
	_, err := a.GetBalance(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, domain.IsKind(err, domain.KindCanceled))
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, a.Initialize(context.Background()), "a closed adapter can be initialized again")
	assert.True(t, a.IsConnected())
	_ = a.Close()
}
