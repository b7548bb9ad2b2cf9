package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/exgate/internal/adapter"
	"github.com/vadiminshakov/exgate/internal/connmgr"
	"github.com/vadiminshakov/exgate/internal/domain"
	"go.uber.org/zap"
)

type fakeBinance struct {
	*httptest.Server
	accountStatus int
	streamConns   atomic.Int32
	privateCalls  atomic.Int32
	keepAlives    atomic.Int32
}

func newFakeBinance(t *testing.T) *fakeBinance {
	t.Helper()
	f := &fakeBinance{accountStatus: http.StatusOK}
	upgrader := websocket.Upgrader{}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v3/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	mux.HandleFunc("/api/v3/ticker/24hr", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BTCUSDT" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1121,"msg":"Invalid symbol."}`))
			return
		}
		_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","priceChange":"100","priceChangePercent":"0.2","lastPrice":"50100","highPrice":"51000","lowPrice":"49000","volume":"1234.5","closeTime":1700000000000}`))
	})
	mux.HandleFunc("/api/v3/userDataStream", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("X-MBX-APIKEY"))
		if r.Method == http.MethodPut {
			assert.Equal(t, "lk1", r.URL.Query().Get("listenKey"))
			f.keepAlives.Add(1)
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"listenKey":"lk1"}`))
	})
	mux.HandleFunc("/api/v3/account", func(w http.ResponseWriter, r *http.Request) {
		f.privateCalls.Add(1)
		assert.NotEmpty(t, r.URL.Query().Get("signature"))
		if f.accountStatus != http.StatusOK {
			w.WriteHeader(f.accountStatus)
			_, _ = w.Write([]byte(`{"code":-2015,"msg":"Invalid API-key, IP, or permissions for action."}`))
			return
		}
		_, _ = w.Write([]byte(`{"balances":[{"asset":"BTC","free":"1","locked":"0.5"},{"asset":"LTC","free":"0","locked":"0"}]}`))
	})
	mux.HandleFunc("/api/v3/order", func(w http.ResponseWriter, r *http.Request) {
		f.privateCalls.Add(1)
		q := r.URL.Query()
		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "BTCUSDT", q.Get("symbol"))
			assert.Equal(t, "BUY", q.Get("side"))
			assert.Equal(t, "LIMIT", q.Get("type"))
			assert.Equal(t, "GTC", q.Get("timeInForce"))
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":28,"clientOrderId":"` + q.Get("newClientOrderId") + `","transactTime":1507725176595,"status":"NEW"}`))
		case http.MethodDelete:
			if q.Get("orderId") == "404" {
				w.WriteHeader(http.StatusBadRequest)
				_, _ = w.Write([]byte(`{"code":-2011,"msg":"Unknown order sent."}`))
				return
			}
			_, _ = w.Write([]byte(`{"symbol":"BTCUSDT","orderId":28,"status":"CANCELED"}`))
		}
	})
	mux.HandleFunc("/ws/lk1", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.streamConns.Add(1)
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if strings.Contains(string(msg), "SUBSCRIBE") {
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"result":null,"id":1}`))
				_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"e":"24hrTicker","E":1672515782136,"s":"BTCUSDT","p":"1","P":"0.1","c":"50001","h":"51000","l":"49000","v":"10"}`))
			}
		}
	})

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeBinance) config(cred domain.Credential) adapter.Config {
	return adapter.Config{
		Credential:     cred,
		BaseURL:        f.URL,
		StreamURL:      "ws" + strings.TrimPrefix(f.URL, "http") + "/ws",
		Symbols:        []string{"BTC/USDT"},
		RequestTimeout: time.Second,
		RateLimit:      1000,
		Burst:          100,
		Stream:         connmgr.Policy{BaseDelay: 10 * time.Millisecond, MaxAttempts: 2},
	}
}

var testCred = domain.Credential{APIKey: "key", APISecret: "secret"}

func TestAdapter_TickerWithoutCredentials(t *testing.T) {
	f := newFakeBinance(t)
	a := New(f.config(domain.Credential{}), adapter.Deps{Logger: zap.NewNop()})
	defer a.Close()

	require.NoError(t, a.Initialize(context.Background()))
	assert.True(t, a.IsConnected())
	assert.Equal(t, []domain.Capability{domain.CapabilityTicker}, a.Capabilities().List())

	tk, err := a.GetTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.NotNil(t, tk)
	assert.Equal(t, "BTC/USDT", tk.Symbol)
	assert.True(t, decimal.RequireFromString("50100").Equal(tk.LastPrice))

	tk, err = a.GetTicker(context.Background(), "NOPE/USDT")
	require.NoError(t, err)
	assert.Nil(t, tk)

	_, err = a.GetBalance(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNoCredentials)
	assert.Equal(t, int32(0), f.privateCalls.Load())
}

func TestAdapter_AuthFailureLeavesStreamConnected(t *testing.T) {
	f := newFakeBinance(t)
	f.accountStatus = http.StatusUnauthorized

	var tickers atomic.Int32
	a := New(f.config(testCred), adapter.Deps{
		Logger: zap.NewNop(),
		Sink:   func(domain.Ticker) { tickers.Add(1) },
	})
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Initialize(ctx))
	require.Equal(t, domain.StateConnected, a.State())

	_, err := a.GetBalance(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindAuthentication))
	assert.Equal(t, int32(1), f.privateCalls.Load(), "auth errors are not retried")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StateConnected, a.State())
	assert.Equal(t, int32(1), f.streamConns.Load())
	assert.Eventually(t, func() bool { return tickers.Load() > 0 }, time.Second, 5*time.Millisecond)
}

func TestAdapter_ListenKeyKeptAlive(t *testing.T) {
	f := newFakeBinance(t)
	a := New(f.config(testCred), adapter.Deps{Logger: zap.NewNop()})
	a.keepAlive = 20 * time.Millisecond
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.Initialize(ctx))
	require.Equal(t, domain.StateConnected, a.State())

	require.Eventually(t, func() bool { return f.keepAlives.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), f.streamConns.Load(), "keepalive does not reconnect")

	require.NoError(t, a.Close())
	n := f.keepAlives.Load()
	time.Sleep(80 * time.Millisecond)
	assert.LessOrEqual(t, f.keepAlives.Load(), n+1, "keepalive stops with the socket")
}

func TestAdapter_BalanceAndOrders(t *testing.T) {
	f := newFakeBinance(t)
	a := New(f.config(testCred), adapter.Deps{Logger: zap.NewNop()})

	balances, err := a.GetBalance(context.Background())
	require.NoError(t, err)
	require.Len(t, balances, 1)
	assert.Equal(t, "BTC", balances[0].Currency)

	o, err := a.CreateOrder(context.Background(), domain.OrderParams{
		Symbol:   "BTC/USDT",
		Side:     domain.SideBuy,
		Type:     domain.OrderTypeLimit,
		Quantity: decimal.RequireFromString("1"),
		Price:    decimal.NewNullDecimal(decimal.RequireFromString("0.1")),
	})
	require.NoError(t, err)
	assert.Equal(t, "28", o.OrderID)
	assert.NotEmpty(t, o.ClientOrderID)
	assert.Equal(t, domain.OrderStatusOpen, o.Status)

	ok, err := a.CancelOrder(context.Background(), "BTC/USDT", "28")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.CancelOrder(context.Background(), "BTC/USDT", "404")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdapter_InvalidOrderRejectedLocally(t *testing.T) {
	f := newFakeBinance(t)
	a := New(f.config(testCred), adapter.Deps{Logger: zap.NewNop()})

	_, err := a.CreateOrder(context.Background(), domain.OrderParams{Symbol: "BTC/USDT", Side: "hold", Type: domain.OrderTypeMarket, Quantity: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidRequest))
	assert.Equal(t, int32(0), f.privateCalls.Load())
}

func TestSymbolRoundTrip(t *testing.T) {
	for _, native := range []string{"BTCUSDT", "ETHBTC", "SOLFDUSD", "ETHUSDC", "BNBEUR"} {
		pair, err := FromNative(native)
		require.NoError(t, err)
		back, err := ToNative(pair.String())
		require.NoError(t, err)
		assert.Equal(t, native, back)
	}
	_, err := FromNative("XYZ")
	assert.Error(t, err)
}

func TestCodecClassification(t *testing.T) {
	tests := []struct {
		body string
		kind domain.Kind
	}{
		{body: `{"code":-1003,"msg":"Too many requests"}`, kind: domain.KindRateLimit},
		{body: `{"code":-1021,"msg":"Timestamp for this request is outside of the recvWindow."}`, kind: domain.KindAuthentication},
		{body: `{"code":-2013,"msg":"Order does not exist."}`, kind: domain.KindNotFound},
		{body: `{"code":-1013,"msg":"Filter failure: LOT_SIZE"}`, kind: domain.KindRejected},
	}
	for _, tt := range tests {
		err := codec(http.StatusBadRequest, []byte(tt.body), nil)
		assert.Equal(t, tt.kind, domain.KindOf(err), tt.body)
	}

	var out map[string]any
	require.NoError(t, codec(http.StatusOK, []byte(`{"a":1}`), &out))
	assert.Equal(t, float64(1), out["a"])
}
